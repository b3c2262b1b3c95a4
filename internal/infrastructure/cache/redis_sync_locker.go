package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sellersync/backend/internal/domain/integration"
)

// releaseScript deletes the key only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSyncLocker implements integration.SyncLocker with SET NX PX.
// It is shared by every process pointing at the same Redis.
type RedisSyncLocker struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisSyncLocker connects to Redis and verifies the connection
func NewRedisSyncLocker(cfg RedisConfig) (*RedisSyncLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSyncLockerWithClient(client, ""), nil
}

// NewRedisSyncLockerWithClient wraps an existing client
func NewRedisSyncLockerWithClient(client *redis.Client, keyPrefix string) *RedisSyncLocker {
	if keyPrefix == "" {
		keyPrefix = "sellersync:lock:"
	}
	return &RedisSyncLocker{client: client, keyPrefix: keyPrefix}
}

// TryLock sets the key with a fresh token if it does not exist
func (l *RedisSyncLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock deletes the key if token still owns it. An expired or stolen
// lock is not an error.
func (l *RedisSyncLocker) Unlock(ctx context.Context, key, token string) error {
	err := releaseScript.Run(ctx, l.client, []string{l.keyPrefix + key}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client
func (l *RedisSyncLocker) Close() error {
	return l.client.Close()
}

var _ integration.SyncLocker = (*RedisSyncLocker)(nil)
