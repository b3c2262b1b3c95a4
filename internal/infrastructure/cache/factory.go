package cache

import (
	"fmt"

	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/sellersync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// SyncLockerFactory creates the single-flight locker based on configuration
type SyncLockerFactory struct {
	redisConfig           config.RedisConfig
	driver                string
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// SyncLockerFactoryOption is a functional option for configuring the factory
type SyncLockerFactoryOption func(*SyncLockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) SyncLockerFactoryOption {
	return func(f *SyncLockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to a
// process-local locker. Default is true.
func WithInMemoryFallback(allow bool) SyncLockerFactoryOption {
	return func(f *SyncLockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewSyncLockerFactory creates a new factory. driver is "redis" or "memory".
func NewSyncLockerFactory(cfg config.RedisConfig, driver string, opts ...SyncLockerFactoryOption) *SyncLockerFactory {
	f := &SyncLockerFactory{
		redisConfig:           cfg,
		driver:                driver,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create returns the configured locker and a close function
func (f *SyncLockerFactory) Create() (integration.SyncLocker, func() error, error) {
	if f.driver == "memory" {
		f.logger.Info("using in-memory sync locker")
		return NewInMemorySyncLocker(), func() error { return nil }, nil
	}

	locker, err := NewRedisSyncLocker(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err == nil {
		f.logger.Info("using Redis sync locker", zap.String("addr", f.redisConfig.Addr()))
		return locker, locker.Close, nil
	}

	if !f.allowInMemoryFallback {
		return nil, nil, fmt.Errorf("redis required for sync locking but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory sync locker; "+
		"passes are only serialized within this process",
		zap.Error(err),
	)
	return NewInMemorySyncLocker(), func() error { return nil }, nil
}
