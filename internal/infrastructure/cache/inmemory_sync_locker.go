package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sellersync/backend/internal/domain/integration"
)

type heldLock struct {
	token     string
	expiresAt time.Time
}

// InMemorySyncLocker implements integration.SyncLocker for a single process.
// Expired locks are reclaimed lazily on the next TryLock.
type InMemorySyncLocker struct {
	mu    sync.Mutex
	locks map[string]heldLock
	now   func() time.Time
}

// NewInMemorySyncLocker creates an empty locker
func NewInMemorySyncLocker() *InMemorySyncLocker {
	return &InMemorySyncLocker{
		locks: make(map[string]heldLock),
		now:   time.Now,
	}
}

// TryLock takes key unless a live holder owns it
func (l *InMemorySyncLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return "", false, nil
	}

	token := uuid.NewString()
	l.locks[key] = heldLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Unlock releases key if token matches
func (l *InMemorySyncLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[key]; ok && held.token == token {
		delete(l.locks, key)
	}
	return nil
}

// Held returns the number of live locks (for testing/monitoring)
func (l *InMemorySyncLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for _, held := range l.locks {
		if now.Before(held.expiresAt) {
			n++
		}
	}
	return n
}

var _ integration.SyncLocker = (*InMemorySyncLocker)(nil)
