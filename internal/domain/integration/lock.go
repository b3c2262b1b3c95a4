package integration

import (
	"context"
	"fmt"
	"time"
)

// SyncLocker provides the per (user, entity_type) single-flight lock that
// keeps two sync passes from classifying the same records concurrently.
type SyncLocker interface {
	// TryLock takes key for ttl. acquired is false when another holder owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)

	// Unlock releases key only if token still owns it
	Unlock(ctx context.Context, key, token string) error
}

// SyncLockKey returns the lock key of one (user, entity_type) pair
func SyncLockKey(userID string, entityType EntityType) string {
	return fmt.Sprintf("sync:%s:%s", userID, entityType)
}
