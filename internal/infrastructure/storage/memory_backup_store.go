package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sellersync/backend/internal/domain/integration"
)

var _ integration.BackupStore = (*MemoryBackupStore)(nil)

// MemoryBackupStore keeps snapshots in process memory. Used when object
// storage is disabled and in tests.
type MemoryBackupStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	order     []string
}

// NewMemoryBackupStore creates an empty store
func NewMemoryBackupStore() *MemoryBackupStore {
	return &MemoryBackupStore{snapshots: make(map[string][]byte)}
}

// Put stores an encoded copy of the snapshot
func (s *MemoryBackupStore) Put(ctx context.Context, snapshot *integration.BackupSnapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	location := "memory://" + snapshotKey("", snapshot)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[location]; !exists {
		s.order = append(s.order, location)
	}
	s.snapshots[location] = body
	return location, nil
}

// Get decodes a stored snapshot
func (s *MemoryBackupStore) Get(_ context.Context, location string) (*integration.BackupSnapshot, error) {
	s.mu.RLock()
	body, ok := s.snapshots[location]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, location)
	}
	var snapshot integration.BackupSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// Locations returns stored locations in write order
func (s *MemoryBackupStore) Locations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}
