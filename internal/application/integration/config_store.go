package integration

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/sellersync/backend/internal/domain/integration"
)

// SyncConfigStore holds the process-wide runtime SyncConfig. Reads return
// copies, so a pass that took a snapshot never sees a later update.
type SyncConfigStore struct {
	mu       sync.RWMutex
	current  integration.SyncConfig
	validate *validator.Validate
}

// NewSyncConfigStore validates and stores the initial configuration
func NewSyncConfigStore(initial integration.SyncConfig) (*SyncConfigStore, error) {
	s := &SyncConfigStore{validate: validator.New()}
	if err := s.check(initial); err != nil {
		return nil, err
	}
	s.current = initial.Clone()
	return s, nil
}

// Snapshot returns a copy of the current configuration
func (s *SyncConfigStore) Snapshot() integration.SyncConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update applies a partial patch. An invalid result leaves the stored
// configuration unchanged.
func (s *SyncConfigStore) Update(patch integration.SyncConfigPatch) (integration.SyncConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := patch.Apply(s.current)
	if err := s.check(next); err != nil {
		return s.current.Clone(), err
	}
	s.current = next
	return next.Clone(), nil
}

func (s *SyncConfigStore) check(cfg integration.SyncConfig) error {
	if !cfg.ConflictResolution.IsValid() {
		return fmt.Errorf("%w: %q", integration.ErrUnknownConflictPolicy, cfg.ConflictResolution)
	}
	if !cfg.MergeStrategy.IsValid() {
		return fmt.Errorf("%w: %q", integration.ErrUnknownMergeStrategy, cfg.MergeStrategy)
	}
	if err := s.validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid sync configuration: %w", err)
	}
	return nil
}
