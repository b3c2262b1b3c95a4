package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PendingConflictStatus tracks a held conflict
type PendingConflictStatus string

const (
	PendingConflictOpen     PendingConflictStatus = "open"
	PendingConflictResolved PendingConflictStatus = "resolved"
)

// PendingConflict is a conflict held for manual review. Both pre-conflict
// versions are kept verbatim until an operator decides.
type PendingConflict struct {
	ID              uuid.UUID
	UserID          string
	EntityType      EntityType
	AccountID       int64
	RecordID        string
	LocalVersion    Record
	ExternalVersion Record
	Status          PendingConflictStatus
	Resolution      ResolutionAction
	DetectedAt      time.Time
	ResolvedAt      *time.Time
}

// NewPendingConflict creates an open review item from a conflict
func NewPendingConflict(userID string, c ConflictRecord) *PendingConflict {
	return &PendingConflict{
		ID:              uuid.New(),
		UserID:          userID,
		EntityType:      c.Local.EntityType,
		AccountID:       c.Local.AccountID,
		RecordID:        c.RecordID,
		LocalVersion:    c.Local.Clone(),
		ExternalVersion: c.External.Clone(),
		Status:          PendingConflictOpen,
		DetectedAt:      time.Now().UTC(),
	}
}

// Conflict rebuilds the conflict as it was detected
func (p *PendingConflict) Conflict() ConflictRecord {
	return ConflictRecord{
		RecordID:         p.RecordID,
		Local:            p.LocalVersion.Clone(),
		External:         p.ExternalVersion.Clone(),
		LocalModified:    true,
		ExternalModified: true,
	}
}

// MarkResolved closes the item with the chosen action
func (p *PendingConflict) MarkResolved(action ResolutionAction) error {
	if p.Status == PendingConflictResolved {
		return ErrPendingConflictResolved
	}
	if action != ResolutionKeepLocal && action != ResolutionKeepExternal && action != ResolutionMerge {
		return ErrInvalidResolutionAction
	}
	now := time.Now().UTC()
	p.Status = PendingConflictResolved
	p.Resolution = action
	p.ResolvedAt = &now
	return nil
}

// PendingConflictRepository stores held conflicts
type PendingConflictRepository interface {
	// Hold stores an open item; an existing open item for the same record
	// is replaced with the newer versions.
	Hold(ctx context.Context, item *PendingConflict) error

	// FindByID returns ErrPendingConflictNotFound when missing
	FindByID(ctx context.Context, id uuid.UUID) (*PendingConflict, error)

	// ListOpen returns open items of a user, oldest first
	ListOpen(ctx context.Context, userID string) ([]PendingConflict, error)

	// Save updates an item's status
	Save(ctx context.Context, item *PendingConflict) error
}
