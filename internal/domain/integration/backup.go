package integration

import (
	"context"
	"time"
)

// BackupSnapshot is a point-in-time copy of the local records a sync pass
// may overwrite. It exists for operator recovery only.
type BackupSnapshot struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	EntityType EntityType `json:"entity_type"`
	TakenAt    time.Time  `json:"taken_at"`
	Records    []Record   `json:"records"`
}

// BackupStore persists snapshots
type BackupStore interface {
	// Put stores the snapshot and returns where it was written
	Put(ctx context.Context, snapshot *BackupSnapshot) (string, error)

	// Get loads a snapshot by the location Put returned
	Get(ctx context.Context, location string) (*BackupSnapshot, error)
}
