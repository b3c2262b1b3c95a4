package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Direction and Action
// ---------------------------------------------------------------------------

// Direction is the requested flow of a sync invocation
type Direction string

const (
	// DirectionExport pushes local changes to the external documents
	DirectionExport Direction = "export"
	// DirectionImport pulls external changes into the local store
	DirectionImport Direction = "import"
	// DirectionBidirectional runs both passes against the same watermark
	DirectionBidirectional Direction = "bidirectional"
)

// IsValid returns true if the direction is valid
func (d Direction) IsValid() bool {
	switch d {
	case DirectionExport, DirectionImport, DirectionBidirectional:
		return true
	default:
		return false
	}
}

// Exports reports whether the direction writes to external documents
func (d Direction) Exports() bool {
	return d == DirectionExport || d == DirectionBidirectional
}

// Imports reports whether the direction writes to the local store
func (d Direction) Imports() bool {
	return d == DirectionImport || d == DirectionBidirectional
}

// Action returns the activity log action recorded for the direction
func (d Direction) Action() SyncAction {
	switch d {
	case DirectionExport:
		return SyncActionExport
	case DirectionImport:
		return SyncActionImport
	default:
		return SyncActionFullSync
	}
}

// SyncAction is the action recorded in the activity log
type SyncAction string

const (
	SyncActionExport   SyncAction = "export"
	SyncActionImport   SyncAction = "import"
	SyncActionFullSync SyncAction = "full_sync"
)

// WatermarkActions returns the actions whose successful entries advance the
// watermark for a single-sided direction. Any other value yields all three.
func WatermarkActions(d Direction) []SyncAction {
	switch d {
	case DirectionExport:
		return []SyncAction{SyncActionExport, SyncActionFullSync}
	case DirectionImport:
		return []SyncAction{SyncActionImport, SyncActionFullSync}
	default:
		return []SyncAction{SyncActionExport, SyncActionImport, SyncActionFullSync}
	}
}

// ---------------------------------------------------------------------------
// SyncCursor
// ---------------------------------------------------------------------------

// SyncCursor is the last consumed data row for one (account, logical table)
type SyncCursor struct {
	AccountID    int64
	LogicalTable string
	LastPosition int
	UpdatedAt    time.Time
}

// Advance moves the cursor forward by consumed rows. Negative input is ignored.
func (c *SyncCursor) Advance(consumed int) {
	if consumed > 0 {
		c.LastPosition += consumed
	}
}

// SyncCursorRepository persists cursors
type SyncCursorRepository interface {
	// Get returns the cursor, or a zero-position cursor when none is stored
	Get(ctx context.Context, accountID int64, table string) (SyncCursor, error)

	// Save stores the cursor position
	Save(ctx context.Context, cursor SyncCursor) error

	// ListByAccount returns every stored cursor of an account
	ListByAccount(ctx context.Context, accountID int64) ([]SyncCursor, error)
}

// ---------------------------------------------------------------------------
// Activity Log
// ---------------------------------------------------------------------------

// Count keys stored in ActivityLogEntry.Counts
const (
	CountNewFromLocal      = "new_from_local"
	CountNewFromExternal   = "new_from_external"
	CountConflictsResolved = "conflicts_resolved"
	CountConflictsHeld     = "conflicts_held"
	CountInSync            = "in_sync"
	CountDeferred          = "deferred"
	CountSkippedRows       = "skipped_rows"
	CountErrors            = "errors"
)

// ActivityLogEntry is one append-only sync attempt
type ActivityLogEntry struct {
	ID         uuid.UUID
	UserID     string
	Action     SyncAction
	EntityType string // sorted comma separated list of the entity types covered
	Success    bool
	DryRun     bool
	Counts     map[string]int
	Error      *string
	// StartedAt is when the pass took its snapshot; it is the watermark
	// later passes compare against.
	StartedAt time.Time
	CreatedAt time.Time
}

// NewActivityLogEntry creates an entry for a finished pass
func NewActivityLogEntry(userID string, action SyncAction, entityTypes []EntityType, startedAt time.Time) *ActivityLogEntry {
	return &ActivityLogEntry{
		ID:         uuid.New(),
		UserID:     userID,
		Action:     action,
		EntityType: JoinEntityTypes(entityTypes),
		Counts:     make(map[string]int),
		StartedAt:  startedAt,
		CreatedAt:  time.Now().UTC(),
	}
}

// ActivityLogFilter filters history queries
type ActivityLogFilter struct {
	UserID     string
	EntityType EntityType
	Action     SyncAction
	OnlyFailed bool
	Page       int
	PageSize   int
	// SortBy is a column name; unknown columns fall back to created_at
	SortBy    string
	SortOrder string // ASC or DESC, default DESC
}

// DefaultActivityLogFilter returns the first page of 20 entries
func DefaultActivityLogFilter() ActivityLogFilter {
	return ActivityLogFilter{Page: 1, PageSize: 20}
}

// ActivityLogRepository is the append-only sync history
type ActivityLogRepository interface {
	// Append stores a new entry; entries are never updated
	Append(ctx context.Context, entry *ActivityLogEntry) error

	// LastSuccessful returns the most recent successful, non dry-run entry
	// covering the entity type with one of the given actions, or nil.
	LastSuccessful(ctx context.Context, userID string, entityType EntityType, actions ...SyncAction) (*ActivityLogEntry, error)

	// List returns entries newest first and the total match count
	List(ctx context.Context, filter ActivityLogFilter) ([]ActivityLogEntry, int64, error)

	// DeleteOlderThan prunes entries created before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
