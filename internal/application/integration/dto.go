package integration

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sellersync/backend/internal/domain/integration"
)

// TriggerSyncRequest is the input of the trigger operations
type TriggerSyncRequest struct {
	UserID   string
	DryRun   bool
	Entities []integration.EntityType
	// Async submits the pass to the background runner instead of waiting
	Async bool
}

// TriggerSyncResponse carries the pass result, or the job id when async
type TriggerSyncResponse struct {
	Result *SyncResult
	JobID  *uuid.UUID
}

// SyncJobView is the admin view of a background sync job
type SyncJobView struct {
	ID          uuid.UUID
	UserID      string
	Direction   integration.Direction
	DryRun      bool
	Status      string
	Attempts    int
	SubmittedAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Error       string
	Result      *SyncResult
}

// EntityStatus is the per entity part of SyncStatusResponse
type EntityStatus struct {
	EntityType         integration.EntityType
	Table              string
	Records            int64
	PendingLocalEdits  int
	LastSuccessfulSync *time.Time
	LastAction         integration.SyncAction
}

// SyncStatusResponse summarises the sync state of one user
type SyncStatusResponse struct {
	UserID        string
	Config        integration.SyncConfig
	Accounts      int
	Entities      []EntityStatus
	OpenConflicts int
	RunningJobs   []SyncJobView
}

// UpdateSyncConfigRequest is a partial update; nil fields are kept
type UpdateSyncConfigRequest struct {
	Enabled                     *bool
	ConflictResolution          *string
	MergeStrategy               *string
	ExternalAuthoritativeFields []string
	AutoSyncIntervalSeconds     *int
	Entities                    []string
	BackupBeforeSync            *bool
	DryRun                      *bool
}

// HistoryFilter filters sync history queries
type HistoryFilter struct {
	UserID     string
	EntityType string
	Action     string
	OnlyFailed bool
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// HistoryEntry is one activity log entry as shown to an operator
type HistoryEntry struct {
	ID          uuid.UUID
	UserID      string
	Action      integration.SyncAction
	EntityTypes []string
	Success     bool
	DryRun      bool
	Counts      map[string]int
	Error       string
	StartedAt   time.Time
	CreatedAt   time.Time
}

// HistoryResponse is one page of history
type HistoryResponse struct {
	Entries  []HistoryEntry
	Total    int64
	Page     int
	PageSize int
}

// PendingConflictView is a held conflict with both versions
type PendingConflictView struct {
	ID              uuid.UUID
	EntityType      integration.EntityType
	AccountID       int64
	RecordID        string
	LocalVersion    map[string]any
	ExternalVersion map[string]any
	LocalUpdatedAt  time.Time
	// ExternalUpdatedAt is nil when the external row had no parseable time
	ExternalUpdatedAt *time.Time
	DetectedAt        time.Time
}

func toHistoryEntry(e integration.ActivityLogEntry) HistoryEntry {
	out := HistoryEntry{
		ID:        e.ID,
		UserID:    e.UserID,
		Action:    e.Action,
		Success:   e.Success,
		DryRun:    e.DryRun,
		Counts:    e.Counts,
		StartedAt: e.StartedAt,
		CreatedAt: e.CreatedAt,
	}
	if e.EntityType != "" {
		out.EntityTypes = strings.Split(e.EntityType, ",")
	}
	if e.Error != nil {
		out.Error = *e.Error
	}
	return out
}

func toPendingConflictView(p integration.PendingConflict) PendingConflictView {
	return PendingConflictView{
		ID:                p.ID,
		EntityType:        p.EntityType,
		AccountID:         p.AccountID,
		RecordID:          p.RecordID,
		LocalVersion:      p.LocalVersion.Payload,
		ExternalVersion:   p.ExternalVersion.Payload,
		LocalUpdatedAt:    p.LocalVersion.LocalUpdatedAt,
		ExternalUpdatedAt: p.ExternalVersion.ExternalUpdatedAt,
		DetectedAt:        p.DetectedAt,
	}
}
