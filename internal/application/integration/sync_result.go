package integration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sellersync/backend/internal/domain/integration"
)

// SyncStatus is the terminal state of a sync pass
type SyncStatus string

const (
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusPartial   SyncStatus = "partial"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncState is a step of the per-entity state machine
type SyncState string

const (
	SyncStateIdle               SyncState = "idle"
	SyncStateBackingUp          SyncState = "backing_up"
	SyncStateDetectingChanges   SyncState = "detecting_changes"
	SyncStateClassifying        SyncState = "classifying"
	SyncStateResolvingConflicts SyncState = "resolving_conflicts"
	SyncStateApplyingWrites     SyncState = "applying_writes"
	SyncStateLogging            SyncState = "logging"
)

// EntitySyncResult is the outcome of one entity type within a pass
type EntitySyncResult struct {
	EntityType        integration.EntityType
	Status            SyncStatus
	Since             time.Time
	LocalChanges      int
	NewFromLocal      int
	NewFromExternal   int
	ConflictsResolved int
	ConflictsHeld     int
	InSync            int
	Deferred          int
	SkippedRows       int
	Resolutions       map[integration.ResolutionAction]int
	BackupLocation    string
	States            []SyncState
	Errors            []string
	Warnings          []string

	accountsOK     int
	accountsFailed int
}

func newEntitySyncResult(entityType integration.EntityType) *EntitySyncResult {
	return &EntitySyncResult{
		EntityType:  entityType,
		Resolutions: make(map[integration.ResolutionAction]int),
		States:      []SyncState{SyncStateIdle},
	}
}

func (e *EntitySyncResult) enter(state SyncState) {
	e.States = append(e.States, state)
}

func (e *EntitySyncResult) fail(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

func (e *EntitySyncResult) settle(unavailableAccounts int) {
	failed := e.accountsFailed + unavailableAccounts
	switch {
	case len(e.Errors) == 0 && failed == 0:
		e.Status = SyncStatusCompleted
	case e.accountsOK > 0:
		e.Status = SyncStatusPartial
	default:
		e.Status = SyncStatusFailed
	}
}

// SyncResult is the structured outcome of Sync. It is returned even when
// the pass fails, so callers can tell "nothing to do" from partial and hard
// failures.
type SyncResult struct {
	RunID             string
	UserID            string
	Direction         integration.Direction
	DryRun            bool
	Policy            integration.ConflictPolicy
	Status            SyncStatus
	NewFromLocal      int
	NewFromExternal   int
	ConflictsResolved int
	ConflictsHeld     int
	InSync            int
	Deferred          int
	SkippedRows       int
	Entities          []EntitySyncResult
	// Errors holds pass-level errors followed by every entity error
	Errors        []string
	Warnings      []string
	StartedAt     time.Time
	FinishedAt    time.Time
	ActivityLogID uuid.UUID
}

// NothingToDo reports a successful pass that found no work
func (r *SyncResult) NothingToDo() bool {
	return r.Status == SyncStatusCompleted &&
		r.NewFromLocal == 0 && r.NewFromExternal == 0 &&
		r.ConflictsResolved == 0 && r.ConflictsHeld == 0
}

// Counts returns the activity log counters of the pass
func (r *SyncResult) Counts() map[string]int {
	return map[string]int{
		integration.CountNewFromLocal:      r.NewFromLocal,
		integration.CountNewFromExternal:   r.NewFromExternal,
		integration.CountConflictsResolved: r.ConflictsResolved,
		integration.CountConflictsHeld:     r.ConflictsHeld,
		integration.CountInSync:            r.InSync,
		integration.CountDeferred:          r.Deferred,
		integration.CountSkippedRows:       r.SkippedRows,
		integration.CountErrors:            len(r.Errors),
	}
}

// finish totals the entity results and decides the terminal status
func (r *SyncResult) finish(fatal bool, finishedAt time.Time) {
	passErrors := len(r.Errors)
	completed, failed := 0, 0
	for _, e := range r.Entities {
		r.NewFromLocal += e.NewFromLocal
		r.NewFromExternal += e.NewFromExternal
		r.ConflictsResolved += e.ConflictsResolved
		r.ConflictsHeld += e.ConflictsHeld
		r.InSync += e.InSync
		r.Deferred += e.Deferred
		r.SkippedRows += e.SkippedRows
		for _, msg := range e.Errors {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", e.EntityType, msg))
		}
		r.Warnings = append(r.Warnings, e.Warnings...)
		switch e.Status {
		case SyncStatusCompleted:
			completed++
		case SyncStatusFailed:
			failed++
		}
	}

	switch {
	case fatal:
		r.Status = SyncStatusFailed
	case len(r.Entities) == 0 && passErrors == 0:
		r.Status = SyncStatusCompleted
	case completed == len(r.Entities) && passErrors == 0:
		r.Status = SyncStatusCompleted
	case failed == len(r.Entities):
		r.Status = SyncStatusFailed
	default:
		r.Status = SyncStatusPartial
	}
	r.FinishedAt = finishedAt
}
