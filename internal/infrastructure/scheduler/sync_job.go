package scheduler

import (
	"errors"
	"time"

	"github.com/google/uuid"

	appintegration "github.com/sellersync/backend/internal/application/integration"
	"github.com/sellersync/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Sync Job Types
// ---------------------------------------------------------------------------

// SyncJobStatus represents the status of a background sync job
type SyncJobStatus string

const (
	SyncJobStatusPending   SyncJobStatus = "PENDING"
	SyncJobStatusRunning   SyncJobStatus = "RUNNING"
	SyncJobStatusSuccess   SyncJobStatus = "SUCCESS"
	SyncJobStatusPartial   SyncJobStatus = "PARTIAL"
	SyncJobStatusFailed    SyncJobStatus = "FAILED"
	SyncJobStatusCancelled SyncJobStatus = "CANCELLED"
)

// IsTerminal returns true once the job will not run again
func (s SyncJobStatus) IsTerminal() bool {
	switch s {
	case SyncJobStatusSuccess, SyncJobStatusPartial, SyncJobStatusFailed, SyncJobStatusCancelled:
		return true
	}
	return false
}

// maxRetryDelay caps the exponential backoff
const maxRetryDelay = 30 * time.Minute

// SyncJob is one sync request queued on the SyncJobRunner
type SyncJob struct {
	ID          uuid.UUID
	Request     appintegration.SyncRequest
	Status      SyncJobStatus
	Error       string
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
	Result      *appintegration.SyncResult

	done chan struct{}
}

// NewSyncJob creates a pending job
func NewSyncJob(req appintegration.SyncRequest, maxRetries int) *SyncJob {
	return &SyncJob{
		ID:          uuid.New(),
		Request:     req,
		Status:      SyncJobStatusPending,
		SubmittedAt: time.Now(),
		MaxRetries:  maxRetries,
		done:        make(chan struct{}),
	}
}

// Start marks the job as running
func (j *SyncJob) Start() {
	now := time.Now()
	j.Status = SyncJobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete records the pass result and derives the job status from it
func (j *SyncJob) Complete(result *appintegration.SyncResult) {
	now := time.Now()
	j.Result = result
	j.CompletedAt = &now

	switch result.Status {
	case appintegration.SyncStatusCompleted:
		j.Status = SyncJobStatusSuccess
	case appintegration.SyncStatusPartial:
		j.Status = SyncJobStatusPartial
	default:
		j.Status = SyncJobStatusFailed
		j.Error = ErrSyncJobFailed.Error()
		if len(result.Errors) > 0 {
			j.Error = result.Errors[0]
		}
	}
}

// Fail marks the job as failed
func (j *SyncJob) Fail(err string) {
	now := time.Now()
	j.Status = SyncJobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// Cancel marks the job as cancelled
func (j *SyncJob) Cancel() {
	now := time.Now()
	j.Status = SyncJobStatusCancelled
	j.CompletedAt = &now
}

// ShouldRetry returns true if a failed job may run again. Configuration
// errors and missing accounts fail the same way on every attempt.
func (j *SyncJob) ShouldRetry(err error) bool {
	if j.Status != SyncJobStatusFailed || j.RetryCount >= j.MaxRetries {
		return false
	}
	if err == nil {
		return true
	}
	if integration.IsConfigurationError(err) || errors.Is(err, integration.ErrNoAccounts) {
		return false
	}
	return errors.Is(err, integration.ErrSyncInProgress) || integration.IsConnectivityError(err)
}

// ScheduleRetry schedules the job for retry with exponential backoff and
// returns the delay
func (j *SyncJob) ScheduleRetry(baseDelay time.Duration) time.Duration {
	j.RetryCount++
	j.Status = SyncJobStatusPending
	delay := baseDelay * time.Duration(1<<(j.RetryCount-1))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	nextRetry := time.Now().Add(delay)
	j.NextRetryAt = &nextRetry
	j.CompletedAt = nil
	return delay
}

// View returns the admin view of the job
func (j *SyncJob) View() appintegration.SyncJobView {
	return appintegration.SyncJobView{
		ID:          j.ID,
		UserID:      j.Request.UserID,
		Direction:   j.Request.Direction,
		DryRun:      j.Request.DryRun,
		Status:      string(j.Status),
		Attempts:    j.RetryCount + 1,
		SubmittedAt: j.SubmittedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.CompletedAt,
		Error:       j.Error,
		Result:      j.Result,
	}
}
