package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appintegration "github.com/sellersync/backend/internal/application/integration"
)

// SyncRunner executes one sync pass. *integration.SyncService satisfies it.
type SyncRunner interface {
	Run(ctx context.Context, req appintegration.SyncRequest) (*appintegration.SyncResult, error)
}

// SyncJobRunnerConfig holds configuration for the background sync runner
type SyncJobRunnerConfig struct {
	// Workers is the number of jobs that run at the same time
	Workers int
	// QueueSize bounds jobs waiting for a worker
	QueueSize int
	// JobTimeout is the maximum time a pass can run
	JobTimeout time.Duration
	// RetryAttempts is the number of retries for a failed job
	RetryAttempts int
	// RetryDelay is the base delay between retries (with exponential backoff)
	RetryDelay time.Duration
	// MaxHistory bounds the finished jobs kept for Status and Wait
	MaxHistory int
}

// DefaultSyncJobRunnerConfig returns default configuration
func DefaultSyncJobRunnerConfig() SyncJobRunnerConfig {
	return SyncJobRunnerConfig{
		Workers:       3,
		QueueSize:     100,
		JobTimeout:    30 * time.Minute,
		RetryAttempts: 3,
		RetryDelay:    time.Minute,
		MaxHistory:    100,
	}
}

// Validate validates the configuration
func (c *SyncJobRunnerConfig) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.RetryAttempts < 0 || c.RetryDelay < 0 {
		return ErrInvalidConfig
	}
	if c.MaxHistory <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// SyncJobRunner runs sync requests on a pool of supervised workers. Failed
// jobs are retried with exponential backoff when the failure is transient.
type SyncJobRunner struct {
	config SyncJobRunnerConfig
	runner SyncRunner
	logger *zap.Logger

	queue     chan *SyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// jobs holds pending and running jobs; finished ones move to history
	jobs    map[uuid.UUID]*SyncJob
	history []*SyncJob
}

// NewSyncJobRunner creates a runner; call Start before submitting
func NewSyncJobRunner(config SyncJobRunnerConfig, runner SyncRunner, logger *zap.Logger) (*SyncJobRunner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncJobRunner{
		config:  config,
		runner:  runner,
		logger:  logger,
		queue:   make(chan *SyncJob, config.QueueSize),
		jobs:    make(map[uuid.UUID]*SyncJob),
		history: make([]*SyncJob, 0, config.MaxHistory),
	}, nil
}

// Start starts the worker pool
func (r *SyncJobRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return nil
	}
	r.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}

	r.logger.Info("Sync job runner started",
		zap.Int("workers", r.config.Workers),
		zap.Duration("job_timeout", r.config.JobTimeout),
	)
	return nil
}

// Stop cancels running passes, waits for the workers and cancels every job
// still queued or waiting for a retry
func (r *SyncJobRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("Sync job runner stop timed out")
		return ctx.Err()
	}

	for {
		select {
		case job := <-r.queue:
			r.mu.Lock()
			job.Cancel()
			r.mu.Unlock()
			r.finish(job)
		default:
			r.logger.Info("Sync job runner stopped gracefully")
			return nil
		}
	}
}

// Submit queues a sync request and returns its job id
func (r *SyncJobRunner) Submit(req appintegration.SyncRequest) (uuid.UUID, error) {
	job := NewSyncJob(req, r.config.RetryAttempts)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isRunning {
		return uuid.Nil, ErrSchedulerNotRunning
	}

	select {
	case r.queue <- job:
	default:
		return uuid.Nil, ErrJobQueueFull
	}
	r.jobs[job.ID] = job

	r.logger.Debug("Sync job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("user_id", req.UserID),
		zap.String("direction", string(req.Direction)),
	)
	return job.ID, nil
}

// Wait blocks until the job finishes or ctx is done
func (r *SyncJobRunner) Wait(ctx context.Context, id uuid.UUID) (appintegration.SyncJobView, error) {
	r.mu.Lock()
	job := r.lookup(id)
	r.mu.Unlock()
	if job == nil {
		return appintegration.SyncJobView{}, ErrJobNotFound
	}

	select {
	case <-job.done:
	case <-ctx.Done():
		return appintegration.SyncJobView{}, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return job.View(), nil
}

// Status returns the current view of a job
func (r *SyncJobRunner) Status(id uuid.UUID) (appintegration.SyncJobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.lookup(id)
	if job == nil {
		return appintegration.SyncJobView{}, ErrJobNotFound
	}
	return job.View(), nil
}

// Active returns pending and running jobs, oldest first
func (r *SyncJobRunner) Active() []appintegration.SyncJobView {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]appintegration.SyncJobView, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.View())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// History returns recently finished jobs, newest first
func (r *SyncJobRunner) History(limit int) []appintegration.SyncJobView {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	out := make([]appintegration.SyncJobView, limit)
	for i, job := range r.history[:limit] {
		out[i] = job.View()
	}
	return out
}

// lookup must be called with r.mu held
func (r *SyncJobRunner) lookup(id uuid.UUID) *SyncJob {
	if job, ok := r.jobs[id]; ok {
		return job
	}
	for _, job := range r.history {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// worker processes jobs from the queue
func (r *SyncJobRunner) worker(ctx context.Context, workerID int) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.queue:
			r.processJob(ctx, job, workerID)
		}
	}
}

// processJob runs a single pass and decides between finishing and retrying
func (r *SyncJobRunner) processJob(ctx context.Context, job *SyncJob, workerID int) {
	r.mu.Lock()
	job.Start()
	req := job.Request
	r.mu.Unlock()

	logger := r.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("user_id", req.UserID),
		zap.String("direction", string(req.Direction)),
	)
	logger.Info("Processing sync job", zap.Int("attempt", job.RetryCount+1))

	jobCtx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	result, err := r.runner.Run(jobCtx, req)
	cancel()

	r.mu.Lock()
	switch {
	case err != nil && ctx.Err() != nil:
		job.Result = result
		job.Cancel()
	case err != nil:
		job.Result = result
		job.Fail(err.Error())
	case result == nil:
		job.Fail(ErrSyncJobFailed.Error())
	default:
		job.Complete(result)
	}

	if job.ShouldRetry(err) && ctx.Err() == nil {
		delay := job.ScheduleRetry(r.config.RetryDelay)
		r.mu.Unlock()
		logger.Warn("Sync job scheduled for retry",
			zap.Int("retry_count", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		r.wg.Add(1)
		go r.retryAfter(ctx, job, delay)
		return
	}
	status, jobErr := job.Status, job.Error
	r.mu.Unlock()

	if status == SyncJobStatusFailed {
		logger.Error("Sync job failed", zap.String("error", jobErr))
	} else {
		logger.Info("Sync job finished", zap.String("status", string(status)))
	}
	r.finish(job)
}

// retryAfter puts the job back on the queue once its backoff has elapsed
func (r *SyncJobRunner) retryAfter(ctx context.Context, job *SyncJob, delay time.Duration) {
	defer r.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		r.mu.Lock()
		job.Cancel()
		r.mu.Unlock()
		r.finish(job)
		return
	case <-timer.C:
	}

	select {
	case r.queue <- job:
	default:
		r.mu.Lock()
		job.Fail(ErrJobQueueFull.Error())
		r.mu.Unlock()
		r.logger.Warn("Failed to re-queue sync job for retry", zap.String("job_id", job.ID.String()))
		r.finish(job)
	}
}

// finish moves a terminal job to history and releases its waiters
func (r *SyncJobRunner) finish(job *SyncJob) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, job.ID)
	r.history = append([]*SyncJob{job}, r.history...)
	if len(r.history) > r.config.MaxHistory {
		r.history = r.history[:r.config.MaxHistory]
	}
	close(job.done)
}

var _ appintegration.BackgroundSyncRunner = (*SyncJobRunner)(nil)
