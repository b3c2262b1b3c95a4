package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appintegration "github.com/sellersync/backend/internal/application/integration"
	"github.com/sellersync/backend/internal/domain/integration"
)

// ConfigSource returns the current runtime sync configuration
type ConfigSource interface {
	Snapshot() integration.SyncConfig
}

// UserProvider lists the users that own enabled accounts
type UserProvider interface {
	Users(ctx context.Context) ([]string, error)
}

// JobSubmitter queues a sync request
type JobSubmitter interface {
	Submit(req appintegration.SyncRequest) (uuid.UUID, error)
}

// AutoSyncTrigger submits a bidirectional job per user every
// auto_sync_interval_seconds. The interval is re-read on every check, so an
// update takes effect without a restart; zero disables auto sync.
type AutoSyncTrigger struct {
	checkInterval time.Duration
	configs       ConfigSource
	users         UserProvider
	jobs          JobSubmitter
	logger        *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRun   time.Time
}

// NewAutoSyncTrigger creates an auto sync trigger. checkInterval is how
// often the configured interval is compared with the last run.
func NewAutoSyncTrigger(checkInterval time.Duration, configs ConfigSource, users UserProvider, jobs JobSubmitter, logger *zap.Logger) *AutoSyncTrigger {
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoSyncTrigger{
		checkInterval: checkInterval,
		configs:       configs,
		users:         users,
		jobs:          jobs,
		logger:        logger,
	}
}

// Start starts the auto sync trigger
func (a *AutoSyncTrigger) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.isRunning {
		return nil
	}
	a.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.runLoop(ctx)

	a.logger.Info("Auto sync trigger started", zap.Duration("check_interval", a.checkInterval))
	return nil
}

// Stop stops the auto sync trigger
func (a *AutoSyncTrigger) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.isRunning {
		a.mu.Unlock()
		return nil
	}
	a.isRunning = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("Auto sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AutoSyncTrigger) runLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.checkAndTrigger(ctx, now)
		}
	}
}

// checkAndTrigger submits one job per user when the configured interval has
// elapsed since the last round. It returns the number of jobs submitted.
func (a *AutoSyncTrigger) checkAndTrigger(ctx context.Context, now time.Time) int {
	cfg := a.configs.Snapshot()
	if !cfg.Enabled || cfg.AutoSyncIntervalSeconds <= 0 {
		return 0
	}
	interval := time.Duration(cfg.AutoSyncIntervalSeconds) * time.Second

	a.mu.Lock()
	if !a.lastRun.IsZero() && now.Sub(a.lastRun) < interval {
		a.mu.Unlock()
		return 0
	}
	a.lastRun = now
	a.mu.Unlock()

	users, err := a.users.Users(ctx)
	if err != nil {
		a.logger.Error("Failed to list users for auto sync", zap.Error(err))
		return 0
	}

	submitted := 0
	for _, userID := range users {
		id, err := a.jobs.Submit(appintegration.SyncRequest{
			UserID:    userID,
			Direction: integration.DirectionBidirectional,
		})
		if err != nil {
			a.logger.Error("Failed to submit auto sync job",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		submitted++
		a.logger.Debug("Auto sync job submitted",
			zap.String("user_id", userID),
			zap.String("job_id", id.String()),
		)
	}

	a.logger.Info("Auto sync round submitted",
		zap.Int("users", len(users)),
		zap.Int("submitted", submitted),
		zap.Duration("interval", interval),
	)
	return submitted
}
