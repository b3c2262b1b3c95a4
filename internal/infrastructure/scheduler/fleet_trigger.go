package scheduler

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	appintegration "github.com/sellersync/backend/internal/application/integration"
)

// FleetRunner collects every configured account. *integration.FleetCollector
// satisfies it.
type FleetRunner interface {
	CollectAll(ctx context.Context, limit int) (*appintegration.FleetSummary, error)
}

// FleetCollectTriggerConfig holds configuration for the fleet trigger
type FleetCollectTriggerConfig struct {
	// Interval is the time between the end of one run and the next
	Interval time.Duration
	// Jitter adds a random delay in [0, Jitter) to every interval
	Jitter time.Duration
	// ConcurrencyLimit bounds simultaneous account collections
	ConcurrencyLimit int
	// RunOnStart runs a collection right after Start
	RunOnStart bool
}

// DefaultFleetCollectTriggerConfig returns default fleet trigger configuration
func DefaultFleetCollectTriggerConfig() FleetCollectTriggerConfig {
	return FleetCollectTriggerConfig{
		Interval:         5 * time.Minute,
		Jitter:           30 * time.Second,
		ConcurrencyLimit: appintegration.DefaultConcurrencyLimit,
		RunOnStart:       true,
	}
}

// FleetCollectTrigger runs the fleet collector periodically. Stop cancels a
// run in progress between accounts.
type FleetCollectTrigger struct {
	config FleetCollectTriggerConfig
	fleet  FleetRunner
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	last      *appintegration.FleetSummary
	runs      int
}

// NewFleetCollectTrigger creates a fleet trigger
func NewFleetCollectTrigger(config FleetCollectTriggerConfig, fleet FleetRunner, logger *zap.Logger) (*FleetCollectTrigger, error) {
	if config.Interval <= 0 || config.Jitter < 0 {
		return nil, ErrInvalidConfig
	}
	if config.ConcurrencyLimit <= 0 {
		config.ConcurrencyLimit = appintegration.DefaultConcurrencyLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FleetCollectTrigger{
		config: config,
		fleet:  fleet,
		logger: logger,
	}, nil
}

// Start starts the periodic loop
func (f *FleetCollectTrigger) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isRunning {
		return nil
	}
	f.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.wg.Add(1)
	go f.runLoop(ctx)

	f.logger.Info("Fleet collect trigger started",
		zap.Duration("interval", f.config.Interval),
		zap.Duration("jitter", f.config.Jitter),
		zap.Int("concurrency_limit", f.config.ConcurrencyLimit),
	)
	return nil
}

// Stop stops the loop and waits for a run in progress to wind down
func (f *FleetCollectTrigger) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.isRunning {
		f.mu.Unlock()
		return nil
	}
	f.isRunning = false
	f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("Fleet collect trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runLoop sleeps interval plus jitter between runs. A timer is rearmed
// after each run so slow collections never overlap.
func (f *FleetCollectTrigger) runLoop(ctx context.Context) {
	defer f.wg.Done()

	if f.config.RunOnStart {
		f.RunOnce(ctx)
	}

	timer := time.NewTimer(f.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			f.RunOnce(ctx)
			timer.Reset(f.nextDelay())
		}
	}
}

func (f *FleetCollectTrigger) nextDelay() time.Duration {
	if f.config.Jitter <= 0 {
		return f.config.Interval
	}
	return f.config.Interval + rand.N(f.config.Jitter)
}

// RunOnce collects the fleet now and returns the summary
func (f *FleetCollectTrigger) RunOnce(ctx context.Context) *appintegration.FleetSummary {
	summary, err := f.fleet.CollectAll(ctx, f.config.ConcurrencyLimit)
	if err != nil {
		f.logger.Error("Fleet collection failed", zap.Error(err))
		return nil
	}

	f.mu.Lock()
	f.last = summary
	f.runs++
	f.mu.Unlock()

	if summary.Cancelled {
		f.logger.Warn("Fleet collection cancelled",
			zap.Int("successful_accounts", summary.SuccessfulAccounts),
			zap.Int("total_accounts", summary.TotalAccounts),
		)
	}
	return summary
}

// LastSummary returns the summary of the latest completed run and how many
// runs completed
func (f *FleetCollectTrigger) LastSummary() (*appintegration.FleetSummary, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.runs
}
