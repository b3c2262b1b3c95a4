package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HistoryPruner deletes activity log entries older than days.
// *integration.AdminService satisfies it.
type HistoryPruner interface {
	Prune(ctx context.Context, days int) (int64, error)
}

// PruneTriggerConfig holds configuration for the history prune trigger
type PruneTriggerConfig struct {
	// RetentionDays is how long activity log entries are kept
	RetentionDays int

	// Hour and Minute of the daily run (UTC, 24h)
	Hour   int
	Minute int

	// CheckInterval is how often to check if it's time to run
	CheckInterval time.Duration
}

// DefaultPruneTriggerConfig returns default prune trigger configuration
func DefaultPruneTriggerConfig() PruneTriggerConfig {
	return PruneTriggerConfig{
		RetentionDays: 90,
		Hour:          3,
		Minute:        0,
		CheckInterval: time.Minute,
	}
}

// HistoryPruneTrigger prunes the activity log once a day
type HistoryPruneTrigger struct {
	config PruneTriggerConfig
	pruner HistoryPruner
	logger *zap.Logger

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	isRunning   bool
	lastRunDate string
}

// NewHistoryPruneTrigger creates a prune trigger
func NewHistoryPruneTrigger(config PruneTriggerConfig, pruner HistoryPruner, logger *zap.Logger) (*HistoryPruneTrigger, error) {
	if config.RetentionDays <= 0 || config.CheckInterval <= 0 {
		return nil, ErrInvalidConfig
	}
	if config.Hour < 0 || config.Hour > 23 || config.Minute < 0 || config.Minute > 59 {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryPruneTrigger{
		config: config,
		pruner: pruner,
		logger: logger,
	}, nil
}

// Start starts the prune trigger
func (p *HistoryPruneTrigger) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return nil
	}
	p.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.runLoop(ctx)

	p.logger.Info("History prune trigger started",
		zap.Int("retention_days", p.config.RetentionDays),
		zap.Int("hour", p.config.Hour),
		zap.Int("minute", p.config.Minute),
	)
	return nil
}

// Stop stops the prune trigger
func (p *HistoryPruneTrigger) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("History prune trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *HistoryPruneTrigger) runLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.checkAndTrigger(ctx, now)
		}
	}
}

// checkAndTrigger prunes at most once per day, at or after the configured
// time. It reports whether a prune ran.
func (p *HistoryPruneTrigger) checkAndTrigger(ctx context.Context, now time.Time) bool {
	now = now.UTC()
	currentDate := now.Format("2006-01-02")

	p.mu.Lock()
	if p.lastRunDate == currentDate {
		p.mu.Unlock()
		return false
	}
	due := now.Hour() > p.config.Hour ||
		(now.Hour() == p.config.Hour && now.Minute() >= p.config.Minute)
	if !due {
		p.mu.Unlock()
		return false
	}
	p.lastRunDate = currentDate
	p.mu.Unlock()

	deleted, err := p.pruner.Prune(ctx, p.config.RetentionDays)
	if err != nil {
		p.logger.Error("Failed to prune activity log", zap.Error(err))
		return true
	}
	p.logger.Info("Activity log pruned",
		zap.Int("retention_days", p.config.RetentionDays),
		zap.Int64("deleted", deleted),
	)
	return true
}
