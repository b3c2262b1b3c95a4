package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/sellersync/backend/internal/domain/integration"
)

// RecordCountSource reports how many records the local store holds per
// entity type.
type RecordCountSource interface {
	CountByEntityType(ctx context.Context) (map[integration.EntityType]int64, error)
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // default 5 minutes
	Records         RecordCountSource
}

// SyncMetrics implements the sync engine's metrics recorder on OpenTelemetry
// instruments.
type SyncMetrics struct {
	logger *zap.Logger

	passTotal       *Counter
	passDuration    *Histogram
	recordsSynced   *Counter
	conflictsTotal  *Counter
	rowsCollected   *Counter
	rowsSkipped     *Counter
	accountFailures *Counter
	fleetRuns       *Counter
	fleetDuration   *Histogram
	fleetAccounts   *Gauge
	recordCount     *Gauge

	records         RecordCountSource
	collectInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
	startOnce       sync.Once
	wg              sync.WaitGroup
}

// ErrMeterNil is returned when no meter is supplied.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError is an instrument construction error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// NewSyncMetrics creates the sync instruments.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.CollectInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	m := &SyncMetrics{
		logger:          logger,
		records:         cfg.Records,
		collectInterval: interval,
		stopCh:          make(chan struct{}),
	}
	meter := cfg.Meter

	var err error
	if m.passTotal, err = NewCounter(meter, "sync_pass_total",
		"Sync passes by direction and final status", "{pass}"); err != nil {
		return nil, err
	}
	if m.passDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "sync_pass_duration_seconds",
		Description: "Wall time of a sync pass",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.recordsSynced, err = NewCounter(meter, "sync_records_total",
		"Records written by a sync pass by entity type and direction", "{record}"); err != nil {
		return nil, err
	}
	if m.conflictsTotal, err = NewCounter(meter, "sync_conflicts_total",
		"Conflicts by policy and resolution action", "{conflict}"); err != nil {
		return nil, err
	}
	if m.rowsCollected, err = NewCounter(meter, "fleet_rows_collected_total",
		"Rows read from account documents by table", "{row}"); err != nil {
		return nil, err
	}
	if m.rowsSkipped, err = NewCounter(meter, "fleet_rows_skipped_total",
		"Malformed rows skipped while collecting by table", "{row}"); err != nil {
		return nil, err
	}
	if m.accountFailures, err = NewCounter(meter, "fleet_account_failures_total",
		"Per-account collection failures by reason", "{account}"); err != nil {
		return nil, err
	}
	if m.fleetRuns, err = NewCounter(meter, "fleet_runs_total",
		"Fleet collection runs", "{run}"); err != nil {
		return nil, err
	}
	if m.fleetDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "fleet_run_duration_seconds",
		Description: "Wall time of a fleet collection run",
		Unit:        "s",
		Boundaries:  FleetDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.fleetAccounts, err = NewGauge(meter, "fleet_accounts",
		"Accounts in the last fleet run by outcome", "{account}"); err != nil {
		return nil, err
	}
	if m.recordCount, err = NewGauge(meter, "sync_local_records",
		"Records held locally by entity type", "{record}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordSyncPass records a finished pass.
func (m *SyncMetrics) RecordSyncPass(ctx context.Context, direction, status string, duration time.Duration) {
	m.passTotal.Inc(ctx, AttrDirection.String(direction), AttrStatus.String(status))
	m.passDuration.RecordDuration(ctx, duration, AttrDirection.String(direction))
}

// RecordRecordsSynced counts records written in one direction.
func (m *SyncMetrics) RecordRecordsSynced(ctx context.Context, entityType, direction string, count int) {
	if count <= 0 {
		return
	}
	m.recordsSynced.Add(ctx, int64(count), AttrEntityType.String(entityType), AttrDirection.String(direction))
}

// RecordConflicts counts conflicts resolved or held by action.
func (m *SyncMetrics) RecordConflicts(ctx context.Context, policy, action string, count int) {
	if count <= 0 {
		return
	}
	m.conflictsTotal.Add(ctx, int64(count), AttrPolicy.String(policy), AttrAction.String(action))
}

// RecordRowsCollected counts rows read from one account table.
func (m *SyncMetrics) RecordRowsCollected(ctx context.Context, table string, collected, skipped int) {
	if collected > 0 {
		m.rowsCollected.Add(ctx, int64(collected), AttrTable.String(table))
	}
	if skipped > 0 {
		m.rowsSkipped.Add(ctx, int64(skipped), AttrTable.String(table))
	}
}

// RecordAccountFailure counts an account that failed collection.
func (m *SyncMetrics) RecordAccountFailure(ctx context.Context, reason string) {
	m.accountFailures.Inc(ctx, AttrReason.String(reason))
}

// RecordFleetRun records a finished fleet run.
func (m *SyncMetrics) RecordFleetRun(ctx context.Context, duration time.Duration, accounts, failed int) {
	m.fleetRuns.Inc(ctx)
	m.fleetDuration.RecordDuration(ctx, duration)
	m.fleetAccounts.Record(ctx, int64(accounts-failed), AttrStatus.String("ok"))
	m.fleetAccounts.Record(ctx, int64(failed), AttrStatus.String("failed"))
}

// Start samples local record counts every collect interval. It does nothing
// without a RecordCountSource and only starts once.
func (m *SyncMetrics) Start(ctx context.Context) {
	if m.records == nil {
		return
	}
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.collectInterval)
			defer ticker.Stop()

			m.collectRecordCounts(ctx)
			for {
				select {
				case <-ticker.C:
					m.collectRecordCounts(ctx)
				case <-m.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
		m.logger.Info("Started record count collection", zap.Duration("interval", m.collectInterval))
	})
}

func (m *SyncMetrics) collectRecordCounts(ctx context.Context) {
	counts, err := m.records.CountByEntityType(ctx)
	if err != nil {
		m.logger.Warn("Failed to collect record counts", zap.Error(err))
		return
	}
	for entity, n := range counts {
		m.recordCount.Record(ctx, n, AttrEntityType.String(string(entity)))
	}
}

// Stop ends periodic collection. Safe to call more than once.
func (m *SyncMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}
