package telemetry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap/zaptest"

	appintegration "github.com/sellersync/backend/internal/application/integration"
	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/sellersync/backend/internal/infrastructure/telemetry"
)

var _ appintegration.MetricsRecorder = (*telemetry.SyncMetrics)(nil)

type stubRecordCounts struct {
	mu     sync.Mutex
	calls  int
	counts map[integration.EntityType]int64
	err    error
}

func (s *stubRecordCounts) CountByEntityType(context.Context) (map[integration.EntityType]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.counts, s.err
}

func (s *stubRecordCounts) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestNewSyncMetrics_NilMeter(t *testing.T) {
	_, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{})
	require.Error(t, err)
	assert.Equal(t, telemetry.ErrMeterNil, err)
	assert.Equal(t, "NewSyncMetrics: meter cannot be nil", err.Error())
}

func TestNewSyncMetrics_NoopMeter(t *testing.T) {
	m, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{Meter: noop.NewMeterProvider().Meter("test")})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.RecordSyncPass(context.Background(), "export", "completed", time.Second)
		m.Start(context.Background())
		m.Stop()
	})
}

func TestSyncMetrics_Record(t *testing.T) {
	reader, provider := newManualMeter(t)
	ctx := context.Background()

	m, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:  provider.Meter("sync"),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	m.RecordSyncPass(ctx, "bidirectional", "completed", 2*time.Second)
	m.RecordSyncPass(ctx, "bidirectional", "partial", time.Second)
	m.RecordRecordsSynced(ctx, "order", "export", 3)
	m.RecordRecordsSynced(ctx, "order", "export", 0)
	m.RecordRecordsSynced(ctx, "listing", "import", 2)
	m.RecordConflicts(ctx, "merge_all", "merged", 4)
	m.RecordRowsCollected(ctx, "Orders", 10, 2)
	m.RecordAccountFailure(ctx, "timeout")
	m.RecordAccountFailure(ctx, "timeout")
	m.RecordFleetRun(ctx, 90*time.Second, 5, 2)

	rm := collect(t, reader)
	assert.Equal(t, int64(1), sumValue(t, rm, "sync_pass_total",
		telemetry.AttrDirection.String("bidirectional"), telemetry.AttrStatus.String("partial")))
	assert.Equal(t, uint64(2), histogramCount(t, rm, "sync_pass_duration_seconds"))
	assert.Equal(t, int64(3), sumValue(t, rm, "sync_records_total",
		telemetry.AttrEntityType.String("order"), telemetry.AttrDirection.String("export")))
	assert.Equal(t, int64(2), sumValue(t, rm, "sync_records_total",
		telemetry.AttrEntityType.String("listing"), telemetry.AttrDirection.String("import")))
	assert.Equal(t, int64(4), sumValue(t, rm, "sync_conflicts_total",
		telemetry.AttrPolicy.String("merge_all"), telemetry.AttrAction.String("merged")))
	assert.Equal(t, int64(10), sumValue(t, rm, "fleet_rows_collected_total", telemetry.AttrTable.String("Orders")))
	assert.Equal(t, int64(2), sumValue(t, rm, "fleet_rows_skipped_total", telemetry.AttrTable.String("Orders")))
	assert.Equal(t, int64(2), sumValue(t, rm, "fleet_account_failures_total", telemetry.AttrReason.String("timeout")))
	assert.Equal(t, int64(1), sumValue(t, rm, "fleet_runs_total"))
	assert.Equal(t, int64(3), sumValue(t, rm, "fleet_accounts", telemetry.AttrStatus.String("ok")))
	assert.Equal(t, int64(2), sumValue(t, rm, "fleet_accounts", telemetry.AttrStatus.String("failed")))
}

func TestSyncMetrics_RecordCountCollection(t *testing.T) {
	reader, provider := newManualMeter(t)
	source := &stubRecordCounts{counts: map[integration.EntityType]int64{
		integration.EntityTypeOrder:   7,
		integration.EntityTypeListing: 3,
	}}

	m, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:           provider.Meter("sync"),
		Logger:          zaptest.NewLogger(t),
		CollectInterval: 5 * time.Millisecond,
		Records:         source,
	})
	require.NoError(t, err)

	m.Start(context.Background())
	m.Start(context.Background())
	require.Eventually(t, func() bool { return source.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()

	rm := collect(t, reader)
	assert.Equal(t, int64(7), sumValue(t, rm, "sync_local_records", telemetry.AttrEntityType.String("order")))
	assert.Equal(t, int64(3), sumValue(t, rm, "sync_local_records", telemetry.AttrEntityType.String("listing")))
}

func TestSyncMetrics_RecordCountErrorIsTolerated(t *testing.T) {
	_, provider := newManualMeter(t)
	source := &stubRecordCounts{err: errors.New("db down")}

	m, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:           provider.Meter("sync"),
		CollectInterval: 5 * time.Millisecond,
		Records:         source,
	})
	require.NoError(t, err)

	m.Start(context.Background())
	require.Eventually(t, func() bool { return source.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	m.Stop()
}
