package integration

import (
	"context"
	"time"
)

// MetricsRecorder receives sync engine measurements. The telemetry package
// provides the OpenTelemetry implementation.
type MetricsRecorder interface {
	RecordSyncPass(ctx context.Context, direction, status string, duration time.Duration)
	RecordRecordsSynced(ctx context.Context, entityType, direction string, count int)
	RecordConflicts(ctx context.Context, policy, action string, count int)
	RecordRowsCollected(ctx context.Context, table string, collected, skipped int)
	RecordAccountFailure(ctx context.Context, reason string)
	RecordFleetRun(ctx context.Context, duration time.Duration, accounts, failed int)
}

type noopMetrics struct{}

func (noopMetrics) RecordSyncPass(context.Context, string, string, time.Duration) {}
func (noopMetrics) RecordRecordsSynced(context.Context, string, string, int)      {}
func (noopMetrics) RecordConflicts(context.Context, string, string, int)          {}
func (noopMetrics) RecordRowsCollected(context.Context, string, int, int)         {}
func (noopMetrics) RecordAccountFailure(context.Context, string)                  {}
func (noopMetrics) RecordFleetRun(context.Context, time.Duration, int, int)       {}
