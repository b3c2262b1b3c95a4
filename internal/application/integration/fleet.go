package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/sellersync/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrencyLimit bounds simultaneous account collections
const DefaultConcurrencyLimit = 10

// FleetSummary aggregates one fleet collection run
type FleetSummary struct {
	TotalAccounts       int
	SuccessfulAccounts  int
	TotalRecordsByTable map[string]int
	PersistedRecords    int
	KeptLocalEdits      int
	SkippedRows         int
	Duration            time.Duration
	Errors              []string
	Warnings            []string
	// Cancelled is set when the run stopped before starting every account
	Cancelled bool
}

// FleetCollector runs the AccountCollector over every configured account
// with bounded concurrency and persists what each account yields.
type FleetCollector struct {
	directory      integration.AccountDirectory
	collector      *AccountCollector
	records        integration.RecordRepository
	logger         *zap.Logger
	metrics        MetricsRecorder
	accountTimeout time.Duration
	now            func() time.Time

	// collectFn is swapped in tests
	collectFn func(ctx context.Context, account integration.Account) (*AccountCollection, error)
}

// FleetCollectorOption configures a FleetCollector
type FleetCollectorOption func(*FleetCollector)

// WithAccountTimeout bounds each account collection; zero means no bound
func WithAccountTimeout(d time.Duration) FleetCollectorOption {
	return func(f *FleetCollector) {
		f.accountTimeout = d
	}
}

// WithFleetMetrics sets the metrics recorder
func WithFleetMetrics(m MetricsRecorder) FleetCollectorOption {
	return func(f *FleetCollector) {
		if m != nil {
			f.metrics = m
		}
	}
}

// NewFleetCollector creates a fleet collector
func NewFleetCollector(
	directory integration.AccountDirectory,
	collector *AccountCollector,
	records integration.RecordRepository,
	logger *zap.Logger,
	opts ...FleetCollectorOption,
) *FleetCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &FleetCollector{
		directory: directory,
		collector: collector,
		records:   records,
		logger:    logger,
		metrics:   noopMetrics{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	f.collectFn = collector.Collect
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CollectAll collects every account, at most limit at a time. A failing or
// panicking account is reported in the summary and never stops the others.
// Cancelling ctx stops new accounts from starting; running ones finish
// their current table read.
func (f *FleetCollector) CollectAll(ctx context.Context, limit int) (*FleetSummary, error) {
	if limit <= 0 {
		limit = DefaultConcurrencyLimit
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "fleet", "collect_all")
	defer span.End()

	started := time.Now()
	accounts, err := f.directory.ListAccounts(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	telemetry.SetAttributes(span, "accounts", len(accounts), "limit", limit)

	summary := &FleetSummary{
		TotalAccounts:       len(accounts),
		TotalRecordsByTable: make(map[string]int),
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(int64(limit))

	for _, account := range accounts {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			summary.Cancelled = true
			break
		}

		wg.Add(1)
		go func(account integration.Account) {
			defer wg.Done()
			defer sem.Release(1)

			var outcome accountOutcome
			telemetry.WithProfilingLabels(ctx, map[string]string{telemetry.ProfilingLabelOperation: "fleet_collect"}, func(ctx context.Context) {
				outcome = f.collectAccount(ctx, account)
			})

			mu.Lock()
			defer mu.Unlock()
			summary.merge(outcome)
		}(account)
	}
	wg.Wait()

	summary.Duration = time.Since(started)
	sort.Strings(summary.Errors)
	failed := summary.TotalAccounts - summary.SuccessfulAccounts
	f.metrics.RecordFleetRun(ctx, summary.Duration, summary.TotalAccounts, failed)

	f.logger.Info("fleet collection finished",
		zap.Int("accounts", summary.TotalAccounts),
		zap.Int("successful", summary.SuccessfulAccounts),
		zap.Int("persisted", summary.PersistedRecords),
		zap.Int("skipped_rows", summary.SkippedRows),
		zap.Int("errors", len(summary.Errors)),
		zap.Bool("cancelled", summary.Cancelled),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

type accountOutcome struct {
	ok         bool
	collection *AccountCollection
	persisted  int
	keptLocal  int
	err        error
}

func (s *FleetSummary) merge(o accountOutcome) {
	if o.collection != nil {
		for _, t := range o.collection.Tables {
			s.TotalRecordsByTable[t.Table] += len(t.Records)
		}
		s.SkippedRows += o.collection.SkippedRows()
		s.Warnings = append(s.Warnings, o.collection.Warnings...)
	}
	s.PersistedRecords += o.persisted
	s.KeptLocalEdits += o.keptLocal
	if o.ok {
		s.SuccessfulAccounts++
		if o.collection != nil {
			s.Errors = append(s.Errors, o.collection.Errors...)
		}
		return
	}
	if o.err != nil {
		s.Errors = append(s.Errors, o.err.Error())
	}
}

func (f *FleetCollector) collectAccount(ctx context.Context, account integration.Account) (out accountOutcome) {
	log := f.logger.With(zap.Int64("account_id", account.ID), zap.String("user_id", account.UserID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("account collection panicked", zap.Any("panic", r))
			f.metrics.RecordAccountFailure(ctx, "panic")
			out = accountOutcome{err: fmt.Errorf("account %d: panic: %v", account.ID, r)}
		}
	}()

	if f.accountTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.accountTimeout)
		defer cancel()
	}

	collection, collectErr := f.collectFn(ctx, account)
	if collectErr != nil && !errors.Is(collectErr, context.Canceled) {
		log.Error("account collection failed", zap.Error(collectErr))
	}

	storeCtx := ctx
	if collectErr != nil {
		// tables read before the failure are still stored and committed
		storeCtx = context.WithoutCancel(ctx)
	}
	persisted, kept, storeErr := f.store(storeCtx, collection)
	out = accountOutcome{collection: collection, persisted: persisted, keptLocal: kept}

	switch {
	case collectErr != nil:
		if storeErr != nil {
			log.Error("persisting partial collection failed", zap.Error(storeErr))
		}
		f.metrics.RecordAccountFailure(ctx, failureReason(collectErr))
		out.err = collectErr
	case storeErr != nil:
		log.Error("persisting collected records failed", zap.Error(storeErr))
		f.metrics.RecordAccountFailure(ctx, "persist")
		out.err = fmt.Errorf("account %d: persist records: %w", account.ID, storeErr)
	default:
		out.ok = true
	}
	return out
}

// store persists each finished table and then commits its cursor, so a
// cursor never passes rows that are not stored locally. It stops at the
// first failure; later tables keep their old cursor and are re-read.
func (f *FleetCollector) store(ctx context.Context, collection *AccountCollection) (int, int, error) {
	if collection == nil {
		return 0, 0, nil
	}
	persisted, kept := 0, 0
	for _, tc := range collection.Tables {
		if tc.Err != nil {
			continue
		}
		n, k, err := f.persist(ctx, tc.Records)
		if err != nil {
			return persisted, kept, fmt.Errorf("%s: %w", tc.Table, err)
		}
		persisted += n
		kept += k
		if err := f.collector.Commit(ctx, tc); err != nil {
			return persisted, kept, fmt.Errorf("%s: %w", tc.Table, err)
		}
	}
	return persisted, kept, nil
}

// persist upserts collected records by id. A local copy carrying an unsynced
// edit newer than the external version is kept.
func (f *FleetCollector) persist(ctx context.Context, collected []integration.Record) (int, int, error) {
	if len(collected) == 0 {
		return 0, 0, nil
	}
	collectedAt := f.now()

	batch := make([]integration.Record, 0, len(collected))
	seen := make(map[string]int, len(collected))
	kept := 0
	for _, ext := range collected {
		existing, err := f.records.FindByID(ctx, ext.EntityType, ext.AccountID, ext.ID)
		if err != nil && !errors.Is(err, integration.ErrRecordNotFound) {
			return 0, 0, err
		}
		if existing != nil && keepsLocalEdit(existing, ext) {
			kept++
			continue
		}

		rec := ext.Clone()
		at := collectedAt
		if ext.ExternalUpdatedAt != nil {
			at = *ext.ExternalUpdatedAt
		}
		rec.LocalUpdatedAt = at
		rec.ExternalUpdatedAt = &at

		key := string(rec.EntityType) + "\x00" + rec.ID
		if i, dup := seen[key]; dup {
			batch[i] = rec
			continue
		}
		seen[key] = len(batch)
		batch = append(batch, rec)
	}

	if err := f.records.SaveBatch(ctx, batch); err != nil {
		return 0, 0, err
	}
	return len(batch), kept, nil
}

// keepsLocalEdit reports whether the local copy has an edit the document has
// not seen that is newer than the collected version.
func keepsLocalEdit(local *integration.Record, ext integration.Record) bool {
	if !local.HasUnsyncedLocalEdit() {
		return false
	}
	if ext.ExternalUpdatedAt == nil {
		return true
	}
	return local.LocalUpdatedAt.After(*ext.ExternalUpdatedAt)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, integration.ErrDocumentNotFound):
		return "not_found"
	case errors.Is(err, integration.ErrDocumentPermission):
		return "permission"
	case errors.Is(err, integration.ErrDocumentRateLimited):
		return "rate_limited"
	case errors.Is(err, integration.ErrDocumentUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
