package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/sellersync/backend/internal/infrastructure/logger"
	"github.com/sellersync/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// SyncRequest describes one sync invocation
type SyncRequest struct {
	UserID    string
	Direction integration.Direction
	DryRun    bool
	// Entities narrows the configured entity types for this call only
	Entities []integration.EntityType
}

// SyncDependencies are the collaborators of SyncService
type SyncDependencies struct {
	Configs   *SyncConfigStore
	Directory integration.AccountDirectory
	Documents integration.DocumentProvider
	Records   integration.RecordRepository
	Activity  integration.ActivityLogRepository
	Pending   integration.PendingConflictRepository
	Locker    integration.SyncLocker
	// Backups may be nil when snapshots are disabled
	Backups integration.BackupStore
}

// SyncService is the sync orchestrator. One pass per (user, entity type)
// runs at a time; the per-key lock is held for the whole pass.
type SyncService struct {
	deps      SyncDependencies
	detector  *ChangeDetector
	logger    *zap.Logger
	metrics   MetricsRecorder
	lockTTL   time.Duration
	lockWait  time.Duration
	lockRetry time.Duration
	now       func() time.Time
}

// SyncServiceOption configures a SyncService
type SyncServiceOption func(*SyncService)

// WithLockTiming sets how long locks live, how long a pass waits for them
// and how often it retries
func WithLockTiming(ttl, wait, retry time.Duration) SyncServiceOption {
	return func(s *SyncService) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
		if wait >= 0 {
			s.lockWait = wait
		}
		if retry > 0 {
			s.lockRetry = retry
		}
	}
}

// WithSyncMetrics sets the metrics recorder
func WithSyncMetrics(m MetricsRecorder) SyncServiceOption {
	return func(s *SyncService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the clock used for watermarks and timestamps
func WithClock(now func() time.Time) SyncServiceOption {
	return func(s *SyncService) {
		s.now = now
	}
}

// NewSyncService creates the orchestrator
func NewSyncService(deps SyncDependencies, logger *zap.Logger, opts ...SyncServiceOption) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SyncService{
		deps:      deps,
		detector:  NewChangeDetector(deps.Records, deps.Activity, deps.Directory),
		logger:    logger,
		metrics:   noopMetrics{},
		lockTTL:   10 * time.Minute,
		lockWait:  30 * time.Second,
		lockRetry: 200 * time.Millisecond,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detector returns the change detector the service uses
func (s *SyncService) Detector() *ChangeDetector {
	return s.detector
}

// Sync runs one pass over the configured entity types
func (s *SyncService) Sync(ctx context.Context, userID string, direction integration.Direction, dryRun bool) (*SyncResult, error) {
	return s.Run(ctx, SyncRequest{UserID: userID, Direction: direction, DryRun: dryRun})
}

// syncPass is the state shared by every entity of one invocation
type syncPass struct {
	req         SyncRequest
	cfg         integration.SyncConfig
	dryRun      bool
	startedAt   time.Time
	accounts    []integration.Account
	documents   map[int64]integration.Document
	unavailable int
}

// Run executes a sync request. The returned result is never nil. A non-nil
// error means the pass was fatal: a configuration error, no accounts, or
// the single-flight lock could not be taken. Every call appends exactly one
// activity log entry.
func (s *SyncService) Run(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	started := time.Now()
	cfg := s.deps.Configs.Snapshot()
	pass := &syncPass{
		req:       req,
		cfg:       cfg,
		dryRun:    req.DryRun || cfg.DryRun,
		startedAt: s.now(),
	}
	result := &SyncResult{
		RunID:     uuid.NewString(),
		UserID:    req.UserID,
		Direction: req.Direction,
		DryRun:    pass.dryRun,
		Policy:    cfg.ConflictResolution,
		StartedAt: pass.startedAt,
	}

	ctx, log := logger.WithSyncRun(ctx, s.logger, result.RunID)
	log = log.With(
		zap.String("user_id", req.UserID),
		zap.String("direction", string(req.Direction)),
		zap.Bool("dry_run", pass.dryRun),
	)
	ctx, span := telemetry.StartServiceSpan(ctx, "sync", string(req.Direction.Action()),
		telemetry.WithAttribute(telemetry.SpanAttrUserID, req.UserID),
		telemetry.WithAttribute(telemetry.SpanAttrDryRun, pass.dryRun),
	)
	defer span.End()

	entities := selectEntities(cfg.Entities, req.Entities)
	err := s.run(ctx, log, pass, result, entities)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.finish(err != nil, s.now())

	s.appendActivity(ctx, log, result, entities)
	s.metrics.RecordSyncPass(ctx, string(req.Direction), string(result.Status), time.Since(started))

	if err != nil {
		telemetry.RecordError(span, err)
		log.Error("sync pass failed", zap.Error(err))
		return result, err
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrSyncStatus, string(result.Status),
		"new_from_local", result.NewFromLocal,
		"new_from_external", result.NewFromExternal,
		"conflicts_resolved", result.ConflictsResolved,
	)
	log.Info("sync pass finished",
		zap.String("status", string(result.Status)),
		zap.Int("new_from_local", result.NewFromLocal),
		zap.Int("new_from_external", result.NewFromExternal),
		zap.Int("conflicts_resolved", result.ConflictsResolved),
		zap.Int("conflicts_held", result.ConflictsHeld),
		zap.Int("deferred", result.Deferred),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (s *SyncService) run(ctx context.Context, log *zap.Logger, pass *syncPass, result *SyncResult, entities []integration.EntityType) error {
	if !pass.req.Direction.IsValid() {
		return fmt.Errorf("%w: %q", integration.ErrInvalidDirection, pass.req.Direction)
	}
	if !pass.cfg.Enabled {
		return integration.ErrSyncDisabled
	}
	if !pass.cfg.ConflictResolution.IsValid() {
		return fmt.Errorf("%w: %q", integration.ErrUnknownConflictPolicy, pass.cfg.ConflictResolution)
	}
	if !pass.cfg.MergeStrategy.IsValid() {
		return fmt.Errorf("%w: %q", integration.ErrUnknownMergeStrategy, pass.cfg.MergeStrategy)
	}

	accounts, err := s.deps.Directory.AccountsForUser(ctx, pass.req.UserID)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return fmt.Errorf("%w: %s", integration.ErrNoAccounts, pass.req.UserID)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	pass.accounts = accounts

	release, err := s.acquireLocks(ctx, pass.req.UserID, entities)
	if err != nil {
		return err
	}
	defer release()

	pass.documents = make(map[int64]integration.Document, len(accounts))
	for _, account := range accounts {
		doc, err := s.deps.Documents.Open(ctx, account.DocumentID)
		if err != nil {
			pass.unavailable++
			result.Errors = append(result.Errors, fmt.Sprintf("account %d: open document: %v", account.ID, err))
			log.Error("document unavailable", zap.Int64("account_id", account.ID), zap.Error(err))
			continue
		}
		pass.documents[account.ID] = doc
	}

	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("sync interrupted before %s: %v", entity, err))
			break
		}
		var er *EntitySyncResult
		labels := telemetry.SyncLabels("sync", string(entity), string(pass.req.Direction))
		telemetry.WithProfilingLabels(ctx, labels, func(ctx context.Context) {
			er = s.syncEntity(ctx, log.With(zap.String("entity_type", string(entity))), pass, entity)
		})
		result.Entities = append(result.Entities, *er)
	}
	return nil
}

// accountWork is the classified and resolved state of one account
type accountWork struct {
	account   integration.Account
	doc       integration.Document
	cls       integration.Classification
	decisions []decision
}

type decision struct {
	conflict   integration.ConflictRecord
	resolution integration.Resolution
	inSync     bool
}

func (s *SyncService) syncEntity(ctx context.Context, log *zap.Logger, pass *syncPass, entity integration.EntityType) *EntitySyncResult {
	er := newEntitySyncResult(entity)
	defer er.settle(pass.unavailable)

	schema, ok := integration.SchemaFor(entity)
	if !ok {
		er.fail("%v: %q", integration.ErrInvalidEntityType, entity)
		return er
	}

	er.enter(SyncStateBackingUp)
	locals := make(map[int64][]integration.Record, len(pass.accounts))
	var snapshot []integration.Record
	for _, account := range pass.accounts {
		recs, err := s.deps.Records.FindByAccount(ctx, entity, account.ID)
		if err != nil {
			er.fail("load local records: %v", err)
			return er
		}
		locals[account.ID] = recs
		snapshot = append(snapshot, recs...)
	}
	if pass.cfg.BackupBeforeSync && !pass.dryRun && s.deps.Backups != nil {
		location, err := s.deps.Backups.Put(ctx, &integration.BackupSnapshot{
			ID:         uuid.NewString(),
			UserID:     pass.req.UserID,
			EntityType: entity,
			TakenAt:    pass.startedAt,
			Records:    snapshot,
		})
		if err != nil {
			er.fail("backup before sync: %v", err)
			log.Error("backup failed, skipping entity", zap.Error(err))
			return er
		}
		er.BackupLocation = location
	}

	er.enter(SyncStateDetectingChanges)
	changes, err := s.detector.Detect(ctx, pass.req.UserID, entity, pass.req.Direction)
	if err != nil {
		er.fail("detect changes: %v", err)
		return er
	}
	er.Since = changes.Since
	er.LocalChanges = len(changes.Records)

	var work []*accountWork
	externals := make(map[int64][]integration.Record)
	for _, account := range pass.accounts {
		doc, ok := pass.documents[account.ID]
		if !ok {
			continue
		}
		recs, err := s.readExternal(ctx, doc, account.ID, schema, er)
		if err != nil {
			if errors.Is(err, integration.ErrTableNotFound) {
				er.Warnings = append(er.Warnings, fmt.Sprintf("account %d: table %s not found, skipped", account.ID, schema.Table))
				log.Warn("table not found", zap.Int64("account_id", account.ID), zap.String("table", schema.Table))
				continue
			}
			er.accountsFailed++
			er.fail("account %d: read %s: %v", account.ID, schema.Table, err)
			continue
		}
		externals[account.ID] = recs
		work = append(work, &accountWork{account: account, doc: doc})
	}

	er.enter(SyncStateClassifying)
	for _, w := range work {
		w.cls = integration.Classify(locals[w.account.ID], externals[w.account.ID], changes.Since)
		for _, row := range w.cls.DuplicateExternalRows {
			er.Warnings = append(er.Warnings, fmt.Sprintf("account %d: %s row %d repeats an earlier id, ignored", w.account.ID, schema.Table, row))
		}
	}

	er.enter(SyncStateResolvingConflicts)
	merger := pass.cfg.Merger()
	for _, w := range work {
		for _, c := range w.cls.Conflicts {
			if schema.PayloadEqual(c.Local.Payload, c.External.Payload) {
				w.decisions = append(w.decisions, decision{conflict: c, inSync: true})
				continue
			}
			res, err := integration.Resolve(c, pass.cfg.ConflictResolution, merger)
			if err != nil {
				er.fail("account %d: resolve %s: %v", w.account.ID, c.RecordID, err)
				continue
			}
			w.decisions = append(w.decisions, decision{conflict: c, resolution: res})
		}
	}

	er.enter(SyncStateApplyingWrites)
	for _, w := range work {
		before := len(er.Errors)
		s.applyAccount(ctx, log, pass, schema, w, er)
		if len(er.Errors) == before {
			er.accountsOK++
		} else {
			er.accountsFailed++
		}
	}

	for action, n := range er.Resolutions {
		s.metrics.RecordConflicts(ctx, string(pass.cfg.ConflictResolution), string(action), n)
	}
	if pass.req.Direction.Exports() {
		s.metrics.RecordRecordsSynced(ctx, string(entity), string(integration.DirectionExport), er.NewFromLocal)
	}
	if pass.req.Direction.Imports() {
		s.metrics.RecordRecordsSynced(ctx, string(entity), string(integration.DirectionImport), er.NewFromExternal)
	}
	return er
}

// readExternal reads and parses the whole table. Short rows are skipped.
func (s *SyncService) readExternal(
	ctx context.Context,
	doc integration.Document,
	accountID int64,
	schema integration.TableSchema,
	er *EntitySyncResult,
) ([]integration.Record, error) {
	rows, err := doc.Read(ctx, schema.Table, integration.From(1))
	if err != nil {
		return nil, err
	}
	recs := make([]integration.Record, 0, len(rows))
	for i, row := range rows {
		rec, warnings, err := schema.ParseRow(accountID, i+1, row)
		if err != nil {
			er.SkippedRows++
			er.Warnings = append(er.Warnings, fmt.Sprintf("account %d: %v", accountID, err))
			continue
		}
		for _, w := range warnings {
			er.Warnings = append(er.Warnings, fmt.Sprintf("account %d: %s", accountID, w))
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// applyAccount performs the writes of one account. In a dry run nothing is
// written but every counter is filled as if it had been.
func (s *SyncService) applyAccount(
	ctx context.Context,
	log *zap.Logger,
	pass *syncPass,
	schema integration.TableSchema,
	w *accountWork,
	er *EntitySyncResult,
) {
	dir := pass.req.Direction
	log = log.With(zap.Int64("account_id", w.account.ID))

	if len(w.cls.LocalOnlyNew) > 0 {
		if !dir.Exports() {
			er.Deferred += len(w.cls.LocalOnlyNew)
		} else if err := s.exportNew(ctx, pass.dryRun, w.doc, schema, w.cls.LocalOnlyNew); err != nil {
			er.fail("account %d: export new records: %v", w.account.ID, err)
		} else {
			er.NewFromLocal += len(w.cls.LocalOnlyNew)
		}
	}

	if len(w.cls.ExternalOnlyNew) > 0 {
		if !dir.Imports() {
			er.Deferred += len(w.cls.ExternalOnlyNew)
		} else if err := s.importNew(ctx, pass, w.cls.ExternalOnlyNew); err != nil {
			er.fail("account %d: import new records: %v", w.account.ID, err)
		} else {
			er.NewFromExternal += len(w.cls.ExternalOnlyNew)
		}
	}

	for _, d := range w.decisions {
		c := d.conflict
		if d.inSync {
			er.InSync++
			if !pass.dryRun && c.Local.HasUnsyncedLocalEdit() {
				if err := s.deps.Records.MarkSynced(ctx, c.Local.EntityType, c.Local.AccountID, c.Local.ID, c.Local.LocalUpdatedAt); err != nil {
					er.fail("account %d: mark %s synced: %v", w.account.ID, c.RecordID, err)
				}
			}
			continue
		}

		action := d.resolution.Action
		switch {
		case action == integration.ResolutionHold:
			if !pass.dryRun {
				if err := s.deps.Pending.Hold(ctx, integration.NewPendingConflict(pass.req.UserID, c)); err != nil {
					er.fail("account %d: hold %s for review: %v", w.account.ID, c.RecordID, err)
					continue
				}
			}
			er.ConflictsHeld++
			er.Resolutions[action]++
			log.Info("conflict held for manual review", zap.String("record_id", c.RecordID))
			continue
		case action == integration.ResolutionKeepLocal && !dir.Exports(),
			action == integration.ResolutionKeepExternal && !dir.Imports():
			er.Deferred++
			continue
		}

		if !pass.dryRun {
			if err := s.applyResolution(ctx, w.doc, schema, c, d.resolution, pass.startedAt); err != nil {
				er.fail("account %d: apply %s to %s: %v", w.account.ID, action, c.RecordID, err)
				continue
			}
		}
		er.ConflictsResolved++
		er.Resolutions[action]++
	}
}

func (s *SyncService) exportNew(ctx context.Context, dryRun bool, doc integration.Document, schema integration.TableSchema, recs []integration.Record) error {
	if dryRun {
		return nil
	}
	rows := make([][]string, len(recs))
	for i, r := range recs {
		rows[i] = schema.FormatRow(r)
	}
	if err := doc.Append(ctx, schema.Table, rows); err != nil {
		return err
	}
	for _, r := range recs {
		if err := s.deps.Records.MarkSynced(ctx, r.EntityType, r.AccountID, r.ID, r.LocalUpdatedAt); err != nil {
			return fmt.Errorf("mark %s synced: %w", r.ID, err)
		}
	}
	return nil
}

func (s *SyncService) importNew(ctx context.Context, pass *syncPass, recs []integration.Record) error {
	if pass.dryRun {
		return nil
	}
	batch := make([]integration.Record, len(recs))
	for i, ext := range recs {
		batch[i] = importedCopy(ext, pass.startedAt)
	}
	return s.deps.Records.SaveBatch(ctx, batch)
}

// applyResolution writes one decided conflict. keep_local overwrites the
// external row, keep_external overwrites the local record, merge writes the
// merged payload to both sides.
func (s *SyncService) applyResolution(
	ctx context.Context,
	doc integration.Document,
	schema integration.TableSchema,
	c integration.ConflictRecord,
	res integration.Resolution,
	startedAt time.Time,
) error {
	switch res.Action {
	case integration.ResolutionKeepLocal:
		if err := writeExternalRow(ctx, doc, schema, c.Local, c.External.RowNumber); err != nil {
			return err
		}
		return s.deps.Records.MarkSynced(ctx, c.Local.EntityType, c.Local.AccountID, c.Local.ID, c.Local.LocalUpdatedAt)

	case integration.ResolutionKeepExternal:
		rec := importedCopy(c.External, startedAt)
		return s.deps.Records.Save(ctx, &rec)

	case integration.ResolutionMerge:
		mergedAt := c.Local.LocalUpdatedAt
		if c.External.ExternalUpdatedAt != nil && c.External.ExternalUpdatedAt.After(mergedAt) {
			mergedAt = *c.External.ExternalUpdatedAt
		}
		rec := c.Local.Clone()
		rec.Payload = res.Merged
		rec.LocalUpdatedAt = mergedAt
		rec.ExternalUpdatedAt = &mergedAt
		if err := writeExternalRow(ctx, doc, schema, rec, c.External.RowNumber); err != nil {
			return err
		}
		return s.deps.Records.Save(ctx, &rec)

	default:
		return fmt.Errorf("%w: %q", integration.ErrInvalidResolutionAction, res.Action)
	}
}

// importedCopy builds the local version of an external record. Both
// timestamps carry the external modification time so the record does not
// look locally modified to the next pass.
func importedCopy(ext integration.Record, fallback time.Time) integration.Record {
	rec := ext.Clone()
	at := fallback
	if ext.ExternalUpdatedAt != nil {
		at = *ext.ExternalUpdatedAt
	}
	rec.LocalUpdatedAt = at
	rec.ExternalUpdatedAt = &at
	return rec
}

func writeExternalRow(ctx context.Context, doc integration.Document, schema integration.TableSchema, rec integration.Record, row int) error {
	cells := [][]string{schema.FormatRow(rec)}
	if row > 0 {
		return doc.Update(ctx, schema.Table, integration.Single(row), cells)
	}
	return doc.Append(ctx, schema.Table, cells)
}

// acquireLocks takes the (user, entity) locks in sorted order so two passes
// over overlapping entity sets cannot deadlock.
func (s *SyncService) acquireLocks(ctx context.Context, userID string, entities []integration.EntityType) (func(), error) {
	type held struct{ key, token string }
	var locks []held

	release := func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for _, l := range locks {
			if err := s.deps.Locker.Unlock(unlockCtx, l.key, l.token); err != nil {
				s.logger.Warn("failed to release sync lock", zap.String("key", l.key), zap.Error(err))
			}
		}
	}

	for _, entity := range integration.SortEntityTypes(entities) {
		key := integration.SyncLockKey(userID, entity)
		token, err := s.lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		locks = append(locks, held{key: key, token: token})
	}
	return release, nil
}

// lock retries until the key is free or the wait runs out
func (s *SyncService) lock(ctx context.Context, key string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	for {
		token, ok, err := s.deps.Locker.TryLock(waitCtx, key, s.lockTTL)
		if ok {
			return token, nil
		}
		if err != nil && waitCtx.Err() == nil {
			return "", fmt.Errorf("acquire sync lock %s: %w", key, err)
		}
		select {
		case <-waitCtx.Done():
			return "", fmt.Errorf("%w: %s", integration.ErrSyncInProgress, key)
		case <-time.After(s.lockRetry):
		}
	}
}

func (s *SyncService) appendActivity(ctx context.Context, log *zap.Logger, result *SyncResult, entities []integration.EntityType) {
	for i := range result.Entities {
		result.Entities[i].enter(SyncStateLogging)
	}

	entry := integration.NewActivityLogEntry(result.UserID, result.Direction.Action(), entities, result.StartedAt)
	entry.Success = result.Status == SyncStatusCompleted
	entry.DryRun = result.DryRun
	entry.Counts = result.Counts()
	if len(result.Errors) > 0 {
		msg := strings.Join(result.Errors, "; ")
		entry.Error = &msg
	}

	// The entry must be written even when the caller's context is done.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.deps.Activity.Append(writeCtx, entry); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("activity log append failed: %v", err))
		log.Error("failed to append activity log entry", zap.Error(err))
		return
	}
	result.ActivityLogID = entry.ID
}

// selectEntities returns the configured entity types in table order,
// narrowed to requested when it is not empty
func selectEntities(configured, requested []integration.EntityType) []integration.EntityType {
	allowed := make(map[integration.EntityType]bool, len(configured))
	for _, e := range configured {
		allowed[e] = true
	}
	if len(requested) > 0 {
		narrowed := make(map[integration.EntityType]bool, len(requested))
		for _, e := range requested {
			if allowed[e] {
				narrowed[e] = true
			}
		}
		allowed = narrowed
	}

	var out []integration.EntityType
	for _, e := range integration.AllEntityTypes() {
		if allowed[e] {
			out = append(out, e)
		}
	}
	return out
}
