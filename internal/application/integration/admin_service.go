package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sellersync/backend/internal/domain/integration"
	"go.uber.org/zap"
)

// ErrAsyncUnavailable is returned when an async trigger is requested but no
// background runner is configured
var ErrAsyncUnavailable = errors.New("integration: background sync runner not configured")

// ErrInvalidRetention is returned by Prune for a non-positive day count
var ErrInvalidRetention = errors.New("integration: retention days must be positive")

// BackgroundSyncRunner runs sync requests outside the caller's goroutine
type BackgroundSyncRunner interface {
	Submit(req SyncRequest) (uuid.UUID, error)
	Active() []SyncJobView
}

// AdminService is the operator surface over the sync engine
type AdminService struct {
	sync      *SyncService
	configs   *SyncConfigStore
	directory integration.AccountDirectory
	records   integration.RecordRepository
	activity  integration.ActivityLogRepository
	pending   integration.PendingConflictRepository
	runner    BackgroundSyncRunner
	logger    *zap.Logger
	now       func() time.Time
}

// NewAdminService creates the admin service. runner may be nil, in which
// case async triggers fail with ErrAsyncUnavailable.
func NewAdminService(syncService *SyncService, runner BackgroundSyncRunner, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		sync:      syncService,
		configs:   syncService.deps.Configs,
		directory: syncService.deps.Directory,
		records:   syncService.deps.Records,
		activity:  syncService.deps.Activity,
		pending:   syncService.deps.Pending,
		runner:    runner,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// TriggerExport pushes local changes to the user's documents
func (s *AdminService) TriggerExport(ctx context.Context, req TriggerSyncRequest) (*TriggerSyncResponse, error) {
	return s.trigger(ctx, integration.DirectionExport, req)
}

// TriggerImport pulls external changes into the local store
func (s *AdminService) TriggerImport(ctx context.Context, req TriggerSyncRequest) (*TriggerSyncResponse, error) {
	return s.trigger(ctx, integration.DirectionImport, req)
}

// TriggerFullSync runs a bidirectional pass
func (s *AdminService) TriggerFullSync(ctx context.Context, req TriggerSyncRequest) (*TriggerSyncResponse, error) {
	return s.trigger(ctx, integration.DirectionBidirectional, req)
}

func (s *AdminService) trigger(ctx context.Context, direction integration.Direction, req TriggerSyncRequest) (*TriggerSyncResponse, error) {
	syncReq := SyncRequest{
		UserID:    req.UserID,
		Direction: direction,
		DryRun:    req.DryRun,
		Entities:  req.Entities,
	}
	if req.Async {
		if s.runner == nil {
			return nil, ErrAsyncUnavailable
		}
		id, err := s.runner.Submit(syncReq)
		if err != nil {
			return nil, err
		}
		s.logger.Info("sync job submitted",
			zap.String("job_id", id.String()),
			zap.String("user_id", req.UserID),
			zap.String("direction", string(direction)),
		)
		return &TriggerSyncResponse{JobID: &id}, nil
	}

	result, err := s.sync.Run(ctx, syncReq)
	return &TriggerSyncResponse{Result: result}, err
}

// Status reports counters and the last successful sync per entity type
func (s *AdminService) Status(ctx context.Context, userID string) (*SyncStatusResponse, error) {
	cfg := s.configs.Snapshot()
	accounts, err := s.directory.AccountsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.records.CountByEntityType(ctx)
	if err != nil {
		return nil, err
	}

	resp := &SyncStatusResponse{
		UserID:   userID,
		Config:   cfg,
		Accounts: len(accounts),
	}
	for _, entity := range selectEntities(cfg.Entities, nil) {
		schema, _ := integration.SchemaFor(entity)
		status := EntityStatus{
			EntityType: entity,
			Table:      schema.Table,
			Records:    counts[entity],
		}
		last, err := s.activity.LastSuccessful(ctx, userID, entity)
		if err != nil {
			return nil, err
		}
		if last != nil {
			at := last.StartedAt
			status.LastSuccessfulSync = &at
			status.LastAction = last.Action
		}
		pending, _, err := s.sync.Detector().DetectChanges(ctx, userID, entity)
		if err != nil {
			return nil, err
		}
		status.PendingLocalEdits = len(pending)
		resp.Entities = append(resp.Entities, status)
	}

	open, err := s.pending.ListOpen(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp.OpenConflicts = len(open)

	if s.runner != nil {
		for _, job := range s.runner.Active() {
			if userID == "" || job.UserID == userID {
				resp.RunningJobs = append(resp.RunningJobs, job)
			}
		}
	}
	return resp, nil
}

// UpdateConfig applies a partial config update. Passes already running keep
// the configuration they started with.
func (s *AdminService) UpdateConfig(_ context.Context, req UpdateSyncConfigRequest) (integration.SyncConfig, error) {
	patch := integration.SyncConfigPatch{
		Enabled:                     req.Enabled,
		ExternalAuthoritativeFields: req.ExternalAuthoritativeFields,
		AutoSyncIntervalSeconds:     req.AutoSyncIntervalSeconds,
		BackupBeforeSync:            req.BackupBeforeSync,
		DryRun:                      req.DryRun,
	}
	if req.ConflictResolution != nil {
		p := integration.ConflictPolicy(*req.ConflictResolution)
		patch.ConflictResolution = &p
	}
	if req.MergeStrategy != nil {
		m := integration.FieldMergeStrategy(*req.MergeStrategy)
		patch.MergeStrategy = &m
	}
	if req.Entities != nil {
		patch.Entities = make([]integration.EntityType, 0, len(req.Entities))
		for _, raw := range req.Entities {
			e, err := integration.ParseEntityType(raw)
			if err != nil {
				return integration.SyncConfig{}, err
			}
			patch.Entities = append(patch.Entities, e)
		}
	}

	cfg, err := s.configs.Update(patch)
	if err != nil {
		return integration.SyncConfig{}, err
	}
	s.logger.Info("sync config updated",
		zap.Bool("enabled", cfg.Enabled),
		zap.String("conflict_resolution", string(cfg.ConflictResolution)),
		zap.String("merge_strategy", string(cfg.MergeStrategy)),
		zap.Int("auto_sync_interval_seconds", cfg.AutoSyncIntervalSeconds),
	)
	return cfg, nil
}

// History returns activity log entries, newest first unless a sort is given
func (s *AdminService) History(ctx context.Context, filter HistoryFilter) (*HistoryResponse, error) {
	f := integration.DefaultActivityLogFilter()
	f.UserID = filter.UserID
	f.OnlyFailed = filter.OnlyFailed
	f.SortBy = filter.SortBy
	f.SortOrder = filter.SortOrder
	if filter.Page > 0 {
		f.Page = filter.Page
	}
	if filter.PageSize > 0 {
		f.PageSize = filter.PageSize
	}
	if filter.EntityType != "" {
		e, err := integration.ParseEntityType(filter.EntityType)
		if err != nil {
			return nil, err
		}
		f.EntityType = e
	}
	if filter.Action != "" {
		f.Action = integration.SyncAction(filter.Action)
	}

	entries, total, err := s.activity.List(ctx, f)
	if err != nil {
		return nil, err
	}
	resp := &HistoryResponse{
		Entries:  make([]HistoryEntry, len(entries)),
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
	}
	for i, e := range entries {
		resp.Entries[i] = toHistoryEntry(e)
	}
	return resp, nil
}

// Prune deletes activity log entries older than days
func (s *AdminService) Prune(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRetention, days)
	}
	cutoff := s.now().AddDate(0, 0, -days)
	n, err := s.activity.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("activity log pruned", zap.Int("days", days), zap.Int64("deleted", n))
	return n, nil
}

// ListPendingConflicts returns the user's conflicts held for review
func (s *AdminService) ListPendingConflicts(ctx context.Context, userID string) ([]PendingConflictView, error) {
	items, err := s.pending.ListOpen(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]PendingConflictView, len(items))
	for i, item := range items {
		out[i] = toPendingConflictView(item)
	}
	return out, nil
}

// ResolvePendingConflict applies an operator decision to a held conflict
func (s *AdminService) ResolvePendingConflict(ctx context.Context, id uuid.UUID, action string) (*PendingConflictView, error) {
	item, err := s.sync.ApplyManualResolution(ctx, id, integration.ResolutionAction(action))
	if err != nil {
		return nil, err
	}
	view := toPendingConflictView(*item)
	return &view, nil
}
