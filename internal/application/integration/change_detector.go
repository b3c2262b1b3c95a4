package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/sellersync/backend/internal/domain/integration"
)

// ChangeSet is what changed locally since the watermark
type ChangeSet struct {
	EntityType integration.EntityType
	Since      time.Time
	Records    []integration.Record
}

// ChangeDetector finds local records modified after the last successful sync
type ChangeDetector struct {
	records   integration.RecordRepository
	activity  integration.ActivityLogRepository
	directory integration.AccountDirectory
}

// NewChangeDetector creates a change detector
func NewChangeDetector(
	records integration.RecordRepository,
	activity integration.ActivityLogRepository,
	directory integration.AccountDirectory,
) *ChangeDetector {
	return &ChangeDetector{records: records, activity: activity, directory: directory}
}

// Watermark returns the start time of the last successful pass covering the
// entity type. Bidirectional passes use the older of the export and import
// watermarks so neither side's changes are missed. Without history it is the
// zero time, so everything counts as new.
func (d *ChangeDetector) Watermark(ctx context.Context, userID string, entityType integration.EntityType, direction integration.Direction) (time.Time, error) {
	if direction != integration.DirectionBidirectional {
		return d.lastSuccess(ctx, userID, entityType, integration.WatermarkActions(direction))
	}

	exported, err := d.lastSuccess(ctx, userID, entityType, integration.WatermarkActions(integration.DirectionExport))
	if err != nil {
		return time.Time{}, err
	}
	imported, err := d.lastSuccess(ctx, userID, entityType, integration.WatermarkActions(integration.DirectionImport))
	if err != nil {
		return time.Time{}, err
	}
	if imported.Before(exported) {
		return imported, nil
	}
	return exported, nil
}

func (d *ChangeDetector) lastSuccess(ctx context.Context, userID string, entityType integration.EntityType, actions []integration.SyncAction) (time.Time, error) {
	entry, err := d.activity.LastSuccessful(ctx, userID, entityType, actions...)
	if err != nil {
		return time.Time{}, fmt.Errorf("load watermark: %w", err)
	}
	if entry == nil {
		return time.Time{}, nil
	}
	return entry.StartedAt, nil
}

// DetectChanges returns the user's local records of entityType with
// local_updated_at after the most recent successful export, import or full
// sync, together with that watermark.
func (d *ChangeDetector) DetectChanges(ctx context.Context, userID string, entityType integration.EntityType) ([]integration.Record, time.Time, error) {
	if !entityType.IsValid() {
		return nil, time.Time{}, fmt.Errorf("%w: %q", integration.ErrInvalidEntityType, entityType)
	}
	since, err := d.lastSuccess(ctx, userID, entityType, integration.WatermarkActions(""))
	if err != nil {
		return nil, time.Time{}, err
	}
	records, err := d.modifiedSince(ctx, userID, entityType, since)
	if err != nil {
		return nil, time.Time{}, err
	}
	return records, since, nil
}

// Detect returns the changes against the watermark of one direction
func (d *ChangeDetector) Detect(ctx context.Context, userID string, entityType integration.EntityType, direction integration.Direction) (*ChangeSet, error) {
	if !entityType.IsValid() {
		return nil, fmt.Errorf("%w: %q", integration.ErrInvalidEntityType, entityType)
	}
	since, err := d.Watermark(ctx, userID, entityType, direction)
	if err != nil {
		return nil, err
	}
	records, err := d.modifiedSince(ctx, userID, entityType, since)
	if err != nil {
		return nil, err
	}
	return &ChangeSet{EntityType: entityType, Since: since, Records: records}, nil
}

func (d *ChangeDetector) modifiedSince(ctx context.Context, userID string, entityType integration.EntityType, since time.Time) ([]integration.Record, error) {
	accounts, err := d.directory.AccountsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}

	records, err := d.records.FindModifiedSince(ctx, entityType, ids, since)
	if err != nil {
		return nil, fmt.Errorf("find modified records: %w", err)
	}
	return records, nil
}
