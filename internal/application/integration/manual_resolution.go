package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/sellersync/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ApplyManualResolution applies an operator decision to a held conflict.
// The write goes through the same path an automatic resolution uses, under
// the (user, entity) lock, and the item is closed only when it succeeds.
// keep_external and merge are refused with ErrPendingConflictStale when the
// local record was edited after the conflict was held.
func (s *SyncService) ApplyManualResolution(ctx context.Context, id uuid.UUID, action integration.ResolutionAction) (*integration.PendingConflict, error) {
	if action != integration.ResolutionKeepLocal &&
		action != integration.ResolutionKeepExternal &&
		action != integration.ResolutionMerge {
		return nil, fmt.Errorf("%w: %q", integration.ErrInvalidResolutionAction, action)
	}

	item, err := s.deps.Pending.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status == integration.PendingConflictResolved {
		return nil, integration.ErrPendingConflictResolved
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "sync", "resolve_pending",
		telemetry.WithAttribute(telemetry.SpanAttrUserID, item.UserID),
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, string(item.EntityType)),
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, item.AccountID),
	)
	defer span.End()

	log := s.logger.With(
		zap.String("pending_id", id.String()),
		zap.String("user_id", item.UserID),
		zap.String("entity_type", string(item.EntityType)),
		zap.Int64("account_id", item.AccountID),
		zap.String("record_id", item.RecordID),
	)

	schema, ok := integration.SchemaFor(item.EntityType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", integration.ErrInvalidEntityType, item.EntityType)
	}

	release, err := s.acquireLocks(ctx, item.UserID, []integration.EntityType{item.EntityType})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer release()

	account, err := s.findAccount(ctx, item.UserID, item.AccountID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	doc, err := s.deps.Documents.Open(ctx, account.DocumentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("open document of account %d: %w", account.ID, err)
	}

	conflict := item.Conflict()
	current, err := s.deps.Records.FindByID(ctx, item.EntityType, item.AccountID, item.RecordID)
	if err != nil && !errors.Is(err, integration.ErrRecordNotFound) {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if current != nil && current.LocalUpdatedAt.After(conflict.Local.LocalUpdatedAt) {
		// keep_local writes the stored version; the next pass re-holds the rest
		if action != integration.ResolutionKeepLocal {
			log.Warn("local record changed after conflict was held",
				zap.String("action", string(action)),
				zap.Time("held_local_updated_at", conflict.Local.LocalUpdatedAt),
				zap.Time("local_updated_at", current.LocalUpdatedAt),
			)
			return nil, fmt.Errorf("%w: %s", integration.ErrPendingConflictStale, item.RecordID)
		}
		conflict.Local = *current
	}

	// The row may have moved since the conflict was held.
	row, err := locateRow(ctx, doc, schema, item.RecordID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	conflict.External.RowNumber = row

	res := integration.Resolution{Action: action}
	if action == integration.ResolutionMerge {
		res.Merged, err = s.deps.Configs.Snapshot().Merger().Merge(conflict.Local.Payload, conflict.External.Payload)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	if err := s.applyResolution(ctx, doc, schema, conflict, res, s.now()); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("apply %s to %s: %w", action, item.RecordID, err)
	}

	if err := item.MarkResolved(action); err != nil {
		return nil, err
	}
	if err := s.deps.Pending.Save(ctx, item); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.metrics.RecordConflicts(ctx, string(integration.ConflictPolicyManual), string(action), 1)
	log.Info("pending conflict resolved", zap.String("action", string(action)))
	return item, nil
}

func (s *SyncService) findAccount(ctx context.Context, userID string, accountID int64) (integration.Account, error) {
	accounts, err := s.deps.Directory.AccountsForUser(ctx, userID)
	if err != nil {
		return integration.Account{}, err
	}
	for _, a := range accounts {
		if a.ID == accountID {
			return a, nil
		}
	}
	return integration.Account{}, fmt.Errorf("%w: account %d of %s", integration.ErrNoAccounts, accountID, userID)
}

// locateRow returns the data row holding id, or 0 when the row is gone
func locateRow(ctx context.Context, doc integration.Document, schema integration.TableSchema, id string) (int, error) {
	rows, err := doc.Read(ctx, schema.Table, integration.From(1))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", schema.Table, err)
	}
	for i, row := range rows {
		if len(row) > 0 && row[0] == id {
			return i + 1, nil
		}
	}
	return 0, nil
}
