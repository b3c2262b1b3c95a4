package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSyncTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(SyncModels()...))
	return db
}

var syncBase = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func TestSyncCursorRepository(t *testing.T) {
	repo := NewSyncCursorRepository(setupSyncTestDB(t))
	ctx := context.Background()

	t.Run("missing cursor is zero", func(t *testing.T) {
		c, err := repo.Get(ctx, 1, "Orders")
		require.NoError(t, err)
		assert.Equal(t, 0, c.LastPosition)
		assert.Equal(t, int64(1), c.AccountID)
	})

	t.Run("save then overwrite", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, integration.SyncCursor{AccountID: 1, LogicalTable: "Orders", LastPosition: 5}))
		require.NoError(t, repo.Save(ctx, integration.SyncCursor{AccountID: 1, LogicalTable: "Orders", LastPosition: 9}))
		require.NoError(t, repo.Save(ctx, integration.SyncCursor{AccountID: 1, LogicalTable: "Drafts", LastPosition: 2}))

		c, err := repo.Get(ctx, 1, "Orders")
		require.NoError(t, err)
		assert.Equal(t, 9, c.LastPosition)

		all, err := repo.ListByAccount(ctx, 1)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "Drafts", all[0].LogicalTable)
	})
}

func TestActivityLogRepository(t *testing.T) {
	repo := NewActivityLogRepository(setupSyncTestDB(t))
	ctx := context.Background()

	add := func(action integration.SyncAction, types string, success, dryRun bool, startedAt time.Time) {
		e := integration.ActivityLogEntry{
			UserID:     "u1",
			Action:     action,
			EntityType: types,
			Success:    success,
			DryRun:     dryRun,
			Counts:     map[string]int{integration.CountNewFromLocal: 1},
			StartedAt:  startedAt,
			CreatedAt:  startedAt.Add(time.Minute),
		}
		require.NoError(t, repo.Append(ctx, &e))
		assert.NotEqual(t, uuid.Nil, e.ID)
	}

	add(integration.SyncActionExport, "order", true, false, syncBase)
	add(integration.SyncActionFullSync, "draft,order", true, false, syncBase.Add(time.Hour))
	add(integration.SyncActionImport, "order", false, false, syncBase.Add(2*time.Hour))
	add(integration.SyncActionExport, "order", true, true, syncBase.Add(3*time.Hour))
	add(integration.SyncActionExport, "listing", true, false, syncBase.Add(4*time.Hour))

	t.Run("last successful skips failures and dry runs", func(t *testing.T) {
		last, err := repo.LastSuccessful(ctx, "u1", integration.EntityTypeOrder)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, integration.SyncActionFullSync, last.Action)
		assert.True(t, last.StartedAt.Equal(syncBase.Add(time.Hour)))
		assert.Equal(t, 1, last.Counts[integration.CountNewFromLocal])
	})

	t.Run("action filter", func(t *testing.T) {
		last, err := repo.LastSuccessful(ctx, "u1", integration.EntityTypeOrder, integration.SyncActionExport)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, last.StartedAt.Equal(syncBase))
	})

	t.Run("no history", func(t *testing.T) {
		last, err := repo.LastSuccessful(ctx, "u2", integration.EntityTypeOrder)
		require.NoError(t, err)
		assert.Nil(t, last)

		last, err = repo.LastSuccessful(ctx, "u1", integration.EntityTypeSupplier)
		require.NoError(t, err)
		assert.Nil(t, last)
	})

	t.Run("list with filter and paging", func(t *testing.T) {
		filter := integration.DefaultActivityLogFilter()
		filter.UserID = "u1"
		filter.EntityType = integration.EntityTypeOrder
		entries, total, err := repo.List(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		assert.Len(t, entries, 4)
		assert.True(t, entries[0].StartedAt.After(entries[1].StartedAt), "newest first")

		filter.OnlyFailed = true
		entries, total, err = repo.List(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, integration.SyncActionImport, entries[0].Action)

		entries, total, err = repo.List(ctx, integration.ActivityLogFilter{Page: 2, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		assert.Len(t, entries, 2)
	})

	t.Run("list sorted", func(t *testing.T) {
		filter := integration.DefaultActivityLogFilter()
		filter.SortBy = "started_at"
		filter.SortOrder = "asc"
		entries, _, err := repo.List(ctx, filter)
		require.NoError(t, err)
		require.Len(t, entries, 5)
		assert.True(t, entries[0].StartedAt.Equal(syncBase), "oldest first")

		filter.SortBy = "counts; DROP TABLE sync_activity_logs"
		filter.SortOrder = ""
		entries, _, err = repo.List(ctx, filter)
		require.NoError(t, err)
		require.Len(t, entries, 5)
		assert.Equal(t, "listing", entries[0].EntityType)
	})

	t.Run("prune", func(t *testing.T) {
		n, err := repo.DeleteOlderThan(ctx, syncBase.Add(90*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func testRecord(id string, account int64, local time.Time, external *time.Time) integration.Record {
	return integration.Record{
		ID:                id,
		EntityType:        integration.EntityTypeOrder,
		AccountID:         account,
		Payload:           map[string]any{"status": "paid", "quantity": "2"},
		LocalUpdatedAt:    local,
		ExternalUpdatedAt: external,
	}
}

func TestRecordRepository(t *testing.T) {
	repo := NewRecordRepository(setupSyncTestDB(t))
	ctx := context.Background()

	ext := syncBase
	require.NoError(t, repo.SaveBatch(ctx, []integration.Record{
		testRecord("A", 1, syncBase, &ext),
		testRecord("B", 1, syncBase.Add(2*time.Hour), nil),
		testRecord("C", 2, syncBase.Add(3*time.Hour), nil),
	}))

	t.Run("find by id", func(t *testing.T) {
		rec, err := repo.FindByID(ctx, integration.EntityTypeOrder, 1, "A")
		require.NoError(t, err)
		assert.Equal(t, "paid", rec.Payload["status"])
		require.NotNil(t, rec.ExternalUpdatedAt)
		assert.True(t, rec.ExternalUpdatedAt.Equal(syncBase))

		_, err = repo.FindByID(ctx, integration.EntityTypeListing, 1, "A")
		assert.ErrorIs(t, err, integration.ErrRecordNotFound)
	})

	t.Run("modified since", func(t *testing.T) {
		recs, err := repo.FindModifiedSince(ctx, integration.EntityTypeOrder, []int64{1, 2}, syncBase.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "B", recs[0].ID)
		assert.Equal(t, "C", recs[1].ID)

		recs, err = repo.FindModifiedSince(ctx, integration.EntityTypeOrder, []int64{1}, time.Time{})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("save replaces", func(t *testing.T) {
		rec := testRecord("A", 1, syncBase.Add(5*time.Hour), nil)
		rec.Payload["status"] = "refunded"
		require.NoError(t, repo.Save(ctx, &rec))

		got, err := repo.FindByAccount(ctx, integration.EntityTypeOrder, 1)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "refunded", got[0].Payload["status"])
		assert.Nil(t, got[0].ExternalUpdatedAt)
	})

	t.Run("mark synced", func(t *testing.T) {
		at := syncBase.Add(6 * time.Hour)
		require.NoError(t, repo.MarkSynced(ctx, integration.EntityTypeOrder, 1, "B", at))

		rec, err := repo.FindByID(ctx, integration.EntityTypeOrder, 1, "B")
		require.NoError(t, err)
		assert.False(t, rec.HasUnsyncedLocalEdit())
		assert.True(t, rec.LocalUpdatedAt.Equal(syncBase.Add(2*time.Hour)))

		err = repo.MarkSynced(ctx, integration.EntityTypeOrder, 1, "missing", at)
		assert.ErrorIs(t, err, integration.ErrRecordNotFound)
	})

	t.Run("counts", func(t *testing.T) {
		counts, err := repo.CountByEntityType(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), counts[integration.EntityTypeOrder])
	})
}

func TestPendingConflictRepository(t *testing.T) {
	repo := NewPendingConflictRepository(setupSyncTestDB(t))
	ctx := context.Background()

	ext := syncBase.Add(time.Hour)
	conflict := integration.ConflictRecord{
		RecordID:         "A",
		Local:            testRecord("A", 1, syncBase.Add(2*time.Hour), &ext),
		External:         testRecord("A", 1, syncBase, &ext),
		LocalModified:    true,
		ExternalModified: true,
	}

	first := integration.NewPendingConflict("u1", conflict)
	require.NoError(t, repo.Hold(ctx, first))

	conflict.External.Payload = map[string]any{"status": "shipped"}
	second := integration.NewPendingConflict("u1", conflict)
	require.NoError(t, repo.Hold(ctx, second))
	assert.Equal(t, first.ID, second.ID, "open item is replaced, not duplicated")

	open, err := repo.ListOpen(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "shipped", open[0].ExternalVersion.Payload["status"])
	assert.Equal(t, "A", open[0].LocalVersion.ID)

	item, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	require.NoError(t, item.MarkResolved(integration.ResolutionKeepLocal))
	require.NoError(t, repo.Save(ctx, item))

	open, err = repo.ListOpen(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, integration.ErrPendingConflictNotFound)
}
