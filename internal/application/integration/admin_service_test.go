package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu        sync.Mutex
	submitted []SyncRequest
	active    []SyncJobView
	err       error
}

func (r *fakeRunner) Submit(req SyncRequest) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return uuid.Nil, r.err
	}
	r.submitted = append(r.submitted, req)
	id := uuid.New()
	r.active = append(r.active, SyncJobView{ID: id, UserID: req.UserID, Direction: req.Direction, Status: "pending"})
	return id, nil
}

func (r *fakeRunner) Active() []SyncJobView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SyncJobView(nil), r.active...)
}

func TestAdminService_Triggers(t *testing.T) {
	h := newHarness(t, account(1, "u1"))
	ctx := context.Background()
	runner := &fakeRunner{}
	admin := NewAdminService(h.sync, runner, nil)

	h.saveLocal(h.localOrder(1, "A", "paid", t0))
	h.clock.Set(t0.Add(time.Hour))

	t.Run("sync export", func(t *testing.T) {
		resp, err := admin.TriggerExport(ctx, TriggerSyncRequest{UserID: "u1"})
		require.NoError(t, err)
		require.NotNil(t, resp.Result)
		assert.Nil(t, resp.JobID)
		assert.Equal(t, integration.DirectionExport, resp.Result.Direction)
		assert.Equal(t, 1, resp.Result.NewFromLocal)
	})

	t.Run("async full sync", func(t *testing.T) {
		resp, err := admin.TriggerFullSync(ctx, TriggerSyncRequest{UserID: "u1", Async: true, DryRun: true})
		require.NoError(t, err)
		require.NotNil(t, resp.JobID)
		assert.Nil(t, resp.Result)
		require.Len(t, runner.submitted, 1)
		assert.Equal(t, integration.DirectionBidirectional, runner.submitted[0].Direction)
		assert.True(t, runner.submitted[0].DryRun)
	})

	t.Run("async without runner", func(t *testing.T) {
		_, err := NewAdminService(h.sync, nil, nil).TriggerImport(ctx, TriggerSyncRequest{UserID: "u1", Async: true})
		assert.ErrorIs(t, err, ErrAsyncUnavailable)
	})

	t.Run("fatal sync still returns the result", func(t *testing.T) {
		resp, err := admin.TriggerImport(ctx, TriggerSyncRequest{UserID: "nobody"})
		assert.ErrorIs(t, err, integration.ErrNoAccounts)
		require.NotNil(t, resp)
		assert.Equal(t, SyncStatusFailed, resp.Result.Status)
	})

	t.Run("status", func(t *testing.T) {
		status, err := admin.Status(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, status.Accounts)
		require.Len(t, status.Entities, 1)
		order := status.Entities[0]
		assert.Equal(t, "Orders", order.Table)
		assert.Equal(t, int64(1), order.Records)
		require.NotNil(t, order.LastSuccessfulSync)
		assert.True(t, order.LastSuccessfulSync.Equal(t0.Add(time.Hour)))
		assert.Equal(t, integration.SyncActionExport, order.LastAction)
		assert.Zero(t, order.PendingLocalEdits)
		assert.Len(t, status.RunningJobs, 1)

		other, err := admin.Status(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, other.RunningJobs)
	})

	t.Run("status counts local edits since the last sync", func(t *testing.T) {
		h.saveLocal(h.localOrder(1, "D", "paid", t0.Add(2*time.Hour)))

		status, err := admin.Status(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, status.Entities, 1)
		assert.Equal(t, 1, status.Entities[0].PendingLocalEdits)
		assert.Equal(t, int64(2), status.Entities[0].Records)
	})
}

func TestAdminService_UpdateConfig(t *testing.T) {
	h := newHarness(t, account(1, "u1"))
	admin := NewAdminService(h.sync, nil, nil)
	ctx := context.Background()

	policy := "manual"
	cfg, err := admin.UpdateConfig(ctx, UpdateSyncConfigRequest{
		ConflictResolution: &policy,
		Entities:           []string{"Order", "listing"},
	})
	require.NoError(t, err)
	assert.Equal(t, integration.ConflictPolicyManual, cfg.ConflictResolution)
	assert.Equal(t, []integration.EntityType{integration.EntityTypeOrder, integration.EntityTypeListing}, cfg.Entities)

	bad := "coin_flip"
	_, err = admin.UpdateConfig(ctx, UpdateSyncConfigRequest{ConflictResolution: &bad})
	assert.ErrorIs(t, err, integration.ErrUnknownConflictPolicy)

	_, err = admin.UpdateConfig(ctx, UpdateSyncConfigRequest{Entities: []string{"widgets"}})
	assert.ErrorIs(t, err, integration.ErrInvalidEntityType)
	assert.Equal(t, integration.ConflictPolicyManual, h.configs.Snapshot().ConflictResolution)
}

func TestAdminService_HistoryAndPrune(t *testing.T) {
	h := newHarness(t, account(1, "u1"))
	admin := NewAdminService(h.sync, nil, nil)
	ctx := context.Background()

	old := integration.NewActivityLogEntry("u1", integration.SyncActionImport,
		[]integration.EntityType{integration.EntityTypeOrder, integration.EntityTypeDraft}, t0)
	old.CreatedAt = t0
	msg := "account 1: open document: boom"
	old.Error = &msg
	require.NoError(t, h.activity.Append(ctx, old))

	_, err := h.sync.Sync(ctx, "u1", integration.DirectionExport, false)
	require.NoError(t, err)

	history, err := admin.History(ctx, HistoryFilter{UserID: "u1", EntityType: "order"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), history.Total)
	assert.Equal(t, 1, history.Page)
	assert.Equal(t, 20, history.PageSize)
	assert.Equal(t, integration.SyncActionExport, history.Entries[0].Action, "newest first")
	assert.Equal(t, []string{"draft", "order"}, history.Entries[1].EntityTypes)
	assert.Equal(t, msg, history.Entries[1].Error)

	failed, err := admin.History(ctx, HistoryFilter{OnlyFailed: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed.Total)

	_, err = admin.Prune(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidRetention)

	n, err := admin.Prune(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := admin.History(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), left.Total)
}

func TestAdminService_PendingConflicts(t *testing.T) {
	h := newHarness(t, account(1, "u1"))
	admin := NewAdminService(h.sync, nil, nil)
	ctx := context.Background()

	policy := "manual"
	_, err := admin.UpdateConfig(ctx, UpdateSyncConfigRequest{ConflictResolution: &policy})
	require.NoError(t, err)

	local := h.localOrder(1, "C", "shipped", t0.Add(time.Minute))
	local.Payload["buyer_name"] = ""
	h.saveLocal(local)
	h.doc(1).AppendRows("Orders", orderCells("C", "cancelled", t0.Add(2*time.Minute)))
	h.clock.Set(t0.Add(time.Hour))

	_, err = h.sync.Sync(ctx, "u1", integration.DirectionBidirectional, false)
	require.NoError(t, err)

	items, err := admin.ListPendingConflicts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "C", items[0].RecordID)
	assert.Equal(t, "shipped", items[0].LocalVersion["status"])
	assert.Equal(t, "cancelled", items[0].ExternalVersion["status"])

	_, err = admin.ResolvePendingConflict(ctx, uuid.New(), "merge")
	assert.ErrorIs(t, err, integration.ErrPendingConflictNotFound)

	view, err := admin.ResolvePendingConflict(ctx, items[0].ID, "merge")
	require.NoError(t, err)
	assert.Equal(t, items[0].ID, view.ID)

	// fill_missing keeps the local status and takes the missing buyer name
	rec := h.findLocal(1, "C")
	assert.Equal(t, "shipped", rec.Payload["status"])
	assert.Equal(t, "Ann", rec.Payload["buyer_name"])
	rows := h.doc(1).Rows("Orders")
	require.Len(t, rows, 1)
	assert.Equal(t, "shipped", statusOf(rows, "C"))

	open, err := admin.ListPendingConflicts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, open)
}
