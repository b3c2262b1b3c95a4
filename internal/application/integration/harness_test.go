package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/sellersync/backend/internal/infrastructure/cache"
	"github.com/sellersync/backend/internal/infrastructure/persistence"
	"github.com/sellersync/backend/internal/infrastructure/sheets"
	"github.com/sellersync/backend/internal/infrastructure/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	t         *testing.T
	db        *gorm.DB
	records   *persistence.RecordRepository
	cursors   *persistence.SyncCursorRepository
	activity  *persistence.ActivityLogRepository
	pending   *persistence.PendingConflictRepository
	provider  *sheets.MemoryProvider
	locker    *cache.InMemorySyncLocker
	backups   *storage.MemoryBackupStore
	configs   *SyncConfigStore
	directory *StaticAccountDirectory
	clock     *testClock
	sync      *SyncService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(persistence.SyncModels()...))
	return db
}

// newHarness wires a sync service over sqlite repositories and in-memory
// documents. Only orders are synced unless the test changes the config.
func newHarness(t *testing.T, accounts ...integration.Account) *harness {
	t.Helper()
	db := newTestDB(t)

	cfg := integration.DefaultSyncConfig()
	cfg.Entities = []integration.EntityType{integration.EntityTypeOrder}
	configs, err := NewSyncConfigStore(cfg)
	require.NoError(t, err)

	h := &harness{
		t:         t,
		db:        db,
		records:   persistence.NewRecordRepository(db),
		cursors:   persistence.NewSyncCursorRepository(db),
		activity:  persistence.NewActivityLogRepository(db),
		pending:   persistence.NewPendingConflictRepository(db),
		provider:  sheets.NewMemoryProvider(),
		locker:    cache.NewInMemorySyncLocker(),
		backups:   storage.NewMemoryBackupStore(),
		configs:   configs,
		directory: NewStaticAccountDirectory(accounts),
		clock:     &testClock{now: t0},
	}
	for _, a := range accounts {
		doc := h.provider.AddDocument(a.DocumentID)
		for _, s := range integration.Schemas() {
			doc.SetTable(s.Table, s.HeaderRow())
		}
	}

	h.sync = NewSyncService(SyncDependencies{
		Configs:   h.configs,
		Directory: h.directory,
		Documents: h.provider,
		Records:   h.records,
		Activity:  h.activity,
		Pending:   h.pending,
		Locker:    h.locker,
		Backups:   h.backups,
	}, zap.NewNop(),
		WithClock(h.clock.Now),
		WithLockTiming(time.Minute, 50*time.Millisecond, 5*time.Millisecond),
	)
	return h
}

func account(id int64, user string) integration.Account {
	return integration.Account{
		ID:         id,
		UserID:     user,
		Name:       "shop",
		DocumentID: docID(id),
		Enabled:    true,
	}
}

func docID(accountID int64) string {
	return fmt.Sprintf("doc-%d", accountID)
}

func (h *harness) doc(accountID int64) *sheets.MemoryDocument {
	doc, ok := h.provider.Document(docID(accountID))
	require.True(h.t, ok)
	return doc
}

// orderCells builds an Orders row in column order
func orderCells(id, status string, updated time.Time) []string {
	return []string{
		id, "L-1", "Ann", "ann@example.com", "2", "19.90", "USD", status, "",
		"2024-05-01T00:00:00Z", integration.FormatTimestamp(updated),
	}
}

// localOrder builds the local version of an order as if it had been parsed
// from orderCells
func (h *harness) localOrder(accountID int64, id, status string, updated time.Time) integration.Record {
	schema, _ := integration.SchemaFor(integration.EntityTypeOrder)
	rec, _, err := schema.ParseRow(accountID, 1, orderCells(id, status, updated))
	require.NoError(h.t, err)
	rec.RowNumber = 0
	rec.ExternalUpdatedAt = nil
	rec.LocalUpdatedAt = updated
	return rec
}

func (h *harness) saveLocal(rec integration.Record) {
	require.NoError(h.t, h.records.Save(context.Background(), &rec))
}

func (h *harness) findLocal(accountID int64, id string) *integration.Record {
	rec, err := h.records.FindByID(context.Background(), integration.EntityTypeOrder, accountID, id)
	require.NoError(h.t, err)
	return rec
}

// statusOf returns the status cell of the external order row holding id
func statusOf(rows [][]string, id string) string {
	for _, r := range rows {
		if len(r) > 7 && r[0] == id {
			return r[7]
		}
	}
	return ""
}
