//go:build integration

package persistence

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/sellersync/backend/internal/infrastructure/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupPostgresTestDB starts a throwaway postgres and applies migrations/
func setupPostgresTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("sellersync_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	_, file, _, _ := runtime.Caller(0)
	migrationsPath := filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")

	m, err := migration.New(sqlDB, migrationsPath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())

	return db
}

func TestPostgres_SyncRepositories(t *testing.T) {
	db := setupPostgresTestDB(t)
	ctx := context.Background()

	t.Run("record upsert replaces payload", func(t *testing.T) {
		repo := NewRecordRepository(db)
		rec := testRecord("A", 1, syncBase, nil)
		require.NoError(t, repo.Save(ctx, &rec))

		rec.Payload["status"] = "shipped"
		rec.LocalUpdatedAt = syncBase.Add(time.Hour)
		require.NoError(t, repo.SaveBatch(ctx, []integration.Record{rec}))

		got, err := repo.FindByID(ctx, integration.EntityTypeOrder, 1, "A")
		require.NoError(t, err)
		assert.Equal(t, "shipped", got.Payload["status"])
		assert.True(t, got.LocalUpdatedAt.Equal(syncBase.Add(time.Hour)))
	})

	t.Run("cursor upsert", func(t *testing.T) {
		repo := NewSyncCursorRepository(db)
		require.NoError(t, repo.Save(ctx, integration.SyncCursor{AccountID: 3, LogicalTable: "Orders", LastPosition: 2}))
		require.NoError(t, repo.Save(ctx, integration.SyncCursor{AccountID: 3, LogicalTable: "Orders", LastPosition: 8}))

		c, err := repo.Get(ctx, 3, "Orders")
		require.NoError(t, err)
		assert.Equal(t, 8, c.LastPosition)
	})

	t.Run("watermark lookup", func(t *testing.T) {
		repo := NewActivityLogRepository(db)
		entry := integration.NewActivityLogEntry("u1", integration.SyncActionFullSync,
			[]integration.EntityType{integration.EntityTypeOrder, integration.EntityTypeListing}, syncBase)
		entry.Success = true
		require.NoError(t, repo.Append(ctx, entry))

		last, err := repo.LastSuccessful(ctx, "u1", integration.EntityTypeListing)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, "listing,order", last.EntityType)
	})
}
