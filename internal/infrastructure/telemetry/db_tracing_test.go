package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testRecord struct {
	ID       uint   `gorm:"primaryKey"`
	RecordID string `gorm:"size:64"`
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&testRecord{}))
	return db
}

func setupGlobalRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestNewDBTracingPlugin_Defaults(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, nil)
	assert.Equal(t, 200*time.Millisecond, p.config.SlowQueryThresh)
	assert.Equal(t, "postgresql", p.config.DBSystem)

	def := DefaultDBTracingConfig()
	assert.False(t, def.Enabled)
	assert.False(t, def.LogFullSQL)
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	sr := setupGlobalRecorder(t)
	db := setupTestDB(t)

	require.NoError(t, NewDBTracingPlugin(DBTracingConfig{}, zap.NewNop()).RegisterOtelGorm(db))
	require.NoError(t, db.Create(&testRecord{RecordID: "o-1"}).Error)

	assert.Empty(t, sr.Ended())
}

func TestDBTracingPlugin_AnnotatesSpans(t *testing.T) {
	sr := setupGlobalRecorder(t)
	db := setupTestDB(t)

	require.NoError(t, NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop()).RegisterOtelGorm(db))

	ctx := context.Background()
	require.NoError(t, db.WithContext(ctx).Create(&testRecord{RecordID: "o-1"}).Error)
	var got testRecord
	err := db.WithContext(ctx).Where("record_id = ?", "missing").First(&got).Error
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	spans := sr.Ended()
	require.NotEmpty(t, spans)
	for _, s := range spans {
		assert.NotEqual(t, codes.Error, s.Status().Code, "record not found must not fail the span")
	}

	attrs := map[string]bool{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = true
	}
	assert.True(t, attrs["db.rows_affected"])
	assert.True(t, attrs["db.sql.table"])
}

func TestDBTracingPlugin_SlowQueryMarked(t *testing.T) {
	sr := setupGlobalRecorder(t)
	db := setupTestDB(t)

	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Nanosecond}, zap.NewNop())
	require.NoError(t, plugin.RegisterOtelGorm(db))
	require.NoError(t, db.Create(&testRecord{RecordID: "o-1"}).Error)

	spans := sr.Ended()
	require.NotEmpty(t, spans)
	var slow bool
	for _, e := range spans[0].Events() {
		if e.Name == "slow_query_warning" {
			slow = true
		}
	}
	assert.True(t, slow)
}

func TestDBTracingPlugin_ErrorMarked(t *testing.T) {
	sr := setupGlobalRecorder(t)
	db := setupTestDB(t)
	require.NoError(t, NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop()).RegisterOtelGorm(db))

	require.Error(t, db.Exec("SELECT * FROM no_such_table").Error)

	spans := sr.Ended()
	require.NotEmpty(t, spans)
	assert.Equal(t, codes.Error, spans[len(spans)-1].Status().Code)
}

func TestDBTracingPlugin_DoubleRegistrationFails(t *testing.T) {
	setupGlobalRecorder(t)
	db := setupTestDB(t)
	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())

	require.NoError(t, plugin.RegisterOtelGorm(db))
	assert.Error(t, plugin.RegisterOtelGorm(db))
}
