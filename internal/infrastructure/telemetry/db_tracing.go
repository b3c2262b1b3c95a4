package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds database tracing configuration.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool          // include bound variables in span statements
	SlowQueryThresh time.Duration // default 200ms
	DBSystem        string        // default "postgresql"
}

// DefaultDBTracingConfig returns the database tracing defaults.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThresh: 200 * time.Millisecond,
		DBSystem:        "postgresql",
	}
}

// gormHook names one gorm callback chain so plugins can register before and
// after hooks on all of them.
type gormHook struct {
	name      string
	operation string // SQL verb recorded for the chain, "" means detect from SQL
	register  func(db *gorm.DB, before bool, name string, fn func(*gorm.DB)) error
}

var gormHooks = []gormHook{
	{"create", "INSERT", func(db *gorm.DB, before bool, name string, fn func(*gorm.DB)) error {
		if before {
			return db.Callback().Create().Before("gorm:create").Register(name, fn)
		}
		return db.Callback().Create().After("gorm:create").Register(name, fn)
	}},
	{"query", "SELECT", func(db *gorm.DB, before bool, name string, fn func(*gorm.DB)) error {
		if before {
			return db.Callback().Query().Before("gorm:query").Register(name, fn)
		}
		return db.Callback().Query().After("gorm:query").Register(name, fn)
	}},
	{"update", "UPDATE", func(db *gorm.DB, before bool, name string, fn func(*gorm.DB)) error {
		if before {
			return db.Callback().Update().Before("gorm:update").Register(name, fn)
		}
		return db.Callback().Update().After("gorm:update").Register(name, fn)
	}},
	{"delete", "DELETE", func(db *gorm.DB, before bool, name string, fn func(*gorm.DB)) error {
		if before {
			return db.Callback().Delete().Before("gorm:delete").Register(name, fn)
		}
		return db.Callback().Delete().After("gorm:delete").Register(name, fn)
	}},
	{"row", "", func(db *gorm.DB, before bool, name string, fn func(*gorm.DB)) error {
		if before {
			return db.Callback().Row().Before("gorm:row").Register(name, fn)
		}
		return db.Callback().Row().After("gorm:row").Register(name, fn)
	}},
	{"raw", "", func(db *gorm.DB, before bool, name string, fn func(*gorm.DB)) error {
		if before {
			return db.Callback().Raw().Before("gorm:raw").Register(name, fn)
		}
		return db.Callback().Raw().After("gorm:raw").Register(name, fn)
	}},
}

// registerTimedHooks installs a start-time hook before and after(db, operation)
// hook behind every gorm chain. Callback names are prefixed with prefix.
func registerTimedHooks(db *gorm.DB, prefix string, key any, after func(db *gorm.DB, operation string)) error {
	before := func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		db.Statement.Context = context.WithValue(ctx, key, time.Now())
	}
	for _, h := range gormHooks {
		if err := h.register(db, true, prefix+":before_"+h.name, before); err != nil {
			return err
		}
		afterFn := func(db *gorm.DB) {
			op := h.operation
			if op == "" {
				op = detectOperationType(db.Statement.SQL.String())
			}
			after(db, op)
		}
		if err := h.register(db, false, prefix+":after_"+h.name, afterFn); err != nil {
			return err
		}
	}
	return nil
}

func elapsedSince(ctx context.Context, key any) (time.Duration, bool) {
	if ctx == nil {
		return 0, false
	}
	start, ok := ctx.Value(key).(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(start), true
}

type contextKey string

const queryStartTimeKey contextKey = "otel_query_start_time"

// DBTracingPlugin wraps otelgorm with slow query and error annotation.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates a database tracing plugin.
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	return &DBTracingPlugin{config: cfg, logger: logger}
}

// RegisterOtelGorm installs otelgorm and the annotation callbacks on db.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBSystem)}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	// Registered ahead of otelgorm so the annotations run before its after
	// hooks end the span.
	if err := registerTimedHooks(db, "otel_timing", queryStartTimeKey, p.annotateSpan); err != nil {
		return err
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.String("db_system", p.config.DBSystem),
	)
	return nil
}

// annotateSpan adds row counts, table, error status and slow query markers
// to the span otelgorm opened for the statement.
func (p *DBTracingPlugin) annotateSpan(db *gorm.DB, _ string) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	if elapsed, ok := elapsedSince(ctx, queryStartTimeKey); ok && elapsed > p.config.SlowQueryThresh {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query_warning", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
		))
	}
}
