package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appintegration "github.com/sellersync/backend/internal/application/integration"
	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/sellersync/backend/internal/infrastructure/cache"
	"github.com/sellersync/backend/internal/infrastructure/config"
	"github.com/sellersync/backend/internal/infrastructure/logger"
	"github.com/sellersync/backend/internal/infrastructure/persistence"
	"github.com/sellersync/backend/internal/infrastructure/scheduler"
	"github.com/sellersync/backend/internal/infrastructure/sheets"
	"github.com/sellersync/backend/internal/infrastructure/storage"
	"github.com/sellersync/backend/internal/infrastructure/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer shutdown(log, "tracer provider", tracerProvider.Shutdown)

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer shutdown(log, "meter provider", meterProvider.Shutdown)

	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	defer shutdown(log, "logger provider", loggerProvider.Shutdown)
	if loggerProvider.IsEnabled() {
		otelCore := telemetry.NewZapOTELCore(cfg.Telemetry.ServiceName, loggerProvider, exportLevel(cfg.Telemetry.LogsLevel))
		log = telemetry.BridgeLogger(log, otelCore)
	}

	profiler, err := telemetry.NewProfiler(profilerConfig(cfg.Profiling), log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Error("Error stopping profiler", zap.Error(err))
		}
	}()
	if profiler.IsEnabled() && cfg.Profiling.SpanProfiles {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Span profiles not enabled", zap.Error(err))
		}
	}

	log.Info("Starting sync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.Int("accounts", len(cfg.Accounts)),
	)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	dbSystem := "postgresql"
	if cfg.Database.Driver == "sqlite" {
		dbSystem = "sqlite"
	}
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTracingEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        dbSystem,
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DBMetricsConfig{
		Enabled:            cfg.Telemetry.DBMetricsEnabled,
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
		PoolStatsInterval:  cfg.Telemetry.DBPoolStatsInterval,
	}, log)
	if err != nil {
		log.Fatal("Failed to register database metrics", zap.Error(err))
	}
	if dbMetrics != nil {
		dbMetrics.StartPoolStatsCollection(ctx)
		defer dbMetrics.Stop()
	}

	// Repositories
	recordRepo := persistence.NewRecordRepository(db.DB)
	activityRepo := persistence.NewActivityLogRepository(db.DB)
	pendingRepo := persistence.NewPendingConflictRepository(db.DB)
	cursorRepo := persistence.NewSyncCursorRepository(db.DB)

	// External collaborators
	locker, closeLocker, err := cache.NewSyncLockerFactory(cfg.Redis, cfg.Lock.Driver, cache.WithLogger(log)).Create()
	if err != nil {
		log.Fatal("Failed to create sync locker", zap.Error(err))
	}
	defer func() {
		if err := closeLocker(); err != nil {
			log.Error("Error closing sync locker", zap.Error(err))
		}
	}()

	documents, err := sheets.NewProviderFactory(cfg.Sheets, sheets.WithLogger(log)).Create(ctx)
	if err != nil {
		log.Fatal("Failed to create document provider", zap.Error(err))
	}

	var backups integration.BackupStore
	if cfg.Storage.Enabled {
		s3Store, err := storage.NewS3BackupStore(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create backup store", zap.Error(err))
		}
		backups = s3Store
	} else {
		log.Warn("Backup storage disabled, snapshots are kept in memory")
		backups = storage.NewMemoryBackupStore()
	}

	initial, err := initialSyncConfig(cfg.Sync)
	if err != nil {
		log.Fatal("Invalid sync configuration", zap.Error(err))
	}
	configs, err := appintegration.NewSyncConfigStore(initial)
	if err != nil {
		log.Fatal("Invalid sync configuration", zap.Error(err))
	}
	directory := appintegration.NewStaticAccountDirectory(accountsFromConfig(cfg.Accounts))

	// Metrics recorder shared by the orchestrator and collectors
	var recorder appintegration.MetricsRecorder
	if meterProvider.IsEnabled() {
		syncMetrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
			Meter:           meterProvider.Meter(telemetry.TracerName),
			Logger:          log,
			CollectInterval: cfg.Telemetry.RecordCountInterval,
			Records:         recordRepo,
		})
		if err != nil {
			log.Fatal("Failed to create sync metrics", zap.Error(err))
		}
		syncMetrics.Start(ctx)
		defer syncMetrics.Stop()
		recorder = syncMetrics
	}

	// Application services
	syncService := appintegration.NewSyncService(appintegration.SyncDependencies{
		Configs:   configs,
		Directory: directory,
		Documents: documents,
		Records:   recordRepo,
		Activity:  activityRepo,
		Pending:   pendingRepo,
		Locker:    locker,
		Backups:   backups,
	}, log,
		appintegration.WithLockTiming(cfg.Lock.TTL, cfg.Sync.LockWait, cfg.Lock.RetryInterval),
		appintegration.WithSyncMetrics(recorder),
	)
	accountCollector := appintegration.NewAccountCollector(documents, cursorRepo, log,
		appintegration.WithCollectorMetrics(recorder))
	fleetCollector := appintegration.NewFleetCollector(directory, accountCollector, recordRepo, log,
		appintegration.WithAccountTimeout(cfg.Collector.AccountTimeout),
		appintegration.WithFleetMetrics(recorder),
	)

	// Background jobs
	runnerConfig := scheduler.DefaultSyncJobRunnerConfig()
	runnerConfig.Workers = cfg.Scheduler.Workers
	runnerConfig.QueueSize = cfg.Scheduler.QueueSize
	runnerConfig.JobTimeout = cfg.Scheduler.JobTimeout
	runnerConfig.RetryAttempts = cfg.Scheduler.RetryAttempts
	runnerConfig.RetryDelay = cfg.Scheduler.RetryDelay
	jobRunner, err := scheduler.NewSyncJobRunner(runnerConfig, syncService, log)
	if err != nil {
		log.Fatal("Failed to create sync job runner", zap.Error(err))
	}
	if err := jobRunner.Start(ctx); err != nil {
		log.Fatal("Failed to start sync job runner", zap.Error(err))
	}
	defer shutdown(log, "sync job runner", jobRunner.Stop)
	log.Info("Sync job runner started",
		zap.Int("workers", runnerConfig.Workers),
		zap.Duration("job_timeout", runnerConfig.JobTimeout),
	)

	adminService := appintegration.NewAdminService(syncService, jobRunner, log)

	// Triggers
	if cfg.Collector.Enabled {
		triggerConfig := scheduler.DefaultFleetCollectTriggerConfig()
		triggerConfig.Interval = cfg.Collector.Interval
		triggerConfig.Jitter = cfg.Collector.Jitter
		triggerConfig.ConcurrencyLimit = cfg.Collector.ConcurrencyLimit
		fleetTrigger, err := scheduler.NewFleetCollectTrigger(triggerConfig, fleetCollector, log)
		if err != nil {
			log.Fatal("Failed to create fleet collect trigger", zap.Error(err))
		}
		if err := fleetTrigger.Start(ctx); err != nil {
			log.Fatal("Failed to start fleet collect trigger", zap.Error(err))
		}
		defer shutdown(log, "fleet collect trigger", fleetTrigger.Stop)
		log.Info("Fleet collector started",
			zap.Duration("interval", triggerConfig.Interval),
			zap.Int("concurrency_limit", triggerConfig.ConcurrencyLimit),
		)
	}

	autoSync := scheduler.NewAutoSyncTrigger(0, configs, directory, jobRunner, log)
	if err := autoSync.Start(ctx); err != nil {
		log.Fatal("Failed to start auto sync trigger", zap.Error(err))
	}
	defer shutdown(log, "auto sync trigger", autoSync.Stop)

	if cfg.Sync.HistoryRetentionDays > 0 {
		pruneConfig := scheduler.DefaultPruneTriggerConfig()
		pruneConfig.RetentionDays = cfg.Sync.HistoryRetentionDays
		pruneTrigger, err := scheduler.NewHistoryPruneTrigger(pruneConfig, adminService, log)
		if err != nil {
			log.Fatal("Failed to create history prune trigger", zap.Error(err))
		}
		if err := pruneTrigger.Start(ctx); err != nil {
			log.Fatal("Failed to start history prune trigger", zap.Error(err))
		}
		defer shutdown(log, "history prune trigger", pruneTrigger.Stop)
	}

	snapshot := configs.Snapshot()
	log.Info("Sync engine ready",
		zap.Bool("enabled", snapshot.Enabled),
		zap.String("conflict_resolution", string(snapshot.ConflictResolution)),
		zap.String("entities", integration.JoinEntityTypes(snapshot.Entities)),
		zap.Int("auto_sync_interval_seconds", snapshot.AutoSyncIntervalSeconds),
	)

	<-ctx.Done()
	log.Info("Shutting down sync engine...")
}

// shutdown runs a lifecycle stop with its own deadline; the signal context is
// already cancelled by the time deferred stops run.
func shutdown(log *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error("Error stopping "+name, zap.Error(err))
	}
}
