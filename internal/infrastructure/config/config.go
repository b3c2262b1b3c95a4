package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Sync      SyncConfig
	Collector CollectorConfig
	Scheduler SchedulerConfig
	Sheets    SheetsConfig
	Storage   StorageConfig
	Lock      LockConfig
	Telemetry TelemetryConfig
	Profiling ProfilingConfig
	Accounts  []AccountConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Path            string // sqlite file, ":memory:" for tests
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SyncConfig is the initial runtime sync configuration. It can be changed
// later through the admin surface; these values only seed it.
type SyncConfig struct {
	Enabled                     bool
	ConflictResolution          string
	MergeStrategy               string
	ExternalAuthoritativeFields []string
	AutoSyncIntervalSeconds     int
	Entities                    []string
	BackupBeforeSync            bool
	DryRun                      bool
	LockWait                    time.Duration // how long a pass waits for the per-entity lock
	HistoryRetentionDays        int           // 0 disables automatic pruning
}

// CollectorConfig holds fleet collection settings
type CollectorConfig struct {
	Enabled          bool
	ConcurrencyLimit int
	Interval         time.Duration
	Jitter           time.Duration
	AccountTimeout   time.Duration
}

// SchedulerConfig holds background sync job settings
type SchedulerConfig struct {
	Workers       int
	QueueSize     int
	JobTimeout    time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// SheetsConfig selects the external document backend
type SheetsConfig struct {
	Driver          string // google or memory
	CredentialsFile string
	CredentialsJSON string
	Timeout         time.Duration
}

// StorageConfig holds S3 backup settings
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// LockConfig holds single-flight lock settings
type LockConfig struct {
	Driver        string // redis or memory
	TTL           time.Duration
	RetryInterval time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration

	LogsEnabled bool   // export zap entries over OTLP
	LogsLevel   string // minimum exported level, defaults to log.level

	DBTracingEnabled    bool
	DBLogFullSQL        bool // include bound variables, development only
	DBSlowQueryThresh   time.Duration
	DBMetricsEnabled    bool
	DBPoolStatsInterval time.Duration

	RecordCountInterval time.Duration // how often local record counts are sampled
}

// ProfilingConfig holds Pyroscope continuous profiling settings
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string
	ProfileTypes      []string // cpu, alloc, inuse, goroutines, mutex, block
	SpanProfiles      bool     // link profiles to trace spans
}

// HasProfileType reports whether name is among the configured profile types
func (p ProfilingConfig) HasProfileType(name string) bool {
	for _, t := range p.ProfileTypes {
		if strings.EqualFold(strings.TrimSpace(t), name) {
			return true
		}
	}
	return false
}

// AccountConfig is one seller account bound to its external document
type AccountConfig struct {
	ID         int64  `mapstructure:"id"`
	UserID     string `mapstructure:"user_id"`
	Name       string `mapstructure:"name"`
	DocumentID string `mapstructure:"document_id"`
	Enabled    *bool  `mapstructure:"enabled"`
}

// IsEnabled treats a missing flag as enabled
func (a AccountConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SELLERSYNC_ prefix (e.g., SELLERSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("SELLERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// true defaults; applyDefaults cannot tell an unset bool from false
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.backup_before_sync", true)
	v.SetDefault("collector.enabled", true)
	v.SetDefault("telemetry.db_metrics_enabled", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Sync: SyncConfig{
			Enabled:                     v.GetBool("sync.enabled"),
			ConflictResolution:          v.GetString("sync.conflict_resolution"),
			MergeStrategy:               v.GetString("sync.merge_strategy"),
			ExternalAuthoritativeFields: v.GetStringSlice("sync.external_authoritative_fields"),
			AutoSyncIntervalSeconds:     v.GetInt("sync.auto_sync_interval_seconds"),
			Entities:                    v.GetStringSlice("sync.entities"),
			BackupBeforeSync:            v.GetBool("sync.backup_before_sync"),
			DryRun:                      v.GetBool("sync.dry_run"),
			LockWait:                    v.GetDuration("sync.lock_wait"),
			HistoryRetentionDays:        v.GetInt("sync.history_retention_days"),
		},
		Collector: CollectorConfig{
			Enabled:          v.GetBool("collector.enabled"),
			ConcurrencyLimit: v.GetInt("collector.concurrency_limit"),
			Interval:         v.GetDuration("collector.interval"),
			Jitter:           v.GetDuration("collector.jitter"),
			AccountTimeout:   v.GetDuration("collector.account_timeout"),
		},
		Scheduler: SchedulerConfig{
			Workers:       v.GetInt("scheduler.workers"),
			QueueSize:     v.GetInt("scheduler.queue_size"),
			JobTimeout:    v.GetDuration("scheduler.job_timeout"),
			RetryAttempts: v.GetInt("scheduler.retry_attempts"),
			RetryDelay:    v.GetDuration("scheduler.retry_delay"),
		},
		Sheets: SheetsConfig{
			Driver:          v.GetString("sheets.driver"),
			CredentialsFile: v.GetString("sheets.credentials_file"),
			CredentialsJSON: v.GetString("sheets.credentials_json"),
			Timeout:         v.GetDuration("sheets.timeout"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Lock: LockConfig{
			Driver:        v.GetString("lock.driver"),
			TTL:           v.GetDuration("lock.ttl"),
			RetryInterval: v.GetDuration("lock.retry_interval"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),

			LogsEnabled: v.GetBool("telemetry.logs_enabled"),
			LogsLevel:   v.GetString("telemetry.logs_level"),

			DBTracingEnabled:    v.GetBool("telemetry.db_tracing_enabled"),
			DBLogFullSQL:        v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh:   v.GetDuration("telemetry.db_slow_query_thresh"),
			DBMetricsEnabled:    v.GetBool("telemetry.db_metrics_enabled"),
			DBPoolStatsInterval: v.GetDuration("telemetry.db_pool_stats_interval"),

			RecordCountInterval: v.GetDuration("telemetry.record_count_interval"),
		},
		Profiling: ProfilingConfig{
			Enabled:           v.GetBool("profiling.enabled"),
			ServerAddress:     v.GetString("profiling.server_address"),
			ApplicationName:   v.GetString("profiling.application_name"),
			BasicAuthUser:     v.GetString("profiling.basic_auth_user"),
			BasicAuthPassword: v.GetString("profiling.basic_auth_password"),
			ProfileTypes:      v.GetStringSlice("profiling.profile_types"),
			SpanProfiles:      v.GetBool("profiling.span_profiles"),
		},
	}

	if err := v.UnmarshalKey("accounts", &cfg.Accounts); err != nil {
		return nil, fmt.Errorf("error reading accounts: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "sellersync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "sellersync.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "sellersync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Sync.ConflictResolution == "" {
		cfg.Sync.ConflictResolution = "merge_all"
	}
	if cfg.Sync.MergeStrategy == "" {
		cfg.Sync.MergeStrategy = "fill_missing"
	}
	if cfg.Sync.LockWait == 0 {
		cfg.Sync.LockWait = 30 * time.Second
	}
	if cfg.Collector.ConcurrencyLimit == 0 {
		cfg.Collector.ConcurrencyLimit = 10
	}
	if cfg.Collector.Interval == 0 {
		cfg.Collector.Interval = 5 * time.Minute
	}
	if cfg.Collector.AccountTimeout == 0 {
		cfg.Collector.AccountTimeout = 2 * time.Minute
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 3
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = 100
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 30 * time.Minute
	}
	if cfg.Scheduler.RetryDelay == 0 {
		cfg.Scheduler.RetryDelay = time.Minute
	}
	if cfg.Sheets.Driver == "" {
		cfg.Sheets.Driver = "google"
	}
	if cfg.Sheets.Timeout == 0 {
		cfg.Sheets.Timeout = 30 * time.Second
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "sync-backups"
	}
	if cfg.Lock.Driver == "" {
		cfg.Lock.Driver = "redis"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 10 * time.Minute
	}
	if cfg.Lock.RetryInterval == 0 {
		cfg.Lock.RetryInterval = 200 * time.Millisecond
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.LogsLevel == "" {
		cfg.Telemetry.LogsLevel = cfg.Log.Level
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.DBPoolStatsInterval == 0 {
		cfg.Telemetry.DBPoolStatsInterval = 15 * time.Second
	}
	if cfg.Telemetry.RecordCountInterval == 0 {
		cfg.Telemetry.RecordCountInterval = 5 * time.Minute
	}
	if cfg.Profiling.ApplicationName == "" {
		cfg.Profiling.ApplicationName = cfg.App.Name
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc", "inuse", "goroutines"}
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Sync.AutoSyncIntervalSeconds < 0 {
		return fmt.Errorf("sync.auto_sync_interval_seconds cannot be negative")
	}
	if c.Collector.ConcurrencyLimit < 0 {
		return fmt.Errorf("collector.concurrency_limit cannot be negative")
	}

	switch c.Sheets.Driver {
	case "google", "memory":
	default:
		return fmt.Errorf("sheets.driver must be google or memory, got %q", c.Sheets.Driver)
	}
	switch c.Lock.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("lock.driver must be redis or memory, got %q", c.Lock.Driver)
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	seen := make(map[int64]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.ID <= 0 {
			return fmt.Errorf("accounts[%d].id must be positive", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("accounts[%d].id %d is duplicated", i, a.ID)
		}
		seen[a.ID] = true
		if a.UserID == "" || a.DocumentID == "" {
			return fmt.Errorf("accounts[%d] requires user_id and document_id", i)
		}
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return fmt.Errorf("profiling.server_address is required when profiling is enabled")
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
