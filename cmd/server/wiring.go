package main

import (
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/sellersync/backend/internal/infrastructure/config"
	"github.com/sellersync/backend/internal/infrastructure/telemetry"
)

// initialSyncConfig turns the [sync] section into the runtime configuration
// the store is seeded with. An empty entity list selects every entity type.
func initialSyncConfig(c config.SyncConfig) (integration.SyncConfig, error) {
	out := integration.SyncConfig{
		Enabled:                     c.Enabled,
		ConflictResolution:          integration.ConflictPolicy(c.ConflictResolution),
		MergeStrategy:               integration.FieldMergeStrategy(c.MergeStrategy),
		ExternalAuthoritativeFields: append([]string(nil), c.ExternalAuthoritativeFields...),
		AutoSyncIntervalSeconds:     c.AutoSyncIntervalSeconds,
		BackupBeforeSync:            c.BackupBeforeSync,
		DryRun:                      c.DryRun,
	}
	if len(c.Entities) == 0 {
		out.Entities = integration.AllEntityTypes()
		return out, nil
	}
	for _, name := range c.Entities {
		et, err := integration.ParseEntityType(name)
		if err != nil {
			return integration.SyncConfig{}, fmt.Errorf("sync.entities: %w", err)
		}
		out.Entities = append(out.Entities, et)
	}
	return out, nil
}

// accountsFromConfig converts the [[accounts]] tables
func accountsFromConfig(list []config.AccountConfig) []integration.Account {
	out := make([]integration.Account, 0, len(list))
	for _, a := range list {
		out = append(out, integration.Account{
			ID:         a.ID,
			UserID:     a.UserID,
			Name:       a.Name,
			DocumentID: a.DocumentID,
			Enabled:    a.IsEnabled(),
		})
	}
	return out
}

func profilerConfig(c config.ProfilingConfig) telemetry.ProfilerConfig {
	return telemetry.ProfilerConfig{
		Enabled:           c.Enabled,
		ServerAddress:     c.ServerAddress,
		ApplicationName:   c.ApplicationName,
		BasicAuthUser:     c.BasicAuthUser,
		BasicAuthPassword: c.BasicAuthPassword,
		ProfileCPU:        c.HasProfileType("cpu"),
		ProfileAlloc:      c.HasProfileType("alloc"),
		ProfileInuse:      c.HasProfileType("inuse"),
		ProfileGoroutines: c.HasProfileType("goroutines"),
		ProfileMutex:      c.HasProfileType("mutex"),
		ProfileBlock:      c.HasProfileType("block"),
	}
}

// exportLevel parses telemetry.logs_level; unknown values export info and above
func exportLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}
