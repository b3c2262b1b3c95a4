package integration

// ConflictPolicy decides how true conflicts are resolved
type ConflictPolicy string

const (
	ConflictPolicyMergeAll     ConflictPolicy = "merge_all"
	ConflictPolicyLocalWins    ConflictPolicy = "local_wins"
	ConflictPolicyExternalWins ConflictPolicy = "external_wins"
	ConflictPolicyManual       ConflictPolicy = "manual"
)

// IsValid returns true if the policy is known
func (p ConflictPolicy) IsValid() bool {
	switch p {
	case ConflictPolicyMergeAll, ConflictPolicyLocalWins, ConflictPolicyExternalWins, ConflictPolicyManual:
		return true
	default:
		return false
	}
}

// FieldMergeStrategy is the per-field precedence used by merge_all
type FieldMergeStrategy string

const (
	// FieldMergeFillMissing takes an external field only where the local
	// field is absent or empty.
	FieldMergeFillMissing FieldMergeStrategy = "fill_missing"
	// FieldMergeOverlayExternal takes every non-empty external field.
	FieldMergeOverlayExternal FieldMergeStrategy = "overlay_external"
)

// IsValid returns true if the strategy is known
func (s FieldMergeStrategy) IsValid() bool {
	switch s {
	case FieldMergeFillMissing, FieldMergeOverlayExternal:
		return true
	default:
		return false
	}
}

// SyncConfig is the process-wide runtime sync configuration.
// A pass copies it once at start and never re-reads it.
type SyncConfig struct {
	Enabled                     bool               `json:"enabled"`
	ConflictResolution          ConflictPolicy     `json:"conflict_resolution" validate:"required,oneof=merge_all local_wins external_wins manual"`
	MergeStrategy               FieldMergeStrategy `json:"merge_strategy" validate:"required,oneof=fill_missing overlay_external"`
	ExternalAuthoritativeFields []string           `json:"external_authoritative_fields" validate:"dive,required"`
	AutoSyncIntervalSeconds     int                `json:"auto_sync_interval_seconds" validate:"gte=0"`
	Entities                    []EntityType       `json:"entities" validate:"dive,oneof=order listing message draft supplier product"`
	BackupBeforeSync            bool               `json:"backup_before_sync"`
	DryRun                      bool               `json:"dry_run"`
}

// DefaultSyncConfig returns the configuration used at process start
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Enabled:                 true,
		ConflictResolution:      ConflictPolicyMergeAll,
		MergeStrategy:           FieldMergeFillMissing,
		AutoSyncIntervalSeconds: 0,
		Entities:                AllEntityTypes(),
		BackupBeforeSync:        true,
	}
}

// Clone returns a copy that shares no slices with c
func (c SyncConfig) Clone() SyncConfig {
	out := c
	out.Entities = append([]EntityType(nil), c.Entities...)
	out.ExternalAuthoritativeFields = append([]string(nil), c.ExternalAuthoritativeFields...)
	return out
}

// Merger builds the field merger for merge_all
func (c SyncConfig) Merger() FieldMerger {
	return FieldMerger{
		Strategy:              c.MergeStrategy,
		ExternalAuthoritative: c.ExternalAuthoritativeFields,
	}
}

// SyncConfigPatch is a partial update of SyncConfig; nil fields are kept
type SyncConfigPatch struct {
	Enabled                     *bool
	ConflictResolution          *ConflictPolicy
	MergeStrategy               *FieldMergeStrategy
	ExternalAuthoritativeFields []string
	AutoSyncIntervalSeconds     *int
	Entities                    []EntityType
	BackupBeforeSync            *bool
	DryRun                      *bool
}

// Apply returns c with the patch applied
func (p SyncConfigPatch) Apply(c SyncConfig) SyncConfig {
	out := c.Clone()
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.ConflictResolution != nil {
		out.ConflictResolution = *p.ConflictResolution
	}
	if p.MergeStrategy != nil {
		out.MergeStrategy = *p.MergeStrategy
	}
	if p.ExternalAuthoritativeFields != nil {
		out.ExternalAuthoritativeFields = append([]string(nil), p.ExternalAuthoritativeFields...)
	}
	if p.AutoSyncIntervalSeconds != nil {
		out.AutoSyncIntervalSeconds = *p.AutoSyncIntervalSeconds
	}
	if p.Entities != nil {
		out.Entities = append([]EntityType(nil), p.Entities...)
	}
	if p.BackupBeforeSync != nil {
		out.BackupBeforeSync = *p.BackupBeforeSync
	}
	if p.DryRun != nil {
		out.DryRun = *p.DryRun
	}
	return out
}
