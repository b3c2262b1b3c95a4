package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_HasUnsyncedLocalEdit(t *testing.T) {
	r := localRecord("A", t2)
	assert.True(t, r.HasUnsyncedLocalEdit(), "never exported")

	r.ExternalUpdatedAt = ptr(t2)
	assert.False(t, r.HasUnsyncedLocalEdit())

	r.LocalUpdatedAt = t3
	assert.True(t, r.HasUnsyncedLocalEdit())
}

func TestRecord_Clone(t *testing.T) {
	r := externalRecord("A", 1, ptr(t1))
	c := r.Clone()
	c.Payload["status"] = "refunded"
	*c.ExternalUpdatedAt = t3

	assert.Equal(t, "paid", r.Payload["status"])
	assert.True(t, r.ExternalUpdatedAt.Equal(t1))
}

func TestEntityTypes(t *testing.T) {
	e, err := ParseEntityType(" Listing ")
	require.NoError(t, err)
	assert.Equal(t, EntityTypeListing, e)

	_, err = ParseEntityType("invoice")
	assert.ErrorIs(t, err, ErrInvalidEntityType)

	joined := JoinEntityTypes([]EntityType{EntityTypeOrder, EntityTypeDraft, EntityTypeOrder})
	assert.Equal(t, "draft,order", joined)
}

func TestDirection(t *testing.T) {
	assert.True(t, DirectionExport.Exports())
	assert.False(t, DirectionExport.Imports())
	assert.True(t, DirectionBidirectional.Exports())
	assert.True(t, DirectionBidirectional.Imports())
	assert.False(t, Direction("sideways").IsValid())

	assert.Equal(t, SyncActionFullSync, DirectionBidirectional.Action())
	assert.Equal(t, []SyncAction{SyncActionImport, SyncActionFullSync}, WatermarkActions(DirectionImport))
}

func TestSyncCursor_Advance(t *testing.T) {
	c := SyncCursor{AccountID: 1, LogicalTable: "Orders"}
	c.Advance(5)
	c.Advance(0)
	c.Advance(-3)
	c.Advance(2)
	assert.Equal(t, 7, c.LastPosition)
}

func TestRowRange_Validate(t *testing.T) {
	assert.NoError(t, From(1).Validate())
	assert.NoError(t, Single(4).Validate())
	assert.ErrorIs(t, RowRange{Start: 0}.Validate(), ErrInvalidRowRange)
	assert.ErrorIs(t, RowRange{Start: 5, End: 2}.Validate(), ErrInvalidRowRange)
}

func TestSyncConfigPatch_Apply(t *testing.T) {
	base := DefaultSyncConfig()
	policy := ConflictPolicyLocalWins
	interval := 300

	updated := SyncConfigPatch{
		ConflictResolution:      &policy,
		AutoSyncIntervalSeconds: &interval,
		Entities:                []EntityType{EntityTypeOrder},
	}.Apply(base)

	assert.Equal(t, ConflictPolicyLocalWins, updated.ConflictResolution)
	assert.Equal(t, 300, updated.AutoSyncIntervalSeconds)
	assert.Equal(t, []EntityType{EntityTypeOrder}, updated.Entities)
	assert.Equal(t, base.BackupBeforeSync, updated.BackupBeforeSync)
	assert.Len(t, base.Entities, len(AllEntityTypes()), "base config is untouched")
}

func TestPendingConflict_MarkResolved(t *testing.T) {
	p := NewPendingConflict("user-1", trueConflict())
	assert.Equal(t, PendingConflictOpen, p.Status)
	assert.Equal(t, "C", p.Conflict().RecordID)

	assert.ErrorIs(t, p.MarkResolved(ResolutionHold), ErrInvalidResolutionAction)

	require.NoError(t, p.MarkResolved(ResolutionKeepExternal))
	assert.Equal(t, PendingConflictResolved, p.Status)
	assert.NotNil(t, p.ResolvedAt)
	assert.WithinDuration(t, time.Now(), *p.ResolvedAt, time.Minute)

	assert.ErrorIs(t, p.MarkResolved(ResolutionKeepLocal), ErrPendingConflictResolved)
}
