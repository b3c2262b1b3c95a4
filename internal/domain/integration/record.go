package integration

import (
	"context"
	"sort"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Entity Types
// ---------------------------------------------------------------------------

// EntityType identifies one category of record
type EntityType string

const (
	EntityTypeOrder    EntityType = "order"
	EntityTypeListing  EntityType = "listing"
	EntityTypeMessage  EntityType = "message"
	EntityTypeDraft    EntityType = "draft"
	EntityTypeSupplier EntityType = "supplier"
	EntityTypeProduct  EntityType = "product"
)

// AllEntityTypes returns every entity type in logical table order
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityTypeOrder,
		EntityTypeListing,
		EntityTypeMessage,
		EntityTypeDraft,
		EntityTypeSupplier,
		EntityTypeProduct,
	}
}

// IsValid returns true if the entity type is known
func (e EntityType) IsValid() bool {
	switch e {
	case EntityTypeOrder, EntityTypeListing, EntityTypeMessage,
		EntityTypeDraft, EntityTypeSupplier, EntityTypeProduct:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (e EntityType) String() string {
	return string(e)
}

// ParseEntityType parses a case-insensitive entity type name
func ParseEntityType(s string) (EntityType, error) {
	e := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !e.IsValid() {
		return "", ErrInvalidEntityType
	}
	return e, nil
}

// SortEntityTypes returns a sorted, de-duplicated copy of types
func SortEntityTypes(types []EntityType) []EntityType {
	seen := make(map[EntityType]struct{}, len(types))
	out := make([]EntityType, 0, len(types))
	for _, t := range types {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// JoinEntityTypes renders types as a sorted comma separated list
func JoinEntityTypes(types []EntityType) string {
	sorted := SortEntityTypes(types)
	parts := make([]string, len(sorted))
	for i, t := range sorted {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// ---------------------------------------------------------------------------
// Record
// ---------------------------------------------------------------------------

// Record is one business row shared between the local store and an
// account's external document. ID is stable across both stores.
type Record struct {
	ID                string
	EntityType        EntityType
	AccountID         int64
	Payload           map[string]any
	LocalUpdatedAt    time.Time
	ExternalUpdatedAt *time.Time

	// RowNumber is the 1-based data row in the external table; zero for
	// records that were not read from a document.
	RowNumber int
}

// HasUnsyncedLocalEdit reports whether the local copy carries a change the
// external document has not seen yet.
func (r *Record) HasUnsyncedLocalEdit() bool {
	if r.ExternalUpdatedAt == nil {
		return true
	}
	return r.LocalUpdatedAt.After(*r.ExternalUpdatedAt)
}

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	out := r
	out.Payload = make(map[string]any, len(r.Payload))
	for k, v := range r.Payload {
		out.Payload[k] = v
	}
	if r.ExternalUpdatedAt != nil {
		t := *r.ExternalUpdatedAt
		out.ExternalUpdatedAt = &t
	}
	return out
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// Account is one seller identity bound to exactly one external document
type Account struct {
	ID         int64
	UserID     string
	Name       string
	DocumentID string
	Enabled    bool
}

// AccountDirectory lists the configured accounts
type AccountDirectory interface {
	// ListAccounts returns every enabled account
	ListAccounts(ctx context.Context) ([]Account, error)

	// AccountsForUser returns the enabled accounts owned by a user
	AccountsForUser(ctx context.Context, userID string) ([]Account, error)

	// Users returns the distinct owners of enabled accounts
	Users(ctx context.Context) ([]string, error)
}

// ---------------------------------------------------------------------------
// Record Repository
// ---------------------------------------------------------------------------

// RecordRepository is the generic local record store the sync engine owns
type RecordRepository interface {
	// FindByID returns ErrRecordNotFound when the record does not exist
	FindByID(ctx context.Context, entityType EntityType, accountID int64, id string) (*Record, error)

	// FindByAccount returns every local record of a type for one account
	FindByAccount(ctx context.Context, entityType EntityType, accountID int64) ([]Record, error)

	// FindModifiedSince returns records of the given accounts with local_updated_at > since
	FindModifiedSince(ctx context.Context, entityType EntityType, accountIDs []int64, since time.Time) ([]Record, error)

	// Save creates or replaces a record keyed by (entity_type, account_id, id)
	Save(ctx context.Context, record *Record) error

	// SaveBatch saves many records in one transaction
	SaveBatch(ctx context.Context, records []Record) error

	// MarkSynced stamps external_updated_at without touching local_updated_at
	MarkSynced(ctx context.Context, entityType EntityType, accountID int64, id string, at time.Time) error

	// CountByEntityType returns record counts per entity type
	CountByEntityType(ctx context.Context) (map[EntityType]int64, error)
}
