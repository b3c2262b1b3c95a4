package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sellersync/backend/internal/domain/integration"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordModel is the GORM model for local business records.
// A record is keyed by (entity_type, account_id, record_id).
type RecordModel struct {
	EntityType        string            `gorm:"type:varchar(32);primaryKey"`
	AccountID         int64             `gorm:"primaryKey;autoIncrement:false"`
	RecordID          string            `gorm:"type:varchar(200);primaryKey"`
	Payload           datatypes.JSONMap `gorm:"not null"`
	LocalUpdatedAt    time.Time         `gorm:"index;not null"`
	ExternalUpdatedAt *time.Time
	RowNumber         int `gorm:"not null;default:0"`
}

// TableName returns the table name for the model
func (RecordModel) TableName() string {
	return "sync_records"
}

// ToEntity converts the model to a domain entity
func (m *RecordModel) ToEntity() integration.Record {
	payload := make(map[string]any, len(m.Payload))
	for k, v := range m.Payload {
		payload[k] = v
	}
	rec := integration.Record{
		ID:             m.RecordID,
		EntityType:     integration.EntityType(m.EntityType),
		AccountID:      m.AccountID,
		Payload:        payload,
		LocalUpdatedAt: m.LocalUpdatedAt.UTC(),
		RowNumber:      m.RowNumber,
	}
	if m.ExternalUpdatedAt != nil {
		t := m.ExternalUpdatedAt.UTC()
		rec.ExternalUpdatedAt = &t
	}
	return rec
}

// RecordModelFromEntity creates a model from a domain entity
func RecordModelFromEntity(r *integration.Record) *RecordModel {
	payload := make(datatypes.JSONMap, len(r.Payload))
	for k, v := range r.Payload {
		payload[k] = v
	}
	m := &RecordModel{
		EntityType:     string(r.EntityType),
		AccountID:      r.AccountID,
		RecordID:       r.ID,
		Payload:        payload,
		LocalUpdatedAt: r.LocalUpdatedAt.UTC(),
		RowNumber:      r.RowNumber,
	}
	if r.ExternalUpdatedAt != nil {
		t := r.ExternalUpdatedAt.UTC()
		m.ExternalUpdatedAt = &t
	}
	return m
}

// RecordRepository implements integration.RecordRepository
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// FindByID finds a record by its natural key
func (r *RecordRepository) FindByID(ctx context.Context, entityType integration.EntityType, accountID int64, id string) (*integration.Record, error) {
	var model RecordModel
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND account_id = ? AND record_id = ?", string(entityType), accountID, id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrRecordNotFound
		}
		return nil, err
	}
	rec := model.ToEntity()
	return &rec, nil
}

// FindByAccount returns every record of a type for an account ordered by id
func (r *RecordRepository) FindByAccount(ctx context.Context, entityType integration.EntityType, accountID int64) ([]integration.Record, error) {
	var models []RecordModel
	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND account_id = ?", string(entityType), accountID).
		Order("record_id").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toRecords(models), nil
}

// FindModifiedSince returns records changed locally after since.
// An empty accountIDs slice means every account.
func (r *RecordRepository) FindModifiedSince(ctx context.Context, entityType integration.EntityType, accountIDs []int64, since time.Time) ([]integration.Record, error) {
	query := r.db.WithContext(ctx).
		Where("entity_type = ? AND local_updated_at > ?", string(entityType), since.UTC())
	if len(accountIDs) > 0 {
		query = query.Where("account_id IN ?", accountIDs)
	}

	var models []RecordModel
	if err := query.Order("account_id, record_id").Find(&models).Error; err != nil {
		return nil, err
	}
	return toRecords(models), nil
}

func upsertRecords(db *gorm.DB, models any) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}, {Name: "account_id"}, {Name: "record_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"payload", "local_updated_at", "external_updated_at", "row_number",
		}),
	}).Create(models).Error
}

// Save creates or replaces a record
func (r *RecordRepository) Save(ctx context.Context, record *integration.Record) error {
	return upsertRecords(r.db.WithContext(ctx), RecordModelFromEntity(record))
}

// SaveBatch saves records in one transaction
func (r *RecordRepository) SaveBatch(ctx context.Context, records []integration.Record) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]*RecordModel, len(records))
	for i := range records {
		models[i] = RecordModelFromEntity(&records[i])
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertRecords(tx, models)
	})
}

// MarkSynced stamps the external timestamp of a record
func (r *RecordRepository) MarkSynced(ctx context.Context, entityType integration.EntityType, accountID int64, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&RecordModel{}).
		Where("entity_type = ? AND account_id = ? AND record_id = ?", string(entityType), accountID, id).
		Update("external_updated_at", at.UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrRecordNotFound
	}
	return nil
}

// CountByEntityType returns the number of records per entity type
func (r *RecordRepository) CountByEntityType(ctx context.Context) (map[integration.EntityType]int64, error) {
	var rows []struct {
		EntityType string
		Total      int64
	}
	if err := r.db.WithContext(ctx).
		Model(&RecordModel{}).
		Select("entity_type, COUNT(*) AS total").
		Group("entity_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[integration.EntityType]int64, len(rows))
	for _, row := range rows {
		counts[integration.EntityType(row.EntityType)] = row.Total
	}
	return counts, nil
}

func toRecords(models []RecordModel) []integration.Record {
	out := make([]integration.Record, len(models))
	for i := range models {
		out[i] = models[i].ToEntity()
	}
	return out
}

var _ integration.RecordRepository = (*RecordRepository)(nil)
