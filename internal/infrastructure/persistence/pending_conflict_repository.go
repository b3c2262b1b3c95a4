package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sellersync/backend/internal/domain/integration"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PendingConflictModel is the GORM model for conflicts held for review
type PendingConflictModel struct {
	ID              uuid.UUID                              `gorm:"type:uuid;primaryKey"`
	UserID          string                                 `gorm:"type:varchar(100);index:idx_pending_open;not null"`
	EntityType      string                                 `gorm:"type:varchar(32);index:idx_pending_open;not null"`
	AccountID       int64                                  `gorm:"index:idx_pending_open;not null"`
	RecordID        string                                 `gorm:"type:varchar(200);index:idx_pending_open;not null"`
	Status          string                                 `gorm:"type:varchar(20);index:idx_pending_open;not null"`
	Resolution      string                                 `gorm:"type:varchar(32)"`
	LocalVersion    datatypes.JSONType[integration.Record] `gorm:"not null"`
	ExternalVersion datatypes.JSONType[integration.Record] `gorm:"not null"`
	DetectedAt      time.Time                              `gorm:"not null"`
	ResolvedAt      *time.Time
}

// TableName returns the table name for the model
func (PendingConflictModel) TableName() string {
	return "sync_pending_conflicts"
}

// ToEntity converts the model to a domain entity
func (m *PendingConflictModel) ToEntity() integration.PendingConflict {
	return integration.PendingConflict{
		ID:              m.ID,
		UserID:          m.UserID,
		EntityType:      integration.EntityType(m.EntityType),
		AccountID:       m.AccountID,
		RecordID:        m.RecordID,
		LocalVersion:    m.LocalVersion.Data(),
		ExternalVersion: m.ExternalVersion.Data(),
		Status:          integration.PendingConflictStatus(m.Status),
		Resolution:      integration.ResolutionAction(m.Resolution),
		DetectedAt:      m.DetectedAt,
		ResolvedAt:      m.ResolvedAt,
	}
}

// PendingConflictModelFromEntity creates a model from a domain entity
func PendingConflictModelFromEntity(p *integration.PendingConflict) *PendingConflictModel {
	return &PendingConflictModel{
		ID:              p.ID,
		UserID:          p.UserID,
		EntityType:      string(p.EntityType),
		AccountID:       p.AccountID,
		RecordID:        p.RecordID,
		Status:          string(p.Status),
		Resolution:      string(p.Resolution),
		LocalVersion:    datatypes.NewJSONType(p.LocalVersion),
		ExternalVersion: datatypes.NewJSONType(p.ExternalVersion),
		DetectedAt:      p.DetectedAt.UTC(),
		ResolvedAt:      p.ResolvedAt,
	}
}

// PendingConflictRepository implements integration.PendingConflictRepository
type PendingConflictRepository struct {
	db *gorm.DB
}

// NewPendingConflictRepository creates a new pending conflict repository
func NewPendingConflictRepository(db *gorm.DB) *PendingConflictRepository {
	return &PendingConflictRepository{db: db}
}

// Hold stores an open item, replacing the versions of an existing open
// item for the same record. item.ID is set to the stored ID.
func (r *PendingConflictRepository) Hold(ctx context.Context, item *integration.PendingConflict) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing PendingConflictModel
		err := tx.Where("user_id = ? AND entity_type = ? AND account_id = ? AND record_id = ? AND status = ?",
			item.UserID, string(item.EntityType), item.AccountID, item.RecordID, string(integration.PendingConflictOpen)).
			First(&existing).Error
		switch {
		case err == nil:
			item.ID = existing.ID
			return tx.Model(&existing).Updates(map[string]any{
				"local_version":    datatypes.NewJSONType(item.LocalVersion),
				"external_version": datatypes.NewJSONType(item.ExternalVersion),
				"detected_at":      item.DetectedAt.UTC(),
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			if item.ID == uuid.Nil {
				item.ID = uuid.New()
			}
			item.Status = integration.PendingConflictOpen
			return tx.Create(PendingConflictModelFromEntity(item)).Error
		default:
			return err
		}
	})
}

// FindByID finds an item by ID
func (r *PendingConflictRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.PendingConflict, error) {
	var model PendingConflictModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrPendingConflictNotFound
		}
		return nil, err
	}
	item := model.ToEntity()
	return &item, nil
}

// ListOpen returns the open items of a user, oldest first
func (r *PendingConflictRepository) ListOpen(ctx context.Context, userID string) ([]integration.PendingConflict, error) {
	var models []PendingConflictModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(integration.PendingConflictOpen)).
		Order("detected_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]integration.PendingConflict, len(models))
	for i := range models {
		out[i] = models[i].ToEntity()
	}
	return out, nil
}

// Save updates the status and resolution of an item
func (r *PendingConflictRepository) Save(ctx context.Context, item *integration.PendingConflict) error {
	result := r.db.WithContext(ctx).
		Model(&PendingConflictModel{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"status":      string(item.Status),
			"resolution":  string(item.Resolution),
			"resolved_at": item.ResolvedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrPendingConflictNotFound
	}
	return nil
}

var _ integration.PendingConflictRepository = (*PendingConflictRepository)(nil)
