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

// ActivityLogModel is the GORM model for sync history entries
type ActivityLogModel struct {
	ID         uuid.UUID                          `gorm:"type:uuid;primaryKey"`
	UserID     string                             `gorm:"type:varchar(100);index;not null"`
	Action     string                             `gorm:"type:varchar(20);not null"`
	EntityType string                             `gorm:"type:varchar(200);not null"`
	Success    bool                               `gorm:"not null"`
	DryRun     bool                               `gorm:"not null;default:false"`
	Counts     datatypes.JSONType[map[string]int] `gorm:"not null"`
	Error      *string                            `gorm:"type:text"`
	StartedAt  time.Time                          `gorm:"index;not null"`
	CreatedAt  time.Time                          `gorm:"index;not null"`
}

// TableName returns the table name for the model
func (ActivityLogModel) TableName() string {
	return "sync_activity_logs"
}

// ToEntity converts the model to a domain entity
func (m *ActivityLogModel) ToEntity() integration.ActivityLogEntry {
	counts := m.Counts.Data()
	if counts == nil {
		counts = make(map[string]int)
	}
	return integration.ActivityLogEntry{
		ID:         m.ID,
		UserID:     m.UserID,
		Action:     integration.SyncAction(m.Action),
		EntityType: m.EntityType,
		Success:    m.Success,
		DryRun:     m.DryRun,
		Counts:     counts,
		Error:      m.Error,
		StartedAt:  m.StartedAt,
		CreatedAt:  m.CreatedAt,
	}
}

// ActivityLogModelFromEntity creates a model from a domain entity
func ActivityLogModelFromEntity(e *integration.ActivityLogEntry) *ActivityLogModel {
	return &ActivityLogModel{
		ID:         e.ID,
		UserID:     e.UserID,
		Action:     string(e.Action),
		EntityType: e.EntityType,
		Success:    e.Success,
		DryRun:     e.DryRun,
		Counts:     datatypes.NewJSONType(e.Counts),
		Error:      e.Error,
		StartedAt:  e.StartedAt.UTC(),
		CreatedAt:  e.CreatedAt.UTC(),
	}
}

// ActivityLogRepository implements integration.ActivityLogRepository
type ActivityLogRepository struct {
	db *gorm.DB
}

// NewActivityLogRepository creates a new activity log repository
func NewActivityLogRepository(db *gorm.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// Append inserts a new entry
func (r *ActivityLogRepository) Append(ctx context.Context, entry *integration.ActivityLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(ActivityLogModelFromEntity(entry)).Error
}

// entityTypeScope matches an entry whose comma separated entity list contains e
func entityTypeScope(e integration.EntityType) func(*gorm.DB) *gorm.DB {
	v := string(e)
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(entity_type = ? OR entity_type LIKE ? OR entity_type LIKE ? OR entity_type LIKE ?)",
			v, v+",%", "%,"+v, "%,"+v+",%")
	}
}

// LastSuccessful returns the newest successful non dry-run entry for the
// entity type, ordered by the time the pass started.
func (r *ActivityLogRepository) LastSuccessful(ctx context.Context, userID string, entityType integration.EntityType, actions ...integration.SyncAction) (*integration.ActivityLogEntry, error) {
	if len(actions) == 0 {
		actions = integration.WatermarkActions(integration.DirectionBidirectional)
	}
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}

	var model ActivityLogModel
	err := r.db.WithContext(ctx).
		Scopes(entityTypeScope(entityType)).
		Where("user_id = ? AND success = ? AND dry_run = ?", userID, true, false).
		Where("action IN ?", names).
		Order("started_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	entry := model.ToEntity()
	return &entry, nil
}

// List returns one page of entries, newest first by default
func (r *ActivityLogRepository) List(ctx context.Context, filter integration.ActivityLogFilter) ([]integration.ActivityLogEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&ActivityLogModel{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.EntityType != "" {
		query = query.Scopes(entityTypeScope(filter.EntityType))
	}
	if filter.Action != "" {
		query = query.Where("action = ?", string(filter.Action))
	}
	if filter.OnlyFailed {
		query = query.Where("success = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}

	var models []ActivityLogModel
	sortBy := ValidateSortField(filter.SortBy, ActivityLogSortFields, "created_at")
	order := sortBy + " " + ValidateSortOrder(filter.SortOrder)
	if sortBy != "id" {
		order += ", id " + ValidateSortOrder(filter.SortOrder)
	}
	if err := query.Order(order).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	entries := make([]integration.ActivityLogEntry, len(models))
	for i := range models {
		entries[i] = models[i].ToEntity()
	}
	return entries, total, nil
}

// DeleteOlderThan removes entries created before cutoff
func (r *ActivityLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&ActivityLogModel{})
	return result.RowsAffected, result.Error
}

var _ integration.ActivityLogRepository = (*ActivityLogRepository)(nil)
