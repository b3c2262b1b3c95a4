package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sellersync/backend/internal/domain/integration"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncCursorModel is the GORM model for per (account, table) read positions
type SyncCursorModel struct {
	AccountID    int64     `gorm:"primaryKey;autoIncrement:false"`
	LogicalTable string    `gorm:"type:varchar(64);primaryKey"`
	LastPosition int       `gorm:"not null;default:0"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (SyncCursorModel) TableName() string {
	return "sync_cursors"
}

// ToEntity converts the model to a domain entity
func (m *SyncCursorModel) ToEntity() integration.SyncCursor {
	return integration.SyncCursor{
		AccountID:    m.AccountID,
		LogicalTable: m.LogicalTable,
		LastPosition: m.LastPosition,
		UpdatedAt:    m.UpdatedAt,
	}
}

// SyncCursorRepository implements integration.SyncCursorRepository
type SyncCursorRepository struct {
	db *gorm.DB
}

// NewSyncCursorRepository creates a new cursor repository
func NewSyncCursorRepository(db *gorm.DB) *SyncCursorRepository {
	return &SyncCursorRepository{db: db}
}

// Get returns the stored cursor or a zero cursor
func (r *SyncCursorRepository) Get(ctx context.Context, accountID int64, table string) (integration.SyncCursor, error) {
	var model SyncCursorModel
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND logical_table = ?", accountID, table).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return integration.SyncCursor{AccountID: accountID, LogicalTable: table}, nil
		}
		return integration.SyncCursor{}, err
	}
	return model.ToEntity(), nil
}

// Save upserts the cursor position
func (r *SyncCursorRepository) Save(ctx context.Context, cursor integration.SyncCursor) error {
	model := SyncCursorModel{
		AccountID:    cursor.AccountID,
		LogicalTable: cursor.LogicalTable,
		LastPosition: cursor.LastPosition,
		UpdatedAt:    time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "logical_table"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_position", "updated_at"}),
	}).Create(&model).Error
}

// ListByAccount returns all cursors of an account ordered by table name
func (r *SyncCursorRepository) ListByAccount(ctx context.Context, accountID int64) ([]integration.SyncCursor, error) {
	var models []SyncCursorModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("logical_table").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]integration.SyncCursor, len(models))
	for i := range models {
		out[i] = models[i].ToEntity()
	}
	return out, nil
}

var _ integration.SyncCursorRepository = (*SyncCursorRepository)(nil)
