package repository

import (
	"time"

	"github.com/perp-arena/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FillRepository handles append-only fill log access
type FillRepository struct {
	db *gorm.DB
}

// NewFillRepository creates a new FillRepository
func NewFillRepository(db *gorm.DB) *FillRepository {
	return &FillRepository{db: db}
}

// Create appends a fill. The unique client_order_id makes the write
// idempotent: replaying the same fill is a silent no-op, never a duplicate.
func (r *FillRepository) Create(fill *models.Fill) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_order_id"}},
		DoNothing: true,
	}).Create(fill).Error
}

// GetByVersionID retrieves all fills for a version in execution order
func (r *FillRepository) GetByVersionID(versionID uint) ([]models.Fill, error) {
	var fills []models.Fill
	result := r.db.Where("version_id = ?", versionID).
		Order("executed_at ASC, id ASC").
		Find(&fills)
	return fills, result.Error
}

// GetByVersionIDAndSymbol retrieves fills for one symbol in execution order
func (r *FillRepository) GetByVersionIDAndSymbol(versionID uint, symbol string) ([]models.Fill, error) {
	var fills []models.Fill
	result := r.db.Where("version_id = ? AND symbol = ?", versionID, symbol).
		Order("executed_at ASC, id ASC").
		Find(&fills)
	return fills, result.Error
}

// GetByVersionIDUpTo retrieves fills executed at or before ts, so analytics
// can be replayed against a consistent point in time
func (r *FillRepository) GetByVersionIDUpTo(versionID uint, ts time.Time) ([]models.Fill, error) {
	var fills []models.Fill
	result := r.db.Where("version_id = ? AND executed_at <= ?", versionID, ts).
		Order("executed_at ASC, id ASC").
		Find(&fills)
	return fills, result.Error
}

// GetByVersionIDPaginated retrieves fills with pagination, newest first
func (r *FillRepository) GetByVersionIDPaginated(versionID uint, page, pageSize int) ([]models.Fill, int64, error) {
	var fills []models.Fill
	var total int64

	if err := r.db.Model(&models.Fill{}).Where("version_id = ?", versionID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	result := r.db.Where("version_id = ?", versionID).
		Order("executed_at DESC, id DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&fills)

	return fills, total, result.Error
}

// CountByVersionID counts fills for a version
func (r *FillRepository) CountByVersionID(versionID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Fill{}).Where("version_id = ?", versionID).Count(&count).Error
	return count, err
}
