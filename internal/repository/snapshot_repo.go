package repository

import (
	"time"

	"github.com/perp-arena/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotRepository handles equity snapshot data access
type SnapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a new SnapshotRepository
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Upsert writes a snapshot keyed by (version_id, ts). Timestamps are
// truncated by the caller, so a cycle retried inside the same minute
// overwrites its own row instead of duplicating it.
func (r *SnapshotRepository) Upsert(snapshot *models.EquitySnapshot) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "version_id"}, {Name: "ts"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"equity", "cash", "unrealized_pnl", "realized_pnl", "fees", "funding",
		}),
	}).Create(snapshot).Error
}

// GetByVersionID retrieves the full equity curve for a version in time order
func (r *SnapshotRepository) GetByVersionID(versionID uint) ([]models.EquitySnapshot, error) {
	var snapshots []models.EquitySnapshot
	result := r.db.Where("version_id = ?", versionID).Order("ts ASC").Find(&snapshots)
	return snapshots, result.Error
}

// GetByVersionIDRange retrieves snapshots within [from, to] in time order
func (r *SnapshotRepository) GetByVersionIDRange(versionID uint, from, to time.Time) ([]models.EquitySnapshot, error) {
	var snapshots []models.EquitySnapshot
	result := r.db.Where("version_id = ? AND ts >= ? AND ts <= ?", versionID, from, to).
		Order("ts ASC").
		Find(&snapshots)
	return snapshots, result.Error
}

// GetLatest retrieves the most recent snapshot for a version
func (r *SnapshotRepository) GetLatest(versionID uint) (*models.EquitySnapshot, error) {
	var snapshot models.EquitySnapshot
	result := r.db.Where("version_id = ?", versionID).Order("ts DESC").First(&snapshot)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, result.Error
	}
	return &snapshot, nil
}
