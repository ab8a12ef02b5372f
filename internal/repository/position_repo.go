package repository

import (
	"errors"

	"github.com/perp-arena/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository handles persisted position snapshots. The ledger in
// memory is authoritative; these rows mirror it after each cycle.
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new PositionRepository
func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Upsert writes the position snapshot keyed by (version_id, symbol)
func (r *PositionRepository) Upsert(position *models.Position) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "version_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quantity", "avg_entry", "leverage", "unrealized_pnl",
			"entry_time", "exit_plan_json", "updated_at",
		}),
	}).Create(position).Error
}

// GetByVersionID retrieves all open position snapshots for a version
func (r *PositionRepository) GetByVersionID(versionID uint) ([]models.Position, error) {
	var positions []models.Position
	result := r.db.Where("version_id = ?", versionID).Order("symbol ASC").Find(&positions)
	return positions, result.Error
}

// GetByVersionIDAndSymbol retrieves one position snapshot
func (r *PositionRepository) GetByVersionIDAndSymbol(versionID uint, symbol string) (*models.Position, error) {
	var position models.Position
	result := r.db.Where("version_id = ? AND symbol = ?", versionID, symbol).First(&position)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, result.Error
	}
	return &position, nil
}

// DeleteByVersionIDAndSymbol removes the snapshot once the position is flat
func (r *PositionRepository) DeleteByVersionIDAndSymbol(versionID uint, symbol string) error {
	return r.db.Where("version_id = ? AND symbol = ?", versionID, symbol).
		Delete(&models.Position{}).Error
}

// DeleteByVersionID removes all snapshots for a version
func (r *PositionRepository) DeleteByVersionID(versionID uint) error {
	return r.db.Where("version_id = ?", versionID).Delete(&models.Position{}).Error
}
