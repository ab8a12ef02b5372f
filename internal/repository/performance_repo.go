package repository

import (
	"errors"

	"github.com/perp-arena/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPerformanceNotFound = errors.New("performance not found")
)

// PerformanceRepository handles computed statistics rows
type PerformanceRepository struct {
	db *gorm.DB
}

// NewPerformanceRepository creates a new PerformanceRepository
func NewPerformanceRepository(db *gorm.DB) *PerformanceRepository {
	return &PerformanceRepository{db: db}
}

// Upsert writes the statistics row keyed by version_id
func (r *PerformanceRepository) Upsert(perf *models.VersionPerformance) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "version_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"period_start", "period_end", "total_return_pct", "daily_return_pct",
			"sharpe_ratio", "max_drawdown_pct", "win_rate", "profit_factor",
			"trades_per_day", "total_trades", "return_policy", "degraded", "updated_at",
		}),
	}).Create(perf).Error
}

// GetByVersionID retrieves the statistics row for a version
func (r *PerformanceRepository) GetByVersionID(versionID uint) (*models.VersionPerformance, error) {
	var perf models.VersionPerformance
	result := r.db.Where("version_id = ?", versionID).First(&perf)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPerformanceNotFound
		}
		return nil, result.Error
	}
	return &perf, nil
}

// List retrieves all statistics rows
func (r *PerformanceRepository) List() ([]models.VersionPerformance, error) {
	var perfs []models.VersionPerformance
	result := r.db.Find(&perfs)
	return perfs, result.Error
}
