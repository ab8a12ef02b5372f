package repository

import (
	"errors"
	"time"

	"github.com/perp-arena/internal/models"
	"gorm.io/gorm"
)

var (
	ErrVersionNotFound = errors.New("version not found")
	ErrNoActiveVersion = errors.New("no active version")
)

// VersionRepository handles strategy version data access
type VersionRepository struct {
	db *gorm.DB
}

// NewVersionRepository creates a new VersionRepository
func NewVersionRepository(db *gorm.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// GetByID retrieves a version by ID
func (r *VersionRepository) GetByID(id uint) (*models.Version, error) {
	var version models.Version
	result := r.db.First(&version, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, result.Error
	}
	return &version, nil
}

// GetByTag retrieves a version by its unique tag
func (r *VersionRepository) GetByTag(tag string) (*models.Version, error) {
	var version models.Version
	result := r.db.Where("tag = ?", tag).First(&version)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, result.Error
	}
	return &version, nil
}

// GetActive retrieves the version currently accumulating activity
func (r *VersionRepository) GetActive() (*models.Version, error) {
	var version models.Version
	result := r.db.Where("retired_at IS NULL").Order("deployed_at DESC").First(&version)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveVersion
		}
		return nil, result.Error
	}
	return &version, nil
}

// List retrieves all versions, newest deployment first
func (r *VersionRepository) List() ([]models.Version, error) {
	var versions []models.Version
	result := r.db.Order("deployed_at DESC").Find(&versions)
	return versions, result.Error
}

// Deploy retires the active version (if any) and inserts the new one in a
// single transaction, keeping activity intervals contiguous and the
// at-most-one-active invariant intact.
func (r *VersionRepository) Deploy(version *models.Version, now time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Version{}).
			Where("retired_at IS NULL").
			Update("retired_at", now)
		if result.Error != nil {
			return result.Error
		}
		version.DeployedAt = now
		return tx.Create(version).Error
	})
}

// Retire marks a version as retired without activating a successor
func (r *VersionRepository) Retire(id uint, now time.Time) error {
	result := r.db.Model(&models.Version{}).
		Where("id = ? AND retired_at IS NULL", id).
		Update("retired_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionNotFound
	}
	return nil
}
