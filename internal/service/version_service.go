package service

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/perp-arena/internal/config"
	"github.com/perp-arena/internal/models"
	"github.com/perp-arena/internal/repository"
)

var (
	ErrTagTaken = errors.New("version tag already taken")
)

// VersionService manages the strategy version lifecycle. Each version gets
// a fresh paper account and a frozen copy of the simulation parameters, so
// results stay attributable to exactly one configuration.
type VersionService struct {
	versionRepo *repository.VersionRepository
	simConfig   config.SimConfig
}

// NewVersionService creates a new VersionService
func NewVersionService(versionRepo *repository.VersionRepository, simConfig config.SimConfig) *VersionService {
	return &VersionService{
		versionRepo: versionRepo,
		simConfig:   simConfig,
	}
}

// DeployRequest represents the version deploy request
type DeployRequest struct {
	Tag         string            `json:"tag" binding:"required,min=1,max=50"`
	Description string            `json:"description" binding:"max=500"`
	InitialCash float64           `json:"initial_cash"`
	Config      *config.SimConfig `json:"config"`
}

// Deploy retires the active version and activates a new one atomically.
// The simulation parameters in force (server defaults unless overridden in
// the request) are snapshotted onto the version row.
func (s *VersionService) Deploy(req *DeployRequest, now time.Time) (*models.Version, error) {
	if _, err := s.versionRepo.GetByTag(req.Tag); err == nil {
		return nil, ErrTagTaken
	} else if !errors.Is(err, repository.ErrVersionNotFound) {
		return nil, err
	}

	snapshot := s.simConfig
	if req.Config != nil {
		snapshot = *req.Config
	}
	if len(snapshot.Symbols) == 0 {
		snapshot.Symbols = s.simConfig.Symbols
	}

	initialCash := req.InitialCash
	if initialCash <= 0 {
		initialCash = snapshot.InitialCash
	}
	snapshot.InitialCash = initialCash

	configJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	version := &models.Version{
		Tag:         req.Tag,
		Description: req.Description,
		ConfigJSON:  string(configJSON),
		InitialCash: initialCash,
	}

	if err := s.versionRepo.Deploy(version, now); err != nil {
		return nil, err
	}
	return version, nil
}

// Active returns the currently active version
func (s *VersionService) Active() (*models.Version, error) {
	return s.versionRepo.GetActive()
}

// Retire retires a version without activating a successor
func (s *VersionService) Retire(id uint, now time.Time) error {
	return s.versionRepo.Retire(id, now)
}

// List returns all versions, newest first
func (s *VersionService) List() ([]models.Version, error) {
	return s.versionRepo.List()
}

// GetByTag returns a version by its tag
func (s *VersionService) GetByTag(tag string) (*models.Version, error) {
	return s.versionRepo.GetByTag(tag)
}

// SimConfigFor decodes the simulation parameters frozen on a version,
// falling back to the server defaults if the stored snapshot is unreadable.
func (s *VersionService) SimConfigFor(version *models.Version) config.SimConfig {
	var snapshot config.SimConfig
	if err := json.Unmarshal([]byte(version.ConfigJSON), &snapshot); err != nil {
		return s.simConfig
	}
	return snapshot
}
