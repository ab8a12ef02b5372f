package service

import (
	"errors"
	"time"

	"github.com/perp-arena/internal/analytics"
	"github.com/perp-arena/internal/middleware"
	"github.com/perp-arena/internal/models"
	"github.com/perp-arena/internal/reconcile"
	"github.com/perp-arena/internal/repository"
)

// ReportService serves read-side queries: equity curves, positions, the
// fill log, reconstructed round trips, per-version statistics and the
// leaderboard. It also owns the analytics recompute used by the engine.
type ReportService struct {
	versionRepo  *repository.VersionRepository
	fillRepo     *repository.FillRepository
	positionRepo *repository.PositionRepository
	snapshotRepo *repository.SnapshotRepository
	perfRepo     *repository.PerformanceRepository
	policy       analytics.ReturnPolicy
}

// NewReportService creates a new ReportService
func NewReportService(
	versionRepo *repository.VersionRepository,
	fillRepo *repository.FillRepository,
	positionRepo *repository.PositionRepository,
	snapshotRepo *repository.SnapshotRepository,
	perfRepo *repository.PerformanceRepository,
) *ReportService {
	return &ReportService{
		versionRepo:  versionRepo,
		fillRepo:     fillRepo,
		positionRepo: positionRepo,
		snapshotRepo: snapshotRepo,
		perfRepo:     perfRepo,
		policy:       analytics.SimpleMean{},
	}
}

// EquityCurve returns the full equity curve for a version
func (s *ReportService) EquityCurve(versionID uint) ([]models.EquitySnapshot, error) {
	return s.snapshotRepo.GetByVersionID(versionID)
}

// Positions returns the persisted open positions for a version
func (s *ReportService) Positions(versionID uint) ([]models.Position, error) {
	return s.positionRepo.GetByVersionID(versionID)
}

// Fills returns a page of the fill log, newest first
func (s *ReportService) Fills(versionID uint, page, pageSize int) ([]models.Fill, int64, error) {
	return s.fillRepo.GetByVersionIDPaginated(versionID, page, pageSize)
}

// RoundTrips reconstructs completed trades from the fill log. The degraded
// flag reports a fill log that failed to reconcile; the trips produced
// before the failure are still returned.
func (s *ReportService) RoundTrips(versionID uint) ([]reconcile.RoundTrip, bool, error) {
	fills, err := s.fillRepo.GetByVersionID(versionID)
	if err != nil {
		return nil, false, err
	}

	trips, err := reconcile.Reconcile(fills)
	if err != nil {
		if errors.Is(err, reconcile.ErrInconsistent) {
			middleware.LogError("reconciliation failed for version %d: %v", versionID, err)
			return trips, true, nil
		}
		return nil, false, err
	}
	return trips, false, nil
}

// Performance returns the stored statistics row for a version
func (s *ReportService) Performance(versionID uint) (*models.VersionPerformance, error) {
	return s.perfRepo.GetByVersionID(versionID)
}

// RecomputePerformance rebuilds a version's statistics from its equity
// snapshots and fill log, and upserts the result. The fill log is read up
// to a fixed timestamp so the recompute stays consistent while the engine
// keeps appending.
func (s *ReportService) RecomputePerformance(version *models.Version, now time.Time) (*models.VersionPerformance, error) {
	snapshots, err := s.snapshotRepo.GetByVersionID(version.ID)
	if err != nil {
		return nil, err
	}

	fills, err := s.fillRepo.GetByVersionIDUpTo(version.ID, now)
	if err != nil {
		return nil, err
	}

	trips, err := reconcile.Reconcile(fills)
	degraded := false
	if err != nil {
		if !errors.Is(err, reconcile.ErrInconsistent) {
			return nil, err
		}
		middleware.LogError("reconciliation failed for version %d: %v", version.ID, err)
		degraded = true
	}

	perf := analytics.Compute(version, snapshots, trips, s.policy, degraded, now)
	if err := s.perfRepo.Upsert(&perf); err != nil {
		return nil, err
	}
	return &perf, nil
}

// Leaderboard ranks all versions meeting the minimum scored duration.
func (s *ReportService) Leaderboard(minDuration time.Duration) ([]analytics.LeaderboardEntry, error) {
	versions, err := s.versionRepo.List()
	if err != nil {
		return nil, err
	}
	perfs, err := s.perfRepo.List()
	if err != nil {
		return nil, err
	}

	byVersion := make(map[uint]models.VersionPerformance, len(perfs))
	for _, p := range perfs {
		byVersion[p.VersionID] = p
	}

	entries := make([]analytics.LeaderboardEntry, 0, len(versions))
	for _, v := range versions {
		perf, ok := byVersion[v.ID]
		if !ok {
			continue // not scored yet
		}
		entries = append(entries, analytics.LeaderboardEntry{Version: v, Performance: perf})
	}

	return analytics.Leaderboard(entries, minDuration), nil
}
