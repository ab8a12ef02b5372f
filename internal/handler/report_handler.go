package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/perp-arena/internal/repository"
	"github.com/perp-arena/internal/service"
	"github.com/perp-arena/pkg/response"
)

// defaultMinLeaderboardHours filters out versions that have not run long
// enough to produce meaningful statistics.
const defaultMinLeaderboardHours = 6.0

// ReportHandler handles read-side API requests
type ReportHandler struct {
	reportService *service.ReportService
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(reportService *service.ReportService) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
	}
}

func parseVersionID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid version id")
		return 0, false
	}
	return uint(id), true
}

// EquityCurve returns the equity snapshots for a version in time order
// GET /api/v1/versions/:id/equity-curve
func (h *ReportHandler) EquityCurve(c *gin.Context) {
	versionID, ok := parseVersionID(c)
	if !ok {
		return
	}

	snapshots, err := h.reportService.EquityCurve(versionID)
	if err != nil {
		response.InternalError(c, "failed to load equity curve")
		return
	}
	response.OK(c, snapshots)
}

// Positions returns the open positions for a version
// GET /api/v1/versions/:id/positions
func (h *ReportHandler) Positions(c *gin.Context) {
	versionID, ok := parseVersionID(c)
	if !ok {
		return
	}

	positions, err := h.reportService.Positions(versionID)
	if err != nil {
		response.InternalError(c, "failed to load positions")
		return
	}
	response.OK(c, positions)
}

// Fills returns a page of the fill log, newest first
// GET /api/v1/versions/:id/fills?page=1&page_size=50
func (h *ReportHandler) Fills(c *gin.Context) {
	versionID, ok := parseVersionID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	fills, total, err := h.reportService.Fills(versionID, page, pageSize)
	if err != nil {
		response.InternalError(c, "failed to load fills")
		return
	}
	response.OKPaginated(c, fills, total, page, pageSize)
}

// RoundTrips returns the completed trades reconstructed from the fill log
// GET /api/v1/versions/:id/round-trips
func (h *ReportHandler) RoundTrips(c *gin.Context) {
	versionID, ok := parseVersionID(c)
	if !ok {
		return
	}

	trips, degraded, err := h.reportService.RoundTrips(versionID)
	if err != nil {
		response.InternalError(c, "failed to reconcile fills")
		return
	}
	response.OK(c, gin.H{
		"round_trips": trips,
		"degraded":    degraded,
	})
}

// Performance returns the computed statistics for a version
// GET /api/v1/versions/:id/performance
func (h *ReportHandler) Performance(c *gin.Context) {
	versionID, ok := parseVersionID(c)
	if !ok {
		return
	}

	perf, err := h.reportService.Performance(versionID)
	if err != nil {
		if errors.Is(err, repository.ErrPerformanceNotFound) {
			response.NotFound(c, "version not scored yet")
			return
		}
		response.InternalError(c, "failed to load performance")
		return
	}
	response.OK(c, perf)
}

// Leaderboard ranks versions by Sharpe ratio
// GET /api/v1/leaderboard?min_hours=6
func (h *ReportHandler) Leaderboard(c *gin.Context) {
	minHours, err := strconv.ParseFloat(c.DefaultQuery("min_hours", ""), 64)
	if err != nil || minHours < 0 {
		minHours = defaultMinLeaderboardHours
	}

	entries, err := h.reportService.Leaderboard(time.Duration(minHours * float64(time.Hour)))
	if err != nil {
		response.InternalError(c, "failed to build leaderboard")
		return
	}
	response.OK(c, entries)
}
