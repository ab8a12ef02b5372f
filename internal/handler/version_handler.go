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

// VersionHandler handles strategy version API requests
type VersionHandler struct {
	versionService *service.VersionService
}

// NewVersionHandler creates a new VersionHandler
func NewVersionHandler(versionService *service.VersionService) *VersionHandler {
	return &VersionHandler{
		versionService: versionService,
	}
}

// Deploy activates a new version, retiring the current one
// POST /api/v1/versions
func (h *VersionHandler) Deploy(c *gin.Context) {
	var req service.DeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	version, err := h.versionService.Deploy(&req, time.Now().UTC())
	if err != nil {
		if errors.Is(err, service.ErrTagTaken) {
			response.Conflict(c, "version tag already taken")
			return
		}
		response.InternalError(c, "failed to deploy version")
		return
	}

	response.Created(c, version)
}

// Retire retires a version without activating a successor
// POST /api/v1/versions/:id/retire
func (h *VersionHandler) Retire(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid version id")
		return
	}

	if err := h.versionService.Retire(uint(id), time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrVersionNotFound) {
			response.NotFound(c, "version not found or already retired")
			return
		}
		response.InternalError(c, "failed to retire version")
		return
	}

	response.OK(c, gin.H{"retired": id})
}

// List returns all versions, newest first
// GET /api/v1/versions
func (h *VersionHandler) List(c *gin.Context) {
	versions, err := h.versionService.List()
	if err != nil {
		response.InternalError(c, "failed to list versions")
		return
	}
	response.OK(c, versions)
}

// Active returns the currently active version
// GET /api/v1/versions/active
func (h *VersionHandler) Active(c *gin.Context) {
	version, err := h.versionService.Active()
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveVersion) {
			response.NotFound(c, "no active version")
			return
		}
		response.InternalError(c, "failed to load active version")
		return
	}
	response.OK(c, version)
}
