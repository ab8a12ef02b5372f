package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/perp-arena/internal/service"
	"github.com/perp-arena/pkg/response"
)

// AuthHandler handles admin token API requests
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// IssueToken exchanges the admin key for a bearer token
// POST /api/v1/auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req service.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	token, err := h.authService.IssueToken(&req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAdminKey) {
			response.Unauthorized(c, "invalid admin key")
			return
		}
		response.InternalError(c, "failed to issue token")
		return
	}

	response.OK(c, token)
}
