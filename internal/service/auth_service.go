package service

import (
	"errors"
	"time"

	"github.com/perp-arena/internal/config"
	"github.com/perp-arena/pkg/token"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidAdminKey = errors.New("invalid admin key")
)

// AuthService exchanges the admin key for a short-lived bearer token.
// Deploying and retiring versions are the only mutating admin operations,
// so a single shared key is enough; the key itself is never stored, only
// its bcrypt hash.
type AuthService struct {
	authConfig config.AuthConfig
}

// NewAuthService creates a new AuthService
func NewAuthService(authConfig config.AuthConfig) *AuthService {
	return &AuthService{authConfig: authConfig}
}

// TokenRequest represents the token issue request
type TokenRequest struct {
	AdminKey string `json:"admin_key" binding:"required"`
}

// TokenResponse represents the issued bearer token
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// IssueToken validates the admin key and returns a signed JWT
func (s *AuthService) IssueToken(req *TokenRequest) (*TokenResponse, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(s.authConfig.AdminKeyHash), []byte(req.AdminKey)); err != nil {
		return nil, ErrInvalidAdminKey
	}

	ttl := time.Duration(s.authConfig.ExpireHours) * time.Hour
	signed, err := token.Sign(s.authConfig.JWTSecret, "admin", ttl)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   s.authConfig.ExpireHours * 3600,
	}, nil
}
