package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/perp-arena/pkg/response"
	"github.com/perp-arena/pkg/token"
)

const (
	// ContextKeySubject is the key for the authenticated subject in gin context
	ContextKeySubject = "subject"
)

// AuthMiddleware guards admin routes with a bearer JWT.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := token.Parse(secret, parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextKeySubject, claims.Subject)
		c.Next()
	}
}

// GetSubject gets the authenticated subject from the gin context
func GetSubject(c *gin.Context) string {
	subject, exists := c.Get(ContextKeySubject)
	if !exists {
		return ""
	}
	return subject.(string)
}
