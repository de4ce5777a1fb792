package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edusphere/backend/internal/auth"
	"github.com/edusphere/backend/internal/models"
	"github.com/edusphere/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// JWT returns a middleware that validates the bearer token and sets the caller in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if errors.Is(err, auth.ErrExpiredToken) {
			response.Unauthorized(c, "token expired")
			c.Abort()
			return
		}
		if err != nil {
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// ActorFrom returns the authenticated caller set by JWT. ok is false on unauthenticated routes.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	id, ok := c.Get(ContextUserID)
	if !ok {
		return models.Actor{}, false
	}
	userID, ok := id.(uuid.UUID)
	if !ok {
		return models.Actor{}, false
	}
	role, _ := c.Get(ContextUserRole)
	roleStr, _ := role.(string)
	return models.Actor{UserID: userID, Role: roleStr}, true
}
