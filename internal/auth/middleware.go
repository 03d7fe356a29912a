package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	SubjectKey          = "auth_subject"
	RoleKey             = "auth_role"
)

// Roles recognized by the administration endpoints.
const (
	RoleAdmin   = "admin"
	RoleRiskOps = "risk-ops"
)

// Middleware creates a Gin middleware for JWT authentication.
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid authorization header format",
			})
			return
		}

		claims, err := jwtManager.ValidateToken(strings.TrimPrefix(authHeader, BearerPrefix))
		if err != nil {
			message := "invalid token"
			if err == ErrExpiredToken {
				message = "token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": message,
			})
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole creates a Gin middleware for role-based access control.
func RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(RoleKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "role not found in context",
			})
			return
		}

		userRole := role.(string)
		for _, allowed := range allowedRoles {
			if userRole == allowed {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "insufficient permissions",
		})
	}
}

// SubjectFromContext extracts the authenticated subject from the Gin
// context.
func SubjectFromContext(c *gin.Context) string {
	if subject, exists := c.Get(SubjectKey); exists {
		return subject.(string)
	}
	return ""
}
