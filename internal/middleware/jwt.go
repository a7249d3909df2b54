package middleware

import (
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"tontine_system/internal/utils" // JWT utility functions

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "userID"

// JWTAuthMiddleware validates JWT tokens and extracts user information
func JWTAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			abort(c, http.StatusUnauthorized, "Unauthorized", "missing or invalid Authorization header")
			return
		}
		claims, err := utils.ParseJWT(strings.TrimPrefix(authHeader, "Bearer "), secret)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"path":  c.FullPath(),
				"error": err.Error(),
			}).Debug("Rejected token")
			abort(c, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
			return
		}
		c.Set(UserIDKey, claims.UserID) // Store userID in context
		c.Next()
	}
}

// UserID returns the authenticated user id set by JWTAuthMiddleware
func UserID(c *gin.Context) uint {
	return c.GetUint(UserIDKey)
}

func abort(c *gin.Context, status int, code, reason string) {
	kind := "authorization"
	if status == http.StatusNotFound {
		kind = "not_found"
	} else if status >= http.StatusInternalServerError {
		kind = "internal"
	} else if status == http.StatusBadRequest {
		kind = "validation"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"kind": kind, "code": code, "reason": reason}})
}
