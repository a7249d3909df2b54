package middleware

import (
	"context"  // Context for authorization lookups
	"errors"   // Unwrapping typed errors
	"net/http" // HTTP status codes
	"strconv"  // Path parameter parsing

	"tontine_system/internal/tontine" // Engine authorization

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// AccessCheck decides whether a user may act on a tontine
type AccessCheck func(ctx context.Context, tontineID, userID uint) error

// TontineAccessMiddleware lets the request through only when check accepts the
// authenticated user for the tontine named by the :id path parameter
func TontineAccessMiddleware(check AccessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == 0 {
			abort(c, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		tontineID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || tontineID == 0 {
			abort(c, http.StatusBadRequest, "InvalidInput", "invalid tontine id")
			return
		}
		if err := check(c.Request.Context(), uint(tontineID), userID); err != nil {
			var typed *tontine.Error
			switch {
			case errors.As(err, &typed) && typed.Kind == tontine.KindNotFound:
				abort(c, http.StatusNotFound, typed.Code, typed.Reason)
			case errors.As(err, &typed):
				abort(c, http.StatusForbidden, typed.Code, typed.Reason)
			default:
				logrus.WithFields(logrus.Fields{
					"tontine_id": tontineID,
					"user_id":    userID,
					"error":      err.Error(),
				}).Error("Access check failed")
				abort(c, http.StatusInternalServerError, "Internal", "internal error")
			}
			return
		}
		c.Next()
	}
}
