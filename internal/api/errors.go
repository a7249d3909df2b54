package api

import (
	"errors"   // Unwrapping typed errors
	"net/http" // HTTP status codes
	"strconv"  // Path parameter parsing

	"tontine_system/internal/tontine" // Engine error kinds

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// ErrorBody is the JSON shape of every rejected request
type ErrorBody struct {
	Kind   string `json:"kind"`   // Error kind: validation, not_found, state_conflict, authorization, ledger_inconsistent, internal
	Code   string `json:"code"`   // Machine readable code
	Reason string `json:"reason"` // Human readable reason
}

// statusOf maps an engine error kind to an HTTP status
func statusOf(kind tontine.Kind) int {
	switch kind {
	case tontine.KindValidation:
		return http.StatusBadRequest
	case tontine.KindNotFound:
		return http.StatusNotFound
	case tontine.KindStateConflict:
		return http.StatusConflict
	case tontine.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err; untyped errors are logged and hidden behind a 500
func writeError(c *gin.Context, err error) {
	var typed *tontine.Error
	if errors.As(err, &typed) {
		c.JSON(statusOf(typed.Kind), gin.H{"error": ErrorBody{Kind: string(typed.Kind), Code: typed.Code, Reason: typed.Reason}})
		return
	}
	logrus.WithFields(logrus.Fields{
		"path":  c.FullPath(),
		"error": err.Error(),
	}).Error("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": ErrorBody{Kind: "internal", Code: "Internal", Reason: "internal error"}})
}

// badRequest rejects malformed input before it reaches the engine
func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": ErrorBody{Kind: string(tontine.KindValidation), Code: tontine.ErrInvalidInput.Code, Reason: reason}})
}

// uintParam reads a positive integer path parameter
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(v), true
}

// roundParam reads the :round path parameter
func roundParam(c *gin.Context) (int, bool) {
	v, err := strconv.Atoi(c.Param("round"))
	if err != nil || v < 1 {
		badRequest(c, "invalid round")
		return 0, false
	}
	return v, true
}

// pagination reads page and page_size with the usual defaults and limits
func pagination(c *gin.Context) (page, pageSize int) {
	page, pageSize = 1, 20
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}
	return page, pageSize
}
