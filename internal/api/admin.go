package api

import (
	"net/http" // HTTP status codes

	"tontine_system/internal/domain"     // Importing domain models
	"tontine_system/internal/middleware" // Authenticated user lookup
	"tontine_system/internal/tontine"    // Tontine engine

	"github.com/gin-gonic/gin" // Gin web framework
	"gorm.io/gorm"             // GORM ORM library
)

// CloseRoundRequest is the admin resolution of a funded round
type CloseRoundRequest struct {
	AssignMemberID *uint `json:"assign_member_id"` // Pay this member instead of the inactive scheduled one
	Skip           bool  `json:"skip"`             // Pay nobody and hold the collected amount
}

// CloseRoundHandler closes a funded round, optionally resolving an inactive recipient
func CloseRoundHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		round, ok := roundParam(c)
		if !ok {
			return
		}
		var req CloseRoundRequest
		// An empty body closes the round without override
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "invalid request")
				return
			}
		}
		closed, err := svc.CloseRound(c.Request.Context(), tontine.CloseRound{
			TontineID:   id,
			RoundNumber: round,
			RequestedBy: middleware.UserID(c),
			Resolution:  tontine.Resolution{AssignMemberID: req.AssignMemberID, Skip: req.Skip},
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, closed)
	}
}

// ReconcileHandler reconciles a round and returns its report
func ReconcileHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		round, ok := roundParam(c)
		if !ok {
			return
		}
		report, err := svc.Reconcile(c.Request.Context(), id, round)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// ListInvitesHandler returns the invitations of a tontine
func ListInvitesHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		invites, err := svc.ListInvites(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"invites": invites})
	}
}

// ListPayoutsHandler returns the payout instructions of a tontine, with optional filtering by member, paginated
func ListPayoutsHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		page, pageSize := pagination(c)
		query := db.WithContext(c.Request.Context()).Model(&domain.PayoutInstruction{}).Where("tontine_id = ?", id)
		if memberID := c.Query("member_id"); memberID != "" {
			query = query.Where("member_id = ?", memberID) // Filter by recipient
		}
		if payoutType := c.Query("type"); payoutType != "" {
			query = query.Where("type = ?", payoutType) // Filter by scheduled or assigned
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			writeError(c, err)
			return
		}
		var payouts []domain.PayoutInstruction
		if err := query.Order("round_number ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&payouts).Error; err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"payouts":     payouts,
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": (int(total) + pageSize - 1) / pageSize,
		})
	}
}
