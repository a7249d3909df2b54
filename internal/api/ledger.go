package api

import (
	"net/http" // HTTP status codes
	"time"     // Payment dates

	"tontine_system/internal/middleware" // Authenticated user lookup
	"tontine_system/internal/tontine"    // Tontine engine

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Exact money amounts
)

// ContributionRequest records a payment for a member in a round
type ContributionRequest struct {
	MemberID      uint            `json:"member_id" binding:"required"` // Paying member
	Amount        decimal.Decimal `json:"amount"`                       // Amount received
	Date          *time.Time      `json:"date"`                         // Payment date, defaults to now
	TransactionID *string         `json:"transaction_id"`               // External payment reference
}

// RecordContributionHandler records a contribution; members record their own, admins anyone's
func RecordContributionHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		round, ok := roundParam(c)
		if !ok {
			return
		}
		var req ContributionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
		contribution, err := svc.RecordContribution(c.Request.Context(), tontine.RecordContribution{
			TontineID:     id, // Member must belong to the tontine in the path
			MemberID:      req.MemberID,
			RoundNumber:   round,
			Amount:        req.Amount,
			Date:          req.Date,
			TransactionID: req.TransactionID,
			RequestedBy:   middleware.UserID(c),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, contribution)
	}
}

// ListContributionsHandler returns the ledger rows of a round
func ListContributionsHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		round, ok := roundParam(c)
		if !ok {
			return
		}
		contributions, err := svc.ListContributions(c.Request.Context(), id, round)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"contributions": contributions})
	}
}

// RoundStatusHandler returns the funded amount, expected total and outstanding members of a round
func RoundStatusHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		round, ok := roundParam(c)
		if !ok {
			return
		}
		status, err := svc.GetRoundStatus(c.Request.Context(), id, round)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// ListRoundsHandler returns every round of a tontine
func ListRoundsHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		rounds, err := svc.ListRounds(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rounds": rounds})
	}
}
