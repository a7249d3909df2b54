package api

import (
	"net/http" // HTTP status codes

	"tontine_system/internal/domain"     // Importing domain models
	"tontine_system/internal/middleware" // Authenticated user lookup
	"tontine_system/internal/tontine"    // Tontine engine

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Exact money amounts
	"gorm.io/gorm"                  // GORM ORM library
)

// CreateTontineRequest is the createTontine payload
type CreateTontineRequest struct {
	Name               string          `json:"name" binding:"required"`
	Type               string          `json:"type" binding:"required"`
	ContributionAmount decimal.Decimal `json:"contribution_amount"`
	Frequency          string          `json:"frequency" binding:"required"`
	DurationMonths     int             `json:"duration_months" binding:"required"`
	CoAdminID          *uint           `json:"co_admin_id"`
}

// UpdateTontineRequest carries the editable fields; omitted fields are kept
type UpdateTontineRequest struct {
	Name               *string          `json:"name"`
	DurationMonths     *int             `json:"duration_months"`
	ContributionAmount *decimal.Decimal `json:"contribution_amount"`
}

// AddMemberRequest enrolls a user, optionally at a priority position
type AddMemberRequest struct {
	UserID        uint `json:"user_id" binding:"required"`
	PriorityOrder *int `json:"priority_order"`
}

// InviteRequest invites an email address
type InviteRequest struct {
	Email string `json:"email" binding:"required"`
}

// CreateTontineHandler creates a tontine owned by the caller
func CreateTontineHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateTontineRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
		t, err := svc.CreateTontine(c.Request.Context(), tontine.CreateTontine{
			Name:               req.Name,
			Type:               req.Type,
			ContributionAmount: req.ContributionAmount,
			Frequency:          req.Frequency,
			DurationMonths:     req.DurationMonths,
			CreatorID:          middleware.UserID(c),
			CoAdminID:          req.CoAdminID,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, t)
	}
}

// ListTontinesHandler returns the tontines the caller takes part in, paginated
func ListTontinesHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		page, pageSize := pagination(c)
		memberOf := db.Model(&domain.Member{}).Select("tontine_id").Where("user_id = ? AND is_active = ?", userID, true)
		query := db.WithContext(c.Request.Context()).Model(&domain.Tontine{}).
			Where("creator_id = ? OR co_admin_id = ? OR id IN (?)", userID, userID, memberOf)
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", status) // Filter by lifecycle status
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			writeError(c, err)
			return
		}
		var tontines []domain.Tontine
		if err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&tontines).Error; err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"tontines":    tontines,
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": (int(total) + pageSize - 1) / pageSize,
		})
	}
}

// GetTontineHandler returns one tontine
func GetTontineHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		t, err := svc.GetTontine(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// UpdateTontineHandler edits name, duration or, before any contribution, the amount
func UpdateTontineHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		var req UpdateTontineRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
		t, err := svc.UpdateTontine(c.Request.Context(), tontine.UpdateTontine{
			TontineID:          id,
			RequestedBy:        middleware.UserID(c),
			Name:               req.Name,
			DurationMonths:     req.DurationMonths,
			ContributionAmount: req.ContributionAmount,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// CancelTontineHandler cancels a tontine that has no contribution yet
func CancelTontineHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		t, err := svc.CancelTontine(c.Request.Context(), id, middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// ListMembersHandler returns the roster; ?all=true includes removed members
func ListMembersHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		members, err := svc.ListMembers(c.Request.Context(), id, c.Query("all") == "true")
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"members": members})
	}
}

// AddMemberHandler enrolls a user directly
func AddMemberHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		var req AddMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
		m, err := svc.AddMember(c.Request.Context(), tontine.AddMember{
			TontineID:         id,
			UserID:            req.UserID,
			RequestedPriority: req.PriorityOrder,
			RequestedBy:       middleware.UserID(c),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}

// RemoveMemberHandler removes a member; members may remove themselves
func RemoveMemberHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		memberID, ok := uintParam(c, "memberId")
		if !ok {
			return
		}
		if err := svc.RemoveMember(c.Request.Context(), tontine.RemoveMember{
			TontineID:   id,
			MemberID:    memberID,
			RequestedBy: middleware.UserID(c),
		}); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// PromoteAdminHandler grants the admin capability to a member
func PromoteAdminHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		memberID, ok := uintParam(c, "memberId")
		if !ok {
			return
		}
		m, err := svc.PromoteAdmin(c.Request.Context(), tontine.PromoteAdmin{
			TontineID:   id, // Member must belong to the tontine in the path
			MemberID:    memberID,
			RequestedBy: middleware.UserID(c),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// InviteHandler issues an invitation for an email address
func InviteHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		var req InviteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
		inv, err := svc.Invite(c.Request.Context(), tontine.Invite{
			TontineID:   id,
			Email:       req.Email,
			RequestedBy: middleware.UserID(c),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, inv)
	}
}

// AcceptInviteHandler accepts the invitation identified by the link token
func AcceptInviteHandler(svc *tontine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := svc.AcceptToken(c.Request.Context(), c.Param("token"), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}
