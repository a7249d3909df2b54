package api

import (
	"time" // Token lifetime

	"tontine_system/internal/middleware" // Authentication and access middleware
	"tontine_system/internal/tontine"    // Tontine engine

	"github.com/gin-gonic/gin" // Gin web framework
	"gorm.io/gorm"             // GORM ORM library
)

// RegisterRoutes mounts the user and tontine endpoints on r
func RegisterRoutes(r gin.IRouter, db *gorm.DB, svc *tontine.Service, jwtSecret string, jwtTTL time.Duration) {
	// Auth routes
	r.POST("/user", RegisterHandler(db))                       // Registration endpoint
	r.POST("/user/login", LoginHandler(db, jwtSecret, jwtTTL)) // Login endpoint

	authed := r.Group("")
	authed.Use(middleware.JWTAuthMiddleware(jwtSecret))
	authed.POST("/invites/:token/accept", AcceptInviteHandler(svc)) // Invitation link

	tontines := authed.Group("/tontines")
	tontines.POST("", CreateTontineHandler(svc))
	tontines.GET("", ListTontinesHandler(db))

	// Routes open to members and administrators of the tontine
	member := tontines.Group("/:id", middleware.TontineAccessMiddleware(svc.AuthorizeMember))
	member.GET("", GetTontineHandler(svc))
	member.GET("/members", ListMembersHandler(svc))
	member.DELETE("/members/:memberId", RemoveMemberHandler(svc)) // Self removal, or admin
	member.GET("/rounds", ListRoundsHandler(svc))
	member.GET("/rounds/:round", RoundStatusHandler(svc))
	member.GET("/rounds/:round/contributions", ListContributionsHandler(svc))
	member.POST("/rounds/:round/contributions", RecordContributionHandler(svc)) // Own contribution, or admin
	member.GET("/payouts", ListPayoutsHandler(db))

	// Routes restricted to administrators of the tontine
	admin := tontines.Group("/:id", middleware.TontineAccessMiddleware(svc.Authorize))
	admin.PATCH("", UpdateTontineHandler(svc))
	admin.DELETE("", CancelTontineHandler(svc))
	admin.POST("/members", AddMemberHandler(svc))
	admin.POST("/members/:memberId/admin", PromoteAdminHandler(svc))
	admin.POST("/rounds/:round/close", CloseRoundHandler(svc))
	admin.POST("/rounds/:round/reconcile", ReconcileHandler(svc))
	admin.POST("/invites", InviteHandler(svc))
	admin.GET("/invites", ListInvitesHandler(svc))
}
