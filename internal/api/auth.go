package api

import (
	"net/http" // HTTP status codes
	"net/mail" // Email address parsing
	"regexp"   // Regular expressions
	"strings"  // String manipulation
	"time"     // Token lifetime

	"tontine_system/internal/domain" // Importing domain models
	"tontine_system/internal/utils"  // Utility functions

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logrus for structured logging
	"golang.org/x/crypto/bcrypt" // Password hashing
	"gorm.io/gorm"               // GORM ORM library
)

// RegisterRequest is the registration payload
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`    // Username must be provided
	Email    string `json:"email" binding:"required,email"` // Email used to match invitations
	Password string `json:"password" binding:"required"`    // Password must be provided
}

// LoginRequest is the login payload
type LoginRequest struct {
	Username string `json:"username" binding:"required"` // Username must be provided
	Password string `json:"password" binding:"required"` // Password must be provided
}

// AuthResponse carries the issued token
type AuthResponse struct {
	Token string `json:"token"` // JWT token
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{2,31}$`)

// isValidUsername checks the username is 3-32 letters, digits or underscores, starting with a letter
func isValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// isValidPassword checks if the password length is between 8 and 72 characters (bcrypt limit)
func isValidPassword(password string) bool {
	return len(password) >= 8 && len(password) <= 72
}

// RegisterHandler creates a user account
func RegisterHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
		if !isValidUsername(req.Username) {
			badRequest(c, "username must be 3-32 letters, digits or underscores")
			return
		}
		if !isValidPassword(req.Password) {
			badRequest(c, "password must be 8-72 characters")
			return
		}
		addr, err := mail.ParseAddress(req.Email)
		if err != nil {
			badRequest(c, "invalid email")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(c, err)
			return
		}
		// Usernames and emails are stored lowercase so uniqueness is case-insensitive
		user := domain.User{
			Username: strings.ToLower(req.Username),
			Email:    strings.ToLower(addr.Address),
			Password: string(hash),
		}
		if err := db.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": ErrorBody{Kind: "state_conflict", Code: "UserExists", Reason: "username or email already registered"}})
			return
		}
		logrus.WithFields(logrus.Fields{
			"user_id":  user.ID,
			"username": user.Username,
		}).Info("User registered")
		c.JSON(http.StatusCreated, gin.H{"id": user.ID, "username": user.Username, "email": user.Email})
	}
}

// LoginHandler authenticates a user and returns a JWT token
func LoginHandler(db *gorm.DB, jwtSecret string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
		var user domain.User
		if err := db.WithContext(c.Request.Context()).Where("username = ?", strings.ToLower(req.Username)).First(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": ErrorBody{Kind: "authorization", Code: "InvalidCredentials", Reason: "invalid credentials"}})
			return
		}
		// Compare provided password with stored hash
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": ErrorBody{Kind: "authorization", Code: "InvalidCredentials", Reason: "invalid credentials"}})
			return
		}
		token, err := utils.GenerateJWT(user.ID, jwtSecret, ttl)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, AuthResponse{Token: token})
	}
}
