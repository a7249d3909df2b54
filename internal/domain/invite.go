package domain

import "time"

// Invitation states
const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
)

// Invite Model (pending membership created from an email invitation)
type Invite struct {
	ID         uint      `gorm:"primaryKey" json:"id"`                           // Primary key
	TontineID  uint      `gorm:"index;not null" json:"tontine_id"`               // Target tontine
	Email      string    `gorm:"size:255;index;not null" json:"email"`           // Invited address
	Token      string    `gorm:"size:36;uniqueIndex;not null" json:"token"`      // Link token
	InvitedBy  uint      `gorm:"not null" json:"invited_by"`                     // Admin user who invited
	Status     string    `gorm:"size:10;not null;default:pending" json:"status"` // pending or accepted
	MemberID   *uint     `json:"member_id,omitempty"`                            // Membership created on accept
	AcceptedBy *uint     `json:"accepted_by,omitempty"`                          // User who accepted
	ExpiresAt  time.Time `gorm:"not null" json:"expires_at"`                     // Validity limit
	CreatedAt  time.Time `json:"created_at"`                                     // Creation time
}
