package domain

import "time"

// Member Model. PriorityOrder of active members is a contiguous 1..N permutation per tontine.
type Member struct {
	ID            uint       `gorm:"primaryKey" json:"id"`                         // Primary key
	TontineID     uint       `gorm:"index;not null" json:"tontine_id"`             // Owning tontine
	UserID        uint       `gorm:"index;not null" json:"user_id"`                // Member's user account
	PriorityOrder int        `gorm:"not null" json:"priority_order"`               // Payout position
	IsAdmin       bool       `gorm:"not null;default:false" json:"is_admin"`       // Administration capability
	IsActive      bool       `gorm:"not null;default:true;index" json:"is_active"` // Soft removal flag
	JoinedAt      time.Time  `gorm:"not null" json:"joined_at"`                    // When the member joined
	RemovedAt     *time.Time `json:"removed_at,omitempty"`                         // When the member was removed
}
