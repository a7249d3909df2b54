package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contribution states
const (
	ContributionPending = "pending"
	ContributionPaid    = "paid"
	ContributionLate    = "late"
)

// Contribution Model. Placeholders are seeded at round open, one per participant,
// and filled by the member's first recorded payment.
type Contribution struct {
	ID              uint            `gorm:"primaryKey" json:"id"`                                      // Primary key
	TontineID       uint            `gorm:"index:idx_contribution_round;not null" json:"tontine_id"`   // Owning tontine
	TontineMemberID uint            `gorm:"index;not null" json:"member_id"`                           // Contributing member
	RoundNumber     int             `gorm:"index:idx_contribution_round;not null" json:"round_number"` // Round the payment belongs to
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`       // Amount actually received
	Shortfall       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"shortfall"`    // ContributionAmount - Amount when underpaid
	Date            *time.Time      `json:"date,omitempty"`                                            // Payment date, nil for placeholders
	Status          string          `gorm:"size:10;not null;default:pending" json:"status"`            // pending, paid, late
	TransactionID   *string         `gorm:"size:128" json:"transaction_id,omitempty"`                  // External payment reference
	Placeholder     bool            `gorm:"not null;default:false" json:"placeholder"`                 // Seeded obligation, no money received yet
	CreatedAt       time.Time       `json:"created_at"`                                                // Creation time
	UpdatedAt       time.Time       `json:"updated_at"`                                                // Last update time
}
