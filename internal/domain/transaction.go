package domain

import "github.com/shopspring/decimal"

// PayoutInstruction Model. One row per round closed with a recipient; handed to
// the external payment system, never executed here.
type PayoutInstruction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`                                      // Primary key
	TontineID   uint            `gorm:"uniqueIndex:idx_payout_round;not null" json:"tontine_id"`   // Owning tontine
	RoundNumber int             `gorm:"uniqueIndex:idx_payout_round;not null" json:"round_number"` // At most one payout per round
	MemberID    uint            `gorm:"index;not null" json:"member_id"`                           // Recipient
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`                 // Collected amount of the round
	Type        string          `gorm:"size:10;not null" json:"type"`                              // scheduled or assigned
	CreatedAt   int64           `gorm:"autoCreateTime:milli" json:"created_at"`                    // Timestamp of creation in milliseconds
}

// Payout types
const (
	PayoutScheduled = "scheduled"
	PayoutAssigned  = "assigned"
)
