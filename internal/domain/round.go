package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Round states
const (
	RoundOpen   = "open"
	RoundFunded = "funded"
	RoundClosed = "closed"
)

// Round Model. Identified by (TontineID, RoundNumber); Version guards every update.
type Round struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`                                       // Primary key
	TontineID            uint            `gorm:"uniqueIndex:idx_round_number;not null" json:"tontine_id"`    // Owning tontine
	RoundNumber          int             `gorm:"uniqueIndex:idx_round_number;not null" json:"round_number"`  // 1-based, +1 per round
	Status               string          `gorm:"size:10;not null;default:open" json:"status"`                // open, funded, closed
	ScheduledRecipientID *uint           `json:"scheduled_recipient_id,omitempty"`                           // Resolved from the roster at open time
	PayoutMemberID       *uint           `json:"payout_member_id,omitempty"`                                 // Set when the round closes with a payout
	ExpectedMembers      int             `gorm:"not null" json:"expected_members"`                           // Basis of ExpectedTotal
	ExpectedTotal        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"expected_total"`          // ContributionAmount x ExpectedMembers
	PayoutAmount         decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"payout_amount"` // Amount paid out on close
	HeldAmount           decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"held_amount"`   // Amount retained when closure skipped the payout
	OpenedAt             time.Time       `gorm:"not null" json:"opened_at"`                                  // Round opening time
	DueAt                time.Time       `gorm:"not null" json:"due_at"`                                     // Contributions pending after this are late
	FundedAt             *time.Time      `json:"funded_at,omitempty"`                                        // Open -> Funded
	ClosedAt             *time.Time      `json:"closed_at,omitempty"`                                        // Funded -> Closed
	Version              int             `gorm:"not null;default:0" json:"version"`                          // Optimistic lock version
}
