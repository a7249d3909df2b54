package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Exact money arithmetic
)

// Tontine types
const (
	TypeFriends    = "friends"
	TypeFamily     = "family"
	TypeBusiness   = "business"
	TypeInvestment = "investment"
)

// Contribution cadences
const (
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Tontine lifecycle states
const (
	TontineActive    = "active"
	TontineCompleted = "completed"
	TontineCancelled = "cancelled"
)

// Tontine Model. The aggregate root: its row is locked for the duration of
// every mutating command on the tontine.
type Tontine struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`                                   // Primary key
	Name               string          `gorm:"size:120;not null" json:"name"`                          // Display name
	Type               string          `gorm:"size:20;not null" json:"type"`                           // friends, family, business, investment
	ContributionAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"contribution_amount"` // Fixed amount owed per member per round
	Frequency          string          `gorm:"size:10;not null" json:"frequency"`                      // weekly or monthly
	DurationMonths     int             `gorm:"not null" json:"duration_months"`                        // Requested duration
	DurationInCycles   int             `gorm:"not null" json:"duration_in_cycles"`                     // Total number of rounds
	CreatorID          uint            `gorm:"index;not null" json:"creator_id"`                       // User who created the tontine
	CoAdminID          *uint           `gorm:"index" json:"co_admin_id,omitempty"`                     // Optional co-administrator user
	Status             string          `gorm:"size:12;not null;default:active" json:"status"`          // active, completed, cancelled
	CurrentRound       int             `gorm:"not null;default:0" json:"current_round"`                // Number of the latest opened round
	HasContributions   bool            `gorm:"not null;default:false" json:"has_contributions"`        // Locks contribution_amount once true
	CreatedAt          time.Time       `json:"created_at"`                                             // Creation time
	UpdatedAt          time.Time       `json:"updated_at"`                                             // Last update time
}

// CyclesPerMonth returns how many rounds a month holds for a cadence
func CyclesPerMonth(frequency string) int {
	if frequency == FrequencyWeekly {
		return 4
	}
	return 1
}

// RoundInterval returns the due date of a round opened at openedAt
func RoundInterval(frequency string, openedAt time.Time) time.Time {
	if frequency == FrequencyWeekly {
		return openedAt.AddDate(0, 0, 7)
	}
	return openedAt.AddDate(0, 1, 0)
}
