package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outbound event types
const (
	EventRoundFunded      = "RoundFunded"
	EventRoundClosed      = "RoundClosed"
	EventContributionLate = "ContributionLate"
	EventMemberRemoved    = "MemberRemoved"
)

// Event is the payload handed to notification/payment collaborators
type Event struct {
	Type           string           `json:"type"`
	TontineID      uint             `json:"tontine_id"`
	RoundNumber    int              `json:"round_number,omitempty"`
	MemberID       *uint            `json:"member_id,omitempty"`
	PayoutMemberID *uint            `json:"payout_member_id,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}
