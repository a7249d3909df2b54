package tontine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tontine_system/internal/domain"
	"tontine_system/internal/utils"
)

// RecordContribution is the payload of the recordContribution command.
type RecordContribution struct {
	TontineID     uint // optional, checked against the member's tontine when set
	MemberID      uint
	RoundNumber   int
	Amount        decimal.Decimal
	Date          *time.Time // defaults to now
	TransactionID *string
	RequestedBy   uint
}

// RecordContribution stores a payment for a member and round. Payments of at
// least the contribution amount are paid, smaller ones stay pending (late past
// the due date) with the shortfall kept. When the payment completes the round
// it is funded and closed in the same transaction.
func (s *Service) RecordContribution(ctx context.Context, cmd RecordContribution) (*domain.Contribution, error) {
	if !cmd.Amount.IsPositive() {
		return nil, newError(ErrInvalidInput, "amount must be positive")
	}
	if cmd.RoundNumber < 1 {
		return nil, newError(ErrInvalidInput, "round number must be at least 1")
	}
	if cmd.TransactionID != nil && strings.TrimSpace(*cmd.TransactionID) == "" {
		cmd.TransactionID = nil
	}

	var out *domain.Contribution
	var funded bool
	err := s.inTx(ctx, func(tx *gorm.DB, box *outbox) error {
		m, err := findMember(tx, cmd.MemberID)
		if err != nil {
			return err
		}
		if cmd.TontineID != 0 && m.TontineID != cmd.TontineID {
			return newError(ErrNotFound, "member %d not found in tontine %d", m.ID, cmd.TontineID)
		}
		t, err := lockTontine(tx, m.TontineID)
		if err != nil {
			return err
		}
		if m, err = findMember(tx, cmd.MemberID); err != nil {
			return err
		}
		if !m.IsActive {
			return newError(ErrNotFound, "member %d is not active", m.ID)
		}
		if m.UserID != cmd.RequestedBy {
			if err := authorizeAdmin(tx, t, cmd.RequestedBy); err != nil {
				return err
			}
		}
		r, err := lockRound(tx, t.ID, cmd.RoundNumber)
		if err != nil {
			return err
		}
		if r.Status == domain.RoundClosed {
			return newError(ErrRoundClosed, "round %d is closed", r.RoundNumber)
		}
		if err := requireActive(t); err != nil {
			return err
		}

		contributions, err := roundContributions(tx, t.ID, r.RoundNumber)
		if err != nil {
			return err
		}
		var slot *domain.Contribution
		participates := false
		for i := range contributions {
			c := &contributions[i]
			if c.TontineMemberID != m.ID {
				continue
			}
			participates = true
			if c.Status == domain.ContributionPaid {
				return newError(ErrDuplicatePaidContribution, "member %d already paid round %d", m.ID, r.RoundNumber)
			}
			if c.Placeholder && slot == nil {
				slot = c
			}
		}
		if !participates {
			return newError(ErrInvalidInput, "member %d does not take part in round %d", m.ID, r.RoundNumber)
		}

		now := s.now()
		date := now
		if cmd.Date != nil {
			date = cmd.Date.UTC()
		}
		amount := cmd.Amount.Round(2)
		status, shortfall := classify(t.ContributionAmount, amount, r.DueAt, now)

		if slot == nil {
			slot = &domain.Contribution{
				TontineID:       t.ID,
				TontineMemberID: m.ID,
				RoundNumber:     r.RoundNumber,
			}
		}
		slot.Amount = amount
		slot.Shortfall = shortfall
		slot.Date = &date
		slot.Status = status
		slot.TransactionID = cmd.TransactionID
		slot.Placeholder = false
		if err := tx.Save(slot).Error; err != nil {
			return fmt.Errorf("failed to record contribution: %w", err)
		}
		if !t.HasContributions {
			t.HasContributions = true
			if err := tx.Model(&domain.Tontine{}).Where("id = ?", t.ID).Update("has_contributions", true).Error; err != nil {
				return fmt.Errorf("failed to flag tontine: %w", err)
			}
		}
		box.touch(t.ID, r.RoundNumber)
		s.metrics.ContributionRecorded(status)

		if _, err := s.reconcileTx(tx, t, r, box); err != nil {
			return err
		}
		if funded, err = s.advance(tx, t, r, box); err != nil {
			return err
		}
		out = slot
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"member_id": cmd.MemberID,
			"round":     cmd.RoundNumber,
			"error":     err.Error(),
		}).Warn("Record contribution failed")
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"tontine_id": out.TontineID,
		"member_id":  out.TontineMemberID,
		"round":      out.RoundNumber,
		"amount":     out.Amount.StringFixed(2),
		"status":     out.Status,
		"funded":     funded,
	}).Info("Contribution recorded")
	return out, nil
}

// classify decides the status of a payment of amount against the expected
// contribution.
func classify(expected, amount decimal.Decimal, dueAt, now time.Time) (string, decimal.Decimal) {
	if amount.GreaterThanOrEqual(expected) {
		return domain.ContributionPaid, decimal.Zero
	}
	shortfall := expected.Sub(amount)
	if now.After(dueAt) {
		return domain.ContributionLate, shortfall
	}
	return domain.ContributionPending, shortfall
}

// MemberStatus is one member's standing in a round.
type MemberStatus struct {
	MemberID  uint            `json:"member_id"`
	Priority  int             `json:"priority_order"`
	Active    bool            `json:"active"`
	Status    string          `json:"status"` // paid, pending or late
	Paid      decimal.Decimal `json:"paid"`
	Shortfall decimal.Decimal `json:"shortfall"`
	Overpaid  decimal.Decimal `json:"overpaid"`
}

// RoundStatus is the read model of a round.
type RoundStatus struct {
	TontineID            uint            `json:"tontine_id"`
	RoundNumber          int             `json:"round_number"`
	Status               string          `json:"status"`
	FundedAmount         decimal.Decimal `json:"funded_amount"`
	ExpectedTotal        decimal.Decimal `json:"expected_total"`
	ExpectedMembers      int             `json:"expected_members"`
	OutstandingMembers   []uint          `json:"outstanding_members"`
	Members              []MemberStatus  `json:"members"`
	ScheduledRecipientID *uint           `json:"scheduled_recipient_id,omitempty"`
	PayoutMemberID       *uint           `json:"payout_member_id,omitempty"`
	PayoutAmount         decimal.Decimal `json:"payout_amount"`
	HeldAmount           decimal.Decimal `json:"held_amount"`
	DueAt                time.Time       `json:"due_at"`
}

// GetRoundStatus reports funded amount, expected total and outstanding
// members of a round. It never writes to the store.
func (s *Service) GetRoundStatus(ctx context.Context, tontineID uint, roundNumber int) (*RoundStatus, error) {
	key := utils.RoundStatusKey(tontineID, roundNumber)
	var cached RoundStatus
	if ok, err := s.cache.Get(ctx, key, &cached); err != nil {
		logrus.WithFields(logrus.Fields{
			"key":   key,
			"error": err.Error(),
		}).Warn("Round status cache read failed")
	} else if ok {
		return &cached, nil
	}

	var status *RoundStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := findRound(tx, tontineID, roundNumber)
		if err != nil {
			return err
		}
		status, err = s.roundStatus(tx, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	// an open round turns late at DueAt without any write to invalidate it
	ttl := s.cache.TTL()
	if left := status.DueAt.Sub(s.now()); status.Status == domain.RoundOpen && left > 0 && left < ttl {
		ttl = left
	}
	if err := s.cache.SetFor(ctx, key, status, ttl); err != nil {
		logrus.WithFields(logrus.Fields{
			"key":   key,
			"error": err.Error(),
		}).Warn("Round status cache write failed")
	}
	return status, nil
}

func (s *Service) roundStatus(tx *gorm.DB, r *domain.Round) (*RoundStatus, error) {
	contributions, err := roundContributions(tx, r.TontineID, r.RoundNumber)
	if err != nil {
		return nil, err
	}
	var members []domain.Member
	if err := tx.Where("tontine_id = ?", r.TontineID).
		Order("priority_order ASC, id ASC").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	var t domain.Tontine
	if err := tx.First(&t, r.TontineID).Error; err != nil {
		return nil, fmt.Errorf("failed to load tontine: %w", err)
	}

	now := s.now()
	out := &RoundStatus{
		TontineID:            r.TontineID,
		RoundNumber:          r.RoundNumber,
		Status:               r.Status,
		FundedAmount:         collected(contributions),
		ExpectedTotal:        r.ExpectedTotal,
		ExpectedMembers:      r.ExpectedMembers,
		OutstandingMembers:   []uint{},
		ScheduledRecipientID: r.ScheduledRecipientID,
		PayoutMemberID:       r.PayoutMemberID,
		PayoutAmount:         r.PayoutAmount,
		HeldAmount:           r.HeldAmount,
		DueAt:                r.DueAt,
	}
	for _, m := range members {
		ms, ok := memberStanding(m, contributions, t.ContributionAmount, r, now)
		if !ok {
			continue
		}
		out.Members = append(out.Members, ms)
		if m.IsActive && ms.Status != domain.ContributionPaid {
			out.OutstandingMembers = append(out.OutstandingMembers, m.ID)
		}
	}
	return out, nil
}

// memberStanding folds a member's contributions in r. ok is false when the
// member has no row in the round.
func memberStanding(m domain.Member, contributions []domain.Contribution, expected decimal.Decimal, r *domain.Round, now time.Time) (MemberStatus, bool) {
	ms := MemberStatus{
		MemberID: m.ID,
		Priority: m.PriorityOrder,
		Active:   m.IsActive,
		Status:   domain.ContributionPending,
		Paid:     decimal.Zero,
	}
	found := false
	for _, c := range contributions {
		if c.TontineMemberID != m.ID {
			continue
		}
		found = true
		ms.Paid = ms.Paid.Add(c.Amount)
		if c.Status == domain.ContributionPaid {
			ms.Status = domain.ContributionPaid
		}
	}
	if !found {
		return ms, false
	}
	if ms.Paid.LessThan(expected) {
		ms.Shortfall = expected.Sub(ms.Paid)
	} else {
		ms.Shortfall = decimal.Zero
		ms.Overpaid = ms.Paid.Sub(expected)
	}
	if ms.Status != domain.ContributionPaid && r.Status == domain.RoundOpen && now.After(r.DueAt) {
		ms.Status = domain.ContributionLate
	}
	return ms, true
}

// ListContributions returns the ledger rows of a round.
func (s *Service) ListContributions(ctx context.Context, tontineID uint, roundNumber int) ([]domain.Contribution, error) {
	if _, err := findRound(s.db.WithContext(ctx), tontineID, roundNumber); err != nil {
		return nil, err
	}
	return roundContributions(s.db.WithContext(ctx), tontineID, roundNumber)
}

func findRound(tx *gorm.DB, tontineID uint, roundNumber int) (*domain.Round, error) {
	var r domain.Round
	err := tx.Where("tontine_id = ? AND round_number = ?", tontineID, roundNumber).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "round %d of tontine %d not found", roundNumber, tontineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}
	return &r, nil
}
