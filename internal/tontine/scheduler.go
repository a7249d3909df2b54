package tontine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tontine_system/internal/domain"
)

// Closure outcomes
const (
	OutcomeScheduled = "scheduled"
	OutcomeAssigned  = "assigned"
	OutcomeSkipped   = "skipped"
)

// Resolution is the admin intervention for a round whose scheduled recipient
// is no longer active. The zero value closes the round normally.
type Resolution struct {
	AssignMemberID *uint // pay this active member instead
	Skip           bool  // pay nobody, the collected amount is held
}

func (r Resolution) override() bool {
	return r.AssignMemberID != nil || r.Skip
}

// CloseRound is the payload of the closeRound command.
type CloseRound struct {
	TontineID   uint
	RoundNumber int
	RequestedBy uint
	Resolution  Resolution
}

// CloseRound closes a funded round on an admin's request. It is the path for
// rounds left funded because their scheduled recipient was removed.
func (s *Service) CloseRound(ctx context.Context, cmd CloseRound) (*domain.Round, error) {
	if cmd.Resolution.AssignMemberID != nil && cmd.Resolution.Skip {
		return nil, newError(ErrInvalidInput, "assign and skip are mutually exclusive")
	}
	var closed *domain.Round
	err := s.inTx(ctx, func(tx *gorm.DB, box *outbox) error {
		t, err := lockTontine(tx, cmd.TontineID)
		if err != nil {
			return err
		}
		if err := authorizeAdmin(tx, t, cmd.RequestedBy); err != nil {
			return err
		}
		r, err := lockRound(tx, t.ID, cmd.RoundNumber)
		if err != nil {
			return err
		}
		closed, err = s.closeRoundTx(tx, t, r, cmd.Resolution, box)
		return err
	})
	if err != nil {
		var typed *Error
		if errors.As(err, &typed) {
			s.metrics.ClosureFailed(typed.Code)
		}
		logrus.WithFields(logrus.Fields{
			"tontine_id": cmd.TontineID,
			"round":      cmd.RoundNumber,
			"user_id":    cmd.RequestedBy,
			"error":      err.Error(),
		}).Warn("Close round failed")
		return nil, err
	}
	return closed, nil
}

// ListRounds returns the rounds of a tontine in order.
func (s *Service) ListRounds(ctx context.Context, tontineID uint) ([]domain.Round, error) {
	var rounds []domain.Round
	if err := s.db.WithContext(ctx).Where("tontine_id = ?", tontineID).
		Order("round_number ASC").Find(&rounds).Error; err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	return rounds, nil
}

// ListPayouts returns the payout instructions emitted for a tontine.
func (s *Service) ListPayouts(ctx context.Context, tontineID uint) ([]domain.PayoutInstruction, error) {
	var payouts []domain.PayoutInstruction
	if err := s.db.WithContext(ctx).Where("tontine_id = ?", tontineID).
		Order("round_number ASC").Find(&payouts).Error; err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	return payouts, nil
}

// openRound creates round n from the current active roster, resolving its
// scheduled recipient and seeding one placeholder per member.
func (s *Service) openRound(tx *gorm.DB, t *domain.Tontine, n int, box *outbox) (*domain.Round, error) {
	active, err := activeMembers(tx, t.ID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	r := &domain.Round{
		TontineID:       t.ID,
		RoundNumber:     n,
		Status:          domain.RoundOpen,
		ExpectedMembers: len(active),
		ExpectedTotal:   expectedTotal(t, len(active)),
		PayoutAmount:    decimal.Zero,
		HeldAmount:      decimal.Zero,
		OpenedAt:        now,
		DueAt:           domain.RoundInterval(t.Frequency, now),
	}
	if m := memberAtPriority(active, PayoutPriority(n, len(active))); m != nil {
		r.ScheduledRecipientID = uintPtr(m.ID)
	}
	if err := tx.Create(r).Error; err != nil {
		return nil, fmt.Errorf("failed to open round %d: %w", n, err)
	}
	for _, m := range active {
		if err := tx.Create(placeholder(t, n, m.ID)).Error; err != nil {
			return nil, fmt.Errorf("failed to seed contribution: %w", err)
		}
	}
	t.CurrentRound = n
	if err := tx.Model(&domain.Tontine{}).Where("id = ?", t.ID).Update("current_round", n).Error; err != nil {
		return nil, fmt.Errorf("failed to advance tontine: %w", err)
	}
	box.touch(t.ID, n)
	return r, nil
}

// advance moves an open round to funded once every active member has paid,
// then tries to close it. A roster below MinRotationMembers never funds: a
// lone member paying into their own payout is not a rotation. A closure rejected for an inactive recipient leaves
// the round funded for an admin to resolve; the triggering command still
// succeeds.
func (s *Service) advance(tx *gorm.DB, t *domain.Tontine, r *domain.Round, box *outbox) (bool, error) {
	if r.Status != domain.RoundOpen {
		return false, nil
	}
	active, err := activeMembers(tx, t.ID)
	if err != nil {
		return false, err
	}
	if len(active) < MinRotationMembers {
		return false, nil // Nobody to rotate with
	}
	contributions, err := roundContributions(tx, t.ID, r.RoundNumber)
	if err != nil {
		return false, err
	}
	paid := paidMembers(contributions)
	for _, m := range active {
		if !paid[m.ID] {
			return false, nil // Still waiting on this member
		}
	}

	now := s.now()
	r.Status = domain.RoundFunded // Open -> Funded
	r.FundedAt = &now
	if err := saveRound(tx, r); err != nil {
		return false, err
	}
	box.touch(t.ID, r.RoundNumber)
	funded := collected(contributions)
	box.emit(domain.Event{
		Type:        domain.EventRoundFunded,
		TontineID:   t.ID,
		RoundNumber: r.RoundNumber,
		Amount:      &funded,
		OccurredAt:  now,
	})
	s.metrics.RoundFunded()
	logrus.WithFields(logrus.Fields{
		"tontine_id": t.ID,
		"round":      r.RoundNumber,
		"amount":     funded.StringFixed(2),
	}).Info("Round funded")

	if _, err := s.closeRoundTx(tx, t, r, Resolution{}, box); err != nil {
		if errors.Is(err, ErrPayoutRecipientInactive) {
			s.metrics.ClosureFailed(ErrPayoutRecipientInactive.Code)
			logrus.WithFields(logrus.Fields{
				"tontine_id": t.ID,
				"round":      r.RoundNumber,
				"reason":     err.Error(),
			}).Warn("Round funded but awaiting admin resolution")
			return true, nil // Funded, waiting for an admin resolution
		}
		return true, err
	}
	return true, nil
}

// closeRoundTx closes a funded round. All checks run before the first write so
// a rejected closure leaves the round untouched.
func (s *Service) closeRoundTx(tx *gorm.DB, t *domain.Tontine, r *domain.Round, res Resolution, box *outbox) (*domain.Round, error) {
	switch r.Status {
	case domain.RoundOpen:
		return nil, newError(ErrRoundNotFunded, "round %d still has outstanding contributions", r.RoundNumber)
	case domain.RoundClosed:
		return nil, newError(ErrRoundClosed, "round %d is already closed", r.RoundNumber)
	}
	if err := requireActive(t); err != nil {
		return nil, err
	}
	if r.RoundNumber > t.DurationInCycles {
		return nil, newError(ErrTontineAlreadyComplete, "round %d is past the %d rounds of tontine %d", r.RoundNumber, t.DurationInCycles, t.ID)
	}

	var scheduled *domain.Member
	if r.ScheduledRecipientID != nil {
		m, err := findMember(tx, *r.ScheduledRecipientID)
		if err != nil {
			return nil, err
		}
		scheduled = m
	}
	scheduledActive := scheduled != nil && scheduled.IsActive
	if scheduledActive && res.override() {
		return nil, newError(ErrInvalidInput, "round %d has an active scheduled recipient, no override is needed", r.RoundNumber)
	}
	if !scheduledActive && !res.override() {
		return nil, newError(ErrPayoutRecipientInactive, "scheduled recipient of round %d is no longer active, assign or skip is required", r.RoundNumber)
	}

	contributions, err := roundContributions(tx, t.ID, r.RoundNumber)
	if err != nil {
		return nil, err
	}
	amount := collected(contributions) // Partial payments included

	outcome := OutcomeScheduled
	var recipient *domain.Member
	switch {
	case scheduledActive:
		recipient = scheduled
	case res.AssignMemberID != nil:
		outcome = OutcomeAssigned
		if recipient, err = s.assignable(tx, t, *res.AssignMemberID); err != nil {
			return nil, err
		}
	default:
		outcome = OutcomeSkipped // Nobody is paid, the money is held
	}

	now := s.now()
	r.Status = domain.RoundClosed // Funded -> Closed
	r.ClosedAt = &now
	if recipient != nil {
		payoutType := domain.PayoutScheduled
		if outcome == OutcomeAssigned {
			payoutType = domain.PayoutAssigned
		}
		if err := tx.Create(&domain.PayoutInstruction{
			TontineID:   t.ID,
			RoundNumber: r.RoundNumber,
			MemberID:    recipient.ID,
			Amount:      amount,
			Type:        payoutType,
		}).Error; err != nil {
			return nil, fmt.Errorf("failed to emit payout instruction: %w", err)
		}
		r.PayoutMemberID = uintPtr(recipient.ID)
		r.PayoutAmount = amount
	} else {
		r.HeldAmount = amount // Money in still equals money out plus held
	}
	if err := saveRound(tx, r); err != nil {
		return nil, err
	}
	box.touch(t.ID, r.RoundNumber)
	box.emit(domain.Event{
		Type:           domain.EventRoundClosed,
		TontineID:      t.ID,
		RoundNumber:    r.RoundNumber,
		PayoutMemberID: r.PayoutMemberID,
		Amount:         &amount,
		OccurredAt:     now,
	})
	s.metrics.RoundClosed(outcome)
	logrus.WithFields(logrus.Fields{
		"tontine_id": t.ID,
		"round":      r.RoundNumber,
		"outcome":    outcome,
		"amount":     amount.StringFixed(2),
	}).Info("Round closed")

	if r.RoundNumber >= t.DurationInCycles {
		t.Status = domain.TontineCompleted // Last round, no successor opens
		if err := tx.Model(&domain.Tontine{}).Where("id = ?", t.ID).Update("status", t.Status).Error; err != nil {
			return nil, fmt.Errorf("failed to complete tontine: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"tontine_id": t.ID,
			"rounds":     t.DurationInCycles,
		}).Info("Tontine completed")
		return r, nil
	}
	if _, err := s.openRound(tx, t, r.RoundNumber+1, box); err != nil {
		return nil, err
	}
	return r, nil
}

// assignable checks that memberID may receive an assigned payout: an active
// member of t who has not been paid more often than anyone else still active.
func (s *Service) assignable(tx *gorm.DB, t *domain.Tontine, memberID uint) (*domain.Member, error) {
	m, err := findMember(tx, memberID)
	if err != nil {
		return nil, err
	}
	if m.TontineID != t.ID || !m.IsActive {
		return nil, newError(ErrInvalidInput, "member %d is not an active member of tontine %d", memberID, t.ID)
	}
	active, err := activeMembers(tx, t.ID)
	if err != nil {
		return nil, err
	}
	counts, err := payoutCounts(tx, t.ID)
	if err != nil {
		return nil, err
	}
	least := -1
	for _, a := range active {
		if least < 0 || counts[a.ID] < least {
			least = counts[a.ID]
		}
	}
	if counts[m.ID] > least {
		return nil, newError(ErrAlreadyPaidOut, "member %d was already paid out in this cycle", m.ID)
	}
	return m, nil
}

func payoutCounts(tx *gorm.DB, tontineID uint) (map[uint]int, error) {
	var payouts []domain.PayoutInstruction
	if err := tx.Where("tontine_id = ?", tontineID).Find(&payouts).Error; err != nil {
		return nil, fmt.Errorf("failed to load payouts: %w", err)
	}
	counts := make(map[uint]int, len(payouts))
	for _, p := range payouts {
		counts[p.MemberID]++
	}
	return counts, nil
}

func paidMembers(contributions []domain.Contribution) map[uint]bool {
	paid := make(map[uint]bool, len(contributions))
	for _, c := range contributions {
		if c.Status == domain.ContributionPaid {
			paid[c.TontineMemberID] = true
		}
	}
	return paid
}

// collected sums the money received in a round, partial payments included.
func collected(contributions []domain.Contribution) decimal.Decimal {
	total := decimal.Zero
	for _, c := range contributions {
		total = total.Add(c.Amount)
	}
	return total
}
