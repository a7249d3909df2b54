package tontine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tontine_system/internal/domain"
)

// RoundReport is the outcome of reconciling a round.
type RoundReport struct {
	RoundStatus
	MarkedLate      []uint   `json:"marked_late"`     // contributions moved from pending to late by this run
	Inconsistencies []string `json:"inconsistencies"` // empty for a sound ledger
}

// Consistent reports whether the ledger checks passed.
func (r *RoundReport) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// Err returns a LedgerInconsistent error describing the failed checks, or nil.
func (r *RoundReport) Err() error {
	if r.Consistent() {
		return nil
	}
	return newError(ErrLedgerInconsistent, "round %d of tontine %d: %s",
		r.RoundNumber, r.TontineID, strings.Join(r.Inconsistencies, "; "))
}

// Reconcile recomputes a round's standing, moves overdue pending
// contributions to late and checks the ledger. Running it again changes
// nothing. An inconsistent ledger is reported, not returned as an error.
func (s *Service) Reconcile(ctx context.Context, tontineID uint, roundNumber int) (*RoundReport, error) {
	var report *RoundReport
	err := s.inTx(ctx, func(tx *gorm.DB, box *outbox) error {
		t, err := lockTontine(tx, tontineID)
		if err != nil {
			return err
		}
		r, err := lockRound(tx, t.ID, roundNumber)
		if err != nil {
			return err
		}
		report, err = s.reconcileTx(tx, t, r, box)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Service) reconcileTx(tx *gorm.DB, t *domain.Tontine, r *domain.Round, box *outbox) (*RoundReport, error) {
	now := s.now()
	report := &RoundReport{MarkedLate: []uint{}, Inconsistencies: []string{}}

	if r.Status == domain.RoundOpen && now.After(r.DueAt) {
		contributions, err := roundContributions(tx, t.ID, r.RoundNumber)
		if err != nil {
			return nil, err
		}
		var overdue []uint // members with rows moved to late, in row order
		seen := map[uint]bool{}
		for _, c := range contributions {
			if c.Status != domain.ContributionPending {
				continue
			}
			if err := tx.Model(&domain.Contribution{}).Where("id = ? AND status = ?", c.ID, domain.ContributionPending).
				Update("status", domain.ContributionLate).Error; err != nil {
				return nil, fmt.Errorf("failed to mark contribution late: %w", err)
			}
			report.MarkedLate = append(report.MarkedLate, c.ID)
			if !seen[c.TontineMemberID] {
				seen[c.TontineMemberID] = true
				overdue = append(overdue, c.TontineMemberID)
			}
		}

		// one notice per member, for what the member still owes
		paid := paidMembers(contributions)
		for _, memberID := range overdue {
			if paid[memberID] {
				continue
			}
			shortfall := t.ContributionAmount.Sub(receivedFrom(memberID, contributions))
			if shortfall.IsNegative() {
				shortfall = decimal.Zero
			}
			box.emit(domain.Event{
				Type:        domain.EventContributionLate,
				TontineID:   t.ID,
				RoundNumber: r.RoundNumber,
				MemberID:    uintPtr(memberID),
				Amount:      &shortfall,
				OccurredAt:  now,
			})
		}
		if len(report.MarkedLate) > 0 {
			box.touch(t.ID, r.RoundNumber)
		}
	}

	status, err := s.roundStatus(tx, r)
	if err != nil {
		return nil, err
	}
	report.RoundStatus = *status

	checks, err := s.ledgerChecks(tx, t, r)
	if err != nil {
		return nil, err
	}
	report.Inconsistencies = append(report.Inconsistencies, checks...)
	if !report.Consistent() {
		s.metrics.LedgerInconsistent()
		logrus.WithFields(logrus.Fields{
			"tontine_id": t.ID,
			"round":      r.RoundNumber,
			"problems":   report.Inconsistencies,
		}).Error("Ledger inconsistent")
	}
	return report, nil
}

// receivedFrom sums what memberID paid into the round, partial rows included.
func receivedFrom(memberID uint, contributions []domain.Contribution) decimal.Decimal {
	total := decimal.Zero
	for _, c := range contributions {
		if c.TontineMemberID == memberID {
			total = total.Add(c.Amount)
		}
	}
	return total
}

// ledgerChecks lists every broken ledger rule of r.
func (s *Service) ledgerChecks(tx *gorm.DB, t *domain.Tontine, r *domain.Round) ([]string, error) {
	var problems []string
	contributions, err := roundContributions(tx, t.ID, r.RoundNumber)
	if err != nil {
		return nil, err
	}

	if r.Status != domain.RoundClosed && t.Status == domain.TontineActive && r.RoundNumber == t.CurrentRound {
		active, err := activeMembers(tx, t.ID)
		if err != nil {
			return nil, err
		}
		if r.ExpectedMembers != len(active) {
			problems = append(problems, fmt.Sprintf("expected total is based on %d members but %d are active", r.ExpectedMembers, len(active)))
		}
	}
	if want := expectedTotal(t, r.ExpectedMembers); !r.ExpectedTotal.Equal(want) {
		problems = append(problems, fmt.Sprintf("expected total %s differs from %s", r.ExpectedTotal.StringFixed(2), want.StringFixed(2)))
	}

	paid := map[uint]int{}
	for _, c := range contributions {
		if c.Status == domain.ContributionPaid {
			paid[c.TontineMemberID]++
		}
	}
	for memberID, n := range paid {
		if n > 1 {
			problems = append(problems, fmt.Sprintf("member %d has %d paid contributions", memberID, n))
		}
	}

	if r.Status == domain.RoundClosed {
		in := collected(contributions)
		if out := r.PayoutAmount.Add(r.HeldAmount); !out.Equal(in) {
			problems = append(problems, fmt.Sprintf("collected %s but paid out %s and held %s",
				in.StringFixed(2), r.PayoutAmount.StringFixed(2), r.HeldAmount.StringFixed(2)))
		}
		var payouts []domain.PayoutInstruction
		if err := tx.Where("tontine_id = ? AND round_number = ?", t.ID, r.RoundNumber).Find(&payouts).Error; err != nil {
			return nil, fmt.Errorf("failed to load payout: %w", err)
		}
		switch {
		case r.PayoutMemberID == nil && len(payouts) > 0:
			problems = append(problems, "payout instruction exists for a skipped round")
		case r.PayoutMemberID != nil && (len(payouts) != 1 || payouts[0].MemberID != *r.PayoutMemberID):
			problems = append(problems, fmt.Sprintf("payout instruction does not match recipient %d", *r.PayoutMemberID))
		}
	}
	return problems, nil
}

// SweepLate reconciles every open round past its due date, which marks its
// pending contributions late. It returns how many contributions changed.
func (s *Service) SweepLate(ctx context.Context) (int, error) {
	var overdue []domain.Round
	if err := s.db.WithContext(ctx).
		Where("status = ? AND due_at < ?", domain.RoundOpen, s.now()).
		Order("tontine_id ASC, round_number ASC").
		Find(&overdue).Error; err != nil {
		return 0, fmt.Errorf("failed to find overdue rounds: %w", err)
	}
	marked := 0
	for _, r := range overdue {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		report, err := s.Reconcile(ctx, r.TontineID, r.RoundNumber)
		if err != nil {
			return marked, err
		}
		marked += len(report.MarkedLate)
	}
	if marked > 0 {
		logrus.WithFields(logrus.Fields{
			"rounds": len(overdue),
			"marked": marked,
		}).Info("Late contributions swept")
	}
	return marked, nil
}
