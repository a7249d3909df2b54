package tontine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tontine_system/internal/domain"
)

// CreateTontine is the payload of the createTontine command.
type CreateTontine struct {
	Name               string
	Type               string
	ContributionAmount decimal.Decimal
	Frequency          string
	DurationMonths     int
	CreatorID          uint
	CoAdminID          *uint
}

func (c CreateTontine) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return newError(ErrInvalidInput, "name is required")
	}
	switch c.Type {
	case domain.TypeFriends, domain.TypeFamily, domain.TypeBusiness, domain.TypeInvestment:
	default:
		return newError(ErrInvalidInput, "unknown tontine type %q", c.Type)
	}
	if !c.ContributionAmount.IsPositive() {
		return newError(ErrInvalidInput, "contribution amount must be positive")
	}
	if c.Frequency != domain.FrequencyWeekly && c.Frequency != domain.FrequencyMonthly {
		return newError(ErrInvalidInput, "unknown frequency %q", c.Frequency)
	}
	if c.DurationMonths < 1 {
		return newError(ErrInvalidInput, "duration must be at least one month")
	}
	if c.CreatorID == 0 {
		return newError(ErrInvalidInput, "creator is required")
	}
	return nil
}

// CreateTontine creates the tontine, enrolls the creator as admin at priority 1
// and opens round 1.
func (s *Service) CreateTontine(ctx context.Context, cmd CreateTontine) (*domain.Tontine, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	t := &domain.Tontine{
		Name:               strings.TrimSpace(cmd.Name),
		Type:               cmd.Type,
		ContributionAmount: cmd.ContributionAmount.Round(2),
		Frequency:          cmd.Frequency,
		DurationMonths:     cmd.DurationMonths,
		DurationInCycles:   cmd.DurationMonths * domain.CyclesPerMonth(cmd.Frequency),
		CreatorID:          cmd.CreatorID,
		CoAdminID:          cmd.CoAdminID,
		Status:             domain.TontineActive,
	}
	err := s.inTx(ctx, func(tx *gorm.DB, box *outbox) error {
		if err := requireUser(tx, cmd.CreatorID); err != nil {
			return err
		}
		if cmd.CoAdminID != nil {
			if err := requireUser(tx, *cmd.CoAdminID); err != nil {
				return err
			}
		}
		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("failed to create tontine: %w", err)
		}
		creator := domain.Member{
			TontineID:     t.ID,
			UserID:        cmd.CreatorID,
			PriorityOrder: 1,
			IsAdmin:       true,
			IsActive:      true,
			JoinedAt:      s.now(),
		}
		if err := tx.Create(&creator).Error; err != nil {
			return fmt.Errorf("failed to enroll creator: %w", err)
		}
		_, err := s.openRound(tx, t, 1, box)
		return err
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"creator_id": cmd.CreatorID,
			"error":      err.Error(),
		}).Warn("Create tontine failed")
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"tontine_id": t.ID,
		"creator_id": t.CreatorID,
		"cycles":     t.DurationInCycles,
	}).Info("Tontine created")
	return t, nil
}

// UpdateTontine carries the editable fields; nil fields are left unchanged.
type UpdateTontine struct {
	TontineID          uint
	RequestedBy        uint
	Name               *string
	DurationMonths     *int
	ContributionAmount *decimal.Decimal
}

// UpdateTontine edits name and duration, and the contribution amount as long
// as no contribution has been recorded.
func (s *Service) UpdateTontine(ctx context.Context, cmd UpdateTontine) (*domain.Tontine, error) {
	var out *domain.Tontine
	err := s.inTx(ctx, func(tx *gorm.DB, box *outbox) error {
		t, err := lockTontine(tx, cmd.TontineID)
		if err != nil {
			return err
		}
		if err := requireActive(t); err != nil {
			return err
		}
		if err := authorizeAdmin(tx, t, cmd.RequestedBy); err != nil {
			return err
		}
		if cmd.Name != nil {
			name := strings.TrimSpace(*cmd.Name)
			if name == "" {
				return newError(ErrInvalidInput, "name is required")
			}
			t.Name = name
		}
		if cmd.DurationMonths != nil {
			cycles := *cmd.DurationMonths * domain.CyclesPerMonth(t.Frequency)
			if *cmd.DurationMonths < 1 || cycles < t.CurrentRound {
				return newError(ErrInvalidInput, "duration of %d months leaves fewer rounds than the %d already opened", *cmd.DurationMonths, t.CurrentRound)
			}
			t.DurationMonths = *cmd.DurationMonths
			t.DurationInCycles = cycles
		}
		if cmd.ContributionAmount != nil && !cmd.ContributionAmount.Equal(t.ContributionAmount) {
			if t.HasContributions {
				return newError(ErrContributionAmountLocked, "contribution amount cannot change once a contribution is recorded")
			}
			if !cmd.ContributionAmount.IsPositive() {
				return newError(ErrInvalidInput, "contribution amount must be positive")
			}
			t.ContributionAmount = cmd.ContributionAmount.Round(2)
			r, err := lockRound(tx, t.ID, t.CurrentRound)
			if err != nil {
				return err
			}
			r.ExpectedTotal = expectedTotal(t, r.ExpectedMembers)
			if err := saveRound(tx, r); err != nil {
				return err
			}
			// seeded obligations owe the new amount
			if err := tx.Model(&domain.Contribution{}).
				Where("tontine_id = ? AND round_number = ? AND placeholder = ?", t.ID, r.RoundNumber, true).
				Update("shortfall", t.ContributionAmount).Error; err != nil {
				return fmt.Errorf("failed to reprice contributions: %w", err)
			}
			box.touch(t.ID, r.RoundNumber)
		}
		if err := tx.Save(t).Error; err != nil {
			return fmt.Errorf("failed to update tontine: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"tontine_id": out.ID,
		"user_id":    cmd.RequestedBy,
	}).Info("Tontine updated")
	return out, nil
}

// CancelTontine cancels a tontine that has no contribution yet, removing the
// members, rounds, contributions and invitations it owns.
func (s *Service) CancelTontine(ctx context.Context, tontineID, requestedBy uint) (*domain.Tontine, error) {
	var out *domain.Tontine
	err := s.inTx(ctx, func(tx *gorm.DB, box *outbox) error {
		t, err := lockTontine(tx, tontineID)
		if err != nil {
			return err
		}
		if err := requireActive(t); err != nil {
			return err
		}
		if err := authorizeAdmin(tx, t, requestedBy); err != nil {
			return err
		}
		if t.HasContributions {
			return newError(ErrTontineHasContributions, "tontine %d already has contributions and cannot be cancelled", t.ID)
		}
		for _, model := range []any{&domain.Contribution{}, &domain.Round{}, &domain.Member{}, &domain.Invite{}} {
			if err := tx.Where("tontine_id = ?", t.ID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to cascade cancellation: %w", err)
			}
		}
		for n := 1; n <= t.CurrentRound; n++ {
			box.touch(t.ID, n)
		}
		t.Status = domain.TontineCancelled
		if err := tx.Save(t).Error; err != nil {
			return fmt.Errorf("failed to cancel tontine: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"tontine_id": tontineID,
		"user_id":    requestedBy,
	}).Info("Tontine cancelled")
	return out, nil
}

// GetTontine returns a tontine by id.
func (s *Service) GetTontine(ctx context.Context, tontineID uint) (*domain.Tontine, error) {
	var t domain.Tontine
	err := s.db.WithContext(ctx).First(&t, tontineID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "tontine %d not found", tontineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tontine: %w", err)
	}
	return &t, nil
}

// ListMembers returns the roster ordered by priority; removed members are
// included only when includeInactive is set.
func (s *Service) ListMembers(ctx context.Context, tontineID uint, includeInactive bool) ([]domain.Member, error) {
	q := s.db.WithContext(ctx).Where("tontine_id = ?", tontineID)
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	var members []domain.Member
	if err := q.Order("is_active DESC, priority_order ASC, id ASC").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// AddMember is the payload of the addMember command.
type AddMember struct {
	TontineID         uint
	UserID            uint
	RequestedPriority *int
	RequestedBy       uint
}

// AddMember enrolls a user. Without a requested priority the member goes last;
// otherwise members from that position on shift up by one.
func (s *Service) AddMember(ctx context.Context, cmd AddMember) (*domain.Member, error) {
	var out *domain.Member
	err := s.inTx(ctx, func(tx *gorm.DB, box *outbox) error {
		t, err := lockTontine(tx, cmd.TontineID)
		if err != nil {
			return err
		}
		if err := requireActive(t); err != nil {
			return err
		}
		if err := authorizeAdmin(tx, t, cmd.RequestedBy); err != nil {
			return err
		}
		out, err = s.addMemberTx(tx, t, cmd.UserID, cmd.RequestedPriority, box)
		return err
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"tontine_id": cmd.TontineID,
			"user_id":    cmd.UserID,
			"error":      err.Error(),
		}).Warn("Add member failed")
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"tontine_id": out.TontineID,
		"member_id":  out.ID,
		"user_id":    out.UserID,
		"priority":   out.PriorityOrder,
	}).Info("Member added")
	return out, nil
}

// addMemberTx expects t locked and active.
func (s *Service) addMemberTx(tx *gorm.DB, t *domain.Tontine, userID uint, requested *int, box *outbox) (*domain.Member, error) {
	if err := requireUser(tx, userID); err != nil {
		return nil, err
	}
	active, err := activeMembers(tx, t.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range active {
		if m.UserID == userID {
			return nil, newError(ErrDuplicateMember, "user %d is already an active member of tontine %d", userID, t.ID)
		}
	}
	r, err := lockRound(tx, t.ID, t.CurrentRound)
	if err != nil {
		return nil, err
	}
	if r.Status == domain.RoundFunded {
		return nil, newError(ErrRoundAwaitingClosure, "round %d is funded and awaiting closure", r.RoundNumber)
	}

	position := len(active) + 1
	if requested != nil {
		position = *requested
		if position < 1 || position > len(active)+1 {
			return nil, newError(ErrInvalidInput, "priority %d outside 1..%d", position, len(active)+1)
		}
		if r.Status == domain.RoundOpen {
			if floor := minInsertPriority(r, active); position < floor {
				return nil, newError(ErrInvalidInput, "priority %d is already served in the current cycle, the earliest free position is %d", position, floor)
			}
		}
	}

	orders := insertionOrders(active, position)
	for _, m := range active {
		if orders[m.ID] == m.PriorityOrder {
			continue
		}
		if err := tx.Model(&domain.Member{}).Where("id = ?", m.ID).
			Update("priority_order", orders[m.ID]).Error; err != nil {
			return nil, fmt.Errorf("failed to renumber member: %w", err)
		}
	}
	member := &domain.Member{
		TontineID:     t.ID,
		UserID:        userID,
		PriorityOrder: position,
		IsActive:      true,
		JoinedAt:      s.now(),
	}
	if err := tx.Create(member).Error; err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	if err := verifyPriorities(tx, t.ID); err != nil {
		return nil, err
	}

	// A member joining an open round owes it too.
	if r.Status == domain.RoundOpen {
		if err := tx.Create(placeholder(t, r.RoundNumber, member.ID)).Error; err != nil {
			return nil, fmt.Errorf("failed to seed contribution: %w", err)
		}
		r.ExpectedMembers++
		r.ExpectedTotal = expectedTotal(t, r.ExpectedMembers)
		if err := saveRound(tx, r); err != nil {
			return nil, err
		}
		box.touch(t.ID, r.RoundNumber)
	}
	return member, nil
}

// RemoveMember is the payload of the removeMember command.
type RemoveMember struct {
	TontineID   uint // optional, checked against the member's tontine when set
	MemberID    uint
	RequestedBy uint
}

// RemoveMember deactivates a member who owes nothing in the open round and has
// not been paid out, then closes the gap in priority order.
func (s *Service) RemoveMember(ctx context.Context, cmd RemoveMember) error {
	var removed *domain.Member
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
		if err := s.removeMemberTx(tx, t, m, box); err != nil {
			return err
		}
		removed = m
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"member_id": cmd.MemberID,
			"user_id":   cmd.RequestedBy,
			"error":     err.Error(),
		}).Warn("Remove member failed")
		return err
	}
	logrus.WithFields(logrus.Fields{
		"tontine_id": removed.TontineID,
		"member_id":  removed.ID,
	}).Info("Member removed")
	return nil
}

func (s *Service) removeMemberTx(tx *gorm.DB, t *domain.Tontine, m *domain.Member, box *outbox) error {
	var payouts int64
	if err := tx.Model(&domain.PayoutInstruction{}).
		Where("tontine_id = ? AND member_id = ?", t.ID, m.ID).
		Count(&payouts).Error; err != nil {
		return fmt.Errorf("failed to count payouts: %w", err)
	}
	if payouts > 0 && t.Status == domain.TontineActive {
		return newError(ErrMemberHasPendingObligation, "member %d already received a payout and still owes the remaining rounds", m.ID)
	}

	var r *domain.Round
	if t.Status == domain.TontineActive {
		var err error
		if r, err = lockRound(tx, t.ID, t.CurrentRound); err != nil {
			return err
		}
		if r.Status == domain.RoundFunded {
			return newError(ErrRoundAwaitingClosure, "round %d is funded and awaiting closure", r.RoundNumber)
		}
		contributions, err := roundContributions(tx, t.ID, r.RoundNumber)
		if err != nil {
			return err
		}
		if owesRound(m.ID, contributions) {
			return newError(ErrMemberHasPendingObligation, "member %d has an unresolved contribution in round %d", m.ID, r.RoundNumber)
		}
	}

	now := s.now()
	m.IsActive = false
	m.IsAdmin = false
	m.RemovedAt = &now
	if err := tx.Model(&domain.Member{}).Where("id = ?", m.ID).Updates(map[string]any{
		"is_active":  false,
		"is_admin":   false,
		"removed_at": now,
	}).Error; err != nil {
		return fmt.Errorf("failed to deactivate member: %w", err)
	}

	remaining, err := activeMembers(tx, t.ID)
	if err != nil {
		return err
	}
	orders := compactOrders(remaining)
	for _, rm := range remaining {
		if orders[rm.ID] == rm.PriorityOrder {
			continue
		}
		if err := tx.Model(&domain.Member{}).Where("id = ?", rm.ID).
			Update("priority_order", orders[rm.ID]).Error; err != nil {
			return fmt.Errorf("failed to renumber member: %w", err)
		}
	}
	if err := verifyPriorities(tx, t.ID); err != nil {
		return err
	}

	leftRound := t.CurrentRound
	if r != nil && r.Status == domain.RoundOpen {
		r.ExpectedMembers--
		r.ExpectedTotal = expectedTotal(t, r.ExpectedMembers)
		if err := saveRound(tx, r); err != nil {
			return err
		}
		box.touch(t.ID, r.RoundNumber)
		if _, err := s.advance(tx, t, r, box); err != nil {
			return err
		}
	}
	box.emit(domain.Event{
		Type:        domain.EventMemberRemoved,
		TontineID:   t.ID,
		RoundNumber: leftRound,
		MemberID:    uintPtr(m.ID),
		OccurredAt:  now,
	})
	return nil
}

// PromoteAdmin is the payload of the promoteAdmin command.
type PromoteAdmin struct {
	TontineID   uint // optional, checked against the member's tontine when set
	MemberID    uint
	RequestedBy uint
}

// PromoteAdmin grants the admin capability to an active member.
func (s *Service) PromoteAdmin(ctx context.Context, cmd PromoteAdmin) (*domain.Member, error) {
	var out *domain.Member
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
		if err := authorizeAdmin(tx, t, cmd.RequestedBy); err != nil {
			return err
		}
		if m, err = findMember(tx, cmd.MemberID); err != nil {
			return err
		}
		if !m.IsActive {
			return newError(ErrNotFound, "member %d is not active", m.ID)
		}
		if !m.IsAdmin {
			if err := tx.Model(&domain.Member{}).Where("id = ?", m.ID).Update("is_admin", true).Error; err != nil {
				return fmt.Errorf("failed to promote member: %w", err)
			}
			m.IsAdmin = true
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"tontine_id": out.TontineID,
		"member_id":  out.ID,
		"user_id":    cmd.RequestedBy,
	}).Info("Member promoted to admin")
	return out, nil
}

// owesRound reports whether memberID has a contribution in the round but no
// paid one. Members without any row in the round owe nothing for it.
func owesRound(memberID uint, contributions []domain.Contribution) bool {
	participates, paid := false, false
	for _, c := range contributions {
		if c.TontineMemberID != memberID {
			continue
		}
		participates = true
		if c.Status == domain.ContributionPaid {
			paid = true
		}
	}
	return participates && !paid
}

func verifyPriorities(tx *gorm.DB, tontineID uint) error {
	active, err := activeMembers(tx, tontineID)
	if err != nil {
		return err
	}
	orders := make([]int, len(active))
	for i, m := range active {
		orders[i] = m.PriorityOrder
	}
	return checkPermutation(orders)
}

func requireUser(tx *gorm.DB, userID uint) error {
	var count int64
	if err := tx.Model(&domain.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if count == 0 {
		return newError(ErrNotFound, "user %d not found", userID)
	}
	return nil
}

func expectedTotal(t *domain.Tontine, members int) decimal.Decimal {
	return t.ContributionAmount.Mul(decimal.NewFromInt(int64(members)))
}

func placeholder(t *domain.Tontine, roundNumber int, memberID uint) *domain.Contribution {
	return &domain.Contribution{
		TontineID:       t.ID,
		TontineMemberID: memberID,
		RoundNumber:     roundNumber,
		Amount:          decimal.Zero,
		Shortfall:       t.ContributionAmount,
		Status:          domain.ContributionPending,
		Placeholder:     true,
	}
}
