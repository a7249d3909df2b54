// Package tontine implements the rotation and contribution-ledger engine:
// membership and priority order, the per-round contribution ledger, round
// advancement with payout selection, reconciliation and invitations.
//
// Every mutating command runs in one database transaction that first locks the
// tontine row, then the round row it touches. Events and cache invalidations
// collected during the transaction are flushed only after it commits.
package tontine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tontine_system/internal/domain"
	"tontine_system/internal/events"
	"tontine_system/internal/metrics"
	"tontine_system/internal/utils"
)

// Service runs the engine commands against a shared store.
type Service struct {
	db        *gorm.DB          // Shared store
	clock     clock.Clock       // Source of now for due dates
	publisher events.Publisher  // Outbound events, called after commit
	cache     *utils.Cache      // Round status cache, may be disabled
	metrics   *metrics.Recorder // Nil records nothing
	inviteTTL time.Duration     // Invitation validity
}

// Option customises a Service.
type Option func(*Service)

// WithClock sets the clock used for round due dates and late detection.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithPublisher sets the outbound event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithCache sets the round status read cache.
func WithCache(c *utils.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithInviteTTL sets how long invitations stay valid.
func WithInviteTTL(ttl time.Duration) Option {
	return func(s *Service) { s.inviteTTL = ttl }
}

// NewService creates the engine on db.
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:        db,
		clock:     clock.WallClock,       // Real time unless a test clock is given
		publisher: events.LogPublisher{}, // Events at least reach the log
		inviteTTL: 7 * 24 * time.Hour,    // One week
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// outbox collects the side effects of a transaction until it commits.
type outbox struct {
	events     []domain.Event // Published in order after commit
	invalidate []string       // Cache keys to drop
}

func (o *outbox) emit(evt domain.Event) {
	o.events = append(o.events, evt)
}

func (o *outbox) touch(tontineID uint, roundNumber int) {
	o.invalidate = append(o.invalidate, utils.RoundStatusKey(tontineID, roundNumber))
}

// inTx runs fn in a transaction and flushes its outbox after commit.
func (s *Service) inTx(ctx context.Context, fn func(tx *gorm.DB, box *outbox) error) error {
	box := &outbox{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, box)
	})
	if err != nil {
		return err // Rolled back, nothing to flush
	}
	s.flush(ctx, box)
	return nil
}

// flush publishes events and drops stale cache entries. Failures here are
// logged: the command has already committed.
func (s *Service) flush(ctx context.Context, box *outbox) {
	if err := s.cache.Delete(ctx, box.invalidate...); err != nil {
		logrus.WithFields(logrus.Fields{
			"keys":  box.invalidate,
			"error": err.Error(),
		}).Warn("Failed to invalidate round status cache")
	}
	for _, evt := range box.events {
		err := s.publisher.Publish(ctx, evt)
		s.metrics.EventPublished(evt.Type, err)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"event":      evt.Type,
				"tontine_id": evt.TontineID,
				"round":      evt.RoundNumber,
				"error":      err.Error(),
			}).Error("Failed to publish event")
		}
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// lockTontine loads the tontine with an exclusive row lock. It is the lock
// guarding the member set and the first lock of every command.
func lockTontine(tx *gorm.DB, id uint) (*domain.Tontine, error) {
	var t domain.Tontine
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "tontine %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock tontine: %w", err)
	}
	return &t, nil
}

// lockRound loads a round with an exclusive row lock.
func lockRound(tx *gorm.DB, tontineID uint, roundNumber int) (*domain.Round, error) {
	var r domain.Round
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tontine_id = ? AND round_number = ?", tontineID, roundNumber).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "round %d of tontine %d not found", roundNumber, tontineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock round: %w", err)
	}
	return &r, nil
}

// saveRound writes r if nobody changed it since it was read, bumping Version.
func saveRound(tx *gorm.DB, r *domain.Round) error {
	res := tx.Model(&domain.Round{}).
		Where("id = ? AND version = ?", r.ID, r.Version).
		Updates(map[string]any{
			"status":                 r.Status,
			"scheduled_recipient_id": r.ScheduledRecipientID,
			"payout_member_id":       r.PayoutMemberID,
			"expected_members":       r.ExpectedMembers,
			"expected_total":         r.ExpectedTotal,
			"payout_amount":          r.PayoutAmount,
			"held_amount":            r.HeldAmount,
			"funded_at":              r.FundedAt,
			"closed_at":              r.ClosedAt,
			"version":                r.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update round: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return newError(ErrConcurrentRoundUpdate, "round %d changed concurrently, retry with fresh state", r.RoundNumber)
	}
	r.Version++ // Keep the in-memory copy writable
	return nil
}

func activeMembers(tx *gorm.DB, tontineID uint) ([]domain.Member, error) {
	var members []domain.Member
	if err := tx.Where("tontine_id = ? AND is_active = ?", tontineID, true).
		Order("priority_order ASC, id ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	return members, nil
}

func findMember(tx *gorm.DB, memberID uint) (*domain.Member, error) {
	var m domain.Member
	err := tx.First(&m, memberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "member %d not found", memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load member: %w", err)
	}
	return &m, nil
}

// activeMemberByUser returns the user's active membership, or nil.
func activeMemberByUser(tx *gorm.DB, tontineID, userID uint) (*domain.Member, error) {
	var members []domain.Member
	if err := tx.Where("tontine_id = ? AND user_id = ? AND is_active = ?", tontineID, userID, true).
		Limit(1).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	if len(members) == 0 {
		return nil, nil // Not a member
	}
	return &members[0], nil
}

func roundContributions(tx *gorm.DB, tontineID uint, roundNumber int) ([]domain.Contribution, error) {
	var contributions []domain.Contribution
	if err := tx.Where("tontine_id = ? AND round_number = ?", tontineID, roundNumber).
		Order("id ASC").
		Find(&contributions).Error; err != nil {
		return nil, fmt.Errorf("failed to load contributions: %w", err)
	}
	return contributions, nil
}

// CanAdminister is the admin capability check: the creator, the co-admin and
// active members flagged IsAdmin may administer a tontine.
func CanAdminister(t *domain.Tontine, membership *domain.Member, userID uint) bool {
	if userID == 0 {
		return false
	}
	if t.CreatorID == userID {
		return true
	}
	if t.CoAdminID != nil && *t.CoAdminID == userID {
		return true
	}
	return membership != nil && membership.IsActive && membership.UserID == userID && membership.IsAdmin
}

func authorizeAdmin(tx *gorm.DB, t *domain.Tontine, userID uint) error {
	membership, err := activeMemberByUser(tx, t.ID, userID)
	if err != nil {
		return err
	}
	if !CanAdminister(t, membership, userID) {
		return newError(ErrUnauthorized, "user %d is not an administrator of tontine %d", userID, t.ID)
	}
	return nil
}

// Authorize reports whether userID may administer tontineID.
func (s *Service) Authorize(ctx context.Context, tontineID, userID uint) error {
	var t domain.Tontine
	err := s.db.WithContext(ctx).First(&t, tontineID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(ErrNotFound, "tontine %d not found", tontineID)
	}
	if err != nil {
		return fmt.Errorf("failed to load tontine: %w", err)
	}
	return authorizeAdmin(s.db.WithContext(ctx), &t, userID)
}

// AuthorizeMember reports whether userID takes part in tontineID, as an active
// member or as one of its administrators.
func (s *Service) AuthorizeMember(ctx context.Context, tontineID, userID uint) error {
	var t domain.Tontine
	err := s.db.WithContext(ctx).First(&t, tontineID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(ErrNotFound, "tontine %d not found", tontineID)
	}
	if err != nil {
		return fmt.Errorf("failed to load tontine: %w", err)
	}
	membership, err := activeMemberByUser(s.db.WithContext(ctx), t.ID, userID)
	if err != nil {
		return err
	}
	if membership == nil && !CanAdminister(&t, nil, userID) {
		return newError(ErrUnauthorized, "user %d does not take part in tontine %d", userID, t.ID)
	}
	return nil
}

func requireActive(t *domain.Tontine) error {
	switch t.Status {
	case domain.TontineActive:
		return nil
	case domain.TontineCompleted:
		return newError(ErrTontineAlreadyComplete, "tontine %d has completed all %d rounds", t.ID, t.DurationInCycles)
	default:
		return newError(ErrTontineNotActive, "tontine %d is %s", t.ID, t.Status)
	}
}

func uintPtr(v uint) *uint {
	return &v
}
