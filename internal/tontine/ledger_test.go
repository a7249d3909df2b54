package tontine

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tontine_system/internal/domain"
	"tontine_system/internal/utils"
)

func TestRoundFundsAndClosesOnLastContribution(t *testing.T) {
	f := newFixture(t)
	tt, members := f.circle(3, 6, 100)
	a, b, c := members[0], members[1], members[2]

	ca := f.mustPay(a, 1, 100)
	assert.Equal(t, domain.ContributionPaid, ca.Status)
	f.mustPay(b, 1, 100)
	assert.Equal(t, domain.RoundOpen, f.round(tt.ID, 1).Status)

	status, err := f.svc.GetRoundStatus(f.ctx, tt.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{c.ID}, status.OutstandingMembers)
	assert.True(t, decimal.NewFromInt(200).Equal(status.FundedAmount))

	f.mustPay(c, 1, 100)

	r1 := f.round(tt.ID, 1)
	assert.Equal(t, domain.RoundClosed, r1.Status)
	require.NotNil(t, r1.PayoutMemberID)
	assert.Equal(t, a.ID, *r1.PayoutMemberID)
	assert.True(t, decimal.NewFromInt(300).Equal(r1.PayoutAmount))
	assert.NotNil(t, r1.FundedAt)
	assert.NotNil(t, r1.ClosedAt)

	r2 := f.round(tt.ID, 2)
	assert.Equal(t, domain.RoundOpen, r2.Status)
	assert.True(t, decimal.NewFromInt(300).Equal(r2.ExpectedTotal))
	assert.Equal(t, b.ID, *r2.ScheduledRecipientID)
	assert.Equal(t, 2, f.tontine(tt.ID).CurrentRound)

	require.Len(t, f.pub.OfType(domain.EventRoundFunded), 1)
	closed := f.pub.OfType(domain.EventRoundClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, a.ID, *closed[0].PayoutMemberID)
	assert.True(t, decimal.NewFromInt(300).Equal(*closed[0].Amount))

	payouts, err := f.svc.ListPayouts(f.ctx, tt.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, domain.PayoutScheduled, payouts[0].Type)

	// round 2 is seeded with one placeholder per member
	contributions, err := f.svc.ListContributions(f.ctx, tt.ID, 2)
	require.NoError(t, err)
	require.Len(t, contributions, 3)
	for _, c := range contributions {
		assert.True(t, c.Placeholder)
		assert.Equal(t, domain.ContributionPending, c.Status)
	}
}

func TestDuplicatePaidContribution(t *testing.T) {
	f := newFixture(t)
	_, members := f.circle(3, 6, 100)
	f.mustPay(members[0], 1, 100)
	_, err := f.pay(members[0], 1, 100)
	assert.ErrorIs(t, err, ErrDuplicatePaidContribution)
	assert.Equal(t, KindStateConflict, KindOf(err))
}

func TestPartialContribution(t *testing.T) {
	f := newFixture(t)
	tt, members := f.circle(2, 6, 100)

	partial := f.mustPay(members[1], 1, 40)
	assert.Equal(t, domain.ContributionPending, partial.Status)
	assert.True(t, decimal.NewFromInt(60).Equal(partial.Shortfall))
	assert.False(t, partial.Placeholder)

	// a full payment still completes the member's obligation
	f.mustPay(members[0], 1, 100)
	assert.Equal(t, domain.RoundOpen, f.round(tt.ID, 1).Status)
	full := f.mustPay(members[1], 1, 100)
	assert.Equal(t, domain.ContributionPaid, full.Status)

	r1 := f.round(tt.ID, 1)
	assert.Equal(t, domain.RoundClosed, r1.Status)
	assert.True(t, decimal.NewFromInt(240).Equal(r1.PayoutAmount))
}

func TestOverpaymentDoesNotCoverAnotherMember(t *testing.T) {
	f := newFixture(t)
	tt, members := f.circle(3, 6, 100)
	f.mustPay(members[0], 1, 200)
	f.mustPay(members[1], 1, 100)

	status, err := f.svc.GetRoundStatus(f.ctx, tt.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundOpen, status.Status)
	assert.True(t, status.FundedAmount.GreaterThanOrEqual(status.ExpectedTotal))
	assert.Equal(t, []uint{members[2].ID}, status.OutstandingMembers)
	assert.True(t, decimal.NewFromInt(100).Equal(status.Members[0].Overpaid))
}

func TestRecordContributionRejections(t *testing.T) {
	f := newFixture(t)
	tt, members := f.circle(2, 6, 100)

	t.Run("validation", func(t *testing.T) {
		_, err := f.pay(members[0], 1, 0)
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = f.pay(members[0], 0, 100)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("another member's contribution", func(t *testing.T) {
		_, err := f.svc.RecordContribution(f.ctx, RecordContribution{
			MemberID:    members[0].ID,
			RoundNumber: 1,
			Amount:      decimal.NewFromInt(100),
			RequestedBy: members[1].UserID,
		})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("admin records for a member", func(t *testing.T) {
		ref := "bank-123"
		c, err := f.svc.RecordContribution(f.ctx, RecordContribution{
			MemberID:      members[1].ID,
			RoundNumber:   1,
			Amount:        decimal.NewFromInt(100),
			TransactionID: &ref,
			RequestedBy:   members[0].UserID,
		})
		require.NoError(t, err)
		require.NotNil(t, c.TransactionID)
		assert.Equal(t, "bank-123", *c.TransactionID)
		assert.True(t, f.tontine(tt.ID).HasContributions)
	})

	t.Run("closed round", func(t *testing.T) {
		f.mustPay(members[0], 1, 100)
		assert.Equal(t, domain.RoundClosed, f.round(tt.ID, 1).Status)
		_, err := f.pay(members[0], 1, 100)
		assert.ErrorIs(t, err, ErrRoundClosed)
	})

	t.Run("round not opened yet", func(t *testing.T) {
		_, err := f.pay(members[0], 5, 100)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLateContributionOnRecord(t *testing.T) {
	f := newFixture(t)
	_, members := f.circle(2, 6, 100)
	f.clock.Advance(40 * 24 * time.Hour)

	c := f.mustPay(members[1], 1, 50)
	assert.Equal(t, domain.ContributionLate, c.Status)

	paid := f.mustPay(members[1], 1, 100)
	assert.Equal(t, domain.ContributionPaid, paid.Status)
}

func TestRoundStatusCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, WithCache(utils.NewCache(rdb, time.Minute)))
	tt, members := f.circle(2, 6, 100)
	key := utils.RoundStatusKey(tt.ID, 1)

	status, err := f.svc.GetRoundStatus(f.ctx, tt.ID, 1)
	require.NoError(t, err)
	assert.Len(t, status.OutstandingMembers, 2)
	assert.True(t, mr.Exists(key))

	cached, err := f.svc.GetRoundStatus(f.ctx, tt.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, status.OutstandingMembers, cached.OutstandingMembers)
	assert.True(t, status.ExpectedTotal.Equal(cached.ExpectedTotal))

	f.mustPay(members[0], 1, 100)
	assert.False(t, mr.Exists(key), "contribution must invalidate the cached status")

	status, err = f.svc.GetRoundStatus(f.ctx, tt.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{members[1].ID}, status.OutstandingMembers)

	_, err = f.svc.GetRoundStatus(f.ctx, tt.ID, 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoundStatusCacheExpiresAtDueDate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, WithCache(utils.NewCache(rdb, time.Hour)))
	tt, _ := f.circle(2, 6, 100)
	key := utils.RoundStatusKey(tt.ID, 1)
	due := f.round(tt.ID, 1).DueAt
	f.clock.Advance(due.Sub(epoch) - 10*time.Minute)

	status, err := f.svc.GetRoundStatus(f.ctx, tt.ID, 1)
	require.NoError(t, err)
	for _, ms := range status.Members {
		assert.Equal(t, domain.ContributionPending, ms.Status)
	}
	assert.Equal(t, 10*time.Minute, mr.TTL(key))

	mr.FastForward(11 * time.Minute)
	f.clock.Advance(11 * time.Minute)
	status, err = f.svc.GetRoundStatus(f.ctx, tt.ID, 1)
	require.NoError(t, err)
	for _, ms := range status.Members {
		assert.Equal(t, domain.ContributionLate, ms.Status)
	}
	assert.Equal(t, time.Hour, mr.TTL(key), "past due the status no longer changes with time")
}

func TestSingleMemberRoundNeverFunds(t *testing.T) {
	f := newFixture(t)
	tt, members := f.circle(1, 6, 100)
	f.mustPay(members[0], 1, 100)

	assert.Equal(t, domain.RoundOpen, f.round(tt.ID, 1).Status)
	assert.Empty(t, f.pub.OfType(domain.EventRoundFunded))
}
