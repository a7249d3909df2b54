package tontine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tontine_system/internal/db"
	"tontine_system/internal/domain"
	"tontine_system/internal/events"
)

var epoch = time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	db    *gorm.DB
	clock *testclock.Clock
	pub   *events.MemoryPublisher
	svc   *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		db:    database,
		clock: testclock.NewClock(epoch),
		pub:   &events.MemoryPublisher{},
	}
	opts = append([]Option{WithClock(f.clock), WithPublisher(f.pub)}, opts...)
	f.svc = NewService(database, opts...)
	return f
}

func (f *fixture) user(name string) *domain.User {
	f.t.Helper()
	u := &domain.User{Username: name, Email: name + "@example.com", Password: "hash"}
	require.NoError(f.t, f.db.Create(u).Error)
	return u
}

// circle creates a monthly tontine of amount owned by the first of n users
// and adds the others in order. Member i holds priority i+1.
func (f *fixture) circle(n, months int, amount int64) (*domain.Tontine, []*domain.Member) {
	f.t.Helper()
	creator := f.user(fmt.Sprintf("user%d", 1))
	tt, err := f.svc.CreateTontine(f.ctx, CreateTontine{
		Name:               "Savings circle",
		Type:               domain.TypeFriends,
		ContributionAmount: decimal.NewFromInt(amount),
		Frequency:          domain.FrequencyMonthly,
		DurationMonths:     months,
		CreatorID:          creator.ID,
	})
	require.NoError(f.t, err)
	members, err := f.svc.ListMembers(f.ctx, tt.ID, false)
	require.NoError(f.t, err)
	require.Len(f.t, members, 1)
	out := []*domain.Member{&members[0]}
	for i := 2; i <= n; i++ {
		u := f.user(fmt.Sprintf("user%d", i))
		m, err := f.svc.AddMember(f.ctx, AddMember{TontineID: tt.ID, UserID: u.ID, RequestedBy: creator.ID})
		require.NoError(f.t, err)
		out = append(out, m)
	}
	return tt, out
}

func (f *fixture) pay(m *domain.Member, round int, amount int64) (*domain.Contribution, error) {
	return f.svc.RecordContribution(f.ctx, RecordContribution{
		MemberID:    m.ID,
		RoundNumber: round,
		Amount:      decimal.NewFromInt(amount),
		RequestedBy: m.UserID,
	})
}

func (f *fixture) mustPay(m *domain.Member, round int, amount int64) *domain.Contribution {
	f.t.Helper()
	c, err := f.pay(m, round, amount)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) round(tontineID uint, n int) domain.Round {
	f.t.Helper()
	var r domain.Round
	require.NoError(f.t, f.db.Where("tontine_id = ? AND round_number = ?", tontineID, n).First(&r).Error)
	return r
}

func (f *fixture) tontine(id uint) domain.Tontine {
	f.t.Helper()
	var tt domain.Tontine
	require.NoError(f.t, f.db.First(&tt, id).Error)
	return tt
}

func (f *fixture) priorities(tontineID uint) map[uint]int {
	f.t.Helper()
	members, err := f.svc.ListMembers(f.ctx, tontineID, false)
	require.NoError(f.t, err)
	out := make(map[uint]int, len(members))
	for _, m := range members {
		out[m.ID] = m.PriorityOrder
	}
	return out
}

func requirePermutation(t *testing.T, priorities map[uint]int) {
	t.Helper()
	orders := make([]int, 0, len(priorities))
	for _, p := range priorities {
		orders = append(orders, p)
	}
	require.NoError(t, checkPermutation(orders))
}
