package tontine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tontine_system/internal/domain"
)

func TestInviteAndAccept(t *testing.T) {
	f := newFixture(t)
	tt, members := f.circle(2, 6, 100)
	admin := members[0].UserID

	inv, err := f.svc.Invite(f.ctx, Invite{TontineID: tt.ID, Email: " Carol@Example.com ", RequestedBy: admin})
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", inv.Email)
	assert.Equal(t, domain.InvitePending, inv.Status)
	assert.Len(t, inv.Token, 36)

	again, err := f.svc.Invite(f.ctx, Invite{TontineID: tt.ID, Email: "carol@example.com", RequestedBy: admin})
	require.NoError(t, err)
	assert.Equal(t, inv.ID, again.ID, "a valid pending invitation is reused")

	carol := f.user("carol")

	t.Run("accept twice yields the same member", func(t *testing.T) {
		m1, err := f.svc.Accept(f.ctx, inv.ID, carol.ID)
		require.NoError(t, err)
		m2, err := f.svc.AcceptToken(f.ctx, inv.Token, carol.ID)
		require.NoError(t, err)
		assert.Equal(t, m1.ID, m2.ID)
		assert.Equal(t, 3, m1.PriorityOrder)

		var count int64
		require.NoError(t, f.db.Model(&domain.Member{}).Where("tontine_id = ? AND user_id = ?", tt.ID, carol.ID).Count(&count).Error)
		assert.Equal(t, int64(1), count)
		assert.Equal(t, 3, f.round(tt.ID, 1).ExpectedMembers)
	})

	t.Run("another user cannot reuse it", func(t *testing.T) {
		mallory := f.user("mallory")
		_, err := f.svc.Accept(f.ctx, inv.ID, mallory.ID)
		assert.ErrorIs(t, err, ErrInviteAlreadyUsed)
	})

	t.Run("existing member", func(t *testing.T) {
		_, err := f.svc.Invite(f.ctx, Invite{TontineID: tt.ID, Email: "carol@example.com", RequestedBy: admin})
		assert.ErrorIs(t, err, ErrAlreadyMember)
	})

	t.Run("non admin", func(t *testing.T) {
		_, err := f.svc.Invite(f.ctx, Invite{TontineID: tt.ID, Email: "x@example.com", RequestedBy: members[1].UserID})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("malformed email", func(t *testing.T) {
		_, err := f.svc.Invite(f.ctx, Invite{TontineID: tt.ID, Email: "not an email", RequestedBy: admin})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := f.svc.AcceptToken(f.ctx, "nope", carol.ID)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	invites, err := f.svc.ListInvites(f.ctx, tt.ID)
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, domain.InviteAccepted, invites[0].Status)
	assert.Equal(t, carol.ID, *invites[0].AcceptedBy)
}

func TestAcceptRejections(t *testing.T) {
	f := newFixture(t, WithInviteTTL(48*time.Hour))
	tt, members := f.circle(2, 6, 100)
	admin := members[0].UserID

	t.Run("wrong address", func(t *testing.T) {
		inv, err := f.svc.Invite(f.ctx, Invite{TontineID: tt.ID, Email: "dan@example.com", RequestedBy: admin})
		require.NoError(t, err)
		eve := f.user("eve")
		_, err = f.svc.Accept(f.ctx, inv.ID, eve.ID)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		inv, err := f.svc.Invite(f.ctx, Invite{TontineID: tt.ID, Email: "gus@example.com", RequestedBy: admin})
		require.NoError(t, err)
		gus := f.user("gus")
		f.clock.Advance(72 * time.Hour)
		_, err = f.svc.Accept(f.ctx, inv.ID, gus.ID)
		assert.ErrorIs(t, err, ErrInviteExpired)
		assert.Equal(t, KindValidation, KindOf(err))

		fresh, err := f.svc.Invite(f.ctx, Invite{TontineID: tt.ID, Email: "gus@example.com", RequestedBy: admin})
		require.NoError(t, err)
		assert.NotEqual(t, inv.ID, fresh.ID)
		m, err := f.svc.Accept(f.ctx, fresh.ID, gus.ID)
		require.NoError(t, err)
		assert.True(t, m.IsActive)
	})

	t.Run("unknown invitation", func(t *testing.T) {
		_, err := f.svc.Accept(f.ctx, 999, members[1].UserID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
