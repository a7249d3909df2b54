package tontine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tontine_system/internal/domain"
)

// Invite is the payload of the invite command.
type Invite struct {
	TontineID   uint
	Email       string
	RequestedBy uint
}

// Invite creates a pending invitation for an email address. Inviting the same
// address again while an invitation is still valid returns that invitation.
func (s *Service) Invite(ctx context.Context, cmd Invite) (*domain.Invite, error) {
	email, err := normalizeEmail(cmd.Email)
	if err != nil {
		return nil, err
	}
	var out *domain.Invite
	err = s.inTx(ctx, func(tx *gorm.DB, box *outbox) error {
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

		var users []domain.User
		if err := tx.Where("LOWER(email) = ?", email).Limit(1).Find(&users).Error; err != nil {
			return fmt.Errorf("failed to look up invitee: %w", err)
		}
		if len(users) == 1 {
			membership, err := activeMemberByUser(tx, t.ID, users[0].ID)
			if err != nil {
				return err
			}
			if membership != nil {
				return newError(ErrAlreadyMember, "%s is already a member of tontine %d", email, t.ID)
			}
		}

		now := s.now()
		var pending []domain.Invite
		if err := tx.Where("tontine_id = ? AND email = ? AND status = ? AND expires_at > ?",
			t.ID, email, domain.InvitePending, now).
			Order("id DESC").Limit(1).Find(&pending).Error; err != nil {
			return fmt.Errorf("failed to look up invitations: %w", err)
		}
		if len(pending) == 1 {
			out = &pending[0]
			return nil
		}

		out = &domain.Invite{
			TontineID: t.ID,
			Email:     email,
			Token:     uuid.NewString(),
			InvitedBy: cmd.RequestedBy,
			Status:    domain.InvitePending,
			ExpiresAt: now.Add(s.inviteTTL),
		}
		if err := tx.Create(out).Error; err != nil {
			return fmt.Errorf("failed to create invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"tontine_id": out.TontineID,
		"invite_id":  out.ID,
		"user_id":    cmd.RequestedBy,
	}).Info("Invitation issued")
	return out, nil
}

// Accept turns the invitation into a membership for userID, whose account
// email must match the invited address. Accepting again returns the same
// member.
func (s *Service) Accept(ctx context.Context, inviteID, userID uint) (*domain.Member, error) {
	inv, err := findInvite(s.db.WithContext(ctx), "id = ?", inviteID)
	if err != nil {
		return nil, err
	}
	return s.accept(ctx, inv, userID)
}

// AcceptToken is Accept for the token carried by the invitation link.
func (s *Service) AcceptToken(ctx context.Context, token string, userID uint) (*domain.Member, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, newError(ErrInvalidInput, "malformed invitation token")
	}
	inv, err := findInvite(s.db.WithContext(ctx), "token = ?", token)
	if err != nil {
		return nil, err
	}
	return s.accept(ctx, inv, userID)
}

func (s *Service) accept(ctx context.Context, found *domain.Invite, userID uint) (*domain.Member, error) {
	var out *domain.Member
	created := false
	err := s.inTx(ctx, func(tx *gorm.DB, box *outbox) error {
		t, err := lockTontine(tx, found.TontineID)
		if err != nil {
			return err
		}
		inv, err := findInvite(tx, "id = ?", found.ID)
		if err != nil {
			return err
		}

		if inv.Status == domain.InviteAccepted {
			if inv.AcceptedBy == nil || *inv.AcceptedBy != userID || inv.MemberID == nil {
				return newError(ErrInviteAlreadyUsed, "invitation %d was accepted by another user", inv.ID)
			}
			out, err = findMember(tx, *inv.MemberID)
			return err
		}
		if s.now().After(inv.ExpiresAt) {
			return newError(ErrInviteExpired, "invitation %d expired at %s", inv.ID, inv.ExpiresAt.Format("2006-01-02 15:04"))
		}

		var user domain.User
		err = tx.First(&user, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(ErrNotFound, "user %d not found", userID)
		}
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if !strings.EqualFold(user.Email, inv.Email) {
			return newError(ErrUnauthorized, "invitation %d was sent to another address", inv.ID)
		}
		if err := requireActive(t); err != nil {
			return err
		}

		if out, err = activeMemberByUser(tx, t.ID, userID); err != nil {
			return err
		}
		if out == nil {
			if out, err = s.addMemberTx(tx, t, userID, nil, box); err != nil {
				return err
			}
			created = true
		}
		if err := tx.Model(&domain.Invite{}).Where("id = ?", inv.ID).Updates(map[string]any{
			"status":      domain.InviteAccepted,
			"member_id":   out.ID,
			"accepted_by": userID,
		}).Error; err != nil {
			return fmt.Errorf("failed to accept invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"invite_id": found.ID,
			"user_id":   userID,
			"error":     err.Error(),
		}).Warn("Accept invitation failed")
		return nil, err
	}
	if created {
		s.metrics.InviteAccepted()
		logrus.WithFields(logrus.Fields{
			"invite_id":  found.ID,
			"tontine_id": out.TontineID,
			"member_id":  out.ID,
		}).Info("Invitation accepted")
	}
	return out, nil
}

// ListInvites returns the invitations of a tontine, newest first.
func (s *Service) ListInvites(ctx context.Context, tontineID uint) ([]domain.Invite, error) {
	var invites []domain.Invite
	if err := s.db.WithContext(ctx).Where("tontine_id = ?", tontineID).
		Order("id DESC").Find(&invites).Error; err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return invites, nil
}

func findInvite(tx *gorm.DB, query string, arg any) (*domain.Invite, error) {
	var inv domain.Invite
	err := tx.Where(query, arg).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}
	return &inv, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", newError(ErrInvalidInput, "invalid email address %q", raw)
	}
	return strings.ToLower(addr.Address), nil
}
