package tontine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for callers and transports.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindStateConflict      Kind = "state_conflict"
	KindAuthorization      Kind = "authorization"
	KindLedgerInconsistent Kind = "ledger_inconsistent"
)

// Error is the typed failure returned by every engine command.
// Code is machine readable, Reason is meant for humans.
type Error struct {
	Kind   Kind
	Code   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Is matches on Code so that errors.Is(err, ErrRoundClosed) works for any reason text.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels usable with errors.Is.
var (
	ErrInvalidInput               = &Error{Kind: KindValidation, Code: "InvalidInput"}
	ErrNotFound                   = &Error{Kind: KindNotFound, Code: "NotFound"}
	ErrDuplicateMember            = &Error{Kind: KindStateConflict, Code: "DuplicateMember"}
	ErrMemberHasPendingObligation = &Error{Kind: KindStateConflict, Code: "MemberHasPendingObligation"}
	ErrUnauthorized               = &Error{Kind: KindAuthorization, Code: "Unauthorized"}
	ErrRoundClosed                = &Error{Kind: KindStateConflict, Code: "RoundClosed"}
	ErrDuplicatePaidContribution  = &Error{Kind: KindStateConflict, Code: "DuplicatePaidContribution"}
	ErrTontineAlreadyComplete     = &Error{Kind: KindStateConflict, Code: "TontineAlreadyComplete"}
	ErrPayoutRecipientInactive    = &Error{Kind: KindStateConflict, Code: "PayoutRecipientInactive"}
	ErrAlreadyMember              = &Error{Kind: KindStateConflict, Code: "AlreadyMember"}
	ErrRoundNotFunded             = &Error{Kind: KindStateConflict, Code: "RoundNotFunded"}
	ErrRoundAwaitingClosure       = &Error{Kind: KindStateConflict, Code: "RoundAwaitingClosure"}
	ErrPriorityCollision          = &Error{Kind: KindStateConflict, Code: "PriorityCollision"}
	ErrConcurrentRoundUpdate      = &Error{Kind: KindStateConflict, Code: "ConcurrentRoundUpdate"}
	ErrContributionAmountLocked   = &Error{Kind: KindStateConflict, Code: "ContributionAmountLocked"}
	ErrTontineHasContributions    = &Error{Kind: KindStateConflict, Code: "TontineHasContributions"}
	ErrTontineNotActive           = &Error{Kind: KindStateConflict, Code: "TontineNotActive"}
	ErrAlreadyPaidOut             = &Error{Kind: KindStateConflict, Code: "AlreadyPaidOut"}
	ErrInviteExpired              = &Error{Kind: KindValidation, Code: "InviteExpired"}
	ErrInviteAlreadyUsed          = &Error{Kind: KindStateConflict, Code: "InviteAlreadyUsed"}
	ErrLedgerInconsistent         = &Error{Kind: KindLedgerInconsistent, Code: "LedgerInconsistent"}
)

// newError copies a sentinel with a formatted reason.
func newError(sentinel *Error, format string, args ...any) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" for untyped (infrastructure) errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
