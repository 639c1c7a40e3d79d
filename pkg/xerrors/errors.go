package xerrors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies a failure so transports can map it to a stable status.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindAuthorization     Kind = "authorization"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// Error is the typed failure returned by the ledger core.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind. A target without a message
// matches every error of its kind, so the kind sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Msg == "" || t.Msg == e.Msg
}

// Kind sentinels
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrForbidden         = &Error{Kind: KindAuthorization}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Accounts
var (
	ErrAccountNotFound         = &Error{Kind: KindNotFound, Msg: "account not found"}
	ErrInvalidAccountType      = &Error{Kind: KindValidation, Msg: "invalid account type"}
	ErrDuplicateAccountNumber  = &Error{Kind: KindConflict, Msg: "duplicate account number"}
	ErrAccountInactive         = &Error{Kind: KindValidation, Msg: "account is not active"}
	ErrAccountNotOwned         = &Error{Kind: KindAuthorization, Msg: "account does not belong to caller"}
	ErrInvalidStatusTransition = &Error{Kind: KindValidation, Msg: "invalid account status transition"}
	ErrNonZeroBalance          = &Error{Kind: KindValidation, Msg: "account balance must be zero to close"}
	ErrAccountTypeExists       = &Error{Kind: KindConflict, Msg: "owner already holds an account of this type"}
)

// Ledger
var (
	ErrTransactionNotFound     = &Error{Kind: KindNotFound, Msg: "transaction not found"}
	ErrDuplicateReference      = &Error{Kind: KindConflict, Msg: "duplicate transaction reference"}
	ErrDuplicateIdempotencyKey = &Error{Kind: KindConflict, Msg: "duplicate idempotency key"}
	ErrNotCancellable          = &Error{Kind: KindValidation, Msg: "transaction cannot be cancelled"}
	ErrCancelWindowExpired     = &Error{Kind: KindValidation, Msg: "cancellation window has expired"}
	ErrSameAccount             = &Error{Kind: KindValidation, Msg: "source and destination accounts are the same"}
	ErrInvalidAmount           = &Error{Kind: KindValidation, Msg: "amount must be greater than zero"}
	ErrBalanceInsufficient     = &Error{Kind: KindInsufficientFunds, Msg: "insufficient funds"}
)

// Confirmations
var (
	ErrConfirmationNotFound  = &Error{Kind: KindNotFound, Msg: "confirmation not found"}
	ErrDuplicateConfirmation = &Error{Kind: KindConflict, Msg: "duplicate confirmation number"}
	ErrConfirmationExists    = &Error{Kind: KindConflict, Msg: "transaction already has a confirmation"}
)

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps a storage or infrastructure failure.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: KindInternal, Op: op, Msg: "internal error", Err: err}
}

// KindOf reports the kind of err; untyped errors are internal.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// Message returns the client-safe message of err.
func Message(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		if typed.Kind == KindInternal {
			return "internal error"
		}
		if typed.Msg != "" {
			return typed.Msg
		}
		return string(typed.Kind)
	}
	return "internal error"
}

const PGUniqueViolation = "23505"

// UniqueViolation returns the violated constraint name, if err is a unique violation.
func UniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == PGUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
