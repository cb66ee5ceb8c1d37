package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ledger failures. Every engine error carries exactly one kind.
type ErrorKind string

const (
	KindInvalidAmount      ErrorKind = "INVALID_AMOUNT"
	KindAccountNotFound    ErrorKind = "ACCOUNT_NOT_FOUND"
	KindInsufficientFunds  ErrorKind = "INSUFFICIENT_FUNDS"
	KindSelfTransfer       ErrorKind = "SELF_TRANSFER"
	KindSameCurrency       ErrorKind = "SAME_CURRENCY"
	KindUnknownCurrency    ErrorKind = "UNKNOWN_CURRENCY"
	KindForbidden          ErrorKind = "FORBIDDEN"
	KindStorageUnavailable ErrorKind = "STORAGE_UNAVAILABLE"
	KindInvalidRates       ErrorKind = "INVALID_RATES"
	KindDuplicateEmail     ErrorKind = "DUPLICATE_EMAIL"
	KindInvalidCredentials ErrorKind = "INVALID_CREDENTIALS"
	KindInvalidCard        ErrorKind = "INVALID_CARD"
	KindMissingField       ErrorKind = "MISSING_FIELD"
	KindInvalidRequest     ErrorKind = "INVALID_REQUEST"
)

// Sentinels for errors.Is matching against a kind.
var (
	ErrInvalidAmount      = &LedgerError{Kind: KindInvalidAmount}
	ErrAccountNotFound    = &LedgerError{Kind: KindAccountNotFound}
	ErrInsufficientFunds  = &LedgerError{Kind: KindInsufficientFunds}
	ErrSelfTransfer       = &LedgerError{Kind: KindSelfTransfer}
	ErrSameCurrency       = &LedgerError{Kind: KindSameCurrency}
	ErrUnknownCurrency    = &LedgerError{Kind: KindUnknownCurrency}
	ErrForbidden          = &LedgerError{Kind: KindForbidden}
	ErrStorageUnavailable = &LedgerError{Kind: KindStorageUnavailable}
	ErrInvalidRates       = &LedgerError{Kind: KindInvalidRates}
	ErrDuplicateEmail     = &LedgerError{Kind: KindDuplicateEmail}
	ErrInvalidCredentials = &LedgerError{Kind: KindInvalidCredentials}
	ErrInvalidCard        = &LedgerError{Kind: KindInvalidCard}
	ErrMissingField       = &LedgerError{Kind: KindMissingField}
	ErrInvalidRequest     = &LedgerError{Kind: KindInvalidRequest}
)

// LedgerError is the typed error returned across the store, rate table and engine.
type LedgerError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s -> %v", e.Kind, e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Op, msg)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Is matches any LedgerError of the same kind, so callers can write
// errors.Is(err, models.ErrInsufficientFunds).
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a LedgerError of the given kind.
func NewError(kind ErrorKind, op, message string) *LedgerError {
	return &LedgerError{Kind: kind, Op: op, Message: message}
}

// NotFound reports a missing account or user.
func NotFound(op, resource string) *LedgerError {
	return &LedgerError{Kind: KindAccountNotFound, Op: op, Message: fmt.Sprintf("%s not found", resource)}
}

// Storage wraps a durability-layer failure. Domain errors pass through untouched.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	return &LedgerError{Kind: KindStorageUnavailable, Op: op, Message: "storage unavailable", Err: err}
}

// KindOf extracts the kind of err, or "" when err is not a LedgerError.
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}
