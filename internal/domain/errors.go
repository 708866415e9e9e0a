package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrBadRequest      = errors.New("bad request")
	ErrTooManyRequests = errors.New("too many requests")
	ErrLocked          = errors.New("locked")
)

// ErrSamePassword distinguishes "new password equals the current one" from a
// generic validation failure; the reset UI renders it differently.
var ErrSamePassword = fmt.Errorf("new password cannot be the same as the old password: %w", ErrBadRequest)

// ThrottleReason identifies which throttle dimension blocked OTP issuance.
type ThrottleReason string

const (
	ThrottleLocked     ThrottleReason = "locked"
	ThrottleSpamLocked ThrottleReason = "spam_locked"
	ThrottleCooldown   ThrottleReason = "cooldown"
)

// ThrottleError reports a refused OTP issuance. RetryAfter is derived from the
// TTL of the blocking store entry and is part of the response contract.
type ThrottleError struct {
	Reason     ThrottleReason
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	switch e.Reason {
	case ThrottleLocked:
		return "account locked due to multiple failed attempts, try again after 30 minutes"
	case ThrottleSpamLocked:
		return "too many OTP requests, please wait 1 hour before requesting again"
	default:
		return "please wait 1 minute before requesting a new OTP"
	}
}

func (e *ThrottleError) Unwrap() error {
	if e.Reason == ThrottleLocked {
		return ErrLocked
	}
	return ErrTooManyRequests
}

// OTPErrorKind discriminates OTP verification failures.
type OTPErrorKind string

const (
	OTPInvalidOrExpired OTPErrorKind = "invalid_or_expired"
	OTPIncorrect        OTPErrorKind = "incorrect"
	OTPLockedOut        OTPErrorKind = "locked_out"
)

// OTPError reports a failed OTP verification. Remaining is the number of
// attempts left before lockout and is part of the response contract — the
// client UI renders it.
type OTPError struct {
	Kind      OTPErrorKind
	Remaining int
}

func (e *OTPError) Error() string {
	switch e.Kind {
	case OTPIncorrect:
		return fmt.Sprintf("incorrect OTP, %d attempts left", e.Remaining)
	case OTPLockedOut:
		return "too many failed attempts, your account is locked for 30 minutes"
	default:
		return "invalid or expired OTP"
	}
}

func (e *OTPError) Unwrap() error {
	if e.Kind == OTPLockedOut {
		return ErrLocked
	}
	return ErrBadRequest
}
