// Package common defines shared constants and sentinel errors used across
// the passkey gate. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// ErrPolicyDenied is returned when a storage backend refuses a write,
	// e.g. enrollment against the read-mostly enrolled dataset.
	ErrPolicyDenied = errors.New("operation not permitted by storage policy")

	// ErrCounterRegression signals a signature counter that went backwards,
	// which indicates a possibly cloned authenticator.
	ErrCounterRegression = errors.New("signature counter regression")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors are reported before any write takes place.
	ErrorValidation = errors.New("validation error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")

	// ErrVerificationFailed is returned when a WebAuthn ceremony response
	// could not be verified.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrMissingChallenge is returned when a ceremony is finished without the
	// challenge cookie issued by the matching begin step.
	ErrMissingChallenge = errors.New("missing or expired challenge")
)
