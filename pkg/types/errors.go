package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the OAuth flow, sessions, and stores. Callers match
// them with errors.Is; wrapped variants carry context.
var (
	// ErrInvalidState is returned when a callback presents a state token
	// that was never issued or is no longer known.
	ErrInvalidState = errors.New("oauth state invalid or unknown")

	// ErrExpiredState is returned when a callback presents a state token
	// past its expiry, regardless of validity otherwise.
	ErrExpiredState = errors.New("oauth state expired")

	// ErrStateReplay is returned when a callback presents a state token
	// that was already consumed. State tokens are single-use.
	ErrStateReplay = errors.New("oauth state already used")

	// ErrSessionExpired is returned when a pending session is absent or
	// past its expiry.
	ErrSessionExpired = errors.New("account selection session expired")

	// ErrIntegrationNotFound is returned by stores for unknown
	// integration ids.
	ErrIntegrationNotFound = errors.New("integration not found")
)

// ConfigurationError reports missing or invalid platform configuration,
// for example absent app credentials.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ProviderAuthError reports a rejection from the remote platform during
// the OAuth flow (bad code, denied consent, no usable accounts). No
// integration is created when this is returned.
type ProviderAuthError struct {
	Platform Platform
	Reason   string
}

func (e *ProviderAuthError) Error() string {
	return fmt.Sprintf("%s authorization failed: %s", e.Platform, e.Reason)
}

// QuotaExceededError reports that a platform's daily launch limit is
// already reached. The counter is left untouched.
type QuotaExceededError struct {
	Platform Platform
	Limit    int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily launch limit reached for %s (%d)", e.Platform, e.Limit)
}

// RateLimitExceededError reports that the local rate limiter rejected a
// call because the configured window is saturated.
type RateLimitExceededError struct {
	Platform Platform
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Platform)
}

// APIErrorKind classifies remote API failures for retry decisions.
type APIErrorKind string

const (
	// APIErrorRateLimited is a 429 from the remote platform. Transient;
	// retried honoring any Retry-After hint.
	APIErrorRateLimited APIErrorKind = "rate_limited"

	// APIErrorTransient covers network timeouts and 5xx responses.
	APIErrorTransient APIErrorKind = "transient"

	// APIErrorPermanent covers non-429 4xx responses and malformed
	// payloads. Never retried.
	APIErrorPermanent APIErrorKind = "permanent"

	// APIErrorAuthExpired is a permanent failure indicating the access
	// token is no longer valid (Graph error code 190, HTTP 401).
	APIErrorAuthExpired APIErrorKind = "auth_expired"
)

// APIError is a classified failure from a remote platform call.
type APIError struct {
	Kind       APIErrorKind
	StatusCode int

	// Code and Subcode are the Graph error codes when the platform
	// returned a structured error payload.
	Code    int
	Subcode int

	Message string

	// RetryAfter is the provider-supplied retry hint, if any.
	RetryAfter time.Duration

	// Err is the underlying transport error, if any.
	Err error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error (%s): %s", e.Kind, e.Message)
}

// Unwrap returns the underlying transport error.
func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may be retried.
func (e *APIError) Retryable() bool {
	return e.Kind == APIErrorTransient || e.Kind == APIErrorRateLimited
}

// TransientExhaustedError is returned after all retries of a transient
// failure are spent. It carries the last underlying error.
type TransientExhaustedError struct {
	Attempts int
	Last     error
}

func (e *TransientExhaustedError) Error() string {
	return fmt.Sprintf("transient failure after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last underlying error.
func (e *TransientExhaustedError) Unwrap() error { return e.Last }

// IsRetryable reports whether err may safely be retried. It inspects the
// error chain for an APIError classification; unclassified errors are
// not retried.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// RetryAfterHint extracts a provider-supplied retry delay from the error
// chain, or zero when none is present.
func RetryAfterHint(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
