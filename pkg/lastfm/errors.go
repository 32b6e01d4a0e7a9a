package lastfm

import (
	"context"
	"errors"
	"fmt"
)

// Error represents a Last.fm API error.
//
// The Error type provides structured error information including
// the Last.fm error code and message. It implements error, and
// provides additional methods for retry and re-authentication logic.
type Error struct {
	Code    int    // Last.fm error code
	Message string // Error message from Last.fm
}

// Error returns the error message.
func (e *Error) Error() string {
	return fmt.Sprintf("lastfm: error %d: %s", e.Code, e.Message)
}

// Is checks if the target error is a Last.fm error with the same code.
//
// This allows errors.Is() to work with *Error types.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Temporary returns true if the error is temporary and the request
// should be retried.
//
// The following Last.fm error codes are considered temporary:
//   - 8: Operation failed - backend error, try again
//   - 11: Service Offline - temporarily unavailable
//   - 16: Service Temporarily Unavailable
//   - 29: Rate Limit Exceeded
func (e *Error) Temporary() bool {
	switch e.Code {
	case ErrCodeOperationFailed, ErrCodeServiceOffline, ErrCodeTempUnavailable, ErrCodeRateLimitExceeded:
		return true
	default:
		return false
	}
}

// RequiresReauth returns true if the error means the stored credentials
// are no longer usable and the user must authenticate again.
func (e *Error) RequiresReauth() bool {
	switch e.Code {
	case ErrCodeAuthenticationFailed, ErrCodeInvalidSessionKey, ErrCodeUnauthorizedToken,
		ErrCodeExpiredToken, ErrCodeSuspendedAPIKey:
		return true
	default:
		return false
	}
}

// Common Last.fm error codes.
const (
	ErrCodeInvalidService       = 2
	ErrCodeInvalidMethod        = 3
	ErrCodeAuthenticationFailed = 4
	ErrCodeInvalidFormat        = 5
	ErrCodeInvalidParameters    = 6
	ErrCodeInvalidResourceSpec  = 7
	ErrCodeOperationFailed      = 8
	ErrCodeInvalidSessionKey    = 9
	ErrCodeInvalidAPIKey        = 10
	ErrCodeServiceOffline       = 11
	ErrCodeSubscribersOnly      = 12
	ErrCodeInvalidSignature     = 13
	ErrCodeUnauthorizedToken    = 14
	ErrCodeExpiredToken         = 15
	ErrCodeTempUnavailable      = 16
	ErrCodeSuspendedAPIKey      = 26
	ErrCodeRateLimitExceeded    = 29
)

// Predefined errors for common cases.
var (
	// ErrNoSessionKey is returned when an operation requires authentication
	// but no session key has been set.
	ErrNoSessionKey = errors.New("lastfm: session key required")

	// ErrInvalidConfig is returned when client configuration is invalid.
	ErrInvalidConfig = errors.New("lastfm: invalid configuration")
)

// Outcome is the coarse classification of a finished API call.
type Outcome int

const (
	// OutcomeSuccess means the service accepted the request.
	OutcomeSuccess Outcome = iota
	// OutcomeSoftFailure means the request failed for a transient reason
	// and may succeed if submitted again later.
	OutcomeSoftFailure
	// OutcomeHardFailure means resubmitting the same request will not help,
	// typically because the session must be re-authenticated.
	OutcomeHardFailure
)

// String returns a human-readable representation of the Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSoftFailure:
		return "soft_failure"
	case OutcomeHardFailure:
		return "hard_failure"
	default:
		return "unknown"
	}
}

// Classify maps the error returned by any Client call to an Outcome.
//
// API errors are soft when Temporary and hard otherwise. A missing session
// key is hard. Everything else (network failures that exhausted their
// retries, unparsable bodies, cancellation) is soft.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, ErrNoSessionKey) {
		return OutcomeHardFailure
	}
	var lfmErr *Error
	if errors.As(err, &lfmErr) {
		if lfmErr.Temporary() {
			return OutcomeSoftFailure
		}
		return OutcomeHardFailure
	}
	return OutcomeSoftFailure
}

// RequiresReauth reports whether err carries an API error that can only be
// fixed by authenticating again.
func RequiresReauth(err error) bool {
	if errors.Is(err, ErrNoSessionKey) {
		return true
	}
	var lfmErr *Error
	return errors.As(err, &lfmErr) && lfmErr.RequiresReauth()
}

// isRetryableError determines if an error should trigger a retry.
//
// Transport failures are retried unless the caller cancelled; API errors
// are retried only when Temporary.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *transportError
	if errors.As(err, &te) {
		return true
	}

	var lfmErr *Error
	if errors.As(err, &lfmErr) {
		return lfmErr.Temporary()
	}

	return false
}
