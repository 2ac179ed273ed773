package listener

import (
	"errors"
	"fmt"
)

// ErrorClass represents how the poll loop should react to a failed
// ChatService call.
type ErrorClass int

const (
	// ErrorClassTransient indicates the call should be retried after the
	// current backoff (network blips, rate limits, 5xx).
	ErrorClassTransient ErrorClass = iota
	// ErrorClassAuth indicates the credentials are no longer accepted and
	// a rotation attempt is warranted.
	ErrorClassAuth
	// ErrorClassFatal indicates the session is over (chat ended, stream
	// gone) and the loop should stop.
	ErrorClassFatal
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassAuth:
		return "auth"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// AuthError tags an authentication or authorization failure. StatusCode
// carries the HTTP status when the provider exposed one.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("auth failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("auth failure: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError tags a failure worth retrying with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient failure: %v", e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError tags a failure that ends the session.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal failure: %v", e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }

// ClassifyServiceError maps a ChatService failure onto the loop's recovery
// policy. Untagged errors are treated as transient so a long-lived poller
// does not give up on something a retry would have fixed.
func ClassifyServiceError(err error) ErrorClass {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ErrorClassAuth
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return ErrorClassFatal
	}
	return ErrorClassTransient
}

// IsAuthError checks whether an error carries the auth tag.
func IsAuthError(err error) bool {
	return ClassifyServiceError(err) == ErrorClassAuth
}

// IsFatalError checks whether an error carries the fatal tag.
func IsFatalError(err error) bool {
	return ClassifyServiceError(err) == ErrorClassFatal
}
