package strava

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel kinds for API client failures. Every error returned by the client
// matches exactly one of them with errors.Is.
var (
	ErrAuthentication   = errors.New("strava: authentication failed")
	ErrAuthorization    = errors.New("strava: access not authorized")
	ErrRateLimited      = errors.New("strava: rate limited")
	ErrTransient        = errors.New("strava: transient failure")
	ErrUnexpected       = errors.New("strava: unexpected response")
	ErrUnknownPrincipal = errors.New("strava: unknown principal")
)

// Error describes a failed API operation.
type Error struct {
	Op         string        // operation, e.g. "get_activity"
	Kind       error         // one of the sentinel kinds
	StatusCode int           // HTTP status, zero when no response was received
	RetryAfter time.Duration // server supplied wait for rate limits
	Err        error         // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, status int, cause error) *Error {
	return &Error{Op: op, Kind: kind, StatusCode: status, Err: cause}
}

// IsAuthentication reports whether err means the credential could not be used or refreshed.
func IsAuthentication(err error) bool { return errors.Is(err, ErrAuthentication) }

// IsAuthorization reports whether err means the token lacks access to the resource.
func IsAuthorization(err error) bool { return errors.Is(err, ErrAuthorization) }

// IsRateLimit reports whether the platform rejected the call for quota reasons.
func IsRateLimit(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsTransient reports whether err is a network, server or open circuit failure.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// RetryAfter returns the wait hint carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
