package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a transport failure. The classification decides whether a
// retry can help: schema mismatches and auth failures never heal on retry,
// network weather usually does.
type Kind int

const (
	KindInvalidInput Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindServerError
	KindTimeout
	KindNoConnection
	KindDecoding
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	case KindTimeout:
		return "timeout"
	case KindNoConnection:
		return "no_connection"
	case KindDecoding:
		return "decoding_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt could plausibly succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindServerError, KindTimeout, KindNoConnection:
		return true
	default:
		return false
	}
}

// Error is the typed failure returned by the client.
type Error struct {
	Kind    Kind
	Status  int // HTTP status when applicable, 0 otherwise
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Retryable() bool { return e.Kind.Retryable() }

func newError(kind Kind, status int, message string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Err: cause}
}

// classifyStatus maps an HTTP status to an error kind. 2xx never reaches
// here. Unlisted 4xx codes are caller bugs, not transient conditions.
func classifyStatus(status int) Kind {
	switch {
	case status == 401:
		return KindUnauthorized
	case status == 403:
		return KindForbidden
	case status == 404:
		return KindNotFound
	case status == 408:
		return KindTimeout
	case status == 429:
		return KindServerError
	case status >= 500:
		return KindServerError
	default:
		return KindInvalidInput
	}
}

// wrapNetErr classifies a transport-level failure (no HTTP response).
func wrapNetErr(err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return newError(KindCancelled, 0, "request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, 0, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindTimeout, 0, "request timed out", err)
	}
	return newError(KindNoConnection, 0, "connection failed", err)
}

// IsRetryable reports whether an error is worth another attempt. Errors
// that are not transport-classified count as retryable: dropping work on an
// unrecognized failure is worse than one redundant attempt.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return true
}

// IsTerminal is the complement of IsRetryable.
func IsTerminal(err error) bool {
	return !IsRetryable(err)
}

// AsError extracts the typed transport error if present.
func AsError(err error) (*Error, bool) {
	var te *Error
	ok := errors.As(err, &te)
	return te, ok
}
