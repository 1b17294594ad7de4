// Package apierr defines the closed set of error kinds the gateway
// recognizes and recovers from differently, per component.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds the gateway treats specially.
type Kind string

const (
	// Protocol is a malformed client message or binary data before config.
	Protocol Kind = "protocol_error"
	// InvalidLanguage is an adapter-level rejection of an unsupported language.
	InvalidLanguage Kind = "invalid_language"
	// UnsupportedCapability is raised when an adapter cannot do what was asked
	// (e.g. streaming on a batch-only provider).
	UnsupportedCapability Kind = "unsupported_capability"
	// AdapterConnect is a failure to establish the upstream connection.
	AdapterConnect Kind = "adapter_connect"
	// AdapterTransport is a mid-stream transport failure.
	AdapterTransport Kind = "adapter_transport"
	// AdapterClosed is returned when an operation is attempted on a closed adapter.
	AdapterClosed Kind = "adapter_closed"
	// Timeout is reported with the originating operation name.
	Timeout Kind = "timeout"
	// RateLimited is a batch-only transient condition that triggers backoff.
	RateLimited Kind = "rate_limited"
	// Retryable is a batch-only transient condition that triggers backoff.
	Retryable Kind = "retryable"
	// Cancelled is expected during barge-in/stop/socket close and is never
	// surfaced to clients.
	Cancelled Kind = "cancelled"
	// Fatal is unexpected and closes the owning session.
	Fatal Kind = "fatal"
)

// Error wraps an underlying cause with a closed-set Kind and the
// operation name that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind for the given operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or Fatal if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}
