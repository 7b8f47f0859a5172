// Package rest defines the wire models, the narrow API interfaces consumed
// by the negotiation and execution layers, and the HTTP client that talks to
// the remote market, activity and payment endpoints.
package rest

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a remote API failure. Kinds are assigned exactly once,
// at the transport boundary, and never re-derived at call sites.
type ErrorKind string

const (
	// ErrorKindNotFound indicates the remote object does not exist.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindGone indicates the remote object was invalidated, e.g. an
	// agreement whose negotiation window has closed.
	ErrorKindGone ErrorKind = "gone"

	// ErrorKindTimeout indicates a bounded remote wait elapsed without a
	// result. Retried only where the caller explicitly chooses to.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindRemote covers every other backing failure. Propagated
	// unchanged, never swallowed.
	ErrorKindRemote ErrorKind = "remote"
)

// APIError is a classified remote API failure.
type APIError struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Status is the HTTP status code that produced the classification,
	// zero when the failure never reached the remote side.
	Status int

	// Operation is the API operation that failed, e.g. "collectProposalEvents".
	Operation string

	// Message is the remote error message, if any.
	Message string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("[%s] %s (status=%d): %s", e.Kind, e.Operation, e.Status, e.message())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Operation, e.message())
}

func (e *APIError) message() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches on kind, so errors.Is(err, &APIError{Kind: ErrorKindGone}) works.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError creates a classified API error for an operation.
func NewError(kind ErrorKind, operation string, status int, message string, err error) *APIError {
	return &APIError{
		Kind:      kind,
		Status:    status,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// kindForStatus maps an HTTP status code to an error kind. This is the only
// place the mapping exists.
func kindForStatus(status int) ErrorKind {
	switch status {
	case 404:
		return ErrorKindNotFound
	case 410:
		return ErrorKindGone
	case 408:
		return ErrorKindTimeout
	default:
		return ErrorKindRemote
	}
}

// IsNotFound reports whether err carries the not_found kind.
func IsNotFound(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.Kind == ErrorKindNotFound
	}
	return false
}

// IsGone reports whether err carries the gone kind.
func IsGone(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.Kind == ErrorKindGone
	}
	return false
}

// IsTimeout reports whether err carries the timeout kind.
func IsTimeout(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.Kind == ErrorKindTimeout
	}
	return false
}

// IsAlreadyGone reports whether err indicates the remote object is absent or
// invalidated. Closing operations treat this as success, since the end state
// is identical.
func IsAlreadyGone(err error) bool {
	return IsNotFound(err) || IsGone(err)
}
