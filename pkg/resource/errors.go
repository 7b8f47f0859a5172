// Package resource provides the identity registry and the live object graph:
// one instance per (kind, id) for the process lifetime, parent/child tree
// structure with a sealed terminal signal, and serialized snapshot refresh.
package resource

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the backing remote object does not exist. It is
// the domain translation of a transport-level "not found".
type NotFoundError struct {
	// Kind is the resource kind that was looked up.
	Kind Kind

	// ID is the resource id that was looked up.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is matches any NotFoundError regardless of kind and id.
func (e *NotFoundError) Is(target error) bool {
	var t *NotFoundError
	return errors.As(target, &t)
}

// IsNotFound reports whether err is a domain not-found error.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// ConsistencyError indicates a broken local invariant: a parent assigned
// twice, a child attached to a sealed resource, an expected tree node that
// is missing, or an out-of-range command index. It is a programming error
// and is never retried or recovered.
type ConsistencyError struct {
	// Message describes the violated invariant.
	Message string
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	return "consistency violation: " + e.Message
}

// NewConsistencyError creates a consistency violation with a formatted message.
func NewConsistencyError(format string, args ...any) *ConsistencyError {
	return &ConsistencyError{Message: fmt.Sprintf(format, args...)}
}

// IsConsistencyViolation reports whether err is a local invariant violation.
func IsConsistencyViolation(err error) bool {
	var e *ConsistencyError
	return errors.As(err, &e)
}
