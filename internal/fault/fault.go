// Package fault defines the error taxonomy shared by the correlation
// pipeline, the coordinator client, and the task runner.
//
// Every error that can abort a correlation task carries an explicit Kind.
// The task runner inspects the kind to decide between rescheduling
// (communication faults only) and permanent failure (everything else).
// Layers must never convert one kind into another on the way up; the
// retry decision depends on the kind surviving propagation intact.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline fault.
type Kind int

const (
	// Validation means the inbound message is malformed (missing
	// credential fields, unparseable structure). Never retried.
	Validation Kind = iota
	// Authentication means credentials were present but matched neither
	// the valid nor the previous token secret. Never retried.
	Authentication
	// NotFound means the remote authority definitively reported the
	// tenant does not exist. Never retried.
	NotFound
	// Communication means a transport-level failure talking to the
	// remote authority (timeout, refused connection, unexpected status).
	// Always retried.
	Communication
)

// String returns the wire/log name of the kind.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Authentication:
		return "authentication"
	case NotFound:
		return "not_found"
	case Communication:
		return "communication"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified pipeline fault. TenantID is attached when known so
// permanent drops can be logged with full context.
type Error struct {
	Kind     Kind
	TenantID string
	Msg      string
	Cause    error
}

func (e *Error) Error() string {
	s := e.Kind.String() + ": " + e.Msg
	if e.TenantID != "" {
		s += " (tenant " + e.TenantID + ")"
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

// New creates a classified fault.
func New(kind Kind, tenantID, format string, args ...any) *Error {
	return &Error{Kind: kind, TenantID: tenantID, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified fault around an underlying cause.
func Wrap(kind Kind, tenantID string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, TenantID: tenantID, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from an error chain. Unclassified errors report
// Communication: an unknown failure must err on the side of redelivery
// rather than dropping a message.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Communication
}

// Retryable reports whether the task carrying this error should be
// rescheduled. Only communication faults are retryable; a malformed
// message, bad credential, or missing tenant will not improve with time.
func Retryable(err error) bool {
	return KindOf(err) == Communication
}
