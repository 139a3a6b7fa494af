// Package rlerrors defines the error taxonomy shared by all runtime
// components. Every externally visible failure carries a stable Kind so
// callers and the JSON-RPC boundary can map errors without string matching.
package rlerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the closed taxonomy understood by the
// JSON-RPC boundary and the retry layer.
type Kind string

const (
	// KindNotFound reports an unknown identifier (agent, task, manifest, ...).
	KindNotFound Kind = "not_found"
	// KindDuplicateIdentifier reports a registration conflict.
	KindDuplicateIdentifier Kind = "duplicate_identifier"
	// KindInvalidState reports an operation attempted from an incompatible
	// lifecycle state, such as cancelling a terminal task.
	KindInvalidState Kind = "invalid_state"
	// KindInvalidParams reports a schema violation on an inbound request.
	KindInvalidParams Kind = "invalid_params"
	// KindNoRoute reports that the router found no target for a message.
	KindNoRoute Kind = "no_route"
	// KindRateLimited reports that middleware refused the request.
	KindRateLimited Kind = "rate_limited"
	// KindApprovalRejected reports a human rejection of a gated message.
	KindApprovalRejected Kind = "approval_rejected"
	// KindApprovalExpired reports a gated message whose approval deadline passed.
	KindApprovalExpired Kind = "approval_expired"
	// KindTransient reports an external call failure that is safe to retry.
	KindTransient Kind = "transient"
	// KindFatal reports an invariant violation; the operation must abort.
	KindFatal Kind = "fatal"
)

// Error is the concrete error type carried across component boundaries.
type Error struct {
	// Kind is the taxonomy classification.
	Kind Kind
	// Message is the human-readable description. It never contains stack
	// traces or internal addresses.
	Message string
	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind. This lets
// callers match with errors.Is against sentinel values built via New.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a taxonomy error with the given kind and message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a taxonomy error wrapping a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind of err, or KindFatal when err carries no taxonomy
// classification. A nil error has no kind and returns "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err should be retried at its point of origin.
// Only Transient failures qualify.
func IsRetryable(err error) bool {
	return IsKind(err, KindTransient)
}
