package crdt

import (
	"errors"
	"fmt"
)

// InvariantError reports input that would make the projection inconsistent.
// The operation that returns it has no effect on replica state.
type InvariantError struct {
	// Code identifies the violated invariant.
	Code InvariantCode

	// Message is a human-readable description.
	Message string

	// ID is the offending identifier, when there is one.
	ID *Identifier

	// Err is the underlying cause, if any.
	Err error
}

// InvariantCode categorises invariant violations.
type InvariantCode string

const (
	// ErrCodeDuplicateIdentifier: two different datums carry the same
	// identifier, or two candidates of one slot tie on counter and identifier.
	ErrCodeDuplicateIdentifier InvariantCode = "DUPLICATE_IDENTIFIER"

	// ErrCodeInvalidInterval: a fractional index was requested between bounds
	// that are out of order or leave no room.
	ErrCodeInvalidInterval InvariantCode = "INVALID_INTERVAL"

	// ErrCodeMalformedValue: a JSON value is cyclic or not serialisable.
	ErrCodeMalformedValue InvariantCode = "MALFORMED_VALUE"

	// ErrCodeMalformedDatum: a datum's fields contradict each other.
	ErrCodeMalformedDatum InvariantCode = "MALFORMED_DATUM"

	// ErrCodeReentrantApply: a listener tried to apply while being notified.
	ErrCodeReentrantApply InvariantCode = "REENTRANT_APPLY"

	// ErrCodeInvalidReplica: a replica id is not a JSON scalar.
	ErrCodeInvalidReplica InvariantCode = "INVALID_REPLICA"
)

// Error implements the error interface.
func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ID != nil {
		msg = fmt.Sprintf("%s (id=%s)", msg, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *InvariantError) Unwrap() error {
	return e.Err
}

// IsInvariantError reports whether err wraps an InvariantError with code.
func IsInvariantError(err error, code InvariantCode) bool {
	var ie *InvariantError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

func newDuplicateError(id Identifier, msg string) *InvariantError {
	return &InvariantError{Code: ErrCodeDuplicateIdentifier, Message: msg, ID: &id}
}

func newMalformedDatum(id Identifier, format string, args ...any) *InvariantError {
	return &InvariantError{Code: ErrCodeMalformedDatum, Message: fmt.Sprintf(format, args...), ID: &id}
}
