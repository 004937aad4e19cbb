package queue

import (
	"errors"
	"fmt"
)

// Kind classifies domain errors so the API boundary can map them to
// response codes without inspecting messages.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindProcessing  Kind = "processing"
	KindPersistence Kind = "persistence"
)

// Error is a classified domain error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewValidationError reports malformed caller input. Never retried.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NewConflictError reports a job not in the state an operation requires.
func NewConflictError(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports an unknown job or missing artifact.
func NewNotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// NewProcessingError wraps a scanner failure recorded on the job.
func NewProcessingError(msg string, err error) *Error {
	return &Error{Kind: KindProcessing, Msg: msg, Err: err}
}

// NewPersistenceError wraps a datastore write failure during approval.
// Surfaced as retryable after the compensating rollback runs.
func NewPersistenceError(msg string, err error) *Error {
	return &Error{Kind: KindPersistence, Msg: msg, Err: err}
}

// KindOf extracts the classification of err, or the empty Kind when err is
// not a domain error.
func KindOf(err error) Kind {
	var domain *Error
	if errors.As(err, &domain) {
		return domain.Kind
	}
	return ""
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
