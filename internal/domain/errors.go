// Package domain provides shared domain-level sentinel errors and the
// caller-visible error type used by the provisioning workflows.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the request collides with work already in flight.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates invalid, taken or reserved input. Nothing was written.
var ErrValidation = errors.New("validation failed")

// ErrExternalService indicates the identity service (or another collaborator)
// was unreachable or returned an error.
var ErrExternalService = errors.New("external service error")

// ErrVerification indicates the post-write consistency check failed.
var ErrVerification = errors.New("verification failed")

// ErrSafetyViolation indicates a mutation would have touched a platform
// administrator identity. It is never retried.
var ErrSafetyViolation = errors.New("safety violation")

// Error is the error surfaced to callers of the provisioning and rotation
// workflows. Kind is one of the sentinels above, Cause is the stable code.
type Error struct {
	Kind          error
	Cause         Cause
	Message       string
	CorrelationID string
	Err           error
}

// Errorf builds an *Error of the given kind and cause.
func Errorf(kind error, cause Cause, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: cause, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind and cause around err.
func Wrap(kind error, cause Cause, err error, msg string) *Error {
	return &Error{Kind: kind, Cause: cause, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches the error's kind, so errors.Is(err, domain.ErrValidation) works.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may resubmit with the same key.
func (e *Error) Retryable() bool { return e.Cause.Retryable() }

// WithCorrelation returns a copy of e tagged with the correlation id.
func (e *Error) WithCorrelation(id string) *Error {
	cp := *e
	cp.CorrelationID = id
	return &cp
}

// AsError extracts an *Error from err. Unknown errors become an internal
// ExternalService error so callers never see raw datastore errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: ErrExternalService, Cause: CauseInternal, Message: "internal error", Err: err}
}
