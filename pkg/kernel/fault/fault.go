// Package fault defines the typed errors produced while executing an
// intent spec. Every error that leaves an action primitive, the locator
// resolver or the step executor carries one of these kinds.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an execution error.
type Kind string

const (
	KindTemplating       Kind = "templating-error"
	KindLocatorNotFound  Kind = "locator-not-found"
	KindTimeout          Kind = "timeout"
	KindDriver           Kind = "driver-error"
	KindValidationFailed Kind = "validation-failed"
	KindPreflightFailed  Kind = "preflight-failed"
	KindSemanticFailed   Kind = "semantic-failed"
	KindCancelled        Kind = "cancelled"
	KindPolicyDenied     Kind = "policy-denied"
)

// Error is the uniform error shape used below the runner.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind around err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports that no locator produced a visible element.
func NotFound(format string, args ...any) *Error {
	return New(KindLocatorNotFound, format, args...)
}

// Timeout reports that a bounded operation ran out of time.
func Timeout(err error, format string, args ...any) *Error {
	return Wrap(KindTimeout, err, format, args...)
}

// Driver reports a failure inside the browser driver.
func Driver(err error, format string, args ...any) *Error {
	return Wrap(KindDriver, err, format, args...)
}

// Denied reports an operation refused by governance policy. It is never
// retried.
func Denied(err error, format string, args ...any) *Error {
	return Wrap(KindPolicyDenied, err, format, args...)
}

// FromContext classifies a driver error, mapping deadline expiry to a
// timeout and cancellation to cancelled.
func FromContext(err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(err, format, args...)
	case errors.Is(err, context.Canceled):
		return Wrap(KindCancelled, err, format, args...)
	default:
		return Driver(err, format, args...)
	}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries no kind.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
