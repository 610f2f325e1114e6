// Package apperr defines the error taxonomy shared by the pipeline and the
// HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation"
	KindExternalService Kind = "external_service"
	KindNotConfigured   Kind = "not_configured"
	KindConflict        Kind = "conflict"
	KindPersistence     Kind = "persistence"
	KindInternal        Kind = "internal"
)

// Error carries a Kind alongside a human-readable message.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: msg}
}

func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// ExternalService marks a failure of the AI or search API. These are retryable.
func ExternalService(op, msg string, err error) *Error {
	return &Error{Kind: KindExternalService, Op: op, Message: msg, Retryable: true, Err: err}
}

// NotConfigured marks a service that is intentionally disabled.
func NotConfigured(op, msg string) *Error {
	return &Error{Kind: KindNotConfigured, Op: op, Message: msg}
}

func Conflict(op, msg string) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: msg}
}

func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Message: "store unavailable", Retryable: true, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Retryable reports whether the caller may retry the failed operation.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
