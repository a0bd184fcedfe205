// Package apperr implements the error taxonomy of spec.md §7, generalizing
// the teacher's single NotFoundError typed-error idiom
// (internal/clients/docker.go in the teacher tree) to all six kinds.
package apperr

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies an Error for HTTP status mapping and retry policy.
type Kind string

const (
	InvalidCompose        Kind = "InvalidCompose"
	UrlConflict           Kind = "UrlConflict"
	NotFound              Kind = "NotFound"
	Conflict              Kind = "Conflict"
	TransientOrchestrator Kind = "TransientOrchestrator"
	Unrecoverable         Kind = "Unrecoverable"
)

// Error wraps an underlying cause with a Kind and an optional field path,
// matching the teacher's errors.Wrap-at-every-boundary style.
type Error struct {
	Kind  Kind
	Field string
	cause error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return string(e.Kind) + ": " + e.Field + ": " + e.cause.Error()
	}
	return string(e.Kind) + ": " + e.cause.Error()
}

// Unwrap lets errors.Is/As and pkg/errors.Cause see through to the cause.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given Kind wrapping msg.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

// Wrap builds an Error of the given Kind wrapping err with msg, or returns
// nil if err is nil.
func Wrap(err error, kind Kind, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(err, msg)}
}

// WithField attaches a field path (e.g. "services.web.image") to an Error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps a Kind to the status code spec.md §7 prescribes.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidCompose:
		return http.StatusBadRequest
	case UrlConflict:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether the workflow layer should let Temporal's retry
// policy keep retrying rather than move the deployment straight to FAILED.
func IsRetryable(err error) bool {
	return KindOf(err) == TransientOrchestrator
}
