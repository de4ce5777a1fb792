// Package apperr defines the error kinds shared by the signaling and media packages
// so the HTTP boundary can map failures to responses without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the boundary layer.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindUpstream      Kind = "UPSTREAM_FAILURE"
	KindAuthorization Kind = "AUTHORIZATION"
	KindProtocol      Kind = "PROTOCOL"
	KindConflict      Kind = "CONFLICT"
	KindInternal      Kind = "INTERNAL"
)

// Sentinels for errors.Is matching on kind.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrUpstream      = &Error{Kind: KindUpstream}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrProtocol      = &Error{Kind: KindProtocol}
	ErrConflict      = &Error{Kind: KindConflict}
)

// Error is an application error with a kind, the failing operation and an optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error of the same kind with no message,
// which is how the package sentinels are declared.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Op == "" && t.Kind == e.Kind
}

// New returns an error of kind k.
func New(k Kind, op, message string) *Error {
	return &Error{Kind: k, Op: op, Message: message}
}

// Wrap returns an error of kind k caused by err.
func Wrap(err error, k Kind, op, message string) *Error {
	return &Error{Kind: k, Op: op, Message: message, Err: err}
}

// Validation is shorthand for New(KindValidation, op, message).
func Validation(op, message string) *Error { return New(KindValidation, op, message) }

// NotFound is shorthand for New(KindNotFound, op, message).
func NotFound(op, message string) *Error { return New(KindNotFound, op, message) }

// Forbidden is shorthand for New(KindAuthorization, op, message).
func Forbidden(op, message string) *Error { return New(KindAuthorization, op, message) }

// Upstream wraps a failed call to an external service.
func Upstream(err error, op, message string) *Error { return Wrap(err, KindUpstream, op, message) }

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message of the first *Error in err's chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to a status code.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation, KindProtocol:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
