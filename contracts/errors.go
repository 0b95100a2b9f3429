package contracts

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind is the error taxonomy from Every error that crosses an
// HTTP boundary is classified into one of these.
type Kind string

const (
	KindBadRequest       Kind = "BadRequest"
	KindNotOwner         Kind = "NotOwner"
	KindInvalidTransition Kind = "InvalidTransition"
	KindNotFound         Kind = "NotFound"
	KindTransient        Kind = "Transient"
	KindFatal            Kind = "Fatal"
)

// StatusCode maps a Kind to the HTTP status assigns it.
func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotOwner:
		return http.StatusForbidden
	case KindInvalidTransition:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error carrying the sentinel Kind plus a wrapped
// cause built with github.com/pkg/errors so the originating stack survives
// for logging while call sites can still switch on Kind.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// newf builds a classified error, wrapping it with pkg/errors so a stack
// trace is attached the first time it is created.
func newf(kind Kind, format string, args ...interface{}) *Error {
	detail := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, Detail: detail, cause: errors.New(detail)}
}

// Wrap classifies an existing error as Kind, preserving it as the cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	detail := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, Detail: detail, cause: errors.Wrap(err, detail)}
}

func NewBadRequest(format string, args ...interface{}) *Error {
	return newf(KindBadRequest, format, args...)
}

func NewNotOwner(format string, args ...interface{}) *Error {
	return newf(KindNotOwner, format, args...)
}

func NewInvalidTransition(format string, args ...interface{}) *Error {
	return newf(KindInvalidTransition, format, args...)
}

func NewNotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func NewTransient(format string, args ...interface{}) *Error {
	return newf(KindTransient, format, args...)
}

func NewFatal(format string, args ...interface{}) *Error {
	return newf(KindFatal, format, args...)
}

// KindOf extracts the Kind of err, defaulting to Fatal for anything not
// produced by this package.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindFatal
}

// HTTPBody is the structured response body requires.
type HTTPBody struct {
	ErrorKind string `json:"error"`
	Detail    string `json:"detail"`
}

// ToHTTPBody renders err as the wire body for the HTTP boundary.
func ToHTTPBody(err error) (int, HTTPBody) {
	kind := KindOf(err)
	return kind.StatusCode(), HTTPBody{ErrorKind: string(kind), Detail: err.Error()}
}
