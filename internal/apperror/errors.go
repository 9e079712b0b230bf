// Package apperror provides the closed set of domain error kinds used by
// bidhouse. Each error carries an HTTP status code and a user-safe message.
// The Echo error handler maps them to the JSON result envelope automatically.
//
// NEVER return raw database or infrastructure errors to the client. Always
// wrap them in an apperror type (usually NewPersistence) first.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable error classifier. The set is closed: every
// failure a workflow reports is exactly one of these.
type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindInvalidCode  Kind = "invalid_code"
	KindExpired      Kind = "expired"
	KindInvalidState Kind = "invalid_state"
	KindDispatch     Kind = "dispatch_failure"
	KindPersistence  Kind = "persistence_failure"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindBadRequest   Kind = "bad_request"
)

// AppError is the base error type for all domain errors. It carries an
// HTTP status code, a machine-readable error kind, and a human-readable
// message safe to show to the client.
type AppError struct {
	// Code is the HTTP status code (e.g., 404, 409, 500).
	Code int `json:"-"`

	// Type is the error kind (e.g., "not_found").
	Type Kind `json:"type"`

	// Message is a human-readable description safe for the client.
	Message string `json:"message"`

	// Internal holds the underlying error for logging. Never exposed to client.
	Internal error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Internal
}

func newError(code int, kind Kind, message string) *AppError {
	return &AppError{Code: code, Type: kind, Message: message}
}

// --- Constructors ---

// NewValidation creates a 422 error for malformed input caught before a
// workflow runs.
func NewValidation(message string) *AppError {
	return newError(http.StatusUnprocessableEntity, KindValidation, message)
}

// NewConflict creates a 409 error for duplicate verified email, username or
// contact.
func NewConflict(message string) *AppError {
	return newError(http.StatusConflict, KindConflict, message)
}

// NewNotFound creates a 404 Not Found error.
func NewNotFound(message string) *AppError {
	return newError(http.StatusNotFound, KindNotFound, message)
}

// NewInvalidCode creates a 400 error for a one-time code that does not match
// the stored one.
func NewInvalidCode(message string) *AppError {
	return newError(http.StatusBadRequest, KindInvalidCode, message)
}

// NewExpired creates a 410 error for a one-time code past its expiry.
func NewExpired(message string) *AppError {
	return newError(http.StatusGone, KindExpired, message)
}

// NewInvalidState creates a 409 error for an operation that does not apply
// to the record's current state, such as verifying a verified account.
func NewInvalidState(message string) *AppError {
	return newError(http.StatusConflict, KindInvalidState, message)
}

// NewDispatchFailure creates a 502 error for a failed email delivery. The
// message is the dispatcher's own failure description.
func NewDispatchFailure(message string) *AppError {
	return newError(http.StatusBadGateway, KindDispatch, message)
}

// NewPersistence creates a 500 error for an unreachable store or a rejected
// write. The real error is stored in Internal for logging; the client only
// sees a generic message.
func NewPersistence(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     KindPersistence,
		Message:  "internal error",
		Internal: err,
	}
}

// NewUnauthorized creates a 401 error for bad credentials or a banned account.
func NewUnauthorized(message string) *AppError {
	return newError(http.StatusUnauthorized, KindUnauthorized, message)
}

// NewForbidden creates a 403 Forbidden error.
func NewForbidden(message string) *AppError {
	return newError(http.StatusForbidden, KindForbidden, message)
}

// NewBadRequest creates a 400 Bad Request error.
func NewBadRequest(message string) *AppError {
	return newError(http.StatusBadRequest, KindBadRequest, message)
}

// errMissingContext is the shared internal error for nil precondition checks.
var errMissingContext = errors.New("missing required context")

// NewMissingContext creates a 500 error for handler nil-context guards
// (e.g. session not set, dependency not wired).
func NewMissingContext() *AppError {
	return NewPersistence(errMissingContext)
}

// KindOf returns the kind of err if it is (or wraps) an AppError, and
// KindPersistence for anything else.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return KindPersistence
}

// Is reports whether err is an AppError of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == kind
}

// SafeMessage returns the client-safe error message from an error. If the
// error is an AppError, returns its Message field (which is safe to expose).
// For any other error type, returns a generic message to prevent leaking
// internal details like table names or query structure.
func SafeMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an unexpected error occurred"
}

// SafeCode returns the HTTP status code from an AppError, or 500 for
// any other error type.
func SafeCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
