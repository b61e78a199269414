// Package lenserr defines the typed error taxonomy shared across the engine.
// Errors carry an operation and entity context for operator diagnosis without
// leaking storage internals to API clients.
package lenserr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. They map onto HTTP statuses at the API boundary.
const (
	CodeValidation         = "VALIDATION"
	CodeNotFound           = "NOT_FOUND"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeScoringUnavailable = "SCORING_UNAVAILABLE"
	CodeRetentionConflict  = "RETENTION_CONFLICT"
)

// Error is a typed error that can be surfaced to API clients without leaking
// provider-specific details.
type Error struct {
	Code     string
	Op       string // operation that failed, e.g. "store.append"
	EntityID string // affected entity id, when known
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.EntityID != "" {
		msg += " (entity " + e.EntityID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// New constructs a typed Error.
func New(code, op, message string, err error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// Validation builds a user-correctable input error.
func Validation(op, message string) *Error {
	return &Error{Code: CodeValidation, Op: op, Message: message}
}

// NotFound builds an absent-resource error for the given entity.
func NotFound(op, entityID string) *Error {
	return &Error{Code: CodeNotFound, Op: op, EntityID: entityID, Message: "not found"}
}

// StoreUnavailable wraps an unreachable-storage failure.
func StoreUnavailable(op string, err error) *Error {
	return &Error{Code: CodeStoreUnavailable, Op: op, Message: "storage unavailable", Err: err}
}

// ScoringUnavailable wraps a missing or unreadable model artifact. It is
// non-fatal: entries stay unscored.
func ScoringUnavailable(op string, err error) *Error {
	return &Error{Code: CodeScoringUnavailable, Op: op, Message: "scoring unavailable", Err: err}
}

// RetentionConflict signals a concurrent sweep; the caller aborts cleanly.
func RetentionConflict(op string) *Error {
	return &Error{Code: CodeRetentionConflict, Op: op, Message: "retention sweep already running"}
}

// CodeOf extracts the taxonomy code from err, or "" for untyped errors.
func CodeOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool { return CodeOf(err) == code }

// HTTPStatus maps an error to the status the API layer should return.
// Untyped errors are treated as internal.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStoreUnavailable, CodeScoringUnavailable:
		return http.StatusServiceUnavailable
	case CodeRetentionConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
