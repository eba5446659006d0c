// Package apperror provides structured error handling for the OR series service.
// Every error that crosses a component boundary must be an AppError so that
// callers can branch on Code and the HTTP layer can render a stable body.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal            = "INTERNAL_ERROR"
	CodeDatabase            = "DATABASE_ERROR"
	CodeTimeout             = "TIMEOUT_ERROR"
	CodeTransactionConflict = "TRANSACTION_CONFLICT"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Series state errors (409)
	CodeNoActiveSeries     = "NO_ACTIVE_SERIES"
	CodeSeriesLimitReached = "SERIES_LIMIT_REACHED"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict               = "CONFLICT"
	CodeDuplicate              = "DUPLICATE_ENTRY"
	CodeDuplicateOrNumber      = "DUPLICATE_OR_NUMBER"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeIdempotency            = "IDEMPOTENCY_CONFLICT"
	CodeIdempotencyMismatch    = "IDEMPOTENCY_MISMATCH"
)

// AppError is the standard error type for the service.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, series ids, statuses)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewNoActiveSeries is returned when no series is active and effective today.
func NewNoActiveSeries() *AppError {
	return &AppError{
		Code:       CodeNoActiveSeries,
		Message:    "No active transaction series found",
		HTTPStatus: http.StatusConflict,
	}
}

// NewSeriesLimitReached is returned when a bounded series has issued its last number.
func NewSeriesLimitReached(seriesName string, seriesID int64, endNumber int64) *AppError {
	return &AppError{
		Code:       CodeSeriesLimitReached,
		Message:    fmt.Sprintf("Transaction series %q has reached its limit", seriesName),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"series_id": seriesID, "end_number": endNumber},
	}
}

// NewDuplicateOrNumber is returned when an OR number is already recorded.
func NewDuplicateOrNumber(orNumber string) *AppError {
	return &AppError{
		Code:       CodeDuplicateOrNumber,
		Message:    fmt.Sprintf("OR number %s already exists", orNumber),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"or_number": orNumber},
	}
}

// NewInvalidStateTransition is returned when a generation record cannot move from its current status.
func NewInvalidStateTransition(generationID int64, from, to string) *AppError {
	return &AppError{
		Code:       CodeInvalidStateTransition,
		Message:    fmt.Sprintf("Cannot change OR number status from %s to %s", from, to),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"generation_id": generationID, "from": from, "to": to},
	}
}

// NewTransactionConflict wraps a lock timeout, deadlock or serialization failure.
// The request may be retried as is.
func NewTransactionConflict(message string) *AppError {
	return &AppError{
		Code:       CodeTransactionConflict,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NewTimeout creates a query timeout error (504)
func NewTimeout(message string) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    message,
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// NewDatabase hides a storage failure behind a generic message.
func NewDatabase(err error) *AppError {
	return &AppError{
		Code:       CodeDatabase,
		Message:    "Database error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewIdempotencyConflict creates error when operation is already in progress
func NewIdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Operation already in progress or completed",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewIdempotencyMismatch is returned when the same idempotency key is reused for
// a different request (different user/operation/body hash).
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotencyMismatch,
		Message:    "Idempotency key mismatch",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

// IsValidation checks if error is CodeValidation
func IsValidation(err error) bool { return HasCode(err, CodeValidation) }

// IsNoActiveSeries checks if error is CodeNoActiveSeries
func IsNoActiveSeries(err error) bool { return HasCode(err, CodeNoActiveSeries) }

// IsSeriesLimitReached checks if error is CodeSeriesLimitReached
func IsSeriesLimitReached(err error) bool { return HasCode(err, CodeSeriesLimitReached) }

// IsDuplicateOrNumber checks if error is CodeDuplicateOrNumber
func IsDuplicateOrNumber(err error) bool { return HasCode(err, CodeDuplicateOrNumber) }

// IsInvalidStateTransition checks if error is CodeInvalidStateTransition
func IsInvalidStateTransition(err error) bool { return HasCode(err, CodeInvalidStateTransition) }

// IsTransactionConflict checks if error is CodeTransactionConflict
func IsTransactionConflict(err error) bool { return HasCode(err, CodeTransactionConflict) }

// IsTransient reports whether repeating the same request may succeed: any
// 5xx, or a series state that an administrator can change.
func IsTransient(err error) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return true
	}
	switch appErr.Code {
	case CodeNoActiveSeries, CodeSeriesLimitReached:
		return true
	}
	return appErr.HTTPStatus >= http.StatusInternalServerError
}
