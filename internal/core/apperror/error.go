// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All business errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes following domain-driven design
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Business rule violations (422)
	CodeBusinessRule        = "BUSINESS_RULE_VIOLATION"
	CodeDocumentNotEligible = "DOCUMENT_NOT_ELIGIBLE"
	CodeChainReparented     = "CHAIN_REPARENTED"
	CodeBlocking            = "BLOCKING_ERROR"

	// Authority errors (502, 504)
	CodeAuthorityAuth    = "AUTHORITY_AUTH_FAILED"
	CodeAuthorityTimeout = "AUTHORITY_TIMEOUT"
	CodeAuthority        = "AUTHORITY_ERROR"
	CodeUnmatchedResult  = "UNMATCHED_RESULT"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict     = "CONFLICT"
	CodeLockConflict = "LOCK_CONFLICT"
	CodeIdempotency  = "IDEMPOTENCY_CONFLICT"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (document ids, chain, authority messages)
	Details map[string]any `json:"details,omitempty"`

	// Retryable tells the caller the same operation may succeed if repeated later
	Retryable bool `json:"retryable,omitempty"`

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

// --- Factory functions for common errors ---

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

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewNotEligible is returned when a document's submission state does not allow the operation.
func NewNotEligible(operation string, docID any, state string) *AppError {
	return &AppError{
		Code:       CodeDocumentNotEligible,
		Message:    fmt.Sprintf("Document cannot be processed by %s in state %q", operation, state),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"operation": operation, "document_id": docID, "state": state},
	}
}

// NewLockConflict is returned when the chain base row is locked by a concurrent submission.
// The caller may retry the whole operation later.
func NewLockConflict(chainBaseID any) *AppError {
	return &AppError{
		Code:       CodeLockConflict,
		Message:    "Correction chain is being processed by another submission. Try again later.",
		HTTPStatus: http.StatusConflict,
		Retryable:  true,
		Details:    map[string]any{"chain_base_id": chainBaseID},
	}
}

// NewChainReparented is returned when a document moved to another chain after its index was assigned.
func NewChainReparented(docID, recordedBase, currentBase any) *AppError {
	return &AppError{
		Code:       CodeChainReparented,
		Message:    "Document was moved to another correction chain after its chain index was assigned",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"document_id":   docID,
			"recorded_base": recordedBase,
			"current_base":  currentBase,
		},
	}
}

// NewBlocking aggregates documents whose operation ended with a blocking message.
func NewBlocking(operation string, docIDs []string) *AppError {
	return &AppError{
		Code:       CodeBlocking,
		Message:    fmt.Sprintf("%s finished with blocking errors", operation),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"operation": operation, "document_ids": docIDs},
	}
}

// NewAuthority wraps a failed authority round-trip.
func NewAuthority(code, message string) *AppError {
	status := http.StatusBadGateway
	if code == CodeAuthorityTimeout {
		status = http.StatusGatewayTimeout
	}
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Retryable:  code == CodeAuthorityTimeout,
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

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewIdempotencyConflict is returned while a request with the same key is still running.
func NewIdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Operation already in progress",
		HTTPStatus: http.StatusConflict,
		Retryable:  true,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewIdempotencyMismatch is returned when a key is reused for a different request.
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Idempotency key was used for a different request",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewTooManyRequests creates a rate limit error (429)
func NewTooManyRequests(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusTooManyRequests,
		Retryable:  true,
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

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsLockConflict checks if error is CodeLockConflict
func IsLockConflict(err error) bool {
	return HasCode(err, CodeLockConflict)
}

// IsRetryable reports whether the operation may be repeated.
func IsRetryable(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable
	}
	return false
}
