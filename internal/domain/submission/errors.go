package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taxlink/internal/core/apperror"
)

// ConnectionErrorCode classifies authority failures.
type ConnectionErrorCode string

const (
	ConnAuth    ConnectionErrorCode = "auth"
	ConnTimeout ConnectionErrorCode = "timeout"
	ConnOther   ConnectionErrorCode = "other"
)

// ConnectionError is returned by Authority implementations.
type ConnectionError struct {
	Code   ConnectionErrorCode
	Errors []string
	Err    error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("authority %s error", e.Code)
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, "; ")
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Err)
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AppError converts the failure into the platform error taxonomy.
func (e *ConnectionError) AppError() *apperror.AppError {
	code := apperror.CodeAuthority
	switch e.Code {
	case ConnAuth:
		code = apperror.CodeAuthorityAuth
	case ConnTimeout:
		code = apperror.CodeAuthorityTimeout
	}
	return apperror.NewAuthority(code, e.Error()).WithCause(e)
}

// AsConnectionError normalizes any error returned by an Authority call.
// Context deadlines count as timeouts; anything unknown is ConnOther.
func AsConnectionError(err error) *ConnectionError {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectionError{Code: ConnTimeout, Errors: []string{err.Error()}, Err: err}
	}
	return &ConnectionError{Code: ConnOther, Errors: []string{err.Error()}, Err: err}
}

// messages returns the itemized errors, falling back to the error text.
func (e *ConnectionError) messages() []string {
	if len(e.Errors) > 0 {
		return e.Errors
	}
	if e.Err != nil {
		return []string{e.Err.Error()}
	}
	return []string{string(e.Code)}
}

// UnmatchedResultError describes a status item that no document claims.
type UnmatchedResultError struct {
	Reference string
	Index     int
}

func (e *UnmatchedResultError) Error() string {
	return fmt.Sprintf("transaction %s: no document at batch index %d", e.Reference, e.Index)
}

// AppError converts the mismatch into the platform error taxonomy.
func (e *UnmatchedResultError) AppError() *apperror.AppError {
	return apperror.NewBusinessRule(apperror.CodeUnmatchedResult, e.Error()).
		WithDetail("reference", e.Reference).
		WithDetail("index", e.Index)
}
