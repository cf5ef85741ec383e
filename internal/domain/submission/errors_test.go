package submission

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"taxlink/internal/core/apperror"
)

func TestAsConnectionError(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", &ConnectionError{Code: ConnAuth, Errors: []string{"INVALID_SECURITY_USER"}})
	assert.Equal(t, ConnAuth, AsConnectionError(wrapped).Code)

	deadline := fmt.Errorf("post: %w", context.DeadlineExceeded)
	assert.Equal(t, ConnTimeout, AsConnectionError(deadline).Code)

	other := AsConnectionError(errors.New("boom"))
	assert.Equal(t, ConnOther, other.Code)
	assert.Equal(t, []string{"boom"}, other.messages())
}

func TestConnectionError_AppError(t *testing.T) {
	timeout := (&ConnectionError{Code: ConnTimeout}).AppError()
	assert.Equal(t, apperror.CodeAuthorityTimeout, timeout.Code)
	assert.Equal(t, http.StatusGatewayTimeout, timeout.HTTPStatus)

	auth := (&ConnectionError{Code: ConnAuth, Errors: []string{"x"}}).AppError()
	assert.Equal(t, apperror.CodeAuthorityAuth, auth.Code)
	assert.Contains(t, auth.Message, "x")
}

func TestUnmatchedResultError(t *testing.T) {
	err := &UnmatchedResultError{Reference: "TX1", Index: 4}
	assert.Contains(t, err.Error(), "TX1")
	appErr := err.AppError()
	assert.Equal(t, apperror.CodeUnmatchedResult, appErr.Code)
	assert.Equal(t, 4, appErr.Details["index"])
}
