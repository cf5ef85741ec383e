// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"taxlink/internal/core/apperror"
	"taxlink/internal/core/id"
)

// ErrorResponse for error details.
type ErrorResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ParseIDs converts request ids, reporting the first invalid one.
func ParseIDs(values []string) ([]id.ID, error) {
	ids, err := id.ParseAll(values)
	if err != nil {
		return nil, apperror.NewValidation("invalid document id").
			WithDetail("field", "documentIds").
			WithCause(err)
	}
	return ids, nil
}
