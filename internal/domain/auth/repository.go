package auth

import (
	"context"

	"taxlink/internal/core/id"
)

// OperatorRepository defines operator storage operations.
type OperatorRepository interface {
	// Create inserts a new operator. Returns a conflict error when the email is taken.
	Create(ctx context.Context, op *Operator) error

	// GetByID retrieves an operator by ID.
	GetByID(ctx context.Context, operatorID id.ID) (*Operator, error)

	// GetByEmail retrieves an operator by normalized email.
	GetByEmail(ctx context.Context, email string) (*Operator, error)

	// UpdateLoginState persists the login counters of op.
	UpdateLoginState(ctx context.Context, op *Operator) error
}
