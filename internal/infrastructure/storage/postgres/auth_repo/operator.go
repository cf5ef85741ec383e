// Package auth_repo provides the PostgreSQL operator repository.
package auth_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"taxlink/internal/core/apperror"
	"taxlink/internal/core/id"
	"taxlink/internal/domain/auth"
	"taxlink/internal/infrastructure/storage/postgres"
)

const operatorsTable = "operators"

// OperatorRepo implements auth.OperatorRepository.
type OperatorRepo struct {
	txManager *postgres.TxManager
}

var _ auth.OperatorRepository = (*OperatorRepo)(nil)

// NewOperatorRepo creates a new operator repository.
func NewOperatorRepo(txManager *postgres.TxManager) *OperatorRepo {
	return &OperatorRepo{txManager: txManager}
}

func (r *OperatorRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *OperatorRepo) insertQuery(op *auth.Operator) squirrel.InsertBuilder {
	return r.builder().Insert(operatorsTable).SetMap(postgres.StructToMap(op,
		"id", "email", "password_hash", "tenant_ids", "is_admin", "is_active", "created_at",
	))
}

// Create inserts a new operator.
func (r *OperatorRepo) Create(ctx context.Context, op *auth.Operator) error {
	sql, args, err := r.insertQuery(op).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperror.NewConflict("email already registered").WithDetail("email", op.Email)
		}
		return fmt.Errorf("insert operator: %w", err)
	}
	return nil
}

func (r *OperatorRepo) get(ctx context.Context, where squirrel.Eq, key string) (*auth.Operator, error) {
	sql, args, err := r.builder().
		Select(postgres.ExtractDBColumns[auth.Operator]()...).
		From(operatorsTable).
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var op auth.Operator
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &op, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("operator", key)
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}
	return &op, nil
}

// GetByID retrieves an operator by ID.
func (r *OperatorRepo) GetByID(ctx context.Context, operatorID id.ID) (*auth.Operator, error) {
	return r.get(ctx, squirrel.Eq{"id": operatorID}, operatorID.String())
}

// GetByEmail retrieves an operator by normalized email.
func (r *OperatorRepo) GetByEmail(ctx context.Context, email string) (*auth.Operator, error) {
	return r.get(ctx, squirrel.Eq{"email": email}, email)
}

func (r *OperatorRepo) updateLoginStateQuery(op *auth.Operator) squirrel.UpdateBuilder {
	return r.builder().Update(operatorsTable).
		Set("last_login_at", op.LastLoginAt).
		Set("failed_login_attempts", op.FailedLoginAttempts).
		Set("locked_until", op.LockedUntil).
		Where(squirrel.Eq{"id": op.ID})
}

// UpdateLoginState persists the login counters of op.
func (r *OperatorRepo) UpdateLoginState(ctx context.Context, op *auth.Operator) error {
	sql, args, err := r.updateLoginStateQuery(op).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update login state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("operator", op.ID.String())
	}
	return nil
}
