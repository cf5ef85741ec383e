package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes handled by repositories.
const (
	SQLStateLockNotAvailable = "55P03"
	SQLStateUniqueViolation  = "23505"
	SQLStateSerialization    = "40001"
)

// SQLState returns the SQLSTATE of a PostgreSQL error, or "".
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsLockNotAvailable reports whether a NOWAIT lock could not be granted.
func IsLockNotAvailable(err error) bool {
	return SQLState(err) == SQLStateLockNotAvailable
}

// IsUniqueViolation reports a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return SQLState(err) == SQLStateUniqueViolation
}
