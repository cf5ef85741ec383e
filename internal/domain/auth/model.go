// Package auth authenticates operators who trigger interactive submission runs.
package auth

import (
	"strings"
	"time"

	"taxlink/internal/core/apperror"
	appctx "taxlink/internal/core/context"
	"taxlink/internal/core/id"
)

// Operator is a person allowed to trigger runs through the API.
type Operator struct {
	ID                  id.ID      `db:"id" json:"id"`
	Email               string     `db:"email" json:"email"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	TenantIDs           []string   `db:"tenant_ids" json:"tenantIds,omitempty"`
	IsAdmin             bool       `db:"is_admin" json:"isAdmin"`
	IsActive            bool       `db:"is_active" json:"isActive"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"-"`
	LockedUntil         *time.Time `db:"locked_until" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
}

// NewOperator creates an active operator.
func NewOperator(email, passwordHash string, tenantIDs []string, isAdmin bool) *Operator {
	return &Operator{
		ID:           id.New(),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		TenantIDs:    tenantIDs,
		IsAdmin:      isAdmin,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsLocked reports whether the account is temporarily locked at now.
func (o *Operator) IsLocked(now time.Time) bool {
	return o.LockedUntil != nil && now.Before(*o.LockedUntil)
}

// CanLogin checks if the operator can login.
func (o *Operator) CanLogin(now time.Time) error {
	if !o.IsActive {
		return apperror.NewForbidden("account is disabled")
	}
	if o.IsLocked(now) {
		return apperror.NewForbidden("account is temporarily locked")
	}
	return nil
}

// RecordFailedLogin increments the failed login counter and locks the account after maxAttempts.
func (o *Operator) RecordFailedLogin(now time.Time, maxAttempts int, lockDuration time.Duration) {
	o.FailedLoginAttempts++
	if maxAttempts > 0 && o.FailedLoginAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		o.LockedUntil = &until
		o.FailedLoginAttempts = 0
	}
}

// RecordSuccessfulLogin resets the failed login counter.
func (o *Operator) RecordSuccessfulLogin(now time.Time) {
	o.FailedLoginAttempts = 0
	o.LockedUntil = nil
	o.LastLoginAt = &now
}

// Context returns the request-scoped view of the operator.
func (o *Operator) Context() *appctx.OperatorContext {
	return &appctx.OperatorContext{
		OperatorID: o.ID.String(),
		TenantIDs:  o.TenantIDs,
		IsAdmin:    o.IsAdmin,
	}
}

// LoginRequest holds credentials for login.
type LoginRequest struct {
	Email    string
	Password string
}

// TokenResponse is returned after a successful login.
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	TokenType   string    `json:"tokenType"`
}
