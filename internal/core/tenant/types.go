// Package tenant provides the submitting identities (companies) documents are
// reported under, and their credentials at the tax authority.
package tenant

import (
	"strings"
	"time"
)

// Status represents tenant lifecycle state.
type Status string

const (
	// StatusActive - tenant documents are submitted
	StatusActive Status = "active"

	// StatusSuspended - submissions are paused (e.g. credentials revoked)
	StatusSuspended Status = "suspended"
)

// Tenant represents a submitting company.
type Tenant struct {
	ID          string    `db:"id"`
	DisplayName string    `db:"display_name"`
	TaxNumber   string    `db:"tax_number"` // 8-digit taxpayer id used in request headers
	Status      Status    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`

	Credentials
}

// IsActive returns true if tenant documents may be submitted.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}

// Credentials is the technical user the authority issued to a tenant.
type Credentials struct {
	Login       string `db:"login"`
	Password    string `db:"password"`
	SigningKey  string `db:"signing_key"`  // used for request signatures
	ExchangeKey string `db:"exchange_key"` // decrypts the exchange token
	TaxNumber   string `db:"-"` // filled from the tenant when empty
}

// Validate reports missing credential fields.
func (c Credentials) Validate() error {
	var missing []string
	if c.Login == "" {
		missing = append(missing, "login")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if c.SigningKey == "" {
		missing = append(missing, "signing_key")
	}
	if c.ExchangeKey == "" {
		missing = append(missing, "exchange_key")
	}
	if len(c.TaxNumber) < 8 {
		missing = append(missing, "tax_number")
	}
	if len(missing) > 0 {
		return &CredentialsError{Missing: missing}
	}
	return nil
}

// CredentialsError lists missing credential fields.
type CredentialsError struct {
	Missing []string
}

func (e *CredentialsError) Error() string {
	return "incomplete authority credentials: " + strings.Join(e.Missing, ", ")
}
