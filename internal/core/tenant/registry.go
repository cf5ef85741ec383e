package tenant

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/georgysavva/scany/v2/pgxscan"
)

// Registry resolves tenants and their authority credentials.
type Registry interface {
	// GetByID retrieves tenant by id.
	GetByID(ctx context.Context, tenantID string) (*Tenant, error)

	// ListActive returns all active tenants.
	ListActive(ctx context.Context) ([]*Tenant, error)
}

// CredentialsFor returns the credentials of an active tenant.
func CredentialsFor(ctx context.Context, r Registry, tenantID string) (Credentials, error) {
	t, err := r.GetByID(ctx, tenantID)
	if err != nil {
		return Credentials{}, err
	}
	if !t.IsActive() {
		return Credentials{}, fmt.Errorf("%w: status=%s", ErrTenantNotActive, t.Status)
	}
	creds := t.Credentials
	if creds.TaxNumber == "" {
		creds.TaxNumber = t.TaxNumber
	}
	return creds, nil
}

// PostgresRegistry implements Registry over the tenants table.
type PostgresRegistry struct {
	db pgxscan.Querier
}

// NewPostgresRegistry creates a registry backed by the given pool or connection.
func NewPostgresRegistry(db pgxscan.Querier) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

const selectTenant = `
	SELECT id, display_name, tax_number, status, created_at, updated_at,
	       login, password, signing_key, exchange_key
	FROM tenants`

func (r *PostgresRegistry) GetByID(ctx context.Context, tenantID string) (*Tenant, error) {
	var t Tenant
	err := pgxscan.Get(ctx, r.db, &t, selectTenant+` WHERE id = $1`, tenantID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant by id: %w", err)
	}
	return &t, nil
}

func (r *PostgresRegistry) ListActive(ctx context.Context) ([]*Tenant, error) {
	var tenants []*Tenant
	err := pgxscan.Select(ctx, r.db, &tenants, selectTenant+` WHERE status = $1 ORDER BY id`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	return tenants, nil
}

// StaticRegistry keeps tenants in memory. Used by tests and single-company setups
// configured from the environment.
type StaticRegistry struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
}

// NewStaticRegistry creates a registry holding the given tenants.
func NewStaticRegistry(tenants ...*Tenant) *StaticRegistry {
	r := &StaticRegistry{tenants: make(map[string]*Tenant, len(tenants))}
	for _, t := range tenants {
		r.tenants[t.ID] = t
	}
	return r
}

func (r *StaticRegistry) GetByID(ctx context.Context, tenantID string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

func (r *StaticRegistry) ListActive(ctx context.Context) ([]*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		if t.IsActive() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
