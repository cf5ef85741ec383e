package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxlink/internal/core/tenant"
)

type countingRegistry struct {
	*tenant.StaticRegistry
	gets int
}

func (r *countingRegistry) GetByID(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	r.gets++
	return r.StaticRegistry.GetByID(ctx, tenantID)
}

func newSource() *countingRegistry {
	return &countingRegistry{StaticRegistry: tenant.NewStaticRegistry(
		&tenant.Tenant{ID: "acme", Status: tenant.StatusActive},
		&tenant.Tenant{ID: "globex", Status: tenant.StatusActive},
	)}
}

func TestTenantCache_ServesRepeatedLookupsFromMemory(t *testing.T) {
	src := newSource()
	c := NewTenantCache(src, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.GetByID(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", got.ID)
	}
	assert.Equal(t, 1, src.gets)
	assert.Equal(t, 1, c.Len())
}

func TestTenantCache_Invalidate(t *testing.T) {
	src := newSource()
	c := NewTenantCache(src, nil)
	ctx := context.Background()

	_, _ = c.GetByID(ctx, "acme")
	_, _ = c.GetByID(ctx, "globex")
	require.Equal(t, 2, c.Len())

	c.Invalidate(" acme ")
	assert.Equal(t, 1, c.Len())

	_, _ = c.GetByID(ctx, "acme")
	assert.Equal(t, 3, src.gets)

	c.Invalidate("")
	assert.Zero(t, c.Len())
}

func TestTenantCache_DoesNotCacheMisses(t *testing.T) {
	src := newSource()
	c := NewTenantCache(src, nil)

	_, err := c.GetByID(context.Background(), "initech")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	assert.Zero(t, c.Len())
}

func TestTenantCache_StartNeedsPool(t *testing.T) {
	c := NewTenantCache(newSource(), nil)
	assert.Error(t, c.Start(context.Background()))
	c.Stop()
}
