package tenant

import (
	"context"
)

type tenantKey struct{}

// WithTenantID stores the tenant currently being processed in context.
// Pipelines set it per batch so logs carry the tenant.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenantID returns tenant ID or empty string.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}
