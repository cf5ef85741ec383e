package context

import "context"

// OperatorContext identifies who triggered an interactive run.
type OperatorContext struct {
	OperatorID string
	TenantIDs  []string // Tenants the operator may act for; empty means all
	IsAdmin    bool
}

type operatorKey struct{}

// WithOperator adds OperatorContext to context.
func WithOperator(ctx context.Context, op *OperatorContext) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

// GetOperator returns OperatorContext from context.
func GetOperator(ctx context.Context) *OperatorContext {
	if v, ok := ctx.Value(operatorKey{}).(*OperatorContext); ok {
		return v
	}
	return nil
}

// GetOperatorID returns operator ID from context or empty string.
func GetOperatorID(ctx context.Context) string {
	if op := GetOperator(ctx); op != nil {
		return op.OperatorID
	}
	return ""
}

// CanActFor checks if the operator may trigger runs for the tenant.
func CanActFor(ctx context.Context, tenantID string) bool {
	op := GetOperator(ctx)
	if op == nil {
		return false
	}
	if op.IsAdmin || len(op.TenantIDs) == 0 {
		return true
	}
	for _, t := range op.TenantIDs {
		if t == tenantID {
			return true
		}
	}
	return false
}
