package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	appctx "taxlink/internal/core/context"
	"taxlink/internal/core/tenant"
)

func TestFromContext_AddsInvocationFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := &Logger{zap.New(core).Sugar()}

	ctx := WithLogger(context.Background(), base)
	ctx = appctx.WithMode(ctx, appctx.ModeInteractive)
	ctx = appctx.WithTrace(ctx, &appctx.TraceContext{TraceID: "tr-1", RequestID: "rq-1"})
	ctx = tenant.WithTenantID(ctx, "tenant-7")

	Info(ctx, "hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "interactive", fields["mode"])
		assert.Equal(t, "tr-1", fields["trace_id"])
		assert.Equal(t, "tenant-7", fields["tenant_id"])
	}
}
