package policy

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxlink/internal/core/id"
	"taxlink/internal/domain/submission"
)

func TestNew_EmptyExpressionIsOpen(t *testing.T) {
	p, err := New("  ")
	require.NoError(t, err)
	assert.IsType(t, OpenPolicy{}, p)

	ok, err := p.IsPostable(context.Background(), &submission.Document{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExprPolicy(t *testing.T) {
	base := id.New()
	correction := &submission.Document{
		Name:           "INV-2",
		TenantID:       "tenant-1",
		ReversedID:     &base,
		AmountResidual: decimal.Zero,
		State:          submission.StateNone,
	}
	invoice := &submission.Document{
		Name:           "INV-1",
		TenantID:       "tenant-2",
		AmountResidual: decimal.RequireFromString("120.50"),
	}

	tests := []struct {
		expr string
		doc  *submission.Document
		want bool
	}{
		{`is_base || amount_residual != 0.0`, correction, false},
		{`is_base || amount_residual != 0.0`, invoice, true},
		{`tenant_id != "tenant-2"`, invoice, false},
		{`name.startsWith("INV-") && amount_residual > 100.0`, invoice, true},
		{`state == "none" && chain_index == 0`, correction, true},
		{`state == "sent"`, correction, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p, err := NewExprPolicy(tt.expr)
			require.NoError(t, err)

			got, err := p.IsPostable(context.Background(), tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewExprPolicy_Rejects(t *testing.T) {
	_, err := NewExprPolicy(`unknown_var == 1`)
	assert.Error(t, err)

	_, err = NewExprPolicy(`name`)
	assert.ErrorContains(t, err, "must return bool")
}
