// Package policy decides which documents may be reported to the authority.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"taxlink/internal/domain/submission"
)

// OpenPolicy reports every document.
type OpenPolicy struct{}

func (OpenPolicy) IsPostable(ctx context.Context, doc *submission.Document) (bool, error) {
	return true, nil
}

// ExprPolicy evaluates a CEL expression against each document.
//
// Available variables:
//
//	name            string  invoice number
//	tenant_id       string
//	state           string  submission state
//	amount_residual double
//	is_base         bool    false for corrections
//	chain_index     int
//
// Example: `is_base || amount_residual != 0.0`
type ExprPolicy struct {
	expr    string
	program cel.Program
}

var (
	_ submission.Postable = OpenPolicy{}
	_ submission.Postable = (*ExprPolicy)(nil)
)

// New returns OpenPolicy for an empty expression, otherwise a compiled ExprPolicy.
func New(expr string) (submission.Postable, error) {
	if strings.TrimSpace(expr) == "" {
		return OpenPolicy{}, nil
	}
	return NewExprPolicy(expr)
}

// NewExprPolicy compiles expr. The expression must evaluate to bool.
func NewExprPolicy(expr string) (*ExprPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("amount_residual", cel.DoubleType),
		cel.Variable("is_base", cel.BoolType),
		cel.Variable("chain_index", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile postable expression: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("postable expression must return bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build postable program: %w", err)
	}
	return &ExprPolicy{expr: expr, program: program}, nil
}

// IsPostable implements submission.Postable.
func (p *ExprPolicy) IsPostable(ctx context.Context, doc *submission.Document) (bool, error) {
	out, _, err := p.program.ContextEval(ctx, map[string]any{
		"name":            doc.Name,
		"tenant_id":       doc.TenantID,
		"state":           string(doc.State),
		"amount_residual": doc.AmountResidual.InexactFloat64(),
		"is_base":         doc.IsBase(),
		"chain_index":     int64(doc.ChainIndex),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.expr, err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: result is %T", p.expr, out.Value())
	}
	return v, nil
}
