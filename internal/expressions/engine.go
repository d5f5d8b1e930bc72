package expressions

import "context"

// Engine evaluates expressions inside execution graphs.
// Three implementations: CEL (condition nodes), GoJQ (transform nodes),
// Expr (edge guards).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
	// Check compiles the expression without evaluating it. The validator
	// uses it to reject proposals carrying unparseable expressions.
	Check(expression string) error
}
