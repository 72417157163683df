package conditions

import "context"

// Engine evaluates a condition expression against an environment map.
// Three implementations: Expr (default), CEL, and GoJQ, selected per workflow
// via its condition_language field.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
