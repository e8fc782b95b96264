package expressions

import "context"

// Engine evaluates expressions against a data document.
// Two implementations: CEL (schedule guards) and GoJQ (output shaping).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

var (
	_ Engine = (*CELEngine)(nil)
	_ Engine = (*GoJQEngine)(nil)
)
