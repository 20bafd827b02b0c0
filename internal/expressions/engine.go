package expressions

import "context"

// Engine evaluates expressions against a data map.
// Implementations: ConditionEvaluator (step conditions), GoJQEngine (chain
// context mapping), ExprEngine (suggestion rules), CELEngine (history filters).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
