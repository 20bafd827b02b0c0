package expressions

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/playbook/pkg/schema"
)

// TimeContext returns the clock-derived fields every condition can reference.
// month is 1-based; dayOfWeek is 0 for Sunday.
func TimeContext(now time.Time) map[string]any {
	wd := int(now.Weekday())
	return map[string]any{
		"currentTime": now.UnixMilli(),
		"dayOfWeek":   wd,
		"hourOfDay":   now.Hour(),
		"minute":      now.Minute(),
		"dayOfMonth":  now.Day(),
		"month":       int(now.Month()),
		"year":        now.Year(),
		"isWeekend":   wd == 0 || wd == 6,
		"isWorkday":   wd >= 1 && wd <= 5,
	}
}

// ConditionEvaluator evaluates the restricted condition grammar: comparisons,
// boolean connectives, membership (in), literals and variable references.
// There are no function calls, assignments or member invocations.
// Thread-safe: parsed conditions are cached by source text.
type ConditionEvaluator struct {
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]node
}

// ConditionOption configures a ConditionEvaluator.
type ConditionOption func(*ConditionEvaluator)

// WithClock overrides the time source used for the time context.
func WithClock(now func() time.Time) ConditionOption {
	return func(c *ConditionEvaluator) { c.now = now }
}

// NewConditionEvaluator creates a ConditionEvaluator using the local clock.
func NewConditionEvaluator(opts ...ConditionOption) *ConditionEvaluator {
	c := &ConditionEvaluator{
		now:   time.Now,
		cache: make(map[string]node),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the engine identifier.
func (c *ConditionEvaluator) Name() string {
	return "condition"
}

// Evaluate implements Engine. data is used as-is, without time fields.
func (c *ConditionEvaluator) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	n, err := c.compile(expression)
	if err != nil {
		return nil, err
	}
	v, err := n.eval(data)
	if err != nil {
		return nil, conditionError(expression, err)
	}
	return truthy(v), nil
}

// Condition evaluates expression against the time context overlaid with vars.
// It fails closed: any parse or evaluation problem yields false together with
// a CONDITION_ERROR describing it.
func (c *ConditionEvaluator) Condition(expression string, vars map[string]any) (bool, error) {
	n, err := c.compile(expression)
	if err != nil {
		return false, err
	}
	v, err := n.eval(c.Context(vars))
	if err != nil {
		return false, conditionError(expression, err)
	}
	return truthy(v), nil
}

// Context builds the evaluation scope: time fields, then vars on top.
func (c *ConditionEvaluator) Context(vars map[string]any) map[string]any {
	return Merge(TimeContext(c.now()), vars)
}

// Compile checks that expression parses.
func (c *ConditionEvaluator) Compile(expression string) error {
	_, err := c.compile(expression)
	return err
}

func (c *ConditionEvaluator) compile(expression string) (node, error) {
	c.mu.RLock()
	if n, ok := c.cache[expression]; ok {
		c.mu.RUnlock()
		return n, nil
	}
	c.mu.RUnlock()

	n, err := parseCondition(expression)
	if err != nil {
		return nil, conditionError(expression, err)
	}

	c.mu.Lock()
	c.cache[expression] = n
	c.mu.Unlock()
	return n, nil
}

func conditionError(expression string, err error) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeCondition, "condition %q: %s", expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

var _ Engine = (*ConditionEvaluator)(nil)
