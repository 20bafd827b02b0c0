package engine

import (
	"context"

	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/internal/logging"
	"github.com/rendis/playbook/pkg/schema"
)

// Loop bindings injected into iteration contexts.
const (
	LoopIndexKey = "loopIndex"
	LoopItemKey  = "loopItem"
	IterationKey = "iteration"
)

// FlowOutcome is the result of one branch, for_each or while construct.
type FlowOutcome struct {
	Kind          schema.StepKind     `json:"type"`
	ConditionMet  *bool               `json:"condition_met,omitempty"`
	Iterations    int                 `json:"iterations"`
	Status        schema.RunStatus    `json:"status"`
	ExecutedSteps int                 `json:"executed_steps"`
	Results       []schema.StepResult `json:"results"`
	Diagnostic    string              `json:"diagnostic,omitempty"`
}

func (f *FlowOutcome) finish() *FlowOutcome {
	f.ExecutedSteps = 0
	for i := range f.Results {
		if !f.Results[i].Skipped {
			f.ExecutedSteps++
		}
	}
	if f.Results == nil {
		f.Results = []schema.StepResult{}
	}
	return f
}

func (f *FlowOutcome) failedSteps() int {
	n := 0
	for i := range f.Results {
		if f.Results[i].Failed() {
			n++
		}
	}
	return n
}

// summary is the payload a flow step contributes to the run context: the
// construct's status plus the payloads of its successful nested steps. For
// loops, later iterations overwrite earlier ones.
func (f *FlowOutcome) summary() map[string]any {
	results := make(map[string]any)
	for i := range f.Results {
		if f.Results[i].Success && !f.Results[i].Skipped {
			results[f.Results[i].Step] = f.Results[i].Result
		}
	}
	out := map[string]any{
		"type":           string(f.Kind),
		"status":         string(f.Status),
		"iterations":     f.Iterations,
		"executed_steps": f.ExecutedSteps,
		"results":        results,
	}
	if f.ConditionMet != nil {
		out["condition_met"] = *f.ConditionMet
	}
	return out
}

// Flow runs a control-flow construct of the given kind. Bodies always run
// on a copy of rc, so nested results never leak into the caller's context
// except through the flow step's own summary. Structural misuse (missing
// condition, non-list items, out-of-range bound) is returned as an error.
func (e *Engine) Flow(ctx context.Context, kind schema.StepKind, cfg *schema.FlowConfig, rc RunContext, vars map[string]any) (*FlowOutcome, error) {
	if cfg == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "%s step requires a flow block", kind)
	}
	if rc == nil {
		rc = RunContext{}
	}
	switch kind {
	case schema.StepKindBranch:
		return e.Branch(ctx, cfg, rc, vars)
	case schema.StepKindForEach:
		return e.ForEach(ctx, cfg, rc, vars)
	case schema.StepKindWhile:
		return e.While(ctx, cfg, rc, vars)
	}
	return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "unknown control-flow kind %q", kind)
}

// Branch evaluates cfg.Condition once and runs Then or Else.
func (e *Engine) Branch(ctx context.Context, cfg *schema.FlowConfig, rc RunContext, vars map[string]any) (*FlowOutcome, error) {
	if cfg.Condition == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "branch requires a condition")
	}

	fo := &FlowOutcome{Kind: schema.StepKindBranch, Status: schema.RunCompleted}
	met, err := e.conditions.Condition(cfg.Condition, expressions.Merge(vars, rc))
	if err != nil {
		fo.Diagnostic = err.Error()
		logging.LogWith(ctx, e.logger).Warn("branch condition failed closed", "condition", cfg.Condition, "error", err)
	}
	fo.ConditionMet = &met

	body := cfg.Else
	if met {
		body = cfg.Then
	}
	if len(body) == 0 {
		return fo.finish(), nil
	}

	out := e.Run(ctx, body, rc.clone(), vars, bodyOptions(cfg))
	fo.Status = out.Status
	fo.Results = out.Results
	fo.Iterations = 1
	return fo.finish(), nil
}

// ForEach runs cfg.Then once per item, up to the iteration bound. Each
// iteration gets a fresh copy of rc with loopIndex and loopItem bound.
// A failing iteration does not stop the loop.
func (e *Engine) ForEach(ctx context.Context, cfg *schema.FlowConfig, rc RunContext, vars map[string]any) (*FlowOutcome, error) {
	if len(cfg.Then) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "for_each requires body steps")
	}
	items, err := e.resolveItems(cfg, rc, vars)
	if err != nil {
		return nil, err
	}
	limit, err := e.iterationLimit(cfg.MaxIterations)
	if err != nil {
		return nil, err
	}

	fo := &FlowOutcome{Kind: schema.StepKindForEach, Status: schema.RunCompleted}
	opts := bodyOptions(cfg)

	for i, item := range items {
		if i >= limit {
			fo.Status = schema.RunCapped
			break
		}
		if ctx.Err() != nil {
			fo.Status = schema.RunCancelled
			break
		}

		iter := rc.clone()
		iter[LoopIndexKey] = i
		iter[LoopItemKey] = expressions.DeepCopy(item)

		out := e.Run(ctx, cfg.Then, iter, vars, opts)
		fo.Results = append(fo.Results, tagIteration(out.Results, i)...)
		fo.Iterations++
		if out.Status == schema.RunCancelled {
			fo.Status = schema.RunCancelled
			break
		}
	}
	return fo.finish(), nil
}

// While re-evaluates cfg.Condition before every iteration and stops when it
// is false or the iteration bound is reached. Body results accumulate in
// a single loop context, so the condition can observe them.
func (e *Engine) While(ctx context.Context, cfg *schema.FlowConfig, rc RunContext, vars map[string]any) (*FlowOutcome, error) {
	if cfg.Condition == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "while requires a condition")
	}
	if len(cfg.Then) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "while requires body steps")
	}
	limit, err := e.iterationLimit(cfg.MaxIterations)
	if err != nil {
		return nil, err
	}

	fo := &FlowOutcome{Kind: schema.StepKindWhile, Status: schema.RunCompleted}
	opts := bodyOptions(cfg)
	loop := rc.clone()
	log := logging.LogWith(ctx, e.logger)

	holds := func(i int) bool {
		loop[IterationKey] = i
		loop[LoopIndexKey] = i
		ok, err := e.conditions.Condition(cfg.Condition, expressions.Merge(vars, loop))
		if err != nil {
			fo.Diagnostic = err.Error()
			log.Warn("while condition failed closed", "condition", cfg.Condition, "error", err)
		}
		return ok
	}

	for fo.Iterations < limit {
		if ctx.Err() != nil {
			fo.Status = schema.RunCancelled
			return fo.finish(), nil
		}
		if !holds(fo.Iterations) {
			return fo.finish(), nil
		}

		out := e.Run(ctx, cfg.Then, loop, vars, opts)
		fo.Results = append(fo.Results, tagIteration(out.Results, fo.Iterations)...)
		fo.Iterations++
		if out.Status == schema.RunCancelled {
			fo.Status = schema.RunCancelled
			return fo.finish(), nil
		}
	}

	if holds(fo.Iterations) {
		fo.Status = schema.RunCapped
	}
	return fo.finish(), nil
}

// iterationLimit resolves a configured bound: non-positive means the
// engine default, anything above the ceiling is rejected.
func (e *Engine) iterationLimit(configured int) (int, error) {
	if configured <= 0 {
		return e.defaultMax, nil
	}
	if configured > e.ceiling {
		return 0, schema.NewErrorf(schema.ErrCodeLimitExceeded,
			"max_iterations %d exceeds the limit of %d", configured, e.ceiling).
			WithDetails(map[string]any{"max_iterations": configured, "limit": e.ceiling})
	}
	return configured, nil
}

func (e *Engine) resolveItems(cfg *schema.FlowConfig, rc RunContext, vars map[string]any) ([]any, error) {
	if cfg.ItemsFrom == "" {
		if cfg.Items == nil {
			return nil, schema.NewError(schema.ErrCodeInvalidInput, "for_each requires items or items_from")
		}
		return cfg.Items, nil
	}

	name := cfg.ItemsFrom
	if inner, ok := placeholderName(name); ok {
		name = inner
	}
	v, ok := expressions.Lookup(expressions.Merge(vars, rc), name)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "items_from %q is not defined", cfg.ItemsFrom)
	}
	items, ok := asList(v)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "items_from %q is %T, not a list", cfg.ItemsFrom, v)
	}
	return items, nil
}

func placeholderName(s string) (string, bool) {
	if len(s) > 3 && s[0] == '$' && s[1] == '{' && s[len(s)-1] == '}' {
		return s[2 : len(s)-1], true
	}
	return "", false
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	}
	return nil, false
}

func bodyOptions(cfg *schema.FlowConfig) RunOptions {
	return RunOptions{
		ContinueOnError: cfg.ContinueOnError,
		StopOnError:     !cfg.ContinueOnError,
		Parallel:        cfg.Parallel,
	}
}

func tagIteration(results []schema.StepResult, i int) []schema.StepResult {
	for k := range results {
		n := i
		results[k].Iteration = &n
	}
	return results
}
