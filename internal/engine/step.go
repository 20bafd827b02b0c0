package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/playbook/internal/capability"
	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/internal/logging"
	"github.com/rendis/playbook/pkg/schema"
)

// ReasonConditionNotMet is recorded on steps skipped by a false condition.
const ReasonConditionNotMet = "Condition not met"

// StepExecutor runs a single skill step: condition gate, interpolation,
// one capability invocation, and result wrapping. It holds no per-run state.
type StepExecutor struct {
	invoker    capability.Invoker
	conditions *expressions.ConditionEvaluator
	logger     *slog.Logger
	now        func() time.Time
}

// NewStepExecutor creates a StepExecutor. A nil conditions evaluator gets the
// default wall-clock one; a nil logger discards output.
func NewStepExecutor(invoker capability.Invoker, conditions *expressions.ConditionEvaluator, logger *slog.Logger) *StepExecutor {
	if conditions == nil {
		conditions = expressions.NewConditionEvaluator()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StepExecutor{
		invoker:    invoker,
		conditions: conditions,
		logger:     logger,
		now:        time.Now,
	}
}

// Execute runs step against the union of vars and rc (rc wins on collision).
// It never returns an error: every failure is reported in the StepResult.
func (x *StepExecutor) Execute(ctx context.Context, step *schema.StepDefinition, rc RunContext, vars map[string]any) schema.StepResult {
	ctx = logging.WithStep(ctx, step.Name)
	log := logging.LogWith(ctx, x.logger)

	skill := step.Skill
	if skill == "" {
		skill = capability.DefaultSkill
	}
	res := schema.StepResult{
		Step:      step.Name,
		Kind:      schema.StepKindSkill,
		Skill:     skill,
		Action:    step.Action,
		StartedAt: x.now(),
	}

	scope := expressions.Merge(vars, rc)

	if !x.gate(log, step.Condition, scope, &res) {
		return res
	}

	params := expressions.InterpolateParams(step.Parameters, scope)
	res.Parameters = params

	start := time.Now()
	out, err := x.invoke(ctx, skill, step.Action, params)
	res.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		res.Error = err.Error()
		log.Warn("capability invocation failed", "skill", skill, "action", step.Action, "error", err)
		return res
	}

	res.Success = out.Success
	res.Result = out.Result
	if !out.Success {
		res.Error = out.Error
		if res.Error == "" {
			res.Error = "capability reported failure"
		}
		log.Warn("step failed", "skill", skill, "action", step.Action, "error", res.Error)
		return res
	}

	log.Debug("step completed", "skill", skill, "action", step.Action, "duration_ms", res.DurationMs)
	return res
}

// gate evaluates condition against scope. When it does not hold, res is
// marked skipped and gate returns false. A malformed condition counts as
// false and its error is kept in res.Diagnostic.
func (x *StepExecutor) gate(log *slog.Logger, condition string, scope map[string]any, res *schema.StepResult) bool {
	if condition == "" {
		return true
	}
	ok, err := x.conditions.Condition(condition, scope)
	if err != nil {
		log.Warn("condition failed closed", "condition", condition, "error", err)
		res.Diagnostic = err.Error()
	}
	if ok {
		return true
	}
	res.Success = true
	res.Skipped = true
	res.Reason = ReasonConditionNotMet
	log.Debug("step skipped", "condition", condition)
	return false
}

// invoke calls the capability and converts a panic into an error.
func (x *StepExecutor) invoke(ctx context.Context, skill, action string, params map[string]any) (out capability.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability %s.%s panicked: %v", skill, action, r)
		}
	}()
	if x.invoker == nil {
		return capability.Result{}, schema.NewError(schema.ErrCodeCapability, "no capability invoker configured")
	}
	return x.invoker.Invoke(ctx, skill, action, params)
}
