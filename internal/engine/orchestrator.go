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

// Loop bounds applied when Config leaves them unset.
const (
	DefaultMaxIterations = 100
	MaxIterationsCeiling = 10000
	DefaultPoolSize      = 10
)

// Config configures an Engine.
type Config struct {
	Invoker              capability.Invoker
	Conditions           *expressions.ConditionEvaluator
	PoolSize             int
	DefaultMaxIterations int
	MaxIterationsCeiling int
	Logger               *slog.Logger
}

// Engine runs step lists sequentially or in parallel and interprets the
// branch, for_each and while constructs. An Engine is safe for concurrent
// runs: all per-run state lives in the RunContext passed to Run.
type Engine struct {
	steps      *StepExecutor
	conditions *expressions.ConditionEvaluator
	logger     *slog.Logger
	poolSize   int
	defaultMax int
	ceiling    int
	metrics    PoolMetrics
}

// New creates an Engine from cfg.
func New(cfg Config) *Engine {
	if cfg.Conditions == nil {
		cfg.Conditions = expressions.NewConditionEvaluator()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.MaxIterationsCeiling <= 0 {
		cfg.MaxIterationsCeiling = MaxIterationsCeiling
	}
	if cfg.DefaultMaxIterations <= 0 {
		cfg.DefaultMaxIterations = DefaultMaxIterations
	}
	if cfg.DefaultMaxIterations > cfg.MaxIterationsCeiling {
		cfg.DefaultMaxIterations = cfg.MaxIterationsCeiling
	}
	return &Engine{
		steps:      NewStepExecutor(cfg.Invoker, cfg.Conditions, cfg.Logger),
		conditions: cfg.Conditions,
		logger:     cfg.Logger,
		poolSize:   cfg.PoolSize,
		defaultMax: cfg.DefaultMaxIterations,
		ceiling:    cfg.MaxIterationsCeiling,
	}
}

// Steps returns the engine's step executor.
func (e *Engine) Steps() *StepExecutor { return e.steps }

// Conditions returns the engine's condition evaluator.
func (e *Engine) Conditions() *expressions.ConditionEvaluator { return e.conditions }

// Metrics returns cumulative fan-out counters.
func (e *Engine) Metrics() PoolMetrics { return e.metrics.snapshot() }

// RunOptions selects the execution mode and error policy of a Run.
// The zero value runs sequentially and never halts; use DefaultRunOptions
// for stop-on-first-failure.
type RunOptions struct {
	ContinueOnError bool `json:"continue_on_error"`
	StopOnError     bool `json:"stop_on_error"`
	Parallel        bool `json:"parallel"`
}

// DefaultRunOptions returns sequential, stop-on-error options.
func DefaultRunOptions() RunOptions {
	return RunOptions{StopOnError: true}
}

func (o RunOptions) halts() bool {
	return o.StopOnError && !o.ContinueOnError
}

// RunContext maps completed step names to their result payloads, plus any
// loop bindings. It is owned by a single run.
type RunContext map[string]any

func (rc RunContext) clone() RunContext {
	return RunContext(expressions.DeepCopyMap(rc))
}

// Outcome is the result of one Run.
type Outcome struct {
	Results      []schema.StepResult `json:"results"`
	Status       schema.RunStatus    `json:"status"`
	StoppedAfter string              `json:"stopped_after,omitempty"`
	StoppedIndex int                 `json:"stopped_index,omitempty"` // 1-based
	Incomplete   bool                `json:"incomplete,omitempty"`
}

// Message describes how the run ended.
func (o *Outcome) Message() string {
	switch o.Status {
	case schema.RunStoppedOnError:
		return fmt.Sprintf("stopped after step %d (%s)", o.StoppedIndex, o.StoppedAfter)
	case schema.RunCancelled:
		return fmt.Sprintf("cancelled after %d step(s)", len(o.Results))
	case schema.RunCapped:
		return "iteration cap reached"
	}
	return fmt.Sprintf("completed %d step(s)", len(o.Results))
}

// Run executes steps against rc and vars. Successful, non-skipped results
// are merged into rc under their step name. The returned results are in
// input order regardless of mode. Per-step failures never surface as errors.
func (e *Engine) Run(ctx context.Context, steps []schema.StepDefinition, rc RunContext, vars map[string]any, opts RunOptions) *Outcome {
	if rc == nil {
		rc = RunContext{}
	}
	out := &Outcome{
		Results: make([]schema.StepResult, 0, len(steps)),
		Status:  schema.RunCompleted,
	}
	if opts.Parallel {
		e.runParallel(ctx, steps, rc, vars, out)
		return out
	}
	e.runSequential(ctx, steps, rc, vars, opts, out)
	return out
}

func (e *Engine) runSequential(ctx context.Context, steps []schema.StepDefinition, rc RunContext, vars map[string]any, opts RunOptions, out *Outcome) {
	for i := 0; i < len(steps); {
		if ctx.Err() != nil {
			out.Status = schema.RunCancelled
			out.Incomplete = true
			return
		}

		// Adjacent steps hinted parallel form one fan-out group.
		j := i + 1
		if steps[i].Parallel {
			for j < len(steps) && steps[j].Parallel {
				j++
			}
		}

		var batch []schema.StepResult
		if j-i > 1 {
			batch = e.fanOut(ctx, steps[i:j], rc, vars)
		} else {
			batch = []schema.StepResult{e.runStep(ctx, &steps[i], rc, vars)}
		}

		out.Results = append(out.Results, batch...)
		for k := range batch {
			mergeResult(rc, &batch[k])
		}

		if len(batch) < j-i || (ctx.Err() != nil && anyFailed(batch)) {
			out.Status = schema.RunCancelled
			out.Incomplete = true
			return
		}
		if opts.halts() {
			for k := range batch {
				if batch[k].Failed() {
					out.Status = schema.RunStoppedOnError
					out.StoppedAfter = batch[k].Step
					out.StoppedIndex = i + k + 1
					return
				}
			}
		}
		i = j
	}
}

func (e *Engine) runParallel(ctx context.Context, steps []schema.StepDefinition, rc RunContext, vars map[string]any, out *Outcome) {
	out.Results = e.fanOut(ctx, steps, rc, vars)
	for k := range out.Results {
		mergeResult(rc, &out.Results[k])
	}
	if len(out.Results) < len(steps) || (ctx.Err() != nil && anyFailed(out.Results)) {
		out.Status = schema.RunCancelled
		out.Incomplete = true
	}
}

// fanOut runs steps concurrently against one snapshot of rc and vars and
// joins on all of them. Results keep input order; steps never dispatched
// because ctx ended are omitted.
func (e *Engine) fanOut(ctx context.Context, steps []schema.StepDefinition, rc RunContext, vars map[string]any) []schema.StepResult {
	snapshot := rc.clone()
	frozen := expressions.DeepCopyMap(vars)

	results := make([]schema.StepResult, len(steps))
	dispatched := make([]bool, len(steps))
	pool := newWorkerPool(e.poolSize, &e.metrics)

	for i := range steps {
		err := pool.Go(ctx, func() {
			results[i] = e.runStep(ctx, &steps[i], snapshot, frozen)
		})
		if err != nil {
			break
		}
		dispatched[i] = true
	}
	pool.Wait()

	compact := results[:0]
	for i := range results {
		if !dispatched[i] {
			continue
		}
		if results[i].Step == "" {
			results[i] = schema.StepResult{
				Step:  steps[i].Name,
				Kind:  steps[i].ResolvedKind(),
				Error: "step panicked",
			}
		}
		compact = append(compact, results[i])
	}
	return compact
}

// runStep dispatches on the step kind.
func (e *Engine) runStep(ctx context.Context, step *schema.StepDefinition, rc RunContext, vars map[string]any) schema.StepResult {
	switch kind := step.ResolvedKind(); kind {
	case schema.StepKindSkill:
		return e.steps.Execute(ctx, step, rc, vars)
	case schema.StepKindBranch, schema.StepKindForEach, schema.StepKindWhile:
		return e.runFlowStep(ctx, step, kind, rc, vars)
	default:
		return schema.StepResult{
			Step:      step.Name,
			Kind:      kind,
			StartedAt: time.Now(),
			Error:     fmt.Sprintf("unknown step kind %q", kind),
		}
	}
}

func (e *Engine) runFlowStep(ctx context.Context, step *schema.StepDefinition, kind schema.StepKind, rc RunContext, vars map[string]any) schema.StepResult {
	ctx = logging.WithStep(ctx, step.Name)
	log := logging.LogWith(ctx, e.logger)

	res := schema.StepResult{
		Step:      step.Name,
		Kind:      kind,
		StartedAt: time.Now(),
	}
	if !e.steps.gate(log, step.Condition, expressions.Merge(vars, rc), &res) {
		return res
	}

	start := time.Now()
	fo, err := e.Flow(ctx, kind, step.Flow, rc, vars)
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		log.Warn("control flow rejected", "kind", kind, "error", err)
		return res
	}

	res.Status = fo.Status
	res.Children = fo.Results
	res.Result = fo.summary()
	if fo.Diagnostic != "" {
		res.Diagnostic = fo.Diagnostic
	}

	switch {
	case fo.Status == schema.RunCapped:
		res.Error = fmt.Sprintf("%s capped after %d iterations", kind, fo.Iterations)
	case fo.Status == schema.RunCancelled:
		res.Error = fmt.Sprintf("%s cancelled after %d iterations", kind, fo.Iterations)
	case fo.failedSteps() > 0:
		res.Error = fmt.Sprintf("%d nested step(s) failed", fo.failedSteps())
	default:
		res.Success = true
	}
	return res
}

func anyFailed(results []schema.StepResult) bool {
	for i := range results {
		if results[i].Failed() {
			return true
		}
	}
	return false
}

// mergeResult records a successful step's payload in rc.
func mergeResult(rc RunContext, r *schema.StepResult) {
	if r.Success && !r.Skipped {
		rc[r.Step] = expressions.DeepCopy(r.Result)
	}
}
