package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/playbook/internal/analysis"
	"github.com/rendis/playbook/internal/engine"
	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/internal/logging"
	"github.com/rendis/playbook/pkg/schema"
)

// RunRequest names a stored workflow or carries an inline step list.
// ContinueOnError maps to stop-on-error = !ContinueOnError.
type RunRequest struct {
	WorkflowName    string                  `json:"workflow_name,omitempty"`
	Steps           []schema.StepDefinition `json:"steps,omitempty"`
	Variables       map[string]any          `json:"variables,omitempty"`
	DryRun          bool                    `json:"dry_run,omitempty"`
	ContinueOnError bool                    `json:"continue_on_error,omitempty"`
	Parallel        bool                    `json:"parallel,omitempty"`
	Timeout         time.Duration           `json:"timeout,omitempty"` // 0 uses the configured run timeout
}

// StepPreview is one step of a dry run with its parameters interpolated
// against the run variables.
type StepPreview struct {
	Name       string          `json:"name"`
	Kind       schema.StepKind `json:"kind"`
	Skill      string          `json:"skill,omitempty"`
	Action     string          `json:"action,omitempty"`
	Parameters map[string]any  `json:"parameters,omitempty"`
	Condition  string          `json:"condition,omitempty"`
	Parallel   bool            `json:"parallel,omitempty"`
}

// RunResponse is a dry-run preview or the record of an executed run.
type RunResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	DryRun  bool                    `json:"dry_run,omitempty"`
	Preview []StepPreview           `json:"preview,omitempty"`
	Record  *schema.ExecutionRecord `json:"record,omitempty"`
}

// Run executes a workflow or inline steps and records the run. Per-step
// failures are data in the record; only misuse and store failures are
// returned as errors. Dry runs execute and record nothing.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResponse, error) {
	name, version, steps, vars, err := s.resolveRun(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.DryRun {
		return &RunResponse{
			Success: true,
			Message: "Dry run: nothing executed",
			DryRun:  true,
			Preview: preview(steps, vars),
		}, nil
	}

	rec := s.execute(ctx, name, version, steps, vars, engine.RunOptions{
		StopOnError:     !req.ContinueOnError,
		ContinueOnError: req.ContinueOnError,
		Parallel:        req.Parallel,
	}, req.Timeout)

	// The record is appended even when the caller's context is done.
	if err := s.store.AppendExecution(context.WithoutCancel(ctx), rec); err != nil {
		return nil, storeErr("append execution", err)
	}

	msg := "Workflow executed successfully"
	if !rec.Success {
		msg = "Workflow completed with errors"
		if rec.StoppedAfter != "" || rec.Incomplete {
			msg += ": " + runMessage(rec)
		}
	}
	return &RunResponse{Success: rec.Success, Message: msg, Record: rec}, nil
}

// RunScheduled runs a stored workflow with stop-on-error. It satisfies the
// scheduler's Runner.
func (s *Service) RunScheduled(ctx context.Context, workflowName string, variables map[string]any) (bool, error) {
	resp, err := s.Run(ctx, RunRequest{WorkflowName: workflowName, Variables: variables})
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (s *Service) resolveRun(ctx context.Context, req RunRequest) (string, int, []schema.StepDefinition, map[string]any, error) {
	switch {
	case req.WorkflowName != "":
		wf, err := s.GetWorkflow(ctx, req.WorkflowName)
		if err != nil {
			return "", 0, nil, nil, err
		}
		return wf.Name, wf.Version, wf.Steps, expressions.Merge(wf.Variables, req.Variables), nil
	case len(req.Steps) > 0:
		return schema.AdHocWorkflow, 0, req.Steps, expressions.Merge(req.Variables), nil
	}
	return "", 0, nil, nil, schema.NewError(schema.ErrCodeInvalidInput, "either workflow_name or steps must be provided")
}

func (s *Service) execute(ctx context.Context, name string, version int, steps []schema.StepDefinition, vars map[string]any, opts engine.RunOptions, timeout time.Duration) *schema.ExecutionRecord {
	if timeout <= 0 {
		timeout = s.runTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := uuid.NewString()
	ctx = logging.WithWorkflow(logging.WithRunID(ctx, id), name)
	log := logging.LogWith(ctx, s.logger)

	start := s.now()
	began := time.Now()
	out := s.engine.Run(ctx, steps, engine.RunContext{}, vars, opts)
	elapsed := time.Since(began)

	rec := &schema.ExecutionRecord{
		ID:              id,
		WorkflowName:    name,
		WorkflowVersion: version,
		Timestamp:       start,
		DurationMs:      elapsed.Milliseconds(),
		Status:          out.Status,
		StoppedAfter:    out.StoppedAfter,
		Incomplete:      out.Incomplete,
		Results:         out.Results,
		Analysis:        analysis.Analyze(out.Results),
		Variables:       vars,
	}
	rec.Success = rec.Analysis.FailedSteps == 0 && !rec.Incomplete

	msg := "run completed"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = "run timed out"
	}
	log.Info(msg, "status", rec.Status, "success", rec.Success, "duration_ms", rec.DurationMs,
		"steps", len(rec.Results), "failed", rec.Analysis.FailedSteps)
	return rec
}

func runMessage(rec *schema.ExecutionRecord) string {
	o := engine.Outcome{Results: rec.Results, Status: rec.Status, StoppedAfter: rec.StoppedAfter}
	for i := range rec.Results {
		if rec.Results[i].Step == rec.StoppedAfter {
			o.StoppedIndex = i + 1
		}
	}
	return o.Message()
}

func preview(steps []schema.StepDefinition, vars map[string]any) []StepPreview {
	out := make([]StepPreview, 0, len(steps))
	for i := range steps {
		st := &steps[i]
		out = append(out, StepPreview{
			Name:       st.Name,
			Kind:       st.ResolvedKind(),
			Skill:      st.Skill,
			Action:     st.Action,
			Parameters: expressions.InterpolateParams(st.Parameters, vars),
			Condition:  st.Condition,
			Parallel:   st.Parallel,
		})
	}
	return out
}

// Chain runs an ad-hoc command chain. Chains are not recorded in history.
// Unless opts.ReturnAllResults is set, only the last command's result is
// returned.
func (s *Service) Chain(ctx context.Context, commands []engine.ChainCommand, opts engine.ChainOptions) (*engine.ChainResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()
	return s.chains.Run(logging.WithRunID(ctx, uuid.NewString()), commands, opts)
}

// Conditional types accepted by ConditionalRequest.Type.
const (
	ConditionalIfThenElse = "if_then_else"
	ConditionalForEach    = "for_each"
	ConditionalWhile      = "while"
)

// ConditionalRequest runs one control-flow construct outside a workflow.
type ConditionalRequest struct {
	Type      string `json:"type"`
	schema.FlowConfig
	Variables map[string]any `json:"variables,omitempty"`
}

// Conditional runs a branch, for_each or while construct directly. The
// variables double as the run context, so items_from can name a variable.
func (s *Service) Conditional(ctx context.Context, req ConditionalRequest) (*engine.FlowOutcome, error) {
	var kind schema.StepKind
	switch req.Type {
	case ConditionalIfThenElse, string(schema.StepKindBranch):
		kind = schema.StepKindBranch
	case ConditionalForEach:
		kind = schema.StepKindForEach
	case ConditionalWhile:
		kind = schema.StepKindWhile
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "unknown condition type %q", req.Type)
	}

	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()
	ctx = logging.WithRunID(ctx, uuid.NewString())

	cfg := req.FlowConfig
	return s.engine.Flow(ctx, kind, &cfg, engine.RunContext(expressions.Merge(req.Variables)), req.Variables)
}
