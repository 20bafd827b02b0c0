package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/internal/logging"
	"github.com/rendis/playbook/pkg/schema"
)

// DefaultMaxChainCommands bounds the length of a command chain.
const DefaultMaxChainCommands = 50

// ChainCommand is one ad-hoc command in a chain.
type ChainCommand struct {
	Description string         `json:"description,omitempty"`
	Skill       string         `json:"skill,omitempty"`
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Condition   string         `json:"condition,omitempty"`

	// PassContext publishes a successful command's result to later commands.
	// Without ContextMapping the whole result lands under command_<N>_result.
	// With it, each target key receives result[source]; a source starting
	// with "." is a jq program run against the result. A source that yields
	// nothing falls back to the whole result.
	PassContext    bool              `json:"pass_context,omitempty"`
	ContextMapping map[string]string `json:"context_mapping,omitempty"`
}

// ChainOptions controls a chain run.
//
// ReturnAllResults defaults to false: ChainResult.Results then holds ONLY
// the last executed command's result. Set it to get every command's result.
type ChainOptions struct {
	Context          map[string]any `json:"context,omitempty"`
	StopOnError      bool           `json:"stop_on_error"`
	ReturnAllResults bool           `json:"return_all_results"`
}

// DefaultChainOptions stops on the first failure and returns only the
// last command's result.
func DefaultChainOptions() ChainOptions {
	return ChainOptions{StopOnError: true}
}

// CommandResult is the outcome of one chain command.
type CommandResult struct {
	Command     int    `json:"command"` // 1-based
	Description string `json:"description,omitempty"`
	schema.StepResult
}

// ChainResult is the outcome of a chain run.
type ChainResult struct {
	Success            bool             `json:"success"`
	Message            string           `json:"message"`
	TotalCommands      int              `json:"total_commands"`
	SuccessfulCommands int              `json:"successful_commands"`
	TotalDurationMs    int64            `json:"total_duration_ms"`
	Results            []CommandResult  `json:"results"`
	FinalContext       map[string]any   `json:"final_context"`
	Status             schema.RunStatus `json:"status"`
	StoppedAfter       string           `json:"stopped_after,omitempty"`
}

// ChainRunner executes ad-hoc command lists with explicit context passing.
// Chains are not recorded in execution history.
type ChainRunner struct {
	steps       *StepExecutor
	jq          *expressions.GoJQEngine
	maxCommands int
	logger      *slog.Logger
}

// NewChainRunner creates a ChainRunner over steps.
func NewChainRunner(steps *StepExecutor, maxCommands int, logger *slog.Logger) *ChainRunner {
	if maxCommands <= 0 {
		maxCommands = DefaultMaxChainCommands
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ChainRunner{
		steps:       steps,
		jq:          expressions.NewGoJQEngine(),
		maxCommands: maxCommands,
		logger:      logger,
	}
}

// Run executes commands in order against a mutable context seeded from
// opts.Context. Conditions and parameter placeholders resolve against that
// context. Only structural misuse is returned as an error.
func (c *ChainRunner) Run(ctx context.Context, commands []ChainCommand, opts ChainOptions) (*ChainResult, error) {
	if len(commands) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "no commands provided")
	}
	if len(commands) > c.maxCommands {
		return nil, schema.NewErrorf(schema.ErrCodeLimitExceeded, "too many commands (max: %d)", c.maxCommands).
			WithDetails(map[string]any{"count": len(commands), "limit": c.maxCommands})
	}
	for i := range commands {
		if commands[i].Action == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "command %d has no action", i+1)
		}
	}

	log := logging.LogWith(ctx, c.logger)
	current := expressions.DeepCopyMap(opts.Context)
	if current == nil {
		current = make(map[string]any)
	}

	out := &ChainResult{
		TotalCommands: len(commands),
		Status:        schema.RunCompleted,
	}
	var results []CommandResult

	for i := range commands {
		if ctx.Err() != nil {
			out.Status = schema.RunCancelled
			break
		}

		cmd := &commands[i]
		step := schema.StepDefinition{
			Name:       fmt.Sprintf("command_%d", i+1),
			Skill:      cmd.Skill,
			Action:     cmd.Action,
			Parameters: cmd.Parameters,
			Condition:  cmd.Condition,
		}
		res := c.steps.Execute(ctx, &step, nil, current)
		results = append(results, CommandResult{Command: i + 1, Description: cmd.Description, StepResult: res})

		if cmd.PassContext && res.Success && !res.Skipped {
			c.passContext(ctx, log, current, cmd, i, res.Result)
		}

		if !res.Success && opts.StopOnError {
			out.Status = schema.RunStoppedOnError
			out.StoppedAfter = step.Name
			break
		}
	}

	for i := range results {
		out.TotalDurationMs += results[i].DurationMs
		if results[i].Success {
			out.SuccessfulCommands++
		}
	}
	out.Success = out.SuccessfulCommands == len(results) && out.Status != schema.RunCancelled
	out.Message = fmt.Sprintf("Executed %d/%d commands successfully", out.SuccessfulCommands, len(results))
	out.FinalContext = current

	switch {
	case opts.ReturnAllResults:
		out.Results = results
	case len(results) > 0:
		out.Results = results[len(results)-1:]
	default:
		out.Results = []CommandResult{}
	}
	return out, nil
}

func (c *ChainRunner) passContext(ctx context.Context, log *slog.Logger, current map[string]any, cmd *ChainCommand, i int, result any) {
	if len(cmd.ContextMapping) == 0 {
		current[fmt.Sprintf("command_%d_result", i+1)] = expressions.DeepCopy(result)
		return
	}
	for target, source := range cmd.ContextMapping {
		v, ok := c.extract(ctx, result, source)
		if !ok {
			log.Debug("context mapping fell back to whole result", "target", target, "source", source)
			v = result
		}
		current[target] = expressions.DeepCopy(v)
	}
}

// extract resolves source against result. A leading "." selects jq.
func (c *ChainRunner) extract(ctx context.Context, result any, source string) (any, bool) {
	if strings.HasPrefix(source, ".") {
		v, err := c.jq.Query(ctx, source, result)
		if err != nil || v == nil {
			return nil, false
		}
		return v, true
	}
	m, ok := result.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[source]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
