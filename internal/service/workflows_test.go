package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/internal/analysis"
	"github.com/rendis/playbook/internal/engine"
	"github.com/rendis/playbook/pkg/schema"
)

func TestOptimize(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.svc.Define(ctx, &schema.Workflow{
		Name: "fetch_all",
		Steps: []schema.StepDefinition{
			echo("news", map[string]any{"topic": "tech"}),
			echo("stocks", map[string]any{"ticker": "ACME"}),
			echo("digest", map[string]any{"text": "${news.topic}"}),
		},
	})
	require.NoError(t, err)

	res, err := h.svc.Optimize(ctx, "fetch_all", false)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 1, res.Workflow.Version)
	require.NotEmpty(t, res.Optimizations)
	assert.Equal(t, analysis.OptParallelization, res.Optimizations[0].Type)
	assert.Equal(t, []string{"news", "stocks"}, res.Optimizations[0].Steps)

	res, err = h.svc.Optimize(ctx, "fetch_all", true)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 2, res.Workflow.Version)
	assert.True(t, res.Workflow.Steps[0].Parallel)
	assert.True(t, res.Workflow.Steps[1].Parallel)
	assert.False(t, res.Workflow.Steps[2].Parallel)

	_, err = h.svc.Optimize(ctx, "nope", false)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestTemplates(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	all := h.svc.ListTemplates("")
	assert.Len(t, all, 4)
	assert.NotEmpty(t, h.svc.ListTemplates("productivity"))
	assert.Empty(t, h.svc.ListTemplates("gaming"))

	tpl, err := h.svc.GetTemplate("morning_routine")
	require.NoError(t, err)
	assert.Equal(t, "there", tpl.Variables["user"])

	def, err := h.svc.InstallTemplate(ctx, "morning_routine", "my_morning", map[string]any{"user": "Ana"})
	require.NoError(t, err)
	assert.True(t, def.Created)
	assert.Equal(t, "my_morning", def.Workflow.Name)
	assert.Equal(t, "Ana", def.Workflow.Variables["user"])
	assert.Contains(t, def.Workflow.Tags, "template:morning_routine")

	// The catalog copy is untouched.
	tpl, err = h.svc.GetTemplate("morning_routine")
	require.NoError(t, err)
	assert.Equal(t, "there", tpl.Variables["user"])

	_, err = h.svc.InstallTemplate(ctx, "missing", "", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestSchedule(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.svc.Define(ctx, morningRoutine())
	require.NoError(t, err)

	job, err := h.svc.Schedule(ctx, ScheduleRequest{
		WorkflowName:   "morning_routine",
		CronExpression: "0 9 * * 1-5",
		MaxRuns:        10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.True(t, job.Enabled)
	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC), job.NextRunAt.UTC())

	jobs, err := h.svc.ListSchedules(ctx, "morning_routine")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = h.svc.Schedule(ctx, ScheduleRequest{WorkflowName: "morning_routine", CronExpression: "every day"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidInput))
	_, err = h.svc.Schedule(ctx, ScheduleRequest{WorkflowName: "ghost", CronExpression: "@daily"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
	_, err = h.svc.Schedule(ctx, ScheduleRequest{WorkflowName: "morning_routine", CronExpression: "@daily", MaxRuns: -1})
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidInput))

	require.NoError(t, h.svc.Unschedule(ctx, job.ID))
	jobs, err = h.svc.ListSchedules(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestConditional(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	out, err := h.svc.Conditional(ctx, ConditionalRequest{
		Type: ConditionalIfThenElse,
		FlowConfig: schema.FlowConfig{
			Condition: "isWorkday",
			Then:      []schema.StepDefinition{echo("work", nil)},
			Else:      []schema.StepDefinition{echo("rest", nil)},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, out.ConditionMet)
	assert.True(t, *out.ConditionMet)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "work", out.Results[0].Step)

	out, err = h.svc.Conditional(ctx, ConditionalRequest{
		Type: ConditionalForEach,
		FlowConfig: schema.FlowConfig{
			ItemsFrom: "cities",
			Then:      []schema.StepDefinition{echo("visit", map[string]any{"city": "${loopItem}"})},
		},
		Variables: map[string]any{"cities": []any{"Lisbon", "Porto"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Iterations)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "Porto", out.Results[1].Parameters["city"])

	_, err = h.svc.Conditional(ctx, ConditionalRequest{Type: "switch"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidInput))
}

func TestChain(t *testing.T) {
	h := newHarness(t, true)

	res, err := h.svc.Chain(context.Background(), []engine.ChainCommand{
		{Action: "set", Parameters: map[string]any{"value": map[string]any{"id": "42"}}, PassContext: true,
			ContextMapping: map[string]string{"ticket": "id"}},
		{Action: "echo", Parameters: map[string]any{"ref": "${ticket}"}},
	}, engine.DefaultChainOptions())
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "42", res.Results[0].Parameters["ref"])

	n, err := h.store.CountExecutions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "chains are not recorded")
}
