package engine

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"testing"
	"time"

	"github.com/rendis/playbook/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_SequentialMergesResults(t *testing.T) {
	inv := &recordingInvoker{}
	e := newTestEngine(inv)

	steps := []schema.StepDefinition{
		skillStep("fetch", "echo", map[string]any{"count": 3}),
		skillStep("report", "echo", map[string]any{"text": "got ${fetch.count} items", "raw": "${fetch}"}),
	}
	rc := RunContext{}
	out := e.Run(context.Background(), steps, rc, nil, DefaultRunOptions())

	require.Len(t, out.Results, 2)
	assert.Equal(t, schema.RunCompleted, out.Status)
	assert.False(t, out.Incomplete)
	assert.Equal(t, "got 3 items", out.Results[1].Parameters["text"])
	assert.Equal(t, map[string]any{"count": 3}, out.Results[1].Parameters["raw"])
	assert.Contains(t, rc, "fetch")
	assert.Contains(t, rc, "report")
}

func TestRun_SkippedAndFailedStepsNotMerged(t *testing.T) {
	e := newTestEngine(&recordingInvoker{})

	steps := []schema.StepDefinition{
		{Name: "weekend", Action: "echo", Condition: "isWeekend"},
		skillStep("broken", "fail", nil),
		skillStep("after", "echo", map[string]any{"w": "${weekend}", "b": "${broken}"}),
	}
	rc := RunContext{}
	out := e.Run(context.Background(), steps, rc, nil, RunOptions{})

	require.Len(t, out.Results, 3)
	assert.NotContains(t, rc, "weekend")
	assert.NotContains(t, rc, "broken")
	assert.Equal(t, "${weekend}", out.Results[2].Parameters["w"])
	assert.Equal(t, "${broken}", out.Results[2].Parameters["b"])
}

func TestRun_StopOnErrorHalts(t *testing.T) {
	inv := &recordingInvoker{}
	e := newTestEngine(inv)

	steps := []schema.StepDefinition{
		skillStep("a", "echo", nil),
		skillStep("b", "fail", nil),
		skillStep("c", "echo", nil),
	}
	out := e.Run(context.Background(), steps, nil, nil, DefaultRunOptions())

	assert.Equal(t, []string{"a", "b"}, stepNames(out.Results))
	assert.Equal(t, schema.RunStoppedOnError, out.Status)
	assert.Equal(t, "b", out.StoppedAfter)
	assert.Equal(t, 2, out.StoppedIndex)
	assert.Equal(t, "stopped after step 2 (b)", out.Message())
	assert.Equal(t, 2, inv.count())
}

func TestRun_ContinueOnErrorOverridesStop(t *testing.T) {
	inv := &recordingInvoker{}
	e := newTestEngine(inv)

	steps := []schema.StepDefinition{
		skillStep("a", "fail", nil),
		skillStep("b", "echo", nil),
	}
	out := e.Run(context.Background(), steps, nil, nil, RunOptions{StopOnError: true, ContinueOnError: true})

	assert.Equal(t, []string{"a", "b"}, stepNames(out.Results))
	assert.Equal(t, schema.RunCompleted, out.Status)
	assert.Equal(t, 2, inv.count())
}

func TestRun_ParallelKeepsInputOrder(t *testing.T) {
	e := newTestEngine(&recordingInvoker{})

	steps := []schema.StepDefinition{
		skillStep("A", "sleep", map[string]any{"ms": 30}),
		skillStep("B", "fail", nil),
		skillStep("C", "sleep", map[string]any{"ms": 1}),
	}
	out := e.Run(context.Background(), steps, nil, nil, RunOptions{Parallel: true, StopOnError: true})

	require.Equal(t, []string{"A", "B", "C"}, stepNames(out.Results))
	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[1].Success)
	assert.Equal(t, "boom", out.Results[1].Error)
	assert.True(t, out.Results[2].Success)
	assert.Equal(t, schema.RunCompleted, out.Status)
}

func TestRun_ParallelContextIsolation(t *testing.T) {
	e := newTestEngine(&recordingInvoker{})

	steps := []schema.StepDefinition{
		skillStep("first", "echo", map[string]any{"v": 1}),
		skillStep("second", "sleep", map[string]any{"ms": 10, "sibling": "${first}"}),
	}
	rc := RunContext{}
	out := e.Run(context.Background(), steps, rc, nil, RunOptions{Parallel: true})

	require.Len(t, out.Results, 2)
	assert.Equal(t, "${first}", out.Results[1].Parameters["sibling"])
	// merged after the join
	assert.Contains(t, rc, "first")
	assert.Contains(t, rc, "second")
}

func TestRun_ParallelHintGroupsAdjacentSteps(t *testing.T) {
	e := newTestEngine(&recordingInvoker{})

	steps := []schema.StepDefinition{
		skillStep("setup", "echo", map[string]any{"dir": "/tmp"}),
		{Name: "p1", Action: "echo", Parallel: true, Parameters: map[string]any{"dir": "${setup.dir}"}},
		{Name: "p2", Action: "echo", Parallel: true, Parameters: map[string]any{"peer": "${p1}"}},
		skillStep("done", "echo", map[string]any{"peer": "${p2.peer}"}),
	}
	out := e.Run(context.Background(), steps, nil, nil, DefaultRunOptions())

	require.Equal(t, []string{"setup", "p1", "p2", "done"}, stepNames(out.Results))
	assert.Equal(t, "/tmp", out.Results[1].Parameters["dir"])
	assert.Equal(t, "${p1}", out.Results[2].Parameters["peer"])
	assert.Equal(t, "${p1}", out.Results[3].Parameters["peer"])
	assert.Equal(t, int64(1), e.Metrics().FanOuts)
}

func TestRun_ParallelHintGroupHaltsAfterJoin(t *testing.T) {
	inv := &recordingInvoker{}
	e := newTestEngine(inv)

	steps := []schema.StepDefinition{
		{Name: "p1", Action: "fail", Parallel: true},
		{Name: "p2", Action: "echo", Parallel: true},
		skillStep("after", "echo", nil),
	}
	out := e.Run(context.Background(), steps, nil, nil, DefaultRunOptions())

	assert.Equal(t, []string{"p1", "p2"}, stepNames(out.Results))
	assert.Equal(t, schema.RunStoppedOnError, out.Status)
	assert.Equal(t, "p1", out.StoppedAfter)
	assert.Equal(t, 1, inv.countOf("echo"))
}

func TestRun_OrderInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	actions := []string{"echo", "fail", "sleep"}

	for trial := 0; trial < 25; trial++ {
		n := 1 + rng.Intn(8)
		steps := make([]schema.StepDefinition, n)
		want := make([]string, n)
		for i := range steps {
			name := fmt.Sprintf("s%d", i)
			steps[i] = skillStep(name, actions[rng.Intn(len(actions))], map[string]any{"ms": rng.Intn(5)})
			steps[i].Parallel = rng.Intn(2) == 0
			want[i] = name
		}

		for _, parallel := range []bool{false, true} {
			e := newTestEngine(&recordingInvoker{})
			out := e.Run(context.Background(), steps, nil, nil, RunOptions{Parallel: parallel})
			assert.Equal(t, want, stepNames(out.Results), "trial %d parallel=%v", trial, parallel)
		}
	}
}

func TestRun_MorningRoutineOnWeekday(t *testing.T) {
	inv := &recordingInvoker{}
	e := newTestEngine(inv)

	steps := []schema.StepDefinition{
		skillStep("weather", "echo", map[string]any{"city": "${city}"}),
		{Name: "long_run", Action: "echo", Condition: "isWeekend"},
		skillStep("agenda", "echo", map[string]any{"city": "${city}"}),
	}
	out := e.Run(context.Background(), steps, nil, map[string]any{"city": "Lisbon", "isWeekend": false}, DefaultRunOptions())

	require.Len(t, out.Results, 3)
	assert.True(t, out.Results[0].Success)
	assert.True(t, out.Results[1].Skipped)
	assert.True(t, out.Results[2].Success)
	for _, r := range out.Results {
		assert.False(t, r.Failed())
	}
	assert.Equal(t, 2, inv.count())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	inv := &recordingInvoker{}
	e := newTestEngine(inv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := e.Run(ctx, []schema.StepDefinition{skillStep("a", "echo", nil)}, nil, nil, DefaultRunOptions())
	assert.Empty(t, out.Results)
	assert.Equal(t, schema.RunCancelled, out.Status)
	assert.True(t, out.Incomplete)
	assert.Equal(t, 0, inv.count())

	out = e.Run(ctx, []schema.StepDefinition{skillStep("a", "echo", nil)}, nil, nil, RunOptions{Parallel: true})
	assert.Empty(t, out.Results)
	assert.True(t, out.Incomplete)
}

func TestRun_CancelledMidRunStopsDispatch(t *testing.T) {
	inv := &recordingInvoker{}
	e := newTestEngine(inv)

	ctx, cancel := context.WithCancel(context.Background())
	steps := []schema.StepDefinition{
		skillStep("a", "echo", nil),
		skillStep("b", "sleep", map[string]any{"ms": 5000}),
		skillStep("c", "echo", nil),
	}
	go func() {
		for inv.countOf("sleep") == 0 {
			runtime.Gosched()
		}
		cancel()
	}()

	out := e.Run(ctx, steps, nil, nil, RunOptions{})
	assert.Equal(t, []string{"a", "b"}, stepNames(out.Results))
	assert.Equal(t, schema.RunCancelled, out.Status)
	assert.True(t, out.Incomplete)
	assert.Equal(t, 1, inv.countOf("echo"))
}

func TestRun_CancelledStepIsNotAPolicyHalt(t *testing.T) {
	inv := &recordingInvoker{}
	e := newTestEngine(inv)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for inv.countOf("sleep") == 0 {
			runtime.Gosched()
		}
		cancel()
	}()

	out := e.Run(ctx, []schema.StepDefinition{
		skillStep("wait", "sleep", map[string]any{"ms": 5000}),
		skillStep("after", "echo", nil),
	}, nil, nil, DefaultRunOptions())
	assert.Equal(t, []string{"wait"}, stepNames(out.Results))
	assert.Equal(t, schema.RunCancelled, out.Status)
	assert.True(t, out.Incomplete)
	assert.Empty(t, out.StoppedAfter)
}

func TestRun_ParallelDeadlineMidFlightIsCancelled(t *testing.T) {
	inv := &recordingInvoker{}
	e := newTestEngine(inv)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := e.Run(ctx, []schema.StepDefinition{
		skillStep("slow1", "sleep", map[string]any{"ms": 5000}),
		skillStep("slow2", "sleep", map[string]any{"ms": 5000}),
	}, nil, nil, RunOptions{Parallel: true})

	assert.Equal(t, []string{"slow1", "slow2"}, stepNames(out.Results))
	for _, r := range out.Results {
		assert.True(t, r.Failed())
	}
	assert.Equal(t, schema.RunCancelled, out.Status)
	assert.True(t, out.Incomplete)
	assert.Equal(t, 2, inv.countOf("sleep"))
}

func TestRun_UnknownKindFails(t *testing.T) {
	e := newTestEngine(&recordingInvoker{})

	out := e.Run(context.Background(), []schema.StepDefinition{{Name: "x", Kind: "goto"}}, nil, nil, RunOptions{})
	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Success)
	assert.Contains(t, out.Results[0].Error, "unknown step kind")
}

func TestRun_FlowStepSummaryMerged(t *testing.T) {
	e := newTestEngine(&recordingInvoker{})

	steps := []schema.StepDefinition{
		{
			Name: "check",
			Kind: schema.StepKindBranch,
			Flow: &schema.FlowConfig{
				Condition: "isWorkday",
				Then:      []schema.StepDefinition{skillStep("standup", "echo", map[string]any{"at": "10:00"})},
			},
		},
		skillStep("after", "echo", map[string]any{"status": "${check.status}", "at": "${check.results.standup.at}"}),
	}
	out := e.Run(context.Background(), steps, nil, nil, DefaultRunOptions())

	require.Len(t, out.Results, 2)
	flow := out.Results[0]
	assert.True(t, flow.Success)
	assert.Equal(t, schema.StepKindBranch, flow.Kind)
	assert.Equal(t, schema.RunCompleted, flow.Status)
	require.Len(t, flow.Children, 1)
	assert.Equal(t, "standup", flow.Children[0].Step)
	assert.Equal(t, "completed", out.Results[1].Parameters["status"])
	assert.Equal(t, "10:00", out.Results[1].Parameters["at"])
}

func TestRun_FlowStepConditionSkips(t *testing.T) {
	inv := &recordingInvoker{}
	e := newTestEngine(inv)

	steps := []schema.StepDefinition{{
		Name:      "weekend_loop",
		Kind:      schema.StepKindForEach,
		Condition: "isWeekend",
		Flow:      &schema.FlowConfig{Items: []any{1, 2}, Then: []schema.StepDefinition{skillStep("x", "echo", nil)}},
	}}
	out := e.Run(context.Background(), steps, nil, nil, DefaultRunOptions())

	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].Skipped)
	assert.Equal(t, 0, inv.count())
}

func TestRun_FlowStepMisuseFails(t *testing.T) {
	e := newTestEngine(&recordingInvoker{})

	steps := []schema.StepDefinition{{Name: "loop", Kind: schema.StepKindWhile}}
	out := e.Run(context.Background(), steps, nil, nil, DefaultRunOptions())

	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Success)
	assert.Contains(t, out.Results[0].Error, "flow block")
	assert.Equal(t, schema.RunStoppedOnError, out.Status)
}

func TestRun_CappedFlowStepFails(t *testing.T) {
	e := newTestEngine(&recordingInvoker{})

	steps := []schema.StepDefinition{{
		Name: "poll",
		Kind: schema.StepKindWhile,
		Flow: &schema.FlowConfig{Condition: "true", MaxIterations: 3, Then: []schema.StepDefinition{skillStep("tick", "echo", nil)}},
	}}
	out := e.Run(context.Background(), steps, nil, nil, RunOptions{})

	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Success)
	assert.Equal(t, schema.RunCapped, out.Results[0].Status)
	assert.Contains(t, out.Results[0].Error, "capped after 3 iterations")
	assert.Len(t, out.Results[0].Children, 3)
}

func TestNew_Defaults(t *testing.T) {
	e := New(Config{})
	assert.Equal(t, DefaultPoolSize, e.poolSize)
	assert.Equal(t, DefaultMaxIterations, e.defaultMax)
	assert.Equal(t, MaxIterationsCeiling, e.ceiling)
	assert.NotNil(t, e.Steps())
	assert.NotNil(t, e.Conditions())

	e = New(Config{DefaultMaxIterations: 500, MaxIterationsCeiling: 50})
	assert.Equal(t, 50, e.defaultMax)
}
