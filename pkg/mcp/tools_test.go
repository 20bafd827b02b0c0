package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/internal/capability"
	"github.com/rendis/playbook/internal/engine"
	"github.com/rendis/playbook/internal/service"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	reg := capability.NewRegistry()
	require.NoError(t, capability.RegisterBuiltins(reg, logger))
	eng := engine.New(engine.Config{Invoker: reg, Logger: logger})

	svc, err := service.New(service.Config{
		Store:  store.NewMemoryStore(0),
		Engine: eng,
		Logger: logger,
	})
	require.NoError(t, err)
	return NewServer(ServerDeps{Service: svc, Logger: logger})
}

// --- Helper ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

var greetSteps = []any{
	map[string]any{"name": "hello", "action": "echo", "parameters": map[string]any{"who": "${user}"}},
	map[string]any{"name": "bye", "action": "echo", "parameters": map[string]any{"text": "bye ${hello.who}"}},
}

func defineGreet(t *testing.T, s *Server) {
	t.Helper()
	result, err := s.handleDefine(context.Background(), buildRequest("workflow.define", map[string]any{
		"name":      "greet",
		"steps":     greetSteps,
		"variables": map[string]any{"user": "ana"},
		"category":  "demo",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
}

// --- Tests ---

func TestDefineTool(t *testing.T) {
	s := newTestServer(t)
	defineGreet(t, s)

	result, err := s.handleDefine(context.Background(), buildRequest("workflow.define", map[string]any{
		"name":  "greet",
		"steps": greetSteps[:1],
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, float64(2), out["version"])
	assert.Equal(t, false, out["created"])
	assert.Equal(t, float64(1), out["steps"])
}

func TestDefineToolInvalid(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleDefine(context.Background(), buildRequest("workflow.define", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleDefine(context.Background(), buildRequest("workflow.define", map[string]any{
		"name":  "bad",
		"steps": []any{map[string]any{"name": "x"}},
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, schema.ErrCodeValidation, out["code"])
	assert.NotEmpty(t, out["details"])

	result, err = s.handleDefine(context.Background(), buildRequest("workflow.define", map[string]any{
		"name":  "bad",
		"steps": "not a list",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDefineToolDelete(t *testing.T) {
	s := newTestServer(t)
	defineGreet(t, s)

	req := buildRequest("workflow.define", map[string]any{"name": "greet", "operation": "delete"})
	result, err := s.handleDefine(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = s.handleDefine(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeNotFound)
}

func TestRunTool(t *testing.T) {
	s := newTestServer(t)
	defineGreet(t, s)

	result, err := s.handleRun(context.Background(), buildRequest("workflow.run", map[string]any{
		"workflow_name": "greet",
		"variables":     map[string]any{"user": "bo"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var resp service.RunResponse
	unmarshalResult(t, result, &resp)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Record)
	require.Len(t, resp.Record.Results, 2)
	assert.Equal(t, "bye bo", resp.Record.Results[1].Parameters["text"])
}

func TestRunToolInlineAndDryRun(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleRun(context.Background(), buildRequest("workflow.run", map[string]any{
		"steps":     greetSteps,
		"variables": map[string]any{"user": "cy"},
		"dry_run":   true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp service.RunResponse
	unmarshalResult(t, result, &resp)
	assert.True(t, resp.DryRun)
	require.Len(t, resp.Preview, 2)
	assert.Equal(t, "cy", resp.Preview[0].Parameters["who"])

	result, err = s.handleRun(context.Background(), buildRequest("workflow.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeInvalidInput)
}

func TestRunToolStopsOnError(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleRun(context.Background(), buildRequest("workflow.run", map[string]any{
		"steps": []any{
			map[string]any{"name": "boom", "action": "fail", "parameters": map[string]any{"message": "nope"}},
			map[string]any{"name": "after", "action": "echo"},
		},
	}))
	require.NoError(t, err)
	// A failed run is still a successful tool call.
	require.False(t, result.IsError)

	var resp service.RunResponse
	unmarshalResult(t, result, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, schema.RunStoppedOnError, resp.Record.Status)
	assert.Len(t, resp.Record.Results, 1)
}

func TestChainTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleChain(context.Background(), buildRequest("workflow.chain", map[string]any{
		"commands": []any{
			map[string]any{"action": "set", "parameters": map[string]any{"value": map[string]any{"items": []any{"a", "b"}}},
				"pass_context": true, "context_mapping": map[string]any{"first": ".items[0]"}},
			map[string]any{"action": "echo", "parameters": map[string]any{"got": "${first}"}},
		},
		"return_all_results": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var res engine.ChainResult
	unmarshalResult(t, result, &res)
	assert.True(t, res.Success)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "a", res.Results[1].Parameters["got"])
	assert.Equal(t, "a", res.FinalContext["first"])

	result, err = s.handleChain(context.Background(), buildRequest("workflow.chain", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestConditionalTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleConditional(context.Background(), buildRequest("workflow.conditional", map[string]any{
		"type":      "for_each",
		"items":     []any{1, 2, 3},
		"then":      []any{map[string]any{"name": "n", "action": "echo", "parameters": map[string]any{"i": "${loopIndex}"}}},
		"variables": map[string]any{},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out engine.FlowOutcome
	unmarshalResult(t, result, &out)
	assert.Equal(t, 3, out.Iterations)
	assert.Equal(t, schema.RunCompleted, out.Status)

	result, err = s.handleConditional(context.Background(), buildRequest("workflow.conditional", map[string]any{
		"type":      "if_then_else",
		"condition": "mode == 'fast'",
		"then":      []any{map[string]any{"name": "fast", "action": "echo"}},
		"else":      []any{map[string]any{"name": "slow", "action": "echo"}},
		"variables": map[string]any{"mode": "slow"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	unmarshalResult(t, result, &out)
	require.NotNil(t, out.ConditionMet)
	assert.False(t, *out.ConditionMet)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "slow", out.Results[0].Step)
}

func TestConditionalToolParallelBody(t *testing.T) {
	s := newTestServer(t)
	body := []any{
		map[string]any{"name": "first", "action": "echo", "parameters": map[string]any{"v": "x"}},
		map[string]any{"name": "second", "action": "echo", "parameters": map[string]any{"v": "${first.v}"}},
	}

	run := func(parallel bool) engine.FlowOutcome {
		result, err := s.handleConditional(context.Background(), buildRequest("workflow.conditional", map[string]any{
			"type":      "if_then_else",
			"condition": "enabled == true",
			"then":      body,
			"parallel":  parallel,
			"variables": map[string]any{"enabled": true},
		}))
		require.NoError(t, err)
		require.False(t, result.IsError, extractText(t, result))
		var out engine.FlowOutcome
		unmarshalResult(t, result, &out)
		require.Len(t, out.Results, 2)
		return out
	}

	seq := run(false)
	assert.Equal(t, map[string]any{"v": "x"}, seq.Results[1].Result)

	par := run(true)
	assert.Equal(t, []string{"first", "second"}, []string{par.Results[0].Step, par.Results[1].Step})
	assert.Equal(t, map[string]any{"v": "${first.v}"}, par.Results[1].Result)
}

func TestHistoryTool(t *testing.T) {
	s := newTestServer(t)
	defineGreet(t, s)
	for range 2 {
		_, err := s.handleRun(context.Background(), buildRequest("workflow.run", map[string]any{"workflow_name": "greet"}))
		require.NoError(t, err)
	}

	result, err := s.handleHistory(context.Background(), buildRequest("workflow.history", map[string]any{
		"where": `record.workflow == "greet" && record.success`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var res service.HistoryResult
	unmarshalResult(t, result, &res)
	assert.Equal(t, 2, res.Count)

	result, err = s.handleHistory(context.Background(), buildRequest("workflow.history", map[string]any{"operation": "analyze"}))
	require.NoError(t, err)
	var sum map[string]any
	unmarshalResult(t, result, &sum)
	assert.Equal(t, float64(2), sum["total_executions"])

	result, err = s.handleHistory(context.Background(), buildRequest("workflow.history", map[string]any{"operation": "clear"}))
	require.NoError(t, err)
	var cleared map[string]any
	unmarshalResult(t, result, &cleared)
	assert.Equal(t, float64(2), cleared["cleared"])

	result, err = s.handleHistory(context.Background(), buildRequest("workflow.history", map[string]any{"operation": "purge"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSuggestTool(t *testing.T) {
	s := newTestServer(t)
	defineGreet(t, s)
	for range 3 {
		_, err := s.handleRun(context.Background(), buildRequest("workflow.run", map[string]any{"workflow_name": "greet"}))
		require.NoError(t, err)
	}

	result, err := s.handleSuggest(context.Background(), buildRequest("workflow.suggest", map[string]any{
		"window":           "day",
		"include_patterns": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Suggestions []schema.Suggestion `json:"suggestions"`
		Patterns    map[string]any      `json:"patterns"`
	}
	unmarshalResult(t, result, &out)
	require.NotEmpty(t, out.Suggestions)
	assert.Equal(t, "greet", out.Suggestions[0].Workflow)
	assert.Equal(t, float64(3), out.Patterns["total_executions"])
}

func TestTemplatesTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleTemplates(context.Background(), buildRequest("workflow.templates", map[string]any{}))
	require.NoError(t, err)
	var list struct {
		Templates []map[string]any `json:"templates"`
	}
	unmarshalResult(t, result, &list)
	assert.Len(t, list.Templates, 4)

	result, err = s.handleTemplates(context.Background(), buildRequest("workflow.templates", map[string]any{
		"operation":   "install",
		"template_id": "end_of_day",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	result, err = s.handleList(context.Background(), buildRequest("workflow.list", map[string]any{"name": "end_of_day"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleTemplates(context.Background(), buildRequest("workflow.templates", map[string]any{"operation": "get"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestOptimizeTool(t *testing.T) {
	s := newTestServer(t)
	defineGreet(t, s)

	result, err := s.handleOptimize(context.Background(), buildRequest("workflow.optimize", map[string]any{"workflow_name": "greet"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, false, out["applied"])

	result, err = s.handleOptimize(context.Background(), buildRequest("workflow.optimize", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestScheduleTool(t *testing.T) {
	s := newTestServer(t)
	defineGreet(t, s)

	result, err := s.handleSchedule(context.Background(), buildRequest("workflow.schedule", map[string]any{
		"workflow_name":   "greet",
		"cron_expression": "@hourly",
		"max_runs":        3,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var job store.ScheduledJob
	unmarshalResult(t, result, &job)
	assert.Equal(t, 3, job.MaxRuns)
	assert.NotNil(t, job.NextRunAt)

	result, err = s.handleSchedule(context.Background(), buildRequest("workflow.schedule", map[string]any{"operation": "list"}))
	require.NoError(t, err)
	var list struct {
		Schedules []store.ScheduledJob `json:"schedules"`
	}
	unmarshalResult(t, result, &list)
	assert.Len(t, list.Schedules, 1)

	result, err = s.handleSchedule(context.Background(), buildRequest("workflow.schedule", map[string]any{
		"operation": "delete",
		"job_id":    job.ID,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = s.handleSchedule(context.Background(), buildRequest("workflow.schedule", map[string]any{
		"workflow_name":   "greet",
		"cron_expression": "sometimes",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListTool(t *testing.T) {
	s := newTestServer(t)
	defineGreet(t, s)

	result, err := s.handleList(context.Background(), buildRequest("workflow.list", map[string]any{"category": "demo"}))
	require.NoError(t, err)
	var out struct {
		Count     int              `json:"count"`
		Workflows []map[string]any `json:"workflows"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "greet", out.Workflows[0]["name"])

	result, err = s.handleList(context.Background(), buildRequest("workflow.list", map[string]any{"category": "other"}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Zero(t, out.Count)

	result, err = s.handleList(context.Background(), buildRequest("workflow.list", map[string]any{"name": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
