package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/playbook/internal/engine"
	"github.com/rendis/playbook/internal/service"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

// handleDefine stores or deletes a named workflow.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	switch op := req.GetString("operation", "define"); op {
	case "delete":
		if err := s.svc.DeleteWorkflow(ctx, name); err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"deleted": name})
	case "define":
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown operation: %s", op)), nil
	}

	wf := &schema.Workflow{
		Name:        name,
		Description: req.GetString("description", ""),
		Category:    req.GetString("category", ""),
		Tags:        req.GetStringSlice("tags", nil),
		Variables:   mcp.ParseStringMap(req, "variables", nil),
	}
	if err := decodeArg(req, "steps", &wf.Steps); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := decodeArg(req, "triggers", &wf.Triggers); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.svc.Define(ctx, wf)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{
		"name":     res.Workflow.Name,
		"id":       res.Workflow.ID,
		"version":  res.Workflow.Version,
		"created":  res.Created,
		"steps":    len(res.Workflow.Steps),
		"warnings": res.Warnings,
	})
}

// handleRun executes a stored workflow or inline steps.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run := service.RunRequest{
		WorkflowName:    req.GetString("workflow_name", ""),
		Variables:       mcp.ParseStringMap(req, "variables", nil),
		DryRun:          req.GetBool("dry_run", false),
		ContinueOnError: req.GetBool("continue_on_error", false),
		Parallel:        req.GetBool("parallel", false),
	}
	if secs := req.GetFloat("timeout_seconds", 0); secs > 0 {
		run.Timeout = time.Duration(secs * float64(time.Second))
	}
	if err := decodeArg(req, "steps", &run.Steps); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.svc.Run(ctx, run)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(resp)
}

// handleChain runs an ad-hoc command chain.
func (s *Server) handleChain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var commands []engine.ChainCommand
	if err := decodeArg(req, "commands", &commands); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(commands) == 0 {
		return mcp.NewToolResultError("commands is required"), nil
	}

	opts := engine.ChainOptions{
		Context:          mcp.ParseStringMap(req, "context", nil),
		StopOnError:      req.GetBool("stop_on_error", true),
		ReturnAllResults: req.GetBool("return_all_results", false),
	}
	res, err := s.svc.Chain(ctx, commands, opts)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(res)
}

// handleConditional runs one control-flow construct.
func (s *Server) handleConditional(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required"), nil
	}

	cr := service.ConditionalRequest{
		Type:      kind,
		Variables: mcp.ParseStringMap(req, "variables", nil),
	}
	cr.Condition = req.GetString("condition", "")
	cr.ItemsFrom = req.GetString("items_from", "")
	cr.MaxIterations = req.GetInt("max_iterations", 0)
	cr.ContinueOnError = req.GetBool("continue_on_error", false)
	cr.Parallel = req.GetBool("parallel", false)
	for key, dst := range map[string]any{"then": &cr.Then, "else": &cr.Else, "items": &cr.Items} {
		if err := decodeArg(req, key, dst); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	out, err := s.svc.Conditional(ctx, cr)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(out)
}

// handleHistory queries, analyzes or clears execution history.
func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := service.HistoryQuery{
		WorkflowName:   req.GetString("workflow_name", ""),
		Window:         req.GetString("window", ""),
		Outcome:        req.GetString("outcome", ""),
		Where:          req.GetString("where", ""),
		Limit:          req.GetInt("limit", service.DefaultHistoryLimit),
		IncludeDetails: req.GetBool("include_details", false),
	}

	switch op := req.GetString("operation", "query"); op {
	case "query":
		res, err := s.svc.History(ctx, q)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(res)
	case "analyze":
		sum, err := s.svc.AnalyzeHistory(ctx, q)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(sum)
	case "clear":
		n, err := s.svc.ClearHistory(ctx, q.WorkflowName)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"cleared": n})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown operation: %s", op)), nil
	}
}

// handleSuggest returns ranked suggestions, optionally with the patterns
// they were derived from.
func (s *Server) handleSuggest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	window := req.GetString("window", "")
	minOcc := req.GetInt("min_occurrences", 0)

	if !req.GetBool("include_patterns", false) {
		suggestions, err := s.svc.Suggestions(ctx, window, minOcc)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"suggestions": suggestions})
	}

	p, err := s.svc.Patterns(ctx, window)
	if err != nil {
		return toolError(err), nil
	}
	suggestions, err := s.svc.Suggestions(ctx, window, minOcc)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{"suggestions": suggestions, "patterns": p})
}

// handleTemplates lists, shows or installs built-in templates.
func (s *Server) handleTemplates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("template_id", "")

	switch op := req.GetString("operation", "list"); op {
	case "list":
		return marshalResult(map[string]any{"templates": s.svc.ListTemplates(req.GetString("category", ""))})
	case "get":
		if id == "" {
			return mcp.NewToolResultError("template_id is required"), nil
		}
		wf, err := s.svc.GetTemplate(id)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(wf)
	case "install":
		if id == "" {
			return mcp.NewToolResultError("template_id is required"), nil
		}
		res, err := s.svc.InstallTemplate(ctx, id, req.GetString("name", ""), mcp.ParseStringMap(req, "variables", nil))
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(res)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown operation: %s", op)), nil
	}
}

// handleOptimize reports, and optionally applies, workflow improvements.
func (s *Server) handleOptimize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workflow_name")
	if err != nil {
		return mcp.NewToolResultError("workflow_name is required"), nil
	}
	res, err := s.svc.Optimize(ctx, name, req.GetBool("apply", false))
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(res)
}

// handleSchedule manages cron schedules.
func (s *Server) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	switch op := req.GetString("operation", "create"); op {
	case "create":
		name := req.GetString("workflow_name", "")
		expr := req.GetString("cron_expression", "")
		if name == "" || expr == "" {
			return mcp.NewToolResultError("workflow_name and cron_expression are required"), nil
		}
		job, err := s.svc.Schedule(ctx, service.ScheduleRequest{
			WorkflowName:   name,
			CronExpression: expr,
			Variables:      mcp.ParseStringMap(req, "variables", nil),
			MaxRuns:        req.GetInt("max_runs", 0),
		})
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(job)
	case "list":
		jobs, err := s.svc.ListSchedules(ctx, req.GetString("workflow_name", ""))
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"schedules": jobs})
	case "delete":
		id := req.GetString("job_id", "")
		if id == "" {
			return mcp.NewToolResultError("job_id is required"), nil
		}
		if err := s.svc.Unschedule(ctx, id); err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"deleted": id})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown operation: %s", op)), nil
	}
}

// handleList lists workflows, or returns one when name is given.
func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if name := req.GetString("name", ""); name != "" {
		wf, err := s.svc.GetWorkflow(ctx, name)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(wf)
	}

	wfs, err := s.svc.ListWorkflows(ctx, store.WorkflowFilter{
		Category: req.GetString("category", ""),
		Tag:      req.GetString("tag", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	type entry struct {
		Name        string    `json:"name"`
		Description string    `json:"description,omitempty"`
		Category    string    `json:"category,omitempty"`
		Version     int       `json:"version"`
		Steps       int       `json:"steps"`
		UpdatedAt   time.Time `json:"updated_at"`
	}
	out := make([]entry, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, entry{wf.Name, wf.Description, wf.Category, wf.Version, len(wf.Steps), wf.UpdatedAt})
	}
	return marshalResult(map[string]any{"workflows": out, "count": len(out)})
}

// --- Internal helpers ---

// decodeArg re-decodes an argument into dst through JSON. A missing
// argument leaves dst untouched.
func decodeArg(req mcp.CallToolRequest, key string, dst any) error {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	return nil
}

// toolError reports err as a tool-level error. Structured errors keep their
// code and details so clients can act on validation issues.
func toolError(err error) *mcp.CallToolResult {
	var se *schema.Error
	if !errors.As(err, &se) {
		return mcp.NewToolResultError(err.Error())
	}
	b, mErr := json.Marshal(map[string]any{
		"code":    se.Code,
		"message": se.Message,
		"step":    se.StepName,
		"details": se.Details,
	})
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(b))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
