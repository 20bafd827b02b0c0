package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/playbook/internal/service"
)

// ServerName and ServerVersion identify playbook to MCP clients.
const (
	ServerName    = "playbook"
	ServerVersion = "1.0.0"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Service *service.Service
	Version string
	Logger  *slog.Logger
}

// Server wraps an MCP server with the workflow.* tool handlers.
type Server struct {
	svc       *service.Service
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every workflow tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = ServerVersion
	}

	s := &Server{svc: deps.Service, logger: logger}

	mcpSrv := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithInstructions("Playbook runs multi-step workflows over skills. Use workflow.define to store a workflow, "+
			"workflow.run to execute one (or inline steps), workflow.chain for quick command chains, "+
			"workflow.history to inspect past runs and workflow.suggest for automation suggestions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: chainTool(), Handler: s.handleChain},
		{Tool: conditionalTool(), Handler: s.handleConditional},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: suggestTool(), Handler: s.handleSuggest},
		{Tool: templatesTool(), Handler: s.handleTemplates},
		{Tool: optimizeTool(), Handler: s.handleOptimize},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: listTool(), Handler: s.handleList},
	}
}

// --- Tool definitions ---

var objectItems = mcp.Items(map[string]any{"type": "object"})

func defineTool() mcp.Tool {
	return mcp.NewTool("workflow.define",
		mcp.WithDescription("Create, replace or delete a named workflow"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
		mcp.WithString("operation",
			mcp.Enum("define", "delete"),
			mcp.Description("define (default) stores the workflow; delete removes it"),
		),
		mcp.WithArray("steps", objectItems,
			mcp.Description("Steps: {name, kind, skill, action, parameters, condition, parallel, flow}")),
		mcp.WithObject("variables", mcp.Description("Default variables")),
		mcp.WithString("description", mcp.Description("Workflow description")),
		mcp.WithString("category", mcp.Description("Workflow category")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Tags")),
		mcp.WithArray("triggers", objectItems, mcp.Description("Trigger definitions, stored as-is")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("workflow.run",
		mcp.WithDescription("Execute a stored workflow or an inline list of steps"),
		mcp.WithString("workflow_name", mcp.Description("Stored workflow to run")),
		mcp.WithArray("steps", objectItems, mcp.Description("Inline steps, used when workflow_name is empty")),
		mcp.WithObject("variables", mcp.Description("Variable overrides")),
		mcp.WithBoolean("dry_run", mcp.Description("Preview interpolated steps without running them")),
		mcp.WithBoolean("continue_on_error", mcp.Description("Keep going after a failed step")),
		mcp.WithBoolean("parallel", mcp.Description("Run all steps concurrently")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Run timeout (default: configured run_timeout)")),
	)
}

func chainTool() mcp.Tool {
	return mcp.NewTool("workflow.chain",
		mcp.WithDescription("Run an ad-hoc chain of commands with context passing"),
		mcp.WithArray("commands", mcp.Required(), objectItems,
			mcp.Description("Commands: {description, skill, action, parameters, condition, pass_context, context_mapping}")),
		mcp.WithObject("context", mcp.Description("Initial chain context")),
		mcp.WithBoolean("stop_on_error", mcp.DefaultBool(true), mcp.Description("Stop at the first failed command")),
		mcp.WithBoolean("return_all_results",
			mcp.Description("Default false: results holds ONLY the last executed command. Set true to return every command result")),
	)
}

func conditionalTool() mcp.Tool {
	return mcp.NewTool("workflow.conditional",
		mcp.WithDescription("Run an if/then/else, for_each or while construct"),
		mcp.WithString("type", mcp.Required(),
			mcp.Enum(service.ConditionalIfThenElse, service.ConditionalForEach, service.ConditionalWhile),
			mcp.Description("Construct to run"),
		),
		mcp.WithString("condition", mcp.Description("Condition for if_then_else and while")),
		mcp.WithArray("then", objectItems, mcp.Description("Steps run when the condition holds, or the loop body")),
		mcp.WithArray("else", objectItems, mcp.Description("Steps run when the condition does not hold")),
		mcp.WithArray("items", mcp.Description("Items for for_each")),
		mcp.WithString("items_from", mcp.Description("Variable holding the for_each items")),
		mcp.WithNumber("max_iterations", mcp.Description("Loop bound")),
		mcp.WithBoolean("continue_on_error", mcp.Description("Keep going after a failed body step")),
		mcp.WithBoolean("parallel", mcp.Description("Run each body's steps concurrently against one snapshot")),
		mcp.WithObject("variables", mcp.Description("Variables visible to conditions and steps")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("workflow.history",
		mcp.WithDescription("Query, analyze or clear execution history"),
		mcp.WithString("operation",
			mcp.Enum("query", "analyze", "clear"),
			mcp.Description("query (default), analyze or clear"),
		),
		mcp.WithString("workflow_name", mcp.Description("Restrict to one workflow")),
		mcp.WithString("window", mcp.Enum("hour", "day", "week", "month", "all"), mcp.Description("Time window (default: all)")),
		mcp.WithString("outcome", mcp.Enum("all", "success", "failed", "partial"), mcp.Description("Outcome filter")),
		mcp.WithString("where", mcp.Description("CEL predicate over record, e.g. record.duration_ms > 1000")),
		mcp.WithNumber("limit", mcp.Description("Maximum records (default 50)")),
		mcp.WithBoolean("include_details", mcp.Description("Return full records with step results")),
	)
}

func suggestTool() mcp.Tool {
	return mcp.NewTool("workflow.suggest",
		mcp.WithDescription("Suggest automations from execution patterns"),
		mcp.WithString("window", mcp.Enum("hour", "day", "week", "month", "all"), mcp.Description("Time window (default: week)")),
		mcp.WithNumber("min_occurrences", mcp.Description("Minimum count before suggesting (default 3)")),
		mcp.WithBoolean("include_patterns", mcp.Description("Also return the mined patterns")),
	)
}

func templatesTool() mcp.Tool {
	return mcp.NewTool("workflow.templates",
		mcp.WithDescription("List, inspect or install built-in workflow templates"),
		mcp.WithString("operation",
			mcp.Enum("list", "get", "install"),
			mcp.Description("list (default), get or install"),
		),
		mcp.WithString("category", mcp.Description("Category filter for list")),
		mcp.WithString("template_id", mcp.Description("Template for get and install")),
		mcp.WithString("name", mcp.Description("Workflow name for install (default: template id)")),
		mcp.WithObject("variables", mcp.Description("Variable overrides for install")),
	)
}

func optimizeTool() mcp.Tool {
	return mcp.NewTool("workflow.optimize",
		mcp.WithDescription("Analyze a workflow for improvements and optionally apply them"),
		mcp.WithString("workflow_name", mcp.Required(), mcp.Description("Workflow to analyze")),
		mcp.WithBoolean("apply", mcp.Description("Mark parallelizable steps and store a new version")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("workflow.schedule",
		mcp.WithDescription("Create, list or delete cron schedules for workflows"),
		mcp.WithString("operation",
			mcp.Enum("create", "list", "delete"),
			mcp.Description("create (default), list or delete"),
		),
		mcp.WithString("workflow_name", mcp.Description("Workflow to schedule, or list filter")),
		mcp.WithString("cron_expression", mcp.Description("Five-field cron expression or @daily style descriptor")),
		mcp.WithObject("variables", mcp.Description("Variables passed to every scheduled run")),
		mcp.WithNumber("max_runs", mcp.Description("Disable the schedule after this many runs (0: unlimited)")),
		mcp.WithString("job_id", mcp.Description("Schedule to delete")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("workflow.list",
		mcp.WithDescription("List stored workflows, or fetch one by name"),
		mcp.WithString("name", mcp.Description("Return this workflow's full definition")),
		mcp.WithString("category", mcp.Description("Category filter")),
		mcp.WithString("tag", mcp.Description("Tag filter")),
	)
}
