package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	s := NewServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.Same(t, s.mcpServer, s.MCPServer())
}

func TestToolRegistration(t *testing.T) {
	s := NewServer(ServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 10)

	expectedTools := []string{
		"workflow.define",
		"workflow.run",
		"workflow.chain",
		"workflow.conditional",
		"workflow.history",
		"workflow.suggest",
		"workflow.templates",
		"workflow.optimize",
		"workflow.schedule",
		"workflow.list",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"define", "workflow.define", "Create, replace or delete a named workflow"},
		{"run", "workflow.run", "Execute a stored workflow or an inline list of steps"},
		{"chain", "workflow.chain", "Run an ad-hoc chain of commands with context passing"},
		{"history", "workflow.history", "Query, analyze or clear execution history"},
		{"list", "workflow.list", "List stored workflows, or fetch one by name"},
	}

	s := NewServer(ServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}

func TestRunNotifier(t *testing.T) {
	s := NewServer(ServerDeps{})
	n := NewRunNotifier(s)
	// No connected clients: the broadcast is dropped without error.
	assert.NoError(t, n.Notify(t.Context(), map[string]any{"status": "failed", "workflow": "nightly"}))
}
