package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/playbook/internal/scheduler"
)

// RunNotifier pushes scheduled-run events to every connected client as MCP
// log messages. It satisfies scheduler.Notifier.
type RunNotifier struct {
	mcpServer *server.MCPServer
}

var _ scheduler.Notifier = (*RunNotifier)(nil)

// NewRunNotifier creates a notifier that broadcasts through s.
func NewRunNotifier(s *Server) *RunNotifier {
	return &RunNotifier{mcpServer: s.mcpServer}
}

// Notify broadcasts payload. Clients that are not connected miss it.
func (n *RunNotifier) Notify(_ context.Context, payload map[string]any) error {
	level := "info"
	if payload["status"] != scheduler.StatusSuccess {
		level = "warning"
	}
	n.mcpServer.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  level,
		"logger": "playbook.scheduler",
		"data":   payload,
	})
	return nil
}
