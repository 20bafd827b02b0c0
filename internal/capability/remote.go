package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolCaller is the slice of an MCP client a remote skill needs.
type ToolCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// RemoteSkill invokes a skill's actions as tools on an MCP server: the action
// name is the tool name and the parameters are the tool arguments.
type RemoteSkill struct {
	name   string
	caller ToolCaller
}

// NewRemoteSkill wraps caller as the Invoker for skill name.
func NewRemoteSkill(name string, caller ToolCaller) *RemoteSkill {
	return &RemoteSkill{name: name, caller: caller}
}

// Invoke calls the tool. Tool-level errors become failed Results; transport
// errors are returned.
func (s *RemoteSkill) Invoke(ctx context.Context, _, action string, params map[string]any) (Result, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = action
	req.Params.Arguments = params

	res, err := s.caller.CallTool(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("call %s.%s: %w", s.name, action, err)
	}
	if res == nil {
		return Result{}, fmt.Errorf("call %s.%s: empty response", s.name, action)
	}

	payload := decodeContent(res.Content)
	if res.IsError {
		msg, ok := payload.(string)
		if !ok || msg == "" {
			msg = fmt.Sprintf("tool %s.%s reported an error", s.name, action)
		}
		return Result{Error: msg}, nil
	}
	return Result{Success: true, Result: payload}, nil
}

// decodeContent flattens tool content: text that parses as JSON is decoded,
// other text is kept as a string; several items become a slice.
func decodeContent(content []mcp.Content) any {
	values := make([]any, 0, len(content))
	for _, c := range content {
		text := mcp.GetTextFromContent(c)
		var v any
		if err := json.Unmarshal([]byte(text), &v); err == nil {
			values = append(values, v)
		} else {
			values = append(values, text)
		}
	}
	switch len(values) {
	case 0:
		return nil
	case 1:
		return values[0]
	default:
		return values
	}
}

// ServerConfig describes an MCP stdio server mounted as a skill.
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     []string
}

// SkillManager owns the MCP client processes behind remote skills.
type SkillManager struct {
	registry *Registry
	breaker  BreakerConfig
	logger   *slog.Logger

	mu       sync.Mutex
	clients  map[string]*client.Client
	breakers map[string]*Breaker
}

// NewSkillManager creates a manager that mounts skills onto registry, each
// behind a Breaker configured by breaker.
func NewSkillManager(registry *Registry, breaker BreakerConfig, logger *slog.Logger) *SkillManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SkillManager{
		registry: registry,
		breaker:  breaker,
		logger:   logger,
		clients:  make(map[string]*client.Client),
		breakers: make(map[string]*Breaker),
	}
}

// Load starts the server process, performs the MCP handshake and mounts the
// skill.
func (m *SkillManager) Load(ctx context.Context, cfg ServerConfig, version string) error {
	if cfg.Name == "" || cfg.Command == "" {
		return errors.New("skill server needs a name and a command")
	}

	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return fmt.Errorf("start skill %q: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "playbook", Version: version}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize skill %q: %w", cfg.Name, err)
	}

	guarded := NewBreaker(cfg.Name, NewRemoteSkill(cfg.Name, c), m.breaker)
	if err := m.registry.Mount(cfg.Name, guarded); err != nil {
		_ = c.Close()
		return err
	}

	m.mu.Lock()
	m.clients[cfg.Name] = c
	m.breakers[cfg.Name] = guarded
	m.mu.Unlock()

	m.logger.Info("skill server mounted",
		slog.String("skill", cfg.Name),
		slog.String("command", cfg.Command+" "+strings.Join(cfg.Args, " ")),
	)
	return nil
}

// Skills returns the names of mounted skills.
func (m *SkillManager) Skills() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health returns breaker stats for every mounted skill.
func (m *SkillManager) Health() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["skill"].(string) < out[j]["skill"].(string)
	})
	return out
}

// Close stops every server process.
func (m *SkillManager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*client.Client)
	m.breakers = make(map[string]*Breaker)
	m.mu.Unlock()

	var errs []error
	for name, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close skill %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
