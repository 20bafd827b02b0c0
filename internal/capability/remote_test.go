package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	lastReq mcp.CallToolRequest
	result  *mcp.CallToolResult
	err     error
}

func (f *fakeCaller) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func TestRemoteSkill_JSONResult(t *testing.T) {
	caller := &fakeCaller{result: mcp.NewToolResultText(`{"events":["standup","review"]}`)}
	skill := NewRemoteSkill("calendar", caller)

	res, err := skill.Invoke(context.Background(), "calendar", "list_events", map[string]any{"day": "today"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, map[string]any{"events": []any{"standup", "review"}}, res.Result)
	assert.Equal(t, "list_events", caller.lastReq.Params.Name)
	assert.Equal(t, map[string]any{"day": "today"}, caller.lastReq.GetArguments())
}

func TestRemoteSkill_PlainTextResult(t *testing.T) {
	skill := NewRemoteSkill("notes", &fakeCaller{result: mcp.NewToolResultText("saved note 12")})

	res, err := skill.Invoke(context.Background(), "notes", "save", nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Success: true, Result: "saved note 12"}, res)
}

func TestRemoteSkill_ToolError(t *testing.T) {
	skill := NewRemoteSkill("jira", &fakeCaller{result: mcp.NewToolResultError("project not found")})

	res, err := skill.Invoke(context.Background(), "jira", "create", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "project not found", res.Error)
}

func TestRemoteSkill_TransportError(t *testing.T) {
	skill := NewRemoteSkill("jira", &fakeCaller{err: errors.New("broken pipe")})

	_, err := skill.Invoke(context.Background(), "jira", "create", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jira.create")

	skill = NewRemoteSkill("jira", &fakeCaller{})
	_, err = skill.Invoke(context.Background(), "jira", "create", nil)
	assert.Error(t, err)
}

func TestDecodeContent(t *testing.T) {
	assert.Nil(t, decodeContent(nil))
	assert.Equal(t, []any{1.0, "two"}, decodeContent([]mcp.Content{
		mcp.NewTextContent("1"),
		mcp.NewTextContent("two"),
	}))
}

func TestSkillManager_LoadValidation(t *testing.T) {
	m := NewSkillManager(NewRegistry(), DefaultBreakerConfig(), nil)
	assert.Error(t, m.Load(context.Background(), ServerConfig{Name: "x"}, "test"))
	assert.Empty(t, m.Skills())
	assert.Empty(t, m.Health())
	assert.NoError(t, m.Close())
}
