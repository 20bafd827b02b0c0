package templates

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/internal/validation"
	"github.com/rendis/playbook/pkg/schema"
)

func TestBuiltin_List(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)

	all := c.List("all")
	ids := make([]string, 0, len(all))
	for _, s := range all {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"end_of_day", "focus_mode", "morning_routine", "project_setup"}, ids)

	dev := c.List("development")
	require.Len(t, dev, 1)
	assert.Equal(t, "project_setup", dev[0].ID)
	assert.Equal(t, "New Project Setup", dev[0].Name)
	assert.Equal(t, 4, dev[0].Steps)

	assert.Empty(t, c.List("gardening"))
}

func TestBuiltin_AllValidate(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)
	wv, err := validation.NewWorkflowValidator(validation.Options{
		Conditions:           expressions.NewConditionEvaluator(),
		MaxIterationsCeiling: 10000,
	})
	require.NoError(t, err)

	for _, s := range c.List("") {
		t.Run(s.ID, func(t *testing.T) {
			wf, err := c.Get(s.ID)
			require.NoError(t, err)
			result := wv.Validate(wf)
			assert.True(t, result.Valid(), "%+v", result.Errors)
			assert.Empty(t, result.Warnings)
		})
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)

	wf, err := c.Get("focus_mode")
	require.NoError(t, err)
	assert.Equal(t, schema.StepKindForEach, wf.Steps[0].Kind)
	assert.Equal(t, []any{"Slack", "Discord", "Social Media"}, wf.Variables["distractions"])

	wf.Steps[0].Name = "mutated"
	again, err := c.Get("focus_mode")
	require.NoError(t, err)
	assert.Equal(t, "close_distractions", again.Steps[0].Name)

	_, err = c.Get("nope")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestInstantiate(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)

	wf, err := c.Instantiate("project_setup", "api_setup", map[string]any{"project_name": "api"})
	require.NoError(t, err)
	assert.Equal(t, "api_setup", wf.Name)
	assert.Equal(t, "api", wf.Variables["project_name"])
	assert.Equal(t, "VS Code", wf.Variables["ide"])
	assert.Contains(t, wf.Tags, "template:project_setup")

	same, err := c.Instantiate("end_of_day", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "end_of_day", same.Name)
}

func TestLoad_NameDefaultsToFileName(t *testing.T) {
	fsys := fstest.MapFS{
		"standup.yaml": {Data: []byte("steps:\n  - name: s\n    action: echo\n")},
		"notes.txt":    {Data: []byte("ignored")},
	}
	c, err := Load(fsys)
	require.NoError(t, err)
	wf, err := c.Get("standup")
	require.NoError(t, err)
	assert.Equal(t, "standup", wf.Name)
	assert.Len(t, c.List(""), 1)
}

func TestDecodeYAML_Errors(t *testing.T) {
	_, err := DecodeYAML([]byte("steps: [unclosed"))
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidInput))

	_, err = DecodeYAML([]byte(""))
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidInput))

	_, err = DecodeYAML([]byte("steps: 3"))
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidInput))
}
