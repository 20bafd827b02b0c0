package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/internal/config"
	"github.com/rendis/playbook/pkg/schema"
)

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"city=Lisbon", "count=3", "verbose=true", "ratio=0.5", "empty=", "eq=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", vars["city"])
	assert.Equal(t, 3, vars["count"])
	assert.Equal(t, true, vars["verbose"])
	assert.Equal(t, 0.5, vars["ratio"])
	assert.Equal(t, "", vars["empty"])
	assert.Equal(t, "a=b", vars["eq"])

	vars, err = parseVars(nil)
	require.NoError(t, err)
	assert.Nil(t, vars)

	_, err = parseVars([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseVars([]string{"=x"})
	assert.Error(t, err)
}

func TestRulesFromConfig(t *testing.T) {
	assert.Nil(t, rulesFromConfig(nil))

	rules := rulesFromConfig([]config.Rule{{
		Source:   "workflow",
		Type:     "optimization",
		Priority: "high",
		When:     "count >= 5",
		Text:     "look at {{.Key}}",
	}})
	require.Len(t, rules, 1)
	assert.Equal(t, schema.SuggestionType("optimization"), rules[0].Type)
	assert.Equal(t, schema.Priority("high"), rules[0].Priority)
	assert.Equal(t, "count >= 5", rules[0].When)
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "define", "run", "list", "delete", "history", "suggest", "templates", "schedule", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestRunRequiresName(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run"})
	assert.Error(t, root.Execute())
}
