package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/pkg/schema"
)

func optimizerWorkflow() *schema.Workflow {
	return &schema.Workflow{
		Name: "morning",
		Steps: []schema.StepDefinition{
			{Name: "weather", Skill: "system", Action: "echo", Parameters: map[string]any{"city": "Lima"}},
			{Name: "news", Skill: "system", Action: "fetch"},
			{Name: "brief", Skill: "system", Action: "echo", Parameters: map[string]any{"text": "${weather}"}},
			{Name: "later", Skill: "system", Action: "noop", Condition: "hour > 18"},
		},
	}
}

func TestOptimize(t *testing.T) {
	opts := Optimize(optimizerWorkflow())
	require.Len(t, opts, 2)

	assert.Equal(t, OptParallelization, opts[0].Type)
	assert.Equal(t, []string{"weather", "news"}, opts[0].Steps)

	assert.Equal(t, OptDeduplication, opts[1].Type)
	assert.Equal(t, []string{"brief (same as weather: system.echo)"}, opts[1].Steps)
}

func TestOptimize_ErrorHandlingNote(t *testing.T) {
	wf := &schema.Workflow{Steps: []schema.StepDefinition{
		{Name: "only", Skill: "system", Action: "echo"},
	}}
	opts := Optimize(wf)
	require.Len(t, opts, 1)
	assert.Equal(t, OptErrorHandling, opts[0].Type)

	wf.Steps = append(wf.Steps, schema.StepDefinition{
		Name: "loop", Kind: schema.StepKindForEach,
		Flow: &schema.FlowConfig{Items: []any{1}, ContinueOnError: true, Then: wf.Steps[:1]},
	})
	for _, o := range Optimize(wf) {
		assert.NotEqual(t, OptErrorHandling, o.Type)
	}
	assert.Empty(t, Optimize(nil))
}

func TestApplyOptimizations(t *testing.T) {
	wf := optimizerWorkflow()
	out, changed := ApplyOptimizations(wf)
	require.True(t, changed)

	assert.True(t, out.Steps[0].Parallel)
	assert.True(t, out.Steps[1].Parallel)
	assert.False(t, out.Steps[2].Parallel)
	assert.False(t, out.Steps[3].Parallel)
	assert.False(t, wf.Steps[0].Parallel, "input must not be modified")

	_, again := ApplyOptimizations(out)
	assert.False(t, again)
}
