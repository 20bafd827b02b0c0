package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/playbook/pkg/schema"
)

func TestAnalyze(t *testing.T) {
	results := []schema.StepResult{
		{Step: "a", Success: true, DurationMs: 10},
		{Step: "b", Success: true, DurationMs: 10},
		{Step: "c", Success: false, DurationMs: 100},
		{Step: "d", Success: true, Skipped: true},
	}

	a := Analyze(results)
	assert.Equal(t, 4, a.TotalSteps)
	assert.Equal(t, 3, a.SuccessfulSteps)
	assert.Equal(t, 1, a.FailedSteps)
	assert.Equal(t, 1, a.SkippedSteps)
	assert.InDelta(t, 75.0, a.SuccessRate, 0.01)
	assert.Equal(t, int64(120), a.TotalDurationMs)
	assert.InDelta(t, 30.0, a.AverageDurationMs, 0.001)
	assert.Equal(t, []schema.Bottleneck{{Step: "c", DurationMs: 100}}, a.Bottlenecks)
}

func TestAnalyze_SkippedStepsCountAsSuccessful(t *testing.T) {
	a := Analyze([]schema.StepResult{
		{Step: "ok", Success: true, DurationMs: 100},
		{Step: "broken", Error: "disk full", DurationMs: 100},
		{Step: "weekend_only", Skipped: true},
	})
	assert.Equal(t, 3, a.TotalSteps)
	assert.Equal(t, 2, a.SuccessfulSteps)
	assert.Equal(t, 1, a.FailedSteps)
	assert.Equal(t, 1, a.SkippedSteps)
	assert.InDelta(t, 66.67, a.SuccessRate, 0.01)
	assert.InDelta(t, 66.67, a.AverageDurationMs, 0.01)
	assert.Empty(t, a.Bottlenecks)

	rec := &schema.ExecutionRecord{Analysis: a}
	assert.True(t, rec.MatchesOutcome(schema.OutcomePartial))
}

func TestAnalyze_NothingExecuted(t *testing.T) {
	a := Analyze([]schema.StepResult{{Step: "a", Success: true, Skipped: true}})
	assert.Equal(t, 1, a.SuccessfulSteps)
	assert.Equal(t, 100.0, a.SuccessRate)
	assert.Zero(t, a.AverageDurationMs)
	assert.Empty(t, a.Bottlenecks)

	empty := Analyze(nil)
	assert.Equal(t, 0, empty.TotalSteps)
	assert.Equal(t, 100.0, empty.SuccessRate)
}

func TestAnalyze_UniformDurationsHaveNoBottleneck(t *testing.T) {
	a := Analyze([]schema.StepResult{
		{Step: "a", Success: true, DurationMs: 20},
		{Step: "b", Success: true, DurationMs: 20},
	})
	assert.Equal(t, 100.0, a.SuccessRate)
	assert.Empty(t, a.Bottlenecks)
}
