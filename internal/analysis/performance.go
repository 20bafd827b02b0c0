// Package analysis derives statistics and suggestions from step results
// and execution history. Nothing here performs I/O.
package analysis

import (
	"github.com/rendis/playbook/pkg/schema"
)

// BottleneckFactor is how many times the average duration a step must
// exceed to count as a bottleneck.
const BottleneckFactor = 2

// Analyze computes the performance analysis of one run's top-level step
// results. Skipped steps are successful: they count toward the success rate
// and the average duration is taken over all steps. An empty run has a 100%
// success rate.
func Analyze(results []schema.StepResult) schema.PerformanceAnalysis {
	a := schema.PerformanceAnalysis{TotalSteps: len(results)}
	if a.TotalSteps == 0 {
		a.SuccessRate = 100
		return a
	}

	for i := range results {
		r := &results[i]
		a.TotalDurationMs += r.DurationMs
		if r.Skipped {
			a.SkippedSteps++
		}
		if r.Success || r.Skipped {
			a.SuccessfulSteps++
		} else {
			a.FailedSteps++
		}
	}

	a.SuccessRate = float64(a.SuccessfulSteps) / float64(a.TotalSteps) * 100
	a.AverageDurationMs = float64(a.TotalDurationMs) / float64(a.TotalSteps)

	threshold := a.AverageDurationMs * BottleneckFactor
	for i := range results {
		r := &results[i]
		if float64(r.DurationMs) > threshold {
			a.Bottlenecks = append(a.Bottlenecks, schema.Bottleneck{Step: r.Step, DurationMs: r.DurationMs})
		}
	}
	return a
}
