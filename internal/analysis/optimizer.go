package analysis

import (
	"fmt"

	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/pkg/schema"
)

// Optimization kinds reported by Optimize.
const (
	OptParallelization = "parallelization"
	OptDeduplication   = "deduplication"
	OptErrorHandling   = "error_handling"
)

// Optimization is one improvement opportunity found in a workflow.
type Optimization struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Impact      string   `json:"impact"`
	Steps       []string `json:"steps,omitempty"`
}

// Optimize inspects a workflow's top-level steps. A skill step is
// parallelizable when it has no condition and no placeholder in its
// parameters, so it cannot depend on an earlier step's result; at least two
// are needed for a report. Repeated skill.action pairs are reported as
// duplicates. A workflow with neither conditions nor continue_on_error flows
// gets an error-handling note.
func Optimize(wf *schema.Workflow) []Optimization {
	out := []Optimization{}
	if wf == nil {
		return out
	}

	if steps := Parallelizable(wf.Steps); len(steps) > 1 {
		out = append(out, Optimization{
			Type:        OptParallelization,
			Description: fmt.Sprintf("%d steps can run in parallel", len(steps)),
			Impact:      "speed",
			Steps:       steps,
		})
	}

	seen := make(map[string]string)
	var dups []string
	for i := range wf.Steps {
		s := &wf.Steps[i]
		if s.ResolvedKind() != schema.StepKindSkill {
			continue
		}
		key := s.Skill + "." + s.Action
		if first, ok := seen[key]; ok {
			dups = append(dups, fmt.Sprintf("%s (same as %s: %s)", s.Name, first, key))
			continue
		}
		seen[key] = s.Name
	}
	if len(dups) > 0 {
		out = append(out, Optimization{
			Type:        OptDeduplication,
			Description: fmt.Sprintf("Found %d potentially redundant steps", len(dups)),
			Impact:      "maintainability",
			Steps:       dups,
		})
	}

	if len(wf.Steps) > 0 && !handlesFailure(wf.Steps) {
		out = append(out, Optimization{
			Type:        OptErrorHandling,
			Description: "No step has a condition or a continue_on_error flow; any failure stops the run",
			Impact:      "reliability",
		})
	}
	return out
}

// Parallelizable returns the names of top-level steps safe to run against a
// shared snapshot.
func Parallelizable(steps []schema.StepDefinition) []string {
	var names []string
	for i := range steps {
		s := &steps[i]
		if s.ResolvedKind() != schema.StepKindSkill || s.Condition != "" {
			continue
		}
		if expressions.HasPlaceholder(s.Parameters) {
			continue
		}
		names = append(names, s.Name)
	}
	return names
}

// ApplyOptimizations returns a copy of wf with the parallel hint set on every
// parallelizable step. It reports whether anything changed.
func ApplyOptimizations(wf *schema.Workflow) (*schema.Workflow, bool) {
	cp := *wf
	cp.Steps = append([]schema.StepDefinition(nil), wf.Steps...)

	names := Parallelizable(cp.Steps)
	if len(names) < 2 {
		return &cp, false
	}
	mark := make(map[string]bool, len(names))
	for _, n := range names {
		mark[n] = true
	}

	changed := false
	for i := range cp.Steps {
		if mark[cp.Steps[i].Name] && !cp.Steps[i].Parallel {
			cp.Steps[i].Parallel = true
			changed = true
		}
	}
	return &cp, changed
}

func handlesFailure(steps []schema.StepDefinition) bool {
	for i := range steps {
		s := &steps[i]
		if s.Condition != "" {
			return true
		}
		if s.Flow != nil && s.Flow.ContinueOnError {
			return true
		}
	}
	return false
}
