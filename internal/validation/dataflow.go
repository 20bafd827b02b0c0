package validation

import (
	"fmt"

	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/pkg/schema"
)

// validateDataFlow warns about placeholders that name a step whose result
// cannot be in the run context yet: a step later in the same list, the step
// itself, or a sibling in the same parallel group. Such placeholders are left
// unresolved at run time.
func validateDataFlow(steps []schema.StepDefinition, path string) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	checkList(steps, path, result)
	return result
}

func checkList(steps []schema.StepDefinition, path string, result *schema.ValidationResult) {
	index := make(map[string]int, len(steps))
	for i := range steps {
		if _, dup := index[steps[i].Name]; !dup {
			index[steps[i].Name] = i
		}
	}

	group := parallelGroups(steps)
	for i := range steps {
		s := &steps[i]
		stepPath := fmt.Sprintf("%s[%d]", path, i)

		refs := expressions.Placeholders(s.Parameters)
		refs = append(refs, expressions.Placeholders(s.Condition)...)
		reported := make(map[string]bool)
		for _, ref := range refs {
			j, isStep := index[ref]
			if !isStep || reported[ref] {
				continue
			}
			switch {
			case j == i:
				result.AddWarning(stepPath, schema.ErrCodeValidation,
					fmt.Sprintf("step %q references its own result", s.Name))
			case j > i:
				result.AddWarning(stepPath, schema.ErrCodeValidation,
					fmt.Sprintf("step %q references %q, which runs later", s.Name, ref))
			case group[i] != 0 && group[i] == group[j]:
				result.AddWarning(stepPath, schema.ErrCodeValidation,
					fmt.Sprintf("step %q references %q in the same parallel group", s.Name, ref))
			default:
				continue
			}
			reported[ref] = true
		}

		if s.Flow != nil && s.ResolvedKind().IsControlFlow() {
			checkList(s.Flow.Then, stepPath+".flow.then", result)
			checkList(s.Flow.Else, stepPath+".flow.else", result)
		}
	}
}

// parallelGroups numbers runs of adjacent parallel-hinted steps from 1; steps
// outside a group get 0. A lone hinted step is not a group.
func parallelGroups(steps []schema.StepDefinition) []int {
	groups := make([]int, len(steps))
	id := 0
	for i := 0; i < len(steps); {
		if !steps[i].Parallel {
			i++
			continue
		}
		j := i
		for j < len(steps) && steps[j].Parallel {
			j++
		}
		if j-i > 1 {
			id++
			for k := i; k < j; k++ {
				groups[k] = id
			}
		}
		i = j
	}
	return groups
}
