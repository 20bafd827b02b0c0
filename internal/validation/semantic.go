package validation

import (
	"fmt"

	"github.com/rendis/playbook/pkg/schema"
)

// semanticChecker walks a step tree once. caps and conditions may be nil to
// skip those checks.
type semanticChecker struct {
	caps       CapabilityLookup
	conditions ConditionCompiler
	ceiling    int
	result     *schema.ValidationResult
}

func (c *semanticChecker) workflow(wf *schema.Workflow) {
	if wf.Name == schema.AdHocWorkflow {
		c.result.AddError("name", schema.ErrCodeValidation,
			fmt.Sprintf("%q is reserved for unnamed runs", schema.AdHocWorkflow))
	}
	c.steps(wf.Steps, "steps")
}

func (c *semanticChecker) steps(steps []schema.StepDefinition, path string) {
	seen := make(map[string]int, len(steps))
	for i := range steps {
		stepPath := fmt.Sprintf("%s[%d]", path, i)
		if first, dup := seen[steps[i].Name]; dup {
			c.result.AddError(stepPath+".name", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step name %q (first at %s[%d])", steps[i].Name, path, first))
		} else {
			seen[steps[i].Name] = i
		}
		c.step(&steps[i], stepPath)
	}
}

func (c *semanticChecker) step(step *schema.StepDefinition, path string) {
	c.condition(step.Condition, path+".condition")

	switch kind := step.ResolvedKind(); kind {
	case schema.StepKindSkill:
		c.skillStep(step, path)
	case schema.StepKindBranch, schema.StepKindForEach, schema.StepKindWhile:
		c.flowStep(step, kind, path)
	default:
		c.result.AddError(path+".kind", schema.ErrCodeValidation, fmt.Sprintf("unknown step kind %q", kind))
	}
}

func (c *semanticChecker) skillStep(step *schema.StepDefinition, path string) {
	if step.Action == "" {
		c.result.AddError(path+".action", schema.ErrCodeValidation, "skill step needs an action")
		return
	}
	if step.Flow != nil {
		c.result.AddWarning(path+".flow", schema.ErrCodeValidation, "flow is ignored on a skill step")
	}
	// Remote skills may be mounted after the workflow is defined.
	if c.caps != nil && !c.caps.Has(step.Skill, step.Action) {
		skill := step.Skill
		if skill == "" {
			skill = "system"
		}
		c.result.AddWarning(path+".action", schema.ErrCodeCapability,
			fmt.Sprintf("capability %s.%s is not currently available", skill, step.Action))
	}
}

func (c *semanticChecker) flowStep(step *schema.StepDefinition, kind schema.StepKind, path string) {
	if step.Skill != "" || step.Action != "" {
		c.result.AddWarning(path, schema.ErrCodeValidation,
			fmt.Sprintf("skill and action are ignored on a %s step", kind))
	}
	cfg := step.Flow
	if cfg == nil {
		c.result.AddError(path+".flow", schema.ErrCodeValidation, fmt.Sprintf("%s step needs a flow", kind))
		return
	}
	flowPath := path + ".flow"

	switch kind {
	case schema.StepKindBranch:
		c.requireCondition(cfg, kind, flowPath)
		if len(cfg.Then) == 0 && len(cfg.Else) == 0 {
			c.result.AddWarning(flowPath, schema.ErrCodeValidation, "branch has neither then nor else steps")
		}
	case schema.StepKindForEach:
		if cfg.Items == nil && cfg.ItemsFrom == "" {
			c.result.AddError(flowPath+".items", schema.ErrCodeValidation, "for_each needs items or items_from")
		}
		c.requireBody(cfg, kind, flowPath)
	case schema.StepKindWhile:
		c.requireCondition(cfg, kind, flowPath)
		c.requireBody(cfg, kind, flowPath)
	}

	if kind != schema.StepKindBranch && len(cfg.Else) > 0 {
		c.result.AddWarning(flowPath+".else", schema.ErrCodeValidation, fmt.Sprintf("else is ignored on a %s step", kind))
	}
	if c.ceiling > 0 && cfg.MaxIterations > c.ceiling {
		c.result.AddError(flowPath+".max_iterations", schema.ErrCodeLimitExceeded,
			fmt.Sprintf("max_iterations %d exceeds the ceiling of %d", cfg.MaxIterations, c.ceiling))
	}

	c.steps(cfg.Then, flowPath+".then")
	c.steps(cfg.Else, flowPath+".else")
}

func (c *semanticChecker) requireCondition(cfg *schema.FlowConfig, kind schema.StepKind, path string) {
	if cfg.Condition == "" {
		c.result.AddError(path+".condition", schema.ErrCodeValidation, fmt.Sprintf("%s needs a condition", kind))
		return
	}
	c.condition(cfg.Condition, path+".condition")
}

func (c *semanticChecker) requireBody(cfg *schema.FlowConfig, kind schema.StepKind, path string) {
	if len(cfg.Then) == 0 {
		c.result.AddError(path+".then", schema.ErrCodeValidation, fmt.Sprintf("%s needs at least one body step", kind))
	}
}

func (c *semanticChecker) condition(expr, path string) {
	if expr == "" || c.conditions == nil {
		return
	}
	if err := c.conditions.Compile(expr); err != nil {
		c.result.AddError(path, schema.ErrCodeCondition, err.Error())
	}
}
