// Package validation checks workflow definitions before they are stored:
// structure against a JSON Schema, then semantics (capabilities, conditions,
// control-flow bodies), then data flow between steps.
package validation

import "github.com/rendis/playbook/pkg/schema"

// Validator checks workflow definitions for correctness before storage.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
}

// CapabilityLookup reports whether skill.action can be invoked.
type CapabilityLookup interface {
	Has(skill, action string) bool
}

// ConditionCompiler parses a condition without evaluating it.
type ConditionCompiler interface {
	Compile(expression string) error
}
