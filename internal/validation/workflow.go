package validation

import (
	"github.com/rendis/playbook/pkg/schema"
)

// Options configures a WorkflowValidator. Nil lookups skip their checks.
type Options struct {
	Capabilities         CapabilityLookup
	Conditions           ConditionCompiler
	MaxIterationsCeiling int
}

// WorkflowValidator runs the three validation stages:
// 1. Structural (JSON Schema)
// 2. Semantic (capabilities, conditions, control-flow bodies, names)
// 3. Data flow (placeholder references between steps)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	opts       Options
}

// NewWorkflowValidator creates a WorkflowValidator.
func NewWorkflowValidator(opts Options) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, opts: opts}, nil
}

// Schema exposes the structural validator.
func (wv *WorkflowValidator) Schema() *JSONSchemaValidator {
	return wv.jsonSchema
}

// Validate runs every stage and returns the aggregated result. Structural
// errors short-circuit; data flow only runs on a semantically valid tree.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if wf == nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return result
	}

	violations, err := wv.jsonSchema.Violations(wf)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	for _, v := range violations {
		result.AddError("/", schema.ErrCodeValidation, v)
	}
	if !result.Valid() {
		return result
	}

	sc := &semanticChecker{
		caps:       wv.opts.Capabilities,
		conditions: wv.opts.Conditions,
		ceiling:    wv.opts.MaxIterationsCeiling,
		result:     result,
	}
	sc.workflow(wf)

	if result.Valid() {
		result.Merge(validateDataFlow(wf.Steps, "steps"))
	}
	return result
}

// ValidateWorkflow satisfies Validator.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) error {
	return wv.Validate(wf).ToError()
}

var _ Validator = (*WorkflowValidator)(nil)
