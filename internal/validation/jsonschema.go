package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/playbook/pkg/schema"
)

const workflowSchemaURL = "https://playbook.dev/schemas/workflow.json"

// workflowSchemaJSON describes a Workflow as accepted by define.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://playbook.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "id": { "type": "string" },
    "name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 128,
      "pattern": "^[A-Za-z0-9][A-Za-z0-9_.:-]*$"
    },
    "display_name": { "type": "string" },
    "description": { "type": "string" },
    "category": { "type": "string" },
    "tags": { "type": "array", "items": { "type": "string" } },
    "variables": { "type": "object" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "triggers": { "type": "array", "items": { "type": "object" } },
    "author": { "type": "string" },
    "version": { "type": "integer", "minimum": 0 },
    "created_at": { "type": "string" },
    "updated_at": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["skill", "branch", "for_each", "while"]
        },
        "skill": { "type": "string" },
        "action": { "type": "string" },
        "parameters": { "type": "object" },
        "condition": { "type": "string" },
        "parallel": { "type": "boolean" },
        "flow": { "$ref": "#/$defs/flow" }
      },
      "additionalProperties": false
    },
    "flow": {
      "type": "object",
      "properties": {
        "condition": { "type": "string" },
        "then": { "type": "array", "items": { "$ref": "#/$defs/step" } },
        "else": { "type": "array", "items": { "$ref": "#/$defs/step" } },
        "items": { "type": "array" },
        "items_from": { "type": "string" },
        "max_iterations": { "type": "integer", "minimum": 0 },
        "continue_on_error": { "type": "boolean" },
        "parallel": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks workflow structure against workflowSchemaJSON.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &JSONSchemaValidator{workflowSchema: compiled}, nil
}

// Violations validates wf and returns one "path: message" line per leaf
// violation. Nil means the structure is valid.
func (v *JSONSchemaValidator) Violations(wf *schema.Workflow) ([]string, error) {
	doc, err := toJSONValue(wf)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow").WithCause(err)
	}
	err = v.workflowSchema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{"/: " + err.Error()}, nil
	}
	if out := collectViolations(verr); len(out) > 0 {
		return out, nil
	}
	return []string{"/: " + verr.Error()}, nil
}

// ValidateDocument checks a raw decoded document (JSON or YAML) before it is
// bound to a Workflow, so unknown fields are reported instead of dropped.
func (v *JSONSchemaValidator) ValidateDocument(doc map[string]any) error {
	val, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize document").WithCause(err)
	}
	err = v.workflowSchema.Validate(val)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	violations := collectViolations(verr)
	msg := verr.Error()
	if len(violations) == 1 {
		msg = violations[0]
	} else if len(violations) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// toJSONValue round-trips v through encoding/json so numbers become
// json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations flattens a ValidationError tree into leaf messages with
// their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
