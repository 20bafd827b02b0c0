package service

import (
	"context"

	"github.com/rendis/playbook/internal/analysis"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/internal/templates"
	"github.com/rendis/playbook/pkg/schema"
)

// DefineResult is a stored workflow plus any non-fatal validation warnings.
type DefineResult struct {
	Workflow *schema.Workflow        `json:"workflow"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
	Created  bool                    `json:"created"`
}

// Define validates wf and stores it. Re-defining a name replaces its steps
// and bumps the version. Invalid definitions are never stored.
func (s *Service) Define(ctx context.Context, wf *schema.Workflow) (*DefineResult, error) {
	result := s.validator.Validate(wf)
	if err := result.ToError(); err != nil {
		return nil, err
	}

	saved, err := s.store.SaveWorkflow(ctx, wf)
	if err != nil {
		return nil, storeErr("save workflow", err)
	}
	s.logger.Info("workflow defined", "workflow", saved.Name, "version", saved.Version, "steps", len(saved.Steps))
	return &DefineResult{Workflow: saved, Warnings: result.Warnings, Created: saved.Version == 1}, nil
}

// GetWorkflow returns a stored workflow by name.
func (s *Service) GetWorkflow(ctx context.Context, name string) (*schema.Workflow, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "workflow name is required")
	}
	wf, err := s.store.GetWorkflow(ctx, name)
	return wf, storeErr("get workflow", err)
}

// ListWorkflows returns stored workflows matching filter.
func (s *Service) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, error) {
	wfs, err := s.store.ListWorkflows(ctx, filter)
	if err != nil {
		return nil, storeErr("list workflows", err)
	}
	if wfs == nil {
		wfs = []*schema.Workflow{}
	}
	return wfs, nil
}

// DeleteWorkflow removes a workflow. Its history is kept.
func (s *Service) DeleteWorkflow(ctx context.Context, name string) error {
	return storeErr("delete workflow", s.store.DeleteWorkflow(ctx, name))
}

// OptimizeResult reports improvement opportunities and, when applied, the
// re-defined workflow.
type OptimizeResult struct {
	Workflow      *schema.Workflow        `json:"workflow"`
	Optimizations []analysis.Optimization `json:"optimizations"`
	Applied       bool                    `json:"applied"`
}

// Optimize analyzes a stored workflow. With apply, parallelizable steps get
// the parallel hint and the workflow is re-defined under a new version.
func (s *Service) Optimize(ctx context.Context, name string, apply bool) (*OptimizeResult, error) {
	wf, err := s.GetWorkflow(ctx, name)
	if err != nil {
		return nil, err
	}
	out := &OptimizeResult{Workflow: wf, Optimizations: analysis.Optimize(wf)}
	if !apply {
		return out, nil
	}

	optimized, changed := analysis.ApplyOptimizations(wf)
	if !changed {
		return out, nil
	}
	def, err := s.Define(ctx, optimized)
	if err != nil {
		return nil, err
	}
	out.Workflow = def.Workflow
	out.Applied = true
	return out, nil
}

// ListTemplates returns built-in templates in category ("" or "all" for all).
func (s *Service) ListTemplates(category string) []templates.Summary {
	return s.templates.List(category)
}

// GetTemplate returns a template's workflow definition.
func (s *Service) GetTemplate(id string) (*schema.Workflow, error) {
	return s.templates.Get(id)
}

// InstallTemplate defines template id as a workflow named name (the template
// ID when empty), with overrides merged into its default variables.
func (s *Service) InstallTemplate(ctx context.Context, id, name string, overrides map[string]any) (*DefineResult, error) {
	wf, err := s.templates.Instantiate(id, name, overrides)
	if err != nil {
		return nil, err
	}
	return s.Define(ctx, wf)
}
