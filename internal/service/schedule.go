package service

import (
	"context"

	"github.com/rendis/playbook/internal/scheduler"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

// ScheduleRequest creates a cron-driven run of a stored workflow.
type ScheduleRequest struct {
	WorkflowName   string         `json:"workflow_name"`
	CronExpression string         `json:"cron_expression"`
	Variables      map[string]any `json:"variables,omitempty"`
	MaxRuns        int            `json:"max_runs,omitempty"`
}

// Schedule stores an enabled job whose first run is the next cron activation.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*store.ScheduledJob, error) {
	if req.MaxRuns < 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "max_runs must not be negative")
	}
	if _, err := s.GetWorkflow(ctx, req.WorkflowName); err != nil {
		return nil, err
	}
	now := s.now()
	next, err := scheduler.NextRun(req.CronExpression, now)
	if err != nil {
		return nil, err
	}

	job := &store.ScheduledJob{
		WorkflowName:   req.WorkflowName,
		CronExpression: req.CronExpression,
		Variables:      req.Variables,
		Enabled:        true,
		NextRunAt:      &next,
		MaxRuns:        req.MaxRuns,
		CreatedAt:      now,
	}
	if err := s.store.CreateScheduledJob(ctx, job); err != nil {
		return nil, storeErr("create scheduled job", err)
	}
	s.logger.Info("workflow scheduled", "workflow", job.WorkflowName, "job_id", job.ID, "next_run", next)
	return job, nil
}

// ListSchedules returns scheduled jobs, optionally for one workflow.
func (s *Service) ListSchedules(ctx context.Context, workflowName string) ([]*store.ScheduledJob, error) {
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{WorkflowName: workflowName})
	if err != nil {
		return nil, storeErr("list scheduled jobs", err)
	}
	if jobs == nil {
		jobs = []*store.ScheduledJob{}
	}
	return jobs, nil
}

// Unschedule deletes a scheduled job.
func (s *Service) Unschedule(ctx context.Context, id string) error {
	return storeErr("delete scheduled job", s.store.DeleteScheduledJob(ctx, id))
}
