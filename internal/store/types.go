package store

import (
	"time"

	"github.com/rendis/playbook/pkg/schema"
)

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Category string `json:"category,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func (f WorkflowFilter) matches(wf *schema.Workflow) bool {
	if f.Category != "" && wf.Category != f.Category {
		return false
	}
	if f.Tag == "" {
		return true
	}
	for _, t := range wf.Tags {
		if t == f.Tag {
			return true
		}
	}
	return false
}

// ExecutionFilter specifies criteria for listing execution records.
// Since is inclusive, Until exclusive; zero values leave the window open.
type ExecutionFilter struct {
	WorkflowName string    `json:"workflow_name,omitempty"`
	Since        time.Time `json:"since,omitempty"`
	Until        time.Time `json:"until,omitempty"`
	Outcome      string    `json:"outcome,omitempty"` // "", all, success, failed, partial
	Limit        int       `json:"limit,omitempty"`
}

func (f ExecutionFilter) matches(rec *schema.ExecutionRecord) bool {
	if f.WorkflowName != "" && rec.WorkflowName != f.WorkflowName {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.Timestamp.Before(f.Until) {
		return false
	}
	return rec.MatchesOutcome(f.Outcome)
}

// ScheduledJob is a cron-triggered run of a named workflow.
type ScheduledJob struct {
	ID             string         `json:"id"`
	WorkflowName   string         `json:"workflow_name"`
	CronExpression string         `json:"cron_expression"`
	Variables      map[string]any `json:"variables,omitempty"`
	Enabled        bool           `json:"enabled"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	LastRunStatus  string         `json:"last_run_status,omitempty"`
	MaxRuns        int            `json:"max_runs,omitempty"` // 0 means unlimited
	RunCount       int            `json:"run_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Exhausted reports whether the job has used up its run budget.
func (j *ScheduledJob) Exhausted() bool {
	return j.MaxRuns > 0 && j.RunCount >= j.MaxRuns
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
	CountRun      bool       `json:"count_run,omitempty"` // increments RunCount
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	WorkflowName string `json:"workflow_name,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

func (f ScheduledJobFilter) matches(job *ScheduledJob) bool {
	if f.Enabled != nil && job.Enabled != *f.Enabled {
		return false
	}
	return f.WorkflowName == "" || job.WorkflowName == f.WorkflowName
}
