package store

import (
	"context"

	"github.com/rendis/playbook/pkg/schema"
)

// DefaultRetention is the number of execution records kept when none is configured.
const DefaultRetention = 1000

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows, keyed by name. SaveWorkflow assigns the version: a new
	// name starts at 1, a re-definition keeps ID and CreatedAt, bumps the
	// version and replaces the steps.
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error)
	GetWorkflow(ctx context.Context, name string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, name string) error

	// Execution history (append-only, retention-capped). AppendExecution
	// evicts the oldest records beyond the retention count in the same
	// transaction. ListExecutions returns newest first.
	AppendExecution(ctx context.Context, rec *schema.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*schema.ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.ExecutionRecord, error)
	CountExecutions(ctx context.Context) (int, error)
	ClearExecutions(ctx context.Context, workflowName string) (int, error)

	// Scheduled runs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func retentionOrDefault(n int) int {
	if n <= 0 {
		return DefaultRetention
	}
	return n
}
