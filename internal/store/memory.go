package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/playbook/pkg/schema"
)

// MemoryStore is a process-local Store. Values are copied in and out
// through JSON, so callers never share memory with stored records.
type MemoryStore struct {
	mu         sync.RWMutex
	retention  int
	workflows  map[string][]byte
	executions []memExecution
	jobs       map[string]*ScheduledJob
}

type memExecution struct {
	id   string
	rec  *schema.ExecutionRecord
	blob []byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore. retention caps the execution
// history; non-positive means DefaultRetention.
func NewMemoryStore(retention int) *MemoryStore {
	return &MemoryStore{
		retention: retentionOrDefault(retention),
		workflows: make(map[string][]byte),
		jobs:      make(map[string]*ScheduledJob),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

// --- Workflows ---

func (m *MemoryStore) SaveWorkflow(_ context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *schema.Workflow
	if blob, ok := m.workflows[wf.Name]; ok {
		prev = &schema.Workflow{}
		if err := json.Unmarshal(blob, prev); err != nil {
			return nil, err
		}
	}
	saved := nextVersion(prev, wf, time.Now().UTC())
	blob, err := json.Marshal(saved)
	if err != nil {
		return nil, err
	}
	m.workflows[saved.Name] = blob

	out := &schema.Workflow{}
	return out, json.Unmarshal(blob, out)
}

func (m *MemoryStore) GetWorkflow(_ context.Context, name string) (*schema.Workflow, error) {
	m.mu.RLock()
	blob, ok := m.workflows[name]
	m.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("workflow", name)
	}
	wf := &schema.Workflow{}
	return wf, json.Unmarshal(blob, wf)
}

func (m *MemoryStore) ListWorkflows(_ context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.workflows))
	for name := range m.workflows {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*schema.Workflow
	for _, name := range names {
		wf := &schema.Workflow{}
		if err := json.Unmarshal(m.workflows[name], wf); err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		if !filter.matches(wf) {
			continue
		}
		out = append(out, wf)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *MemoryStore) DeleteWorkflow(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[name]; !ok {
		return storeNotFound("workflow", name)
	}
	delete(m.workflows, name)
	return nil
}

// --- Executions ---

func (m *MemoryStore) AppendExecution(_ context.Context, rec *schema.ExecutionRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// rec is kept decoded for filtering; reads still decode blob.
	decoded := &schema.ExecutionRecord{}
	if err := json.Unmarshal(blob, decoded); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.executions {
		if m.executions[i].id == rec.ID {
			return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already recorded", rec.ID)
		}
	}
	m.executions = append(m.executions, memExecution{id: rec.ID, rec: decoded, blob: blob})
	if over := len(m.executions) - m.retention; over > 0 {
		m.executions = append([]memExecution(nil), m.executions[over:]...)
	}
	return nil
}

func (m *MemoryStore) GetExecution(_ context.Context, id string) (*schema.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.executions {
		if m.executions[i].id == id {
			return decodeRecord(string(m.executions[i].blob))
		}
	}
	return nil, storeNotFound("execution", id)
}

func (m *MemoryStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*schema.ExecutionRecord, error) {
	switch filter.Outcome {
	case "", "all", schema.OutcomeSuccess, schema.OutcomeFailed, schema.OutcomePartial:
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "unknown outcome filter %q", filter.Outcome)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.ExecutionRecord
	for i := len(m.executions) - 1; i >= 0; i-- {
		e := m.executions[i]
		if !filter.matches(e.rec) {
			continue
		}
		rec, err := decodeRecord(string(e.blob))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CountExecutions(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.executions), nil
}

func (m *MemoryStore) ClearExecutions(_ context.Context, workflowName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if workflowName == "" {
		n := len(m.executions)
		m.executions = nil
		return n, nil
	}
	kept := m.executions[:0]
	for _, e := range m.executions {
		if e.rec.WorkflowName != workflowName {
			kept = append(kept, e)
		}
	}
	n := len(m.executions) - len(kept)
	m.executions = kept
	return n, nil
}

// --- Scheduled Jobs ---

func (m *MemoryStore) CreateScheduledJob(_ context.Context, job *ScheduledJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = timeOrNow(job.CreatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID)
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *MemoryStore) GetScheduledJob(_ context.Context, id string) (*ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, storeNotFound("scheduled job", id)
	}
	return copyJob(job), nil
}

func (m *MemoryStore) UpdateScheduledJob(_ context.Context, id string, update ScheduledJobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return storeNotFound("scheduled job", id)
	}
	if update.Enabled != nil {
		job.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		t := *update.LastRunAt
		job.LastRunAt = &t
	}
	if update.NextRunAt != nil {
		t := *update.NextRunAt
		job.NextRunAt = &t
	}
	if update.LastRunStatus != "" {
		job.LastRunStatus = update.LastRunStatus
	}
	if update.CountRun {
		job.RunCount++
	}
	return nil
}

func (m *MemoryStore) ListScheduledJobs(_ context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ScheduledJob
	for _, job := range m.jobs {
		if filter.matches(job) {
			out = append(out, copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteScheduledJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return storeNotFound("scheduled job", id)
	}
	delete(m.jobs, id)
	return nil
}

func copyJob(job *ScheduledJob) *ScheduledJob {
	cp := *job
	if job.Variables != nil {
		cp.Variables = make(map[string]any, len(job.Variables))
		for k, v := range job.Variables {
			cp.Variables[k] = v
		}
	}
	if job.LastRunAt != nil {
		t := *job.LastRunAt
		cp.LastRunAt = &t
	}
	if job.NextRunAt != nil {
		t := *job.NextRunAt
		cp.NextRunAt = &t
	}
	return &cp
}
