package service

import (
	"context"

	"github.com/rendis/playbook/internal/analysis"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

// HistoryQuery selects execution records. Where is an optional CEL predicate
// over `record` (workflow, success, status, duration_ms, steps_run,
// failed_steps, success_rate, hour, variables).
type HistoryQuery struct {
	WorkflowName   string `json:"workflow_name,omitempty"`
	Window         string `json:"window,omitempty"`  // hour, day, week, month, all
	Outcome        string `json:"outcome,omitempty"` // all, success, failed, partial
	Where          string `json:"where,omitempty"`
	Limit          int    `json:"limit,omitempty"` // default 50
	IncludeDetails bool   `json:"include_details,omitempty"`
}

// HistoryResult holds summaries, or full records with IncludeDetails.
type HistoryResult struct {
	Count      int                       `json:"count"`
	Executions []schema.ExecutionSummary `json:"executions,omitempty"`
	Records    []*schema.ExecutionRecord `json:"records,omitempty"`
}

// History returns matching records newest first.
func (s *Service) History(ctx context.Context, q HistoryQuery) (*HistoryResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	records, err := s.query(ctx, q, limit)
	if err != nil {
		return nil, err
	}

	out := &HistoryResult{Count: len(records)}
	if q.IncludeDetails {
		out.Records = records
		return out, nil
	}
	out.Executions = make([]schema.ExecutionSummary, 0, len(records))
	for _, r := range records {
		out.Executions = append(out.Executions, r.Summary())
	}
	return out, nil
}

// AnalyzeHistory aggregates every record matching q, ignoring q.Limit.
func (s *Service) AnalyzeHistory(ctx context.Context, q HistoryQuery) (*analysis.HistorySummary, error) {
	records, err := s.query(ctx, q, 0)
	if err != nil {
		return nil, err
	}
	sum := analysis.Summarize(records)
	return &sum, nil
}

// ClearHistory deletes execution records, all of them when workflowName is
// empty, and returns how many were removed.
func (s *Service) ClearHistory(ctx context.Context, workflowName string) (int, error) {
	n, err := s.store.ClearExecutions(ctx, workflowName)
	if err != nil {
		return 0, storeErr("clear executions", err)
	}
	s.logger.Info("history cleared", "workflow", workflowName, "removed", n)
	return n, nil
}

func (s *Service) query(ctx context.Context, q HistoryQuery, limit int) ([]*schema.ExecutionRecord, error) {
	since, err := analysis.WindowStart(q.Window, s.now())
	if err != nil {
		return nil, err
	}
	if q.Where != "" {
		if err := s.cel.Compile(q.Where); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "invalid where filter: %v", err).WithCause(err)
		}
	}

	filter := store.ExecutionFilter{WorkflowName: q.WorkflowName, Since: since, Outcome: q.Outcome}
	if q.Where == "" {
		filter.Limit = limit
	}
	records, err := s.store.ListExecutions(ctx, filter)
	if err != nil {
		return nil, storeErr("list executions", err)
	}
	if q.Where == "" {
		return records, nil
	}

	out := make([]*schema.ExecutionRecord, 0, len(records))
	for _, r := range records {
		ok, err := s.cel.Matches(ctx, q.Where, celRecord(r))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func celRecord(r *schema.ExecutionRecord) map[string]any {
	vars := r.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	return map[string]any{
		"id":           r.ID,
		"workflow":     r.WorkflowName,
		"success":      r.Success,
		"status":       string(r.Status),
		"duration_ms":  r.DurationMs,
		"steps_run":    int64(len(r.Results)),
		"failed_steps": int64(r.Analysis.FailedSteps),
		"success_rate": r.Analysis.SuccessRate,
		"hour":         int64(r.Timestamp.Hour()),
		"variables":    vars,
	}
}

// Patterns mines the history window for usage patterns.
func (s *Service) Patterns(ctx context.Context, window string) (*analysis.Patterns, error) {
	records, err := s.learningRecords(ctx, window)
	if err != nil {
		return nil, err
	}
	p := s.learner.Patterns(records, window)
	return &p, nil
}

// Suggestions returns ranked suggestions for the window. Counts below
// minOccurrences (default 3) produce nothing.
func (s *Service) Suggestions(ctx context.Context, window string, minOccurrences int) ([]schema.Suggestion, error) {
	p, err := s.Patterns(ctx, window)
	if err != nil {
		return nil, err
	}
	return s.learner.Suggest(ctx, *p, minOccurrences), nil
}

func (s *Service) learningRecords(ctx context.Context, window string) ([]*schema.ExecutionRecord, error) {
	if !s.learningEnabled {
		return nil, schema.NewError(schema.ErrCodeLearningDisabled, "pattern learning is disabled")
	}
	if window == "" {
		window = analysis.WindowWeek
	}
	since, err := analysis.WindowStart(window, s.now())
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListExecutions(ctx, store.ExecutionFilter{Since: since})
	return records, storeErr("list executions", err)
}
