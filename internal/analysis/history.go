package analysis

import (
	"sort"

	"github.com/rendis/playbook/pkg/schema"
)

// Count is a named occurrence count.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// HistorySummary aggregates a slice of execution records.
type HistorySummary struct {
	TotalExecutions   int     `json:"total_executions"`
	SuccessRate       float64 `json:"success_rate"`
	AverageDurationMs float64 `json:"average_duration_ms"`
	MostUsedWorkflows []Count `json:"most_used_workflows"`
	CommonErrors      []Count `json:"common_errors"`
}

// Summarize aggregates records. An empty slice yields zero rates.
func Summarize(records []*schema.ExecutionRecord) HistorySummary {
	s := HistorySummary{
		TotalExecutions:   len(records),
		MostUsedWorkflows: []Count{},
		CommonErrors:      []Count{},
	}
	if len(records) == 0 {
		return s
	}

	workflows := make(map[string]int)
	errs := make(map[string]int)
	var succeeded int
	var totalMs int64
	for _, r := range records {
		workflows[r.WorkflowName]++
		totalMs += r.DurationMs
		if r.Success {
			succeeded++
			continue
		}
		errs[failureKey(r)]++
	}

	s.SuccessRate = float64(succeeded) / float64(len(records)) * 100
	s.AverageDurationMs = float64(totalMs) / float64(len(records))
	s.MostUsedWorkflows = rankCounts(workflows)
	s.CommonErrors = rankCounts(errs)
	return s
}

// rankCounts orders by count desc, then name asc.
func rankCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// failureKey names why a failed run failed.
func failureKey(r *schema.ExecutionRecord) string {
	if reason := r.FailureReason(); reason != "" {
		return reason
	}
	return "run " + string(r.Status)
}
