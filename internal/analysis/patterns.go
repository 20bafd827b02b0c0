package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/pkg/schema"
)

// Time-of-day buckets.
const (
	SlotMorning   = "morning"
	SlotAfternoon = "afternoon"
	SlotEvening   = "evening"
)

// DefaultMinOccurrences is the suggestion threshold when none is given.
const DefaultMinOccurrences = 3

// TimeSlot buckets t by local hour: before 12 morning, before 17 afternoon,
// otherwise evening.
func TimeSlot(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return SlotMorning
	case h < 17:
		return SlotAfternoon
	}
	return SlotEvening
}

// Patterns are frequency counts mined from a window of history.
type Patterns struct {
	Window          string         `json:"window"`
	TotalExecutions int            `json:"total_executions"`
	Workflows       map[string]int `json:"workflows"`
	TimeSlots       map[string]int `json:"time_slots"`
	Failures        map[string]int `json:"failures"`
	AdHocRuns       int            `json:"ad_hoc_runs"`
	Insights        []string       `json:"insights"`
}

// Rule sources: which frequency table a rule is evaluated against.
const (
	SourceWorkflow = "workflow"
	SourceTimeSlot = "time_slot"
	SourceFailure  = "failure"
	SourceAdHoc    = "adhoc"
)

// Rule turns a frequency count into a suggestion. When is an expr-lang
// predicate over key, count, min_occurrences and total; Text may reference
// the same names as ${key}, ${count}, and so on.
type Rule struct {
	Source   string                `json:"source" mapstructure:"source"`
	Type     schema.SuggestionType `json:"type" mapstructure:"type"`
	Priority schema.Priority       `json:"priority" mapstructure:"priority"`
	When     string                `json:"when" mapstructure:"when"`
	Text     string                `json:"text" mapstructure:"text"`
}

// DefaultRules returns the built-in suggestion rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Source:   SourceWorkflow,
			Type:     schema.SuggestionOptimization,
			Priority: schema.PriorityHigh,
			When:     "count >= min_occurrences",
			Text:     `Consider optimizing "${key}" workflow (used ${count} times)`,
		},
		{
			Source:   SourceTimeSlot,
			Type:     schema.SuggestionScheduling,
			Priority: schema.PriorityMedium,
			When:     "count >= min_occurrences",
			Text:     "Consider scheduling workflows for ${key} (${count} executions)",
		},
		{
			Source:   SourceFailure,
			Type:     schema.SuggestionOptimization,
			Priority: schema.PriorityHigh,
			When:     "count >= min_occurrences",
			Text:     `Recurring failure "${key}" (${count} times): add a condition or a fallback step`,
		},
		{
			Source:   SourceAdHoc,
			Type:     schema.SuggestionTemplate,
			Priority: schema.PriorityLow,
			When:     "count >= min_occurrences",
			Text:     "${count} ad-hoc runs: save the recurring steps as a workflow",
		},
	}
}

// Learner mines execution history for patterns and turns them into ranked
// suggestions. It never mutates workflows or history.
type Learner struct {
	rules  []Rule
	exprs  *expressions.ExprEngine
	loc    *time.Location
	logger *slog.Logger
}

// NewLearner compiles rules (DefaultRules when empty). Time slots are
// computed in loc (time.Local when nil).
func NewLearner(rules []Rule, loc *time.Location, logger *slog.Logger) (*Learner, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Learner{rules: rules, exprs: expressions.NewExprEngine(), loc: loc, logger: logger}
	sample := ruleEnv("", 0, 0, 0)
	for i, r := range rules {
		switch r.Source {
		case SourceWorkflow, SourceTimeSlot, SourceFailure, SourceAdHoc:
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "rule %d: unknown source %q", i, r.Source)
		}
		if r.Priority.Rank() == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "rule %d: unknown priority %q", i, r.Priority)
		}
		if err := l.exprs.Compile(r.When, sample); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return l, nil
}

// Patterns counts workflow runs, time-of-day usage and failure reasons.
// Unnamed runs are counted as ad-hoc rather than as a workflow.
func (l *Learner) Patterns(records []*schema.ExecutionRecord, window string) Patterns {
	p := Patterns{
		Window:          window,
		TotalExecutions: len(records),
		Workflows:       make(map[string]int),
		TimeSlots:       make(map[string]int),
		Failures:        make(map[string]int),
	}
	for _, r := range records {
		if r.WorkflowName == schema.AdHocWorkflow {
			p.AdHocRuns++
		} else {
			p.Workflows[r.WorkflowName]++
		}
		p.TimeSlots[TimeSlot(r.Timestamp.In(l.loc))]++
		if !r.Success {
			p.Failures[failureKey(r)]++
		}
	}

	p.Insights = []string{}
	if top := rankCounts(p.Workflows); len(top) > 0 {
		p.Insights = append(p.Insights, fmt.Sprintf("Most used workflow: %s (%d runs)", top[0].Name, top[0].Count))
	}
	if top := rankCounts(p.TimeSlots); len(top) > 0 {
		p.Insights = append(p.Insights, fmt.Sprintf("Peak usage time: %s", top[0].Name))
	}
	if top := rankCounts(p.Failures); len(top) > 0 {
		p.Insights = append(p.Insights, fmt.Sprintf("Most common failure: %s", top[0].Name))
	}
	return p
}

// Suggest evaluates every rule against the matching frequency table and
// ranks the results: priority high to low, then count descending, then
// reference ascending. A rule that errors at evaluation is skipped and logged.
func (l *Learner) Suggest(ctx context.Context, p Patterns, minOccurrences int) []schema.Suggestion {
	if minOccurrences <= 0 {
		minOccurrences = DefaultMinOccurrences
	}

	out := []schema.Suggestion{}
	for _, rule := range l.rules {
		for _, c := range l.table(rule.Source, p) {
			env := ruleEnv(c.Name, c.Count, minOccurrences, p.TotalExecutions)
			ok, err := l.exprs.Predicate(ctx, rule.When, env)
			if err != nil {
				l.logger.Warn("suggestion rule failed", "source", rule.Source, "when", rule.When, "error", err)
				continue
			}
			if !ok {
				continue
			}

			s := schema.Suggestion{
				Type:     rule.Type,
				Priority: rule.Priority,
				Text:     fmt.Sprint(expressions.InterpolateString(rule.Text, env)),
				Count:    c.Count,
			}
			switch rule.Source {
			case SourceWorkflow:
				s.Workflow = c.Name
			case SourceTimeSlot:
				s.TimeSlot = c.Name
			case SourceFailure:
				s.Failure = c.Name
			case SourceAdHoc:
				s.Workflow = schema.AdHocWorkflow
			}
			out = append(out, s)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if a, b := out[i].Priority.Rank(), out[j].Priority.Rank(); a != b {
			return a > b
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reference() < out[j].Reference()
	})
	return out
}

func (l *Learner) table(source string, p Patterns) []Count {
	switch source {
	case SourceWorkflow:
		return rankCounts(p.Workflows)
	case SourceTimeSlot:
		return rankCounts(p.TimeSlots)
	case SourceFailure:
		return rankCounts(p.Failures)
	case SourceAdHoc:
		if p.AdHocRuns == 0 {
			return nil
		}
		return []Count{{Name: schema.AdHocWorkflow, Count: p.AdHocRuns}}
	}
	return nil
}

func ruleEnv(key string, count, minOccurrences, total int) map[string]any {
	return map[string]any{
		"key":             key,
		"count":           count,
		"min_occurrences": minOccurrences,
		"total":           total,
	}
}
