package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/pkg/schema"
)

func TestTimeSlot(t *testing.T) {
	day := func(h int) time.Time { return time.Date(2026, 10, 14, h, 30, 0, 0, time.UTC) }
	assert.Equal(t, SlotMorning, TimeSlot(day(0)))
	assert.Equal(t, SlotMorning, TimeSlot(day(11)))
	assert.Equal(t, SlotAfternoon, TimeSlot(day(12)))
	assert.Equal(t, SlotAfternoon, TimeSlot(day(16)))
	assert.Equal(t, SlotEvening, TimeSlot(day(17)))
	assert.Equal(t, SlotEvening, TimeSlot(day(23)))
}

func newTestLearner(t *testing.T, rules []Rule) *Learner {
	t.Helper()
	l, err := NewLearner(rules, time.UTC, nil)
	require.NoError(t, err)
	return l
}

func TestLearner_Patterns(t *testing.T) {
	morning := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC)
	records := []*schema.ExecutionRecord{
		record("standup", true, morning, ""),
		record("standup", true, morning, ""),
		record("standup", false, morning, "timeout"),
		record(schema.AdHocWorkflow, true, evening, ""),
	}

	p := newTestLearner(t, nil).Patterns(records, WindowWeek)
	assert.Equal(t, WindowWeek, p.Window)
	assert.Equal(t, 4, p.TotalExecutions)
	assert.Equal(t, map[string]int{"standup": 3}, p.Workflows)
	assert.Equal(t, map[string]int{SlotMorning: 3, SlotEvening: 1}, p.TimeSlots)
	assert.Equal(t, map[string]int{"timeout": 1}, p.Failures)
	assert.Equal(t, 1, p.AdHocRuns)
	assert.Contains(t, p.Insights, "Most used workflow: standup (3 runs)")
	assert.Contains(t, p.Insights, "Peak usage time: morning")
}

func TestLearner_SuggestRanking(t *testing.T) {
	morning := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	var records []*schema.ExecutionRecord
	for i := 0; i < 5; i++ {
		records = append(records, record("zeta", true, morning, ""))
	}
	for i := 0; i < 3; i++ {
		records = append(records, record("alpha", true, morning, ""))
		records = append(records, record("beta", true, morning, ""))
	}
	records = append(records, record("rare", true, morning, ""))

	l := newTestLearner(t, nil)
	got := l.Suggest(context.Background(), l.Patterns(records, WindowAll), 3)

	require.Len(t, got, 4)
	assert.Equal(t, "zeta", got[0].Workflow)
	assert.Equal(t, schema.PriorityHigh, got[0].Priority)
	assert.Equal(t, `Consider optimizing "zeta" workflow (used 5 times)`, got[0].Text)
	assert.Equal(t, "alpha", got[1].Workflow)
	assert.Equal(t, "beta", got[2].Workflow)

	assert.Equal(t, schema.SuggestionScheduling, got[3].Type)
	assert.Equal(t, schema.PriorityMedium, got[3].Priority)
	assert.Equal(t, SlotMorning, got[3].TimeSlot)
	assert.Equal(t, 12, got[3].Count)
	assert.Equal(t, "Consider scheduling workflows for morning (12 executions)", got[3].Text)
}

func TestLearner_SuggestFailuresAndAdHoc(t *testing.T) {
	evening := time.Date(2026, 10, 14, 19, 0, 0, 0, time.UTC)
	var records []*schema.ExecutionRecord
	for i := 0; i < 2; i++ {
		records = append(records, record("sync", false, evening, "network down"))
		records = append(records, record(schema.AdHocWorkflow, true, evening, ""))
	}

	l := newTestLearner(t, nil)
	got := l.Suggest(context.Background(), l.Patterns(records, WindowAll), 2)

	byType := map[string]schema.Suggestion{}
	for _, s := range got {
		byType[s.Reference()] = s
	}
	require.Contains(t, byType, "network down")
	assert.Equal(t, schema.PriorityHigh, byType["network down"].Priority)
	require.Contains(t, byType, schema.AdHocWorkflow)
	assert.Equal(t, schema.SuggestionTemplate, byType[schema.AdHocWorkflow].Type)
	assert.Equal(t, schema.PriorityLow, got[len(got)-1].Priority)
}

func TestLearner_BelowThreshold(t *testing.T) {
	at := time.Date(2026, 10, 14, 13, 0, 0, 0, time.UTC)
	l := newTestLearner(t, nil)
	p := l.Patterns([]*schema.ExecutionRecord{record("once", true, at, "")}, WindowAll)
	assert.Empty(t, l.Suggest(context.Background(), p, 0))
}

func TestLearner_CustomRule(t *testing.T) {
	l := newTestLearner(t, []Rule{{
		Source:   SourceWorkflow,
		Type:     schema.SuggestionTemplate,
		Priority: schema.PriorityLow,
		When:     `count * 2 > total && key != "ignored"`,
		Text:     "${key} dominates",
	}})

	at := time.Date(2026, 10, 14, 13, 0, 0, 0, time.UTC)
	records := []*schema.ExecutionRecord{
		record("main", true, at, ""),
		record("main", true, at, ""),
		record("other", true, at, ""),
	}
	got := l.Suggest(context.Background(), l.Patterns(records, WindowAll), 1)
	require.Len(t, got, 1)
	assert.Equal(t, "main dominates", got[0].Text)
}

func TestNewLearner_RejectsBadRules(t *testing.T) {
	cases := map[string]Rule{
		"source":   {Source: "weather", Priority: schema.PriorityLow, When: "true"},
		"priority": {Source: SourceWorkflow, Priority: "urgent", When: "true"},
		"syntax":   {Source: SourceWorkflow, Priority: schema.PriorityLow, When: "count >="},
	}
	for name, rule := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLearner([]Rule{rule}, nil, nil)
			assert.Error(t, err)
		})
	}
}
