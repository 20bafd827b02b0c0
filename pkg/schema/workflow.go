package schema

import "time"

// AdHocWorkflow is the workflow name recorded for runs of inline step lists.
const AdHocWorkflow = "ad-hoc"

// Workflow is a named, versioned playbook definition.
// Re-defining a workflow with the same name keeps its ID and creation time,
// bumps Version and replaces Steps as a whole.
type Workflow struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name,omitempty"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Variables   map[string]any   `json:"variables,omitempty"`
	Steps       []StepDefinition `json:"steps"`
	Triggers    []map[string]any `json:"triggers,omitempty"` // opaque to the engine
	Author      string           `json:"author,omitempty"`
	Version     int              `json:"version"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// StepKind discriminates the step union.
type StepKind string

const (
	StepKindSkill   StepKind = "skill"
	StepKindBranch  StepKind = "branch"
	StepKindForEach StepKind = "for_each"
	StepKindWhile   StepKind = "while"
)

// IsControlFlow reports whether the kind carries a nested step list.
func (k StepKind) IsControlFlow() bool {
	return k == StepKindBranch || k == StepKindForEach || k == StepKindWhile
}

// StepDefinition is one unit of work. A skill step invokes Skill.Action with
// Parameters; a control-flow step (branch, for_each, while) runs Flow's nested
// step lists through the engine.
type StepDefinition struct {
	Name       string         `json:"name"`
	Kind       StepKind       `json:"kind,omitempty"` // default: skill
	Skill      string         `json:"skill,omitempty"`
	Action     string         `json:"action,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Condition  string         `json:"condition,omitempty"`
	Parallel   bool           `json:"parallel,omitempty"`
	Flow       *FlowConfig    `json:"flow,omitempty"`
}

// ResolvedKind returns the step's kind, defaulting to skill.
func (s *StepDefinition) ResolvedKind() StepKind {
	if s.Kind == "" {
		return StepKindSkill
	}
	return s.Kind
}

// FlowConfig is the body of a control-flow step.
type FlowConfig struct {
	Condition       string           `json:"condition,omitempty"`
	Then            []StepDefinition `json:"then,omitempty"`
	Else            []StepDefinition `json:"else,omitempty"`
	Items           []any            `json:"items,omitempty"`
	ItemsFrom       string           `json:"items_from,omitempty"` // variable or step result holding the items
	MaxIterations   int              `json:"max_iterations,omitempty"`
	ContinueOnError bool             `json:"continue_on_error,omitempty"`
	Parallel        bool             `json:"parallel,omitempty"`
}

// RunStatus is the terminal state of an engine run or control-flow construct.
type RunStatus string

const (
	RunCompleted      RunStatus = "completed"
	RunStoppedOnError RunStatus = "stopped_on_error"
	RunCapped         RunStatus = "capped"
	RunCancelled      RunStatus = "cancelled"
)

// StepResult is the immutable outcome of one step in one run.
type StepResult struct {
	Step       string         `json:"step"`
	Kind       StepKind       `json:"kind,omitempty"`
	Skill      string         `json:"skill,omitempty"`
	Action     string         `json:"action,omitempty"`
	Success    bool           `json:"success"`
	Skipped    bool           `json:"skipped,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Diagnostic string         `json:"diagnostic,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMs int64          `json:"duration_ms"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Iteration  *int           `json:"iteration,omitempty"`
	Status     RunStatus      `json:"status,omitempty"`
	Children   []StepResult   `json:"children,omitempty"`
}

// Failed reports whether the step ran and did not succeed.
func (r *StepResult) Failed() bool {
	return !r.Success && !r.Skipped
}

// Bottleneck is a step whose duration exceeded twice the run average.
type Bottleneck struct {
	Step       string `json:"step"`
	DurationMs int64  `json:"duration_ms"`
}

// PerformanceAnalysis summarizes one run's step results.
type PerformanceAnalysis struct {
	TotalSteps        int          `json:"total_steps"`
	SuccessfulSteps   int          `json:"successful_steps"`
	FailedSteps       int          `json:"failed_steps"`
	SkippedSteps      int          `json:"skipped_steps"`
	SuccessRate       float64      `json:"success_rate"`
	TotalDurationMs   int64        `json:"total_duration_ms"`
	AverageDurationMs float64      `json:"average_duration_ms"`
	Bottlenecks       []Bottleneck `json:"bottlenecks,omitempty"`
}

// ExecutionRecord is the durable summary of one completed run.
type ExecutionRecord struct {
	ID              string              `json:"id"`
	WorkflowName    string              `json:"workflow_name"`
	WorkflowVersion int                 `json:"workflow_version,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
	DurationMs      int64               `json:"duration_ms"`
	Success         bool                `json:"success"`
	Status          RunStatus           `json:"status"`
	StoppedAfter    string              `json:"stopped_after,omitempty"`
	Incomplete      bool                `json:"incomplete,omitempty"`
	Results         []StepResult        `json:"results"`
	Analysis        PerformanceAnalysis `json:"analysis"`
	Variables       map[string]any      `json:"variables,omitempty"`
}

// Outcome classes used by history filters.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomePartial = "partial"
)

// MatchesOutcome reports whether the record falls in the outcome class.
// Partial runs are also failed runs.
func (r *ExecutionRecord) MatchesOutcome(outcome string) bool {
	switch outcome {
	case "", "all":
		return true
	case OutcomeSuccess:
		return r.Success
	case OutcomeFailed:
		return !r.Success
	case OutcomePartial:
		return r.Analysis.FailedSteps > 0 && r.Analysis.SuccessfulSteps > 0
	}
	return false
}

// FailureReason returns the error of the first failed step, or "".
func (r *ExecutionRecord) FailureReason() string {
	for i := range r.Results {
		if r.Results[i].Failed() {
			if r.Results[i].Error != "" {
				return r.Results[i].Error
			}
			return "step " + r.Results[i].Step + " failed"
		}
	}
	return ""
}

// Summary drops step detail from the record.
func (r *ExecutionRecord) Summary() ExecutionSummary {
	return ExecutionSummary{
		ID:           r.ID,
		WorkflowName: r.WorkflowName,
		Timestamp:    r.Timestamp,
		DurationMs:   r.DurationMs,
		Success:      r.Success,
		Status:       r.Status,
		StepsRun:     len(r.Results),
		FailedSteps:  r.Analysis.FailedSteps,
		SuccessRate:  r.Analysis.SuccessRate,
	}
}

// ExecutionSummary is an ExecutionRecord without step detail.
type ExecutionSummary struct {
	ID           string    `json:"id"`
	WorkflowName string    `json:"workflow_name"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMs   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	Status       RunStatus `json:"status"`
	StepsRun     int       `json:"steps_run"`
	FailedSteps  int       `json:"failed_steps"`
	SuccessRate  float64   `json:"success_rate"`
}

// SuggestionType categorizes an advisory suggestion.
type SuggestionType string

const (
	SuggestionOptimization SuggestionType = "optimization"
	SuggestionScheduling   SuggestionType = "scheduling"
	SuggestionTemplate     SuggestionType = "template"
)

// Priority ranks suggestions; higher Rank sorts first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities high > medium > low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Suggestion is advisory output of the pattern learner. Never persisted.
type Suggestion struct {
	Type     SuggestionType `json:"type"`
	Priority Priority       `json:"priority"`
	Text     string         `json:"suggestion"`
	Workflow string         `json:"workflow,omitempty"`
	TimeSlot string         `json:"time_slot,omitempty"`
	Failure  string         `json:"failure,omitempty"`
	Count    int            `json:"count"`
}

// Reference names what the suggestion concerns: a workflow, a time slot
// or a failure reason.
func (s *Suggestion) Reference() string {
	switch {
	case s.Workflow != "":
		return s.Workflow
	case s.TimeSlot != "":
		return s.TimeSlot
	}
	return s.Failure
}
