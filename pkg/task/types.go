// Package task defines the task data model: tasks, specs, plans, step
// results, criteria, and the terminal task result. Values are created once
// and never mutated after completion.
package task

import (
	"time"

	"github.com/google/uuid"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/trace"
)

// Task is an immutable unit of work submitted by a host.
type Task struct {
	ID           string        `json:"id"`
	Description  string        `json:"description"`
	BudgetPreset budget.Preset `json:"budget_preset,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// New creates a task with a fresh ID.
func New(description string) Task {
	return Task{
		ID:          uuid.NewString(),
		Description: description,
		CreatedAt:   time.Now(),
	}
}

// ============================================================================
// SPEC
// ============================================================================

// CriterionType enumerates how a success criterion is checked.
type CriterionType string

const (
	CriterionFileExists     CriterionType = "file_exists"
	CriterionOutputContains CriterionType = "output_contains"
	CriterionToolSucceeded  CriterionType = "tool_succeeded"
	CriterionPageState      CriterionType = "page_state"
	CriterionCustom         CriterionType = "custom"
)

// SuccessCriterion is one verifiable condition of task success.
type SuccessCriterion struct {
	Description string         `json:"description"`
	Type        CriterionType  `json:"type"`
	Check       map[string]any `json:"check,omitempty"`
}

// Spec is the task specification produced before planning.
type Spec struct {
	Goal            string             `json:"goal"`
	Constraints     []string           `json:"constraints"`
	SuccessCriteria []SuccessCriterion `json:"success_criteria"`
}

// ============================================================================
// PLAN
// ============================================================================

// StepStrategy annotates browser-family steps with an interaction approach.
type StepStrategy struct {
	Primary       string   `json:"primary"` // "dom", "vision", or "api"
	FallbackChain []string `json:"fallback_chain,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// PlanStep is one tool-mediated step of a plan.
type PlanStep struct {
	Index       int            `json:"index"`
	Description string         `json:"description"`
	ToolName    string         `json:"tool_name"`
	ToolArgs    map[string]any `json:"tool_args,omitempty"`
	Strategy    *StepStrategy  `json:"strategy,omitempty"`
}

// Plan is an ordered sequence of steps. Steps are indexed 0..n-1 in intended
// execution order; an empty plan is valid for pure knowledge tasks.
type Plan struct {
	TaskID     string     `json:"task_id"`
	Complexity float64    `json:"complexity"`
	Steps      []PlanStep `json:"steps"`
}

// ============================================================================
// RESULTS
// ============================================================================

// StepResult records one attempted step.
type StepResult struct {
	StepIndex  int            `json:"step_index"`
	ToolName   string         `json:"tool_name"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Success    bool           `json:"success"`
	Duration   time.Duration  `json:"duration_ms"`
	Confidence *float64       `json:"confidence,omitempty"`
}

// CriteriaResult records the evaluation of one success criterion.
type CriteriaResult struct {
	Criterion SuccessCriterion `json:"criterion"`
	Met       bool             `json:"met"`
	Evidence  string           `json:"evidence,omitempty"`
}

// IssueSeverity grades a simulation finding.
type IssueSeverity string

const (
	SeverityHigh   IssueSeverity = "high"
	SeverityMedium IssueSeverity = "medium"
	SeverityInfo   IssueSeverity = "info"
)

// SimulationIssue is one static-validation finding against a plan.
type SimulationIssue struct {
	Kind      string        `json:"kind"` // missing_tool, invalid_args, missing_dependency, high_risk
	Severity  IssueSeverity `json:"severity"`
	StepIndex int           `json:"step_index"`
	Message   string        `json:"message"`
}

// SimulationReport is the outcome of statically validating a plan.
type SimulationReport struct {
	Valid           bool              `json:"valid"`
	Issues          []SimulationIssue `json:"issues,omitempty"`
	EstimatedBudget budget.Usage      `json:"estimated_budget"`
}

// Status is the terminal state of a task.
type Status string

const (
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusBudgetExhausted Status = "budget_exhausted"
)

// Result is the terminal outcome of a task. Every terminal path yields one;
// an operator reading only the result can distinguish success, budget
// exhaustion, validation failure, and unrecoverable error.
type Result struct {
	ID              string                `json:"id"`
	TaskID          string                `json:"task_id"`
	TraceID         string                `json:"trace_id"`
	Status          Status                `json:"status"`
	Spec            *Spec                 `json:"spec,omitempty"`
	Plan            *Plan                 `json:"plan,omitempty"`
	StepResults     []StepResult          `json:"step_results,omitempty"`
	Answer          string                `json:"result,omitempty"`
	Error           string                `json:"error,omitempty"`
	CriteriaResults []CriteriaResult      `json:"criteria_results,omitempty"`
	Simulation      *SimulationReport     `json:"simulation_result,omitempty"`
	BudgetUsed      budget.Usage          `json:"budget_used"`
	Trace           *trace.ExecutionTrace `json:"trace,omitempty"`
	CompletedAt     time.Time             `json:"completed_at"`
}
