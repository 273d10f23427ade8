// Package simulator statically validates execution plans before any step
// runs: unknown tools, schema-invalid arguments, ordering dependencies, and
// risky operations. It never dry-runs the steps themselves.
package simulator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/task"
	"github.com/ampere-run/ampere/pkg/tools"
)

// Tools matching these names are flagged as high risk regardless of tags.
var highRiskTools = map[string]bool{
	"file_write":    true,
	"file_delete":   true,
	"shell_exec":    true,
	"command_exec":  true,
	"os_automation": true,
}

// Browser actions that require a prior navigation in the same plan.
var browserActionsNeedingNavigation = map[string]bool{
	"browser_click":      true,
	"browser_type":       true,
	"browser_extract":    true,
	"browser_evaluate":   true,
	"browser_screenshot": true,
}

// Tokens assumed per surviving step when estimating plan cost.
const estimatedTokensPerStep = 500

// Simulator validates plans against the tool registry.
type Simulator struct {
	tools  *tools.Registry
	logger *slog.Logger
}

// New creates a simulator over the given registry.
func New(registry *tools.Registry, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{tools: registry, logger: logger}
}

// Simulate produces a report over the plan. The report is valid iff no
// high-severity issue was found.
func (s *Simulator) Simulate(plan *task.Plan) *task.SimulationReport {
	report := &task.SimulationReport{Valid: true}

	navigated := false
	for _, step := range plan.Steps {
		if step.ToolName == "browser_navigate" {
			navigated = true
		}

		tool, err := s.tools.GetTool(step.ToolName)
		if err != nil {
			report.Issues = append(report.Issues, task.SimulationIssue{
				Kind:      "missing_tool",
				Severity:  task.SeverityHigh,
				StepIndex: step.Index,
				Message:   fmt.Sprintf("tool '%s' is not registered", step.ToolName),
			})
			continue
		}

		if tool.InputSchema != nil {
			if _, err := tool.InputSchema.Validate(step.ToolArgs); err != nil {
				report.Issues = append(report.Issues, task.SimulationIssue{
					Kind:      "invalid_args",
					Severity:  task.SeverityHigh,
					StepIndex: step.Index,
					Message:   fmt.Sprintf("arguments do not match '%s' input schema: %v", step.ToolName, firstLine(err)),
				})
			}
		}

		if browserActionsNeedingNavigation[step.ToolName] && !navigated {
			report.Issues = append(report.Issues, task.SimulationIssue{
				Kind:      "missing_dependency",
				Severity:  task.SeverityMedium,
				StepIndex: step.Index,
				Message:   fmt.Sprintf("'%s' appears before any browser_navigate", step.ToolName),
			})
		}

		if highRiskTools[step.ToolName] || tool.HasTag("dangerous") {
			report.Issues = append(report.Issues, task.SimulationIssue{
				Kind:      "high_risk",
				Severity:  task.SeverityInfo,
				StepIndex: step.Index,
				Message:   fmt.Sprintf("'%s' is a high-risk operation", step.ToolName),
			})
		}
	}

	for _, issue := range report.Issues {
		if issue.Severity == task.SeverityHigh {
			report.Valid = false
			break
		}
	}

	surviving := len(plan.Steps) - len(DroppedSteps(report))
	report.EstimatedBudget = budget.Usage{
		ToolCallsUsed: surviving,
		TokensUsed:    surviving * estimatedTokensPerStep,
	}

	s.logger.Debug("plan simulated",
		"steps", len(plan.Steps),
		"issues", len(report.Issues),
		"valid", report.Valid)

	return report
}

// DroppedSteps returns the indices of steps carrying a high-severity issue;
// the executor removes these before execution.
func DroppedSteps(report *task.SimulationReport) map[int]bool {
	dropped := make(map[int]bool)
	for _, issue := range report.Issues {
		if issue.Severity == task.SeverityHigh {
			dropped[issue.StepIndex] = true
		}
	}
	return dropped
}

// Prune returns a copy of the plan with high-severity steps removed and the
// survivors reindexed 0..n-1.
func Prune(plan *task.Plan, report *task.SimulationReport) *task.Plan {
	dropped := DroppedSteps(report)
	pruned := &task.Plan{TaskID: plan.TaskID, Complexity: plan.Complexity}
	for _, step := range plan.Steps {
		if dropped[step.Index] {
			continue
		}
		step.Index = len(pruned.Steps)
		pruned.Steps = append(pruned.Steps, step)
	}
	return pruned
}

func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
