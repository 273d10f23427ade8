package simulator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampere-run/ampere/pkg/task"
	"github.com/ampere-run/ampere/pkg/tools"
)

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()

	reg := tools.NewRegistry()

	schema, err := tools.NewSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input": map[string]any{"type": "string"},
		},
		"required": []any{"input"},
	})
	require.NoError(t, err)

	noop := func(_ context.Context, _ map[string]any) (any, error) { return nil, nil }

	require.NoError(t, reg.RegisterTool(&tools.Tool{Name: "test_tool", Description: "t", InputSchema: schema, Execute: noop}))
	require.NoError(t, reg.RegisterTool(&tools.Tool{Name: "browser_navigate", Description: "n", Execute: noop}))
	require.NoError(t, reg.RegisterTool(&tools.Tool{Name: "browser_click", Description: "c", Execute: noop}))
	require.NoError(t, reg.RegisterTool(&tools.Tool{Name: "file_write", Description: "w", Execute: noop}))
	require.NoError(t, reg.RegisterTool(&tools.Tool{Name: "tagged_danger", Description: "d", Tags: []string{"dangerous"}, Execute: noop}))

	return reg
}

func TestSimulator_ValidPlan(t *testing.T) {
	sim := New(newTestRegistry(t), nil)

	report := sim.Simulate(&task.Plan{Steps: []task.PlanStep{
		{Index: 0, ToolName: "test_tool", ToolArgs: map[string]any{"input": "hello"}},
	}})

	assert.True(t, report.Valid)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 1, report.EstimatedBudget.ToolCallsUsed)
	assert.Greater(t, report.EstimatedBudget.TokensUsed, 0)
}

func TestSimulator_MissingTool(t *testing.T) {
	sim := New(newTestRegistry(t), nil)

	report := sim.Simulate(&task.Plan{Steps: []task.PlanStep{
		{Index: 0, ToolName: "ghost_tool"},
	}})

	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "missing_tool", report.Issues[0].Kind)
	assert.Equal(t, task.SeverityHigh, report.Issues[0].Severity)
}

func TestSimulator_InvalidArgs(t *testing.T) {
	sim := New(newTestRegistry(t), nil)

	report := sim.Simulate(&task.Plan{Steps: []task.PlanStep{
		{Index: 0, ToolName: "test_tool", ToolArgs: map[string]any{"input": 42}},
	}})

	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "invalid_args", report.Issues[0].Kind)
}

func TestSimulator_MissingBrowserDependency(t *testing.T) {
	sim := New(newTestRegistry(t), nil)

	t.Run("click before navigate", func(t *testing.T) {
		report := sim.Simulate(&task.Plan{Steps: []task.PlanStep{
			{Index: 0, ToolName: "browser_click"},
		}})

		require.Len(t, report.Issues, 1)
		assert.Equal(t, "missing_dependency", report.Issues[0].Kind)
		assert.Equal(t, task.SeverityMedium, report.Issues[0].Severity)
		// Medium severity does not invalidate the plan.
		assert.True(t, report.Valid)
	})

	t.Run("navigate first is fine", func(t *testing.T) {
		report := sim.Simulate(&task.Plan{Steps: []task.PlanStep{
			{Index: 0, ToolName: "browser_navigate"},
			{Index: 1, ToolName: "browser_click"},
		}})
		assert.Empty(t, report.Issues)
	})
}

func TestSimulator_HighRisk(t *testing.T) {
	sim := New(newTestRegistry(t), nil)

	report := sim.Simulate(&task.Plan{Steps: []task.PlanStep{
		{Index: 0, ToolName: "file_write"},
		{Index: 1, ToolName: "tagged_danger"},
	}})

	assert.True(t, report.Valid)
	require.Len(t, report.Issues, 2)
	for _, issue := range report.Issues {
		assert.Equal(t, "high_risk", issue.Kind)
		assert.Equal(t, task.SeverityInfo, issue.Severity)
	}
}

func TestPrune(t *testing.T) {
	sim := New(newTestRegistry(t), nil)

	plan := &task.Plan{Steps: []task.PlanStep{
		{Index: 0, ToolName: "ghost_tool"},
		{Index: 1, ToolName: "test_tool", ToolArgs: map[string]any{"input": "ok"}},
		{Index: 2, ToolName: "test_tool", ToolArgs: map[string]any{"input": 42}},
	}}

	report := sim.Simulate(plan)
	pruned := Prune(plan, report)

	require.Len(t, pruned.Steps, 1)
	assert.Equal(t, 0, pruned.Steps[0].Index)
	assert.Equal(t, "ok", pruned.Steps[0].ToolArgs["input"])
}
