package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/model"
	"github.com/ampere-run/ampere/pkg/planner"
	"github.com/ampere-run/ampere/pkg/router"
	"github.com/ampere-run/ampere/pkg/simulator"
	"github.com/ampere-run/ampere/pkg/task"
	"github.com/ampere-run/ampere/pkg/testutils"
	"github.com/ampere-run/ampere/pkg/tools"
	"github.com/ampere-run/ampere/pkg/trace"
)

type execFixture struct {
	executor *TaskExecutor
	provider *testutils.ScriptedProvider
	registry *tools.Registry
	progress []Progress
}

func newExecFixture(t *testing.T, opts Options, responses ...string) *execFixture {
	t.Helper()

	f := &execFixture{}

	f.provider = testutils.NewScriptedProvider("mock", responses...)
	providers := llms.NewProviderRegistry()
	require.NoError(t, providers.RegisterProvider(f.provider))

	rt := router.New(router.Config{
		ProviderPriority: map[llms.Tier][]string{
			llms.TierSLM: {"mock"},
			llms.TierLLM: {"mock"},
		},
	}, providers, nil)

	tracer := trace.NewLogger()

	f.registry = tools.NewRegistry()
	testTool, _ := testutils.RecordingTool("test_tool", map[string]any{"result": "processed: hello"})
	require.NoError(t, f.registry.RegisterTool(testTool))
	require.NoError(t, f.registry.RegisterTool(testutils.FailingTool("failing_tool")))

	caller := model.NewCaller(providers, rt, tracer, budget.EnergyConfig{}, nil)
	pl := planner.New(caller, rt, f.registry, tracer, nil)
	sim := simulator.New(f.registry, nil)

	opts.OnProgress = func(p Progress) { f.progress = append(f.progress, p) }
	f.executor = NewTaskExecutor(pl, sim, f.registry, caller, rt, tracer, nil, opts)
	return f
}

const (
	specResponse     = `{"goal":"test","constraints":[],"successCriteria":[{"description":"tool ran","type":"tool_succeeded","check":{}}]}`
	classifyResponse = `{"complexity":0.3}`
)

func TestTaskExecutor_SingleToolHappyPath(t *testing.T) {
	f := newExecFixture(t, Options{},
		specResponse,
		classifyResponse,
		`{"steps":[{"description":"Run","toolName":"test_tool","toolArgs":{"input":"hello"}}]}`,
		`{"overall":0.8,"stepConfidences":[0.8]}`,
		"processed hello",
	)

	result := f.executor.Execute(context.Background(), task.New("Run test"), budget.NewEnvelope(budget.Limits{
		MaxTokens: 100_000, MaxToolCalls: 10, MaxEscalations: 2, CostCeilingUsd: 10,
	}))

	assert.Equal(t, task.StatusCompleted, result.Status)
	require.Len(t, result.StepResults, 1)
	assert.True(t, result.StepResults[0].Success)

	output, ok := result.StepResults[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "processed: hello", output["result"])

	assert.Equal(t, "processed hello", result.Answer)
	assert.Greater(t, result.BudgetUsed.TokensUsed, 0)
	assert.NotNil(t, result.Trace)

	// Criteria were evaluated against the successful step.
	require.Len(t, result.CriteriaResults, 1)
	assert.True(t, result.CriteriaResults[0].Met)

	// Progress covered every phase.
	phases := make(map[string]bool)
	for _, p := range f.progress {
		phases[p.Phase] = true
	}
	for _, want := range []string{"specifying", "planning", "simulating", "executing", "critiquing", "synthesizing"} {
		assert.True(t, phases[want], "missing progress phase %s", want)
	}
}

func TestTaskExecutor_BudgetExhaustionMidPlan(t *testing.T) {
	steps := ""
	for i := 0; i < 30; i++ {
		if i > 0 {
			steps += ","
		}
		steps += fmt.Sprintf(`{"description":"step %d","toolName":"test_tool","toolArgs":{"input":"x"}}`, i)
	}

	f := newExecFixture(t, Options{},
		specResponse,
		classifyResponse,
		`{"steps":[`+steps+`]}`,
	)

	result := f.executor.Execute(context.Background(), task.New("Run many steps"), budget.NewEnvelope(budget.Limits{
		MaxTokens: 100_000, MaxToolCalls: 5, MaxEscalations: 1, CostCeilingUsd: 10,
	}))

	assert.Equal(t, task.StatusBudgetExhausted, result.Status)
	assert.NotEmpty(t, result.StepResults)
	assert.Less(t, len(result.StepResults), 30)
	assert.NotEmpty(t, result.Error)

	// Step results form a prefix of the plan.
	for i, sr := range result.StepResults {
		assert.Equal(t, i, sr.StepIndex)
	}
}

func TestTaskExecutor_RecoveryViaReplan(t *testing.T) {
	f := newExecFixture(t, Options{},
		specResponse,
		classifyResponse,
		`{"steps":[{"description":"Try","toolName":"failing_tool","toolArgs":{}}]}`,
		`{"overall":0.2,"stepConfidences":[0.1]}`,
		`{"steps":[{"description":"Retry","toolName":"test_tool","toolArgs":{"input":"hello"}}]}`,
		`{"overall":0.9,"stepConfidences":[0.9]}`,
		"recovered",
	)

	result := f.executor.Execute(context.Background(), task.New("Run test"), budget.NewEnvelope(budget.Limits{
		MaxTokens: 100_000, MaxToolCalls: 10, MaxEscalations: 2, CostCeilingUsd: 10,
	}))

	assert.Equal(t, task.StatusCompleted, result.Status)
	require.GreaterOrEqual(t, len(result.StepResults), 2)
	assert.False(t, result.StepResults[0].Success)

	succeeded := false
	for _, sr := range result.StepResults {
		if sr.Success {
			succeeded = true
		}
	}
	assert.True(t, succeeded)
}

func TestTaskExecutor_ReplanDepthBoundsRecovery(t *testing.T) {
	f := newExecFixture(t, Options{MaxReplanDepth: 1},
		specResponse,
		classifyResponse,
		`{"steps":[{"description":"Try","toolName":"failing_tool","toolArgs":{}}]}`,
		`{"overall":0.1,"stepConfidences":[0.1]}`,
		`{"steps":[{"description":"Try again","toolName":"failing_tool","toolArgs":{}}]}`,
		`{"overall":0.1,"stepConfidences":[0.1,0.1]}`,
	)

	result := f.executor.Execute(context.Background(), task.New("Run test"), budget.NewEnvelope(budget.Limits{
		MaxTokens: 100_000, MaxToolCalls: 10, MaxEscalations: 2, CostCeilingUsd: 10,
	}))

	assert.Equal(t, task.StatusFailed, result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestTaskExecutor_EmptyPlanSynthesizesDirectly(t *testing.T) {
	f := newExecFixture(t, Options{},
		specResponse,
		`{"complexity":0.1}`,
		`{"steps":[]}`,
		"the answer is 42",
	)

	result := f.executor.Execute(context.Background(), task.New("What is six times seven"), budget.NewEnvelope(budget.Limits{
		MaxTokens: 100_000, MaxToolCalls: 10, MaxEscalations: 2, CostCeilingUsd: 10,
	}))

	assert.Equal(t, task.StatusCompleted, result.Status)
	assert.Empty(t, result.StepResults)
	assert.Equal(t, "the answer is 42", result.Answer)
}

func TestTaskExecutor_SimulationDropsInvalidSteps(t *testing.T) {
	f := newExecFixture(t, Options{},
		specResponse,
		classifyResponse,
		`{"steps":[{"description":"Ghost","toolName":"test_tool_misnamed","toolArgs":{}},{"description":"Run","toolName":"test_tool","toolArgs":{"input":"hello"}}]}`,
		`{"overall":0.8,"stepConfidences":[0.8]}`,
		"done",
	)

	result := f.executor.Execute(context.Background(), task.New("Run test"), budget.NewEnvelope(budget.Limits{
		MaxTokens: 100_000, MaxToolCalls: 10, MaxEscalations: 2, CostCeilingUsd: 10,
	}))

	// The unknown-tool step is dropped by simulation; the valid step runs.
	assert.Equal(t, task.StatusCompleted, result.Status)
	require.NotNil(t, result.Simulation)
	assert.False(t, result.Simulation.Valid)
	require.Len(t, result.StepResults, 1)
	assert.Equal(t, "test_tool", result.StepResults[0].ToolName)
}

func TestCheckpointInterval(t *testing.T) {
	tests := []struct {
		steps int
		want  int
	}{
		{steps: 0, want: 0},
		{steps: 3, want: 0},
		{steps: 4, want: 3},
		{steps: 9, want: 3},
		{steps: 12, want: 4},
		{steps: 30, want: 10},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d steps", tt.steps), func(t *testing.T) {
			assert.Equal(t, tt.want, checkpointInterval(tt.steps))
		})
	}
}

func TestCompressResults(t *testing.T) {
	t.Run("short history stays verbatim", func(t *testing.T) {
		results := []task.StepResult{
			{StepIndex: 0, ToolName: "a", Success: true},
			{StepIndex: 1, ToolName: "b", Success: false, Error: "boom"},
		}
		out := CompressResults(results)
		assert.Contains(t, out, "step 0")
		assert.Contains(t, out, "boom")
		assert.NotContains(t, out, "elided")
	})

	t.Run("long history elides the middle", func(t *testing.T) {
		var results []task.StepResult
		for i := 0; i < 12; i++ {
			results = append(results, task.StepResult{StepIndex: i, ToolName: "tool", Success: i%2 == 0})
		}
		out := CompressResults(results)
		assert.Contains(t, out, "step 0")
		assert.Contains(t, out, "step 1")
		assert.Contains(t, out, "step 11")
		assert.Contains(t, out, "7 intermediate steps elided")
		assert.NotContains(t, out, "step 5 ")
	})
}
