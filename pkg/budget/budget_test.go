package budget

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampere-run/ampere/pkg/llms"
)

var testModel = &llms.Model{
	ID:            "slm-1",
	Tier:          llms.TierSLM,
	CostPerInput:  0.000001,
	CostPerOutput: 0.000002,
	EnergyPerTok:  0.0001,
}

func TestNewEnvelopeFromPreset(t *testing.T) {
	tests := []struct {
		name    string
		preset  Preset
		wantErr bool
	}{
		{name: "low", preset: PresetLow},
		{name: "medium", preset: PresetMedium},
		{name: "high", preset: PresetHigh},
		{name: "unlimited", preset: PresetUnlimited},
		{name: "unknown preset", preset: Preset("enormous"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelopeFromPreset(tt.preset)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, env.CheckBudget())
		})
	}
}

func TestEnvelope_DeductTokensDerivesCost(t *testing.T) {
	env := NewEnvelope(Limits{MaxTokens: 1000, CostCeilingUsd: 1})

	err := env.DeductTokens(llms.TokenUsage{Prompt: 100, Completion: 50, Total: 150}, testModel)
	require.NoError(t, err)

	usage := env.Usage()
	assert.Equal(t, 150, usage.TokensUsed)
	assert.Equal(t, 850, usage.TokensRemaining)
	assert.InDelta(t, 100*0.000001+50*0.000002, usage.CostUsd, 1e-12)
}

func TestEnvelope_TokenCeilingIsSticky(t *testing.T) {
	env := NewEnvelope(Limits{MaxTokens: 100})

	err := env.DeductTokens(llms.TokenUsage{Total: 150}, testModel)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))

	// Usage records up to the limit, never past it.
	usage := env.Usage()
	assert.Equal(t, 100, usage.TokensUsed)
	assert.Equal(t, 0, usage.TokensRemaining)

	// Subsequent operations fail without mutating state.
	assert.Error(t, env.CheckBudget())
	assert.Error(t, env.DeductToolCall())
	assert.Equal(t, 0, env.Usage().ToolCallsUsed)
}

func TestEnvelope_ToolCallCeiling(t *testing.T) {
	env := NewEnvelope(Limits{MaxTokens: 1000, MaxToolCalls: 2})

	require.NoError(t, env.DeductToolCall())
	require.NoError(t, env.DeductToolCall())

	err := env.DeductToolCall()
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "tool_calls", exhausted.Resource)
}

func TestEnvelope_Escalations(t *testing.T) {
	env := NewEnvelope(Limits{MaxTokens: 1000, MaxEscalations: 1})

	assert.True(t, env.CanAffordEscalation())
	require.NoError(t, env.DeductEscalation())
	assert.False(t, env.CanAffordEscalation())
	assert.Error(t, env.DeductEscalation())
}

func TestEnvelope_LatencyCeiling(t *testing.T) {
	env := NewEnvelope(Limits{MaxTokens: 1000, MaxLatency: time.Nanosecond})

	time.Sleep(time.Millisecond)

	err := env.CheckBudget()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestEnvelope_UnlimitedRecordsWithoutEnforcing(t *testing.T) {
	env := NewEnvelope(Limits{Unlimited: true})

	require.NoError(t, env.DeductTokens(llms.TokenUsage{Total: 1_000_000}, testModel))
	require.NoError(t, env.DeductToolCall())
	require.NoError(t, env.CheckBudget())

	usage := env.Usage()
	assert.Equal(t, 1_000_000, usage.TokensUsed)
	assert.Equal(t, 1, usage.ToolCallsUsed)
}

func TestEnvelope_EnergyAccounting(t *testing.T) {
	env := NewEnvelope(Limits{MaxTokens: 10_000, MaxEnergyWh: 0.5})

	disabled := EnergyConfig{}
	require.NoError(t, env.DeductEnergy(testModel, llms.TokenUsage{Total: 100}, disabled))
	assert.Zero(t, env.Usage().EnergyWh)

	enabled := EnergyConfig{Enabled: true}
	require.NoError(t, env.DeductEnergy(testModel, llms.TokenUsage{Total: 100}, enabled))
	assert.InDelta(t, 0.01, env.Usage().EnergyWh, 1e-9)

	err := env.DeductEnergy(testModel, llms.TokenUsage{Total: 10_000}, enabled)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestEnvelope_SubEnvelopeShares(t *testing.T) {
	parent := NewEnvelope(Limits{MaxTokens: 1000, MaxToolCalls: 10, CostCeilingUsd: 1})

	sub, err := parent.NewSubEnvelope(0.5)
	require.NoError(t, err)
	assert.Equal(t, 500, sub.Limits().MaxTokens)
	assert.Equal(t, 5, sub.Limits().MaxToolCalls)

	_, err = parent.NewSubEnvelope(0)
	assert.Error(t, err)
	_, err = parent.NewSubEnvelope(1.5)
	assert.Error(t, err)
}

func TestEnvelope_MirrorFoldsUsageIntoParent(t *testing.T) {
	parent := NewEnvelope(Limits{MaxTokens: 1000, CostCeilingUsd: 1})
	sub, err := parent.NewSubEnvelope(0.5)
	require.NoError(t, err)

	require.NoError(t, sub.DeductTokens(llms.TokenUsage{Total: 200}, testModel))
	require.NoError(t, sub.DeductToolCall())

	parent.Mirror(sub)

	usage := parent.Usage()
	assert.Equal(t, 200, usage.TokensUsed)
	assert.Equal(t, 1, usage.ToolCallsUsed)
}

func TestEnvelope_ConcurrentDeductionsNeverExceedCeiling(t *testing.T) {
	env := NewEnvelope(Limits{MaxTokens: 500})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = env.DeductTokens(llms.TokenUsage{Total: 10}, testModel)
		}()
	}
	wg.Wait()

	usage := env.Usage()
	assert.LessOrEqual(t, usage.TokensUsed, 500)
	assert.Equal(t, usage.TokensRemaining, 500-usage.TokensUsed)
}
