package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/testutils"
)

func newTestRouter(t *testing.T, cfg Config, providers ...llms.Provider) *Router {
	t.Helper()

	reg := llms.NewProviderRegistry()
	for _, p := range providers {
		require.NoError(t, reg.RegisterProvider(p))
	}
	return New(cfg, reg, nil)
}

func priority(names ...string) map[llms.Tier][]string {
	return map[llms.Tier][]string{
		llms.TierSLM: names,
		llms.TierLLM: names,
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestRouter_TierRules(t *testing.T) {
	provider := testutils.NewScriptedProvider("ollama")
	r := newTestRouter(t, Config{ProviderPriority: priority("ollama")}, provider)

	tests := []struct {
		name     string
		purpose  Purpose
		limits   budget.Limits
		rctx     *Context
		wantTier llms.Tier
	}{
		{
			name:     "classify always SLM",
			purpose:  PurposeClassify,
			limits:   budget.Limits{MaxTokens: 1000, MaxEscalations: 2},
			rctx:     &Context{Complexity: floatPtr(0.9)},
			wantTier: llms.TierSLM,
		},
		{
			name:     "verify always SLM",
			purpose:  PurposeVerify,
			limits:   budget.Limits{MaxTokens: 1000, MaxEscalations: 2},
			wantTier: llms.TierSLM,
		},
		{
			name:     "no escalation budget forces SLM",
			purpose:  PurposeExecute,
			limits:   budget.Limits{MaxTokens: 1000, MaxEscalations: 0},
			rctx:     &Context{Complexity: floatPtr(0.95)},
			wantTier: llms.TierSLM,
		},
		{
			name:     "high complexity routes LLM",
			purpose:  PurposeExecute,
			limits:   budget.Limits{MaxTokens: 1000, MaxEscalations: 2},
			rctx:     &Context{Complexity: floatPtr(0.9)},
			wantTier: llms.TierLLM,
		},
		{
			name:     "low previous confidence routes LLM",
			purpose:  PurposeExecute,
			limits:   budget.Limits{MaxTokens: 1000, MaxEscalations: 2},
			rctx:     &Context{PreviousConfidence: floatPtr(0.2)},
			wantTier: llms.TierLLM,
		},
		{
			name:     "default is SLM",
			purpose:  PurposeExecute,
			limits:   budget.Limits{MaxTokens: 1000, MaxEscalations: 2},
			wantTier: llms.TierSLM,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := r.Route(tt.purpose, budget.NewEnvelope(tt.limits), tt.rctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, decision.Tier)
			assert.Equal(t, "ollama", decision.Provider)
			assert.NotEmpty(t, decision.Reason)
		})
	}
}

func TestRouter_EnergyCriticalForcesSLM(t *testing.T) {
	provider := testutils.NewScriptedProvider("ollama")
	r := newTestRouter(t, Config{
		ProviderPriority: priority("ollama"),
		Energy:           budget.EnergyConfig{Enabled: true},
	}, provider)

	env := budget.NewEnvelope(budget.Limits{MaxTokens: 1000, MaxEscalations: 2, MaxEnergyWh: 1})
	decision, err := r.Route(PurposeExecute, env, &Context{
		Complexity:            floatPtr(0.95),
		EnergyBudgetRemaining: floatPtr(0.001),
	})
	require.NoError(t, err)
	assert.Equal(t, llms.TierSLM, decision.Tier)
}

func TestRouter_NoCandidate(t *testing.T) {
	unavailable := testutils.NewScriptedProvider("ollama")
	unavailable.Available = false

	r := newTestRouter(t, Config{ProviderPriority: priority("ollama")}, unavailable)

	_, err := r.Route(PurposeClassify, budget.NewEnvelope(budget.Limits{MaxTokens: 1000}), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoAvailableProvider))
}

func TestRouter_FailoverUnderCooldown(t *testing.T) {
	ollama := testutils.NewScriptedProvider("ollama")
	anthropic := testutils.NewScriptedProvider("anthropic")

	r := newTestRouter(t, Config{ProviderPriority: priority("ollama", "anthropic")}, ollama, anthropic)
	env := budget.NewEnvelope(budget.Limits{MaxTokens: 1000, MaxEscalations: 2})

	// Healthy: priority order wins.
	decision, err := r.Route(PurposeClassify, env, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", decision.Provider)

	// Three consecutive failures within the window trigger cooldown.
	r.ReportFailure("ollama")
	r.ReportFailure("ollama")
	r.ReportFailure("ollama")

	decision, err = r.Route(PurposeClassify, env, nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", decision.Provider)

	// Success clears the counter.
	r.ReportSuccess("ollama")
	decision, err = r.Route(PurposeClassify, env, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", decision.Provider)
}

func TestRouter_FewerThanThresholdFailuresDoNotCooldown(t *testing.T) {
	ollama := testutils.NewScriptedProvider("ollama")
	anthropic := testutils.NewScriptedProvider("anthropic")

	r := newTestRouter(t, Config{ProviderPriority: priority("ollama", "anthropic")}, ollama, anthropic)

	r.ReportFailure("ollama")
	r.ReportFailure("ollama")

	decision, err := r.Route(PurposeClassify, budget.NewEnvelope(budget.Limits{MaxTokens: 1000}), nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", decision.Provider)
}

func TestRouter_EfficientScoringPrefersCheaperProvider(t *testing.T) {
	pricey := testutils.NewScriptedProvider("pricey")
	for i := range pricey.Models {
		pricey.Models[i].CostPerInput *= 100
		pricey.Models[i].EnergyPerTok *= 100
	}
	cheap := testutils.NewScriptedProvider("cheap")

	r := newTestRouter(t, Config{
		ProviderPriority:      priority("pricey", "cheap"),
		PreferEfficientModels: true,
	}, pricey, cheap)

	decision, err := r.Route(PurposeClassify, budget.NewEnvelope(budget.Limits{MaxTokens: 1000, CostCeilingUsd: 1}), nil)
	require.NoError(t, err)
	assert.Equal(t, "cheap", decision.Provider)
}

func TestRouter_PriorityWinsWithoutEfficiencyScoring(t *testing.T) {
	pricey := testutils.NewScriptedProvider("pricey")
	for i := range pricey.Models {
		pricey.Models[i].CostPerInput *= 100
	}
	cheap := testutils.NewScriptedProvider("cheap")

	r := newTestRouter(t, Config{ProviderPriority: priority("pricey", "cheap")}, pricey, cheap)

	decision, err := r.Route(PurposeClassify, budget.NewEnvelope(budget.Limits{MaxTokens: 1000}), nil)
	require.NoError(t, err)
	assert.Equal(t, "pricey", decision.Provider)
}

func TestRouter_Escalate(t *testing.T) {
	provider := testutils.NewScriptedProvider("ollama")
	r := newTestRouter(t, Config{ProviderPriority: priority("ollama")}, provider)

	env := budget.NewEnvelope(budget.Limits{MaxTokens: 1000, MaxEscalations: 1})

	decision, err := r.Escalate(env, "step failed twice")
	require.NoError(t, err)
	assert.Equal(t, llms.TierLLM, decision.Tier)
	assert.Contains(t, decision.Reason, "escalation")
	assert.Equal(t, 1, env.Usage().EscalationsUsed)

	// Escalation budget spent: a second escalation fails.
	_, err = r.Escalate(env, "again")
	require.Error(t, err)
	assert.True(t, errors.Is(err, budget.ErrExhausted))
}
