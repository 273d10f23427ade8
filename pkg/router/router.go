// Package router selects (tier, provider, model) per call purpose under the
// task's budget, with provider failover, cooldown, cost/energy-weighted
// scoring, and bounded escalation.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/llms"
)

// ErrNoAvailableProvider is returned when no candidate can serve a route.
var ErrNoAvailableProvider = errors.New("no available provider")

// Purpose identifies what a routed call is for. Purpose strings are stable
// across the API boundary.
type Purpose string

const (
	PurposeClassify   Purpose = "classify"
	PurposePlan       Purpose = "plan"
	PurposeExecute    Purpose = "execute"
	PurposeSynthesize Purpose = "synthesize"
	PurposeVerify     Purpose = "verify"
)

// Decision is the outcome of one routing call.
type Decision struct {
	Tier              llms.Tier `json:"tier"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	Reason            string    `json:"reason"`
	EstimatedCost     float64   `json:"estimated_cost"`
	EstimatedEnergyWh float64   `json:"estimated_energy_wh"`
}

// Context carries optional signals influencing tier selection.
type Context struct {
	Complexity            *float64
	PreviousConfidence    *float64
	EnergyBudgetRemaining *float64
	PromptTokens          int
}

// Config is the router's static configuration.
type Config struct {
	// ProviderPriority lists provider names per tier in preference order.
	ProviderPriority map[llms.Tier][]string `yaml:"provider_priority"`

	// ComplexityThreshold is the boundary above which execution routes to
	// the LLM tier. Default 0.6.
	ComplexityThreshold float64 `yaml:"complexity_threshold,omitempty"`

	// SLMConfidenceThreshold is the confidence floor below which the router
	// stops trusting the SLM tier. Default 0.5.
	SLMConfidenceThreshold float64 `yaml:"slm_confidence_threshold,omitempty"`

	// PreferEfficientModels enables cost/energy-weighted candidate scoring.
	PreferEfficientModels bool `yaml:"prefer_efficient_models,omitempty"`

	// Energy configures energy-aware routing.
	Energy budget.EnergyConfig `yaml:"energy,omitempty"`
}

// SetDefaults fills zero-valued thresholds.
func (c *Config) SetDefaults() {
	if c.ComplexityThreshold == 0 {
		c.ComplexityThreshold = 0.6
	}
	if c.SLMConfidenceThreshold == 0 {
		c.SLMConfidenceThreshold = 0.5
	}
}

const (
	failureThreshold = 3
	cooldownWindow   = 60 * time.Second

	// Prompt size assumed for cost estimation when the caller gives none.
	defaultPromptTokens = 1_000

	// Energy headroom below which routing is forced to the SLM tier.
	energyCriticalWh = 0.01
)

type failureState struct {
	count int
	last  time.Time
}

// Router picks providers and models. Failure counts are process-wide state
// owned by the router instance.
type Router struct {
	cfg       Config
	providers *llms.ProviderRegistry
	logger    *slog.Logger

	mu       sync.Mutex
	failures map[string]*failureState
}

// New creates a router over the given provider registry.
func New(cfg Config, providers *llms.ProviderRegistry, logger *slog.Logger) *Router {
	cfg.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		providers: providers,
		logger:    logger,
		failures:  make(map[string]*failureState),
	}
}

// ============================================================================
// TIER SELECTION
// ============================================================================

// pickTier applies the tier decision rules in priority order.
func (r *Router) pickTier(purpose Purpose, env *budget.Envelope, rctx *Context) (llms.Tier, string) {
	if purpose == PurposeClassify || purpose == PurposeVerify {
		return llms.TierSLM, "purpose always routes to SLM"
	}
	if !env.CanAffordEscalation() {
		return llms.TierSLM, "no escalation budget remaining"
	}
	if r.cfg.Energy.Enabled {
		remaining := env.Usage().EnergyRemaining
		if rctx != nil && rctx.EnergyBudgetRemaining != nil {
			remaining = *rctx.EnergyBudgetRemaining
		}
		if remaining < energyCriticalWh && !env.Limits().Unlimited {
			return llms.TierSLM, "energy budget critical"
		}
	}
	if rctx != nil && rctx.Complexity != nil && *rctx.Complexity > r.cfg.ComplexityThreshold {
		return llms.TierLLM, fmt.Sprintf("complexity %.2f above threshold %.2f", *rctx.Complexity, r.cfg.ComplexityThreshold)
	}
	if rctx != nil && rctx.PreviousConfidence != nil && *rctx.PreviousConfidence < r.cfg.SLMConfidenceThreshold {
		return llms.TierLLM, fmt.Sprintf("previous confidence %.2f below threshold %.2f", *rctx.PreviousConfidence, r.cfg.SLMConfidenceThreshold)
	}
	return llms.TierSLM, "default tier"
}

// ============================================================================
// CANDIDATE COLLECTION AND RANKING
// ============================================================================

type candidate struct {
	provider llms.Provider
	model    llms.Model
	cost     float64
	energyWh float64
	index    int
}

func (r *Router) collectCandidates(tier llms.Tier, promptTokens int) []candidate {
	var candidates []candidate

	for index, name := range r.cfg.ProviderPriority[tier] {
		if r.inCooldown(name) {
			r.logger.Debug("skipping provider in cooldown", "provider", name)
			continue
		}

		provider, err := r.providers.GetProvider(name)
		if err != nil || !provider.IsAvailable() {
			continue
		}

		models := llms.ModelsForTier(provider, tier)
		if len(models) == 0 {
			continue
		}

		model := models[0]
		candidates = append(candidates, candidate{
			provider: provider,
			model:    model,
			cost:     provider.EstimateCost(promptTokens, model.ID),
			energyWh: float64(promptTokens) * model.EnergyPerTok,
			index:    index,
		})
	}
	return candidates
}

// rank picks the best candidate. With efficiency scoring off (or a single
// candidate) the highest-priority candidate wins; otherwise candidates are
// scored by weighted cost, energy, and priority components.
func (r *Router) rank(candidates []candidate, env *budget.Envelope) candidate {
	if !r.cfg.PreferEfficientModels || len(candidates) == 1 {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.index < best.index {
				best = c
			}
		}
		return best
	}

	usage := env.Usage()
	tightness := 0.0
	if denom := usage.CostUsd + usage.CostRemaining; denom > 0 {
		tightness = 1 - usage.CostRemaining/denom
	}

	costWeight := 0.5 + 0.3*tightness
	energyWeight := 0.0
	if r.cfg.Energy.Enabled {
		energyWeight = r.cfg.Energy.EnergyWeight
		if energyWeight == 0 {
			energyWeight = 0.3
		}
	}
	priorityWeight := max(0, 1-costWeight-energyWeight)

	var maxCost, maxEnergy float64
	for _, c := range candidates {
		maxCost = max(maxCost, c.cost)
		maxEnergy = max(maxEnergy, c.energyWh)
	}

	best := candidates[0]
	bestScore := -1.0
	n := float64(len(candidates))

	for _, c := range candidates {
		costScore := 1.0
		if maxCost > 0 {
			costScore = 1 - c.cost/maxCost
		}
		energyScore := 1.0
		if maxEnergy > 0 {
			energyScore = 1 - c.energyWh/maxEnergy
		}
		priorityScore := 1 - float64(c.index)/n

		score := costWeight*costScore + energyWeight*energyScore + priorityWeight*priorityScore
		if score > bestScore || (score == bestScore && c.index < best.index) {
			best = c
			bestScore = score
		}
	}
	return best
}

// ============================================================================
// ROUTING
// ============================================================================

// Route picks a (tier, provider, model) for the given purpose.
func (r *Router) Route(purpose Purpose, env *budget.Envelope, rctx *Context) (*Decision, error) {
	tier, tierReason := r.pickTier(purpose, env, rctx)
	return r.routeTier(purpose, tier, tierReason, env, rctx)
}

func (r *Router) routeTier(purpose Purpose, tier llms.Tier, tierReason string, env *budget.Envelope, rctx *Context) (*Decision, error) {
	promptTokens := defaultPromptTokens
	if rctx != nil && rctx.PromptTokens > 0 {
		promptTokens = rctx.PromptTokens
	}

	candidates := r.collectCandidates(tier, promptTokens)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: tier %s for purpose %s", ErrNoAvailableProvider, tier, purpose)
	}

	chosen := r.rank(candidates, env)

	complexity := 0.0
	if rctx != nil && rctx.Complexity != nil {
		complexity = *rctx.Complexity
	}

	decision := &Decision{
		Tier:     tier,
		Provider: chosen.provider.Name(),
		Model:    chosen.model.ID,
		Reason: fmt.Sprintf("purpose=%s tier=%s complexity=%.2f candidates=%d: %s",
			purpose, tier, complexity, len(candidates), tierReason),
		EstimatedCost:     chosen.cost,
		EstimatedEnergyWh: chosen.energyWh,
	}

	r.logger.Debug("routing decision",
		"purpose", string(purpose),
		"tier", string(tier),
		"provider", decision.Provider,
		"model", decision.Model)

	return decision, nil
}

// Escalate charges one escalation, forces maximum complexity, and re-routes
// for execution to obtain an LLM-tier model.
func (r *Router) Escalate(env *budget.Envelope, reason string) (*Decision, error) {
	if err := env.DeductEscalation(); err != nil {
		return nil, err
	}

	// Escalation forces the LLM tier directly; the tier rules would otherwise
	// see the spent escalation slot and fall back to SLM.
	complexity := 1.0
	decision, err := r.routeTier(PurposeExecute, llms.TierLLM, "escalated", env, &Context{Complexity: &complexity})
	if err != nil {
		return nil, err
	}
	decision.Reason = fmt.Sprintf("escalation (%s): %s", reason, decision.Reason)
	return decision, nil
}

// ============================================================================
// FAILURE TRACKING
// ============================================================================

// ReportFailure records a provider failure for cooldown accounting.
func (r *Router) ReportFailure(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	state, exists := r.failures[provider]
	if !exists || now.Sub(state.last) > cooldownWindow {
		r.failures[provider] = &failureState{count: 1, last: now}
		return
	}
	state.count++
	state.last = now
}

// ReportSuccess clears a provider's failure count.
func (r *Router) ReportSuccess(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.failures, provider)
}

func (r *Router) inCooldown(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.failures[provider]
	if !exists {
		return false
	}
	return state.count >= failureThreshold && time.Since(state.last) < cooldownWindow
}
