// Package budget implements resource envelopes: bundles of token, cost,
// energy, tool-call, escalation, and wall-clock ceilings with live
// consumption counters. Every deduction is a single atomic transaction; an
// envelope that hits any ceiling becomes exhausted and stays exhausted.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ampere-run/ampere/pkg/llms"
)

// ErrExhausted is the sentinel all exhaustion errors unwrap to.
var ErrExhausted = errors.New("budget exhausted")

// ExhaustedError reports which ceiling was hit.
type ExhaustedError struct {
	Resource string
	Used     float64
	Limit    float64
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted: %s used %.4f of %.4f", e.Resource, e.Used, e.Limit)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}

// EnergyConfig controls energy accounting and energy-aware routing.
type EnergyConfig struct {
	Enabled      bool    `yaml:"enabled" koanf:"enabled"`
	EnergyWeight float64 `yaml:"energy_weight,omitempty" koanf:"energy_weight"` // routing weight, defaults to 0.3
}

// Limits are the allocated ceilings of an envelope. A zero token, tool-call,
// latency, cost, or energy limit is not enforced (Usage still reports zero
// remaining for it); a zero MaxEscalations allows no escalations. Use the
// unlimited preset to disable enforcement entirely.
type Limits struct {
	MaxTokens      int           `yaml:"max_tokens"`
	MaxToolCalls   int           `yaml:"max_tool_calls"`
	MaxEscalations int           `yaml:"max_escalations"`
	MaxLatency     time.Duration `yaml:"max_latency"`
	CostCeilingUsd float64       `yaml:"cost_ceiling_usd"`
	MaxEnergyWh    float64       `yaml:"max_energy_wh"`
	Unlimited      bool          `yaml:"unlimited,omitempty"`
}

// Usage is a consistent snapshot of an envelope's consumption.
type Usage struct {
	TokensUsed           int           `json:"tokens_used"`
	TokensRemaining      int           `json:"tokens_remaining"`
	ToolCallsUsed        int           `json:"tool_calls_used"`
	ToolCallsRemaining   int           `json:"tool_calls_remaining"`
	EscalationsUsed      int           `json:"escalations_used"`
	EscalationsRemaining int           `json:"escalations_remaining"`
	CostUsd              float64       `json:"cost_usd"`
	CostRemaining        float64       `json:"cost_remaining"`
	Elapsed              time.Duration `json:"elapsed_ms"`
	LatencyRemaining     time.Duration `json:"latency_remaining"`
	EnergyWh             float64       `json:"energy_wh,omitempty"`
	EnergyRemaining      float64       `json:"energy_remaining,omitempty"`
}

// Envelope owns allocated limits and live consumption state. Mutators are
// safe under concurrent access; the envelope is shared across all goroutines
// of one task.
type Envelope struct {
	mu     sync.Mutex
	limits Limits
	start  time.Time

	tokensUsed      int
	toolCallsUsed   int
	escalationsUsed int
	costUsd         float64
	energyWh        float64

	exhausted     bool
	exhaustedWith *ExhaustedError
}

// NewEnvelope creates an envelope from explicit limits. The monotonic clock
// for elapsed-time enforcement starts now.
func NewEnvelope(limits Limits) *Envelope {
	return &Envelope{
		limits: limits,
		start:  time.Now(),
	}
}

// Limits returns the allocated ceilings.
func (e *Envelope) Limits() Limits {
	return e.limits
}

// markExhausted records the first ceiling hit. Caller holds the lock.
func (e *Envelope) markExhausted(resource string, used, limit float64) *ExhaustedError {
	err := &ExhaustedError{Resource: resource, Used: used, Limit: limit}
	if !e.exhausted {
		e.exhausted = true
		e.exhaustedWith = err
	}
	return err
}

// DeductTokens atomically charges token usage and the derived USD cost from
// the model's pricing. This is the only charge path for an LLM call; callers
// must not also invoke DeductCost for the same call.
func (e *Envelope) DeductTokens(usage llms.TokenUsage, model *llms.Model) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exhausted && !e.limits.Unlimited {
		return e.exhaustedWith
	}

	cost := usage.Cost(model)

	e.tokensUsed += usage.Total
	e.costUsd += cost

	if e.limits.Unlimited {
		return nil
	}

	if e.limits.MaxTokens > 0 && e.tokensUsed > e.limits.MaxTokens {
		over := e.tokensUsed
		e.tokensUsed = e.limits.MaxTokens
		return e.markExhausted("tokens", float64(over), float64(e.limits.MaxTokens))
	}
	if e.limits.CostCeilingUsd > 0 && e.costUsd > e.limits.CostCeilingUsd {
		over := e.costUsd
		e.costUsd = e.limits.CostCeilingUsd
		return e.markExhausted("cost", over, e.limits.CostCeilingUsd)
	}
	return nil
}

// DeductCost charges an explicit non-token cost (external tool fees).
func (e *Envelope) DeductCost(usd float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exhausted && !e.limits.Unlimited {
		return e.exhaustedWith
	}

	e.costUsd += usd

	if e.limits.Unlimited {
		return nil
	}
	if e.limits.CostCeilingUsd > 0 && e.costUsd > e.limits.CostCeilingUsd {
		over := e.costUsd
		e.costUsd = e.limits.CostCeilingUsd
		return e.markExhausted("cost", over, e.limits.CostCeilingUsd)
	}
	return nil
}

// DeductEnergy charges the approximate energy draw of a call. A disabled
// energy config records nothing.
func (e *Envelope) DeductEnergy(model *llms.Model, usage llms.TokenUsage, cfg EnergyConfig) error {
	if !cfg.Enabled {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exhausted && !e.limits.Unlimited {
		return e.exhaustedWith
	}

	e.energyWh += usage.EnergyWh(model)

	if e.limits.Unlimited {
		return nil
	}
	if e.limits.MaxEnergyWh > 0 && e.energyWh > e.limits.MaxEnergyWh {
		over := e.energyWh
		e.energyWh = e.limits.MaxEnergyWh
		return e.markExhausted("energy", over, e.limits.MaxEnergyWh)
	}
	return nil
}

// DeductToolCall charges one tool invocation.
func (e *Envelope) DeductToolCall() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exhausted && !e.limits.Unlimited {
		return e.exhaustedWith
	}

	e.toolCallsUsed++

	if e.limits.Unlimited {
		return nil
	}
	if e.limits.MaxToolCalls > 0 && e.toolCallsUsed > e.limits.MaxToolCalls {
		over := e.toolCallsUsed
		e.toolCallsUsed = e.limits.MaxToolCalls
		return e.markExhausted("tool_calls", float64(over), float64(e.limits.MaxToolCalls))
	}
	return nil
}

// DeductEscalation charges one SLM-to-LLM escalation.
func (e *Envelope) DeductEscalation() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exhausted && !e.limits.Unlimited {
		return e.exhaustedWith
	}

	if !e.limits.Unlimited && e.escalationsUsed >= e.limits.MaxEscalations {
		return e.markExhausted("escalations", float64(e.escalationsUsed+1), float64(e.limits.MaxEscalations))
	}

	e.escalationsUsed++
	return nil
}

// CanAffordEscalation reports whether an escalation slot remains.
func (e *Envelope) CanAffordEscalation() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.limits.Unlimited {
		return true
	}
	return e.escalationsUsed < e.limits.MaxEscalations
}

// CheckBudget returns an exhaustion error iff any ceiling is exceeded,
// including wall-clock elapsed time.
func (e *Envelope) CheckBudget() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.limits.Unlimited {
		return nil
	}
	if e.exhausted {
		return e.exhaustedWith
	}
	if e.limits.MaxLatency > 0 {
		elapsed := time.Since(e.start)
		if elapsed > e.limits.MaxLatency {
			return e.markExhausted("latency", elapsed.Seconds(), e.limits.MaxLatency.Seconds())
		}
	}
	return nil
}

// Exhausted reports whether the envelope is sticky-exhausted.
func (e *Envelope) Exhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exhausted
}

// Usage returns a consistent snapshot of consumption and headroom.
func (e *Envelope) Usage() Usage {
	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := time.Since(e.start)

	u := Usage{
		TokensUsed:      e.tokensUsed,
		ToolCallsUsed:   e.toolCallsUsed,
		EscalationsUsed: e.escalationsUsed,
		CostUsd:         e.costUsd,
		Elapsed:         elapsed,
		EnergyWh:        e.energyWh,
	}

	if e.limits.Unlimited {
		return u
	}

	u.TokensRemaining = max(0, e.limits.MaxTokens-e.tokensUsed)
	u.ToolCallsRemaining = max(0, e.limits.MaxToolCalls-e.toolCallsUsed)
	u.EscalationsRemaining = max(0, e.limits.MaxEscalations-e.escalationsUsed)
	u.CostRemaining = max(0, e.limits.CostCeilingUsd-e.costUsd)
	u.EnergyRemaining = max(0, e.limits.MaxEnergyWh-e.energyWh)
	if e.limits.MaxLatency > 0 && elapsed < e.limits.MaxLatency {
		u.LatencyRemaining = e.limits.MaxLatency - elapsed
	}
	return u
}

// NewSubEnvelope allocates a proportional child envelope for a crew agent.
// The share must be in (0, 1]. Elapsed time is measured from the child's own
// creation instant; latency headroom is the parent's remaining window.
func (e *Envelope) NewSubEnvelope(share float64) (*Envelope, error) {
	if share <= 0 || share > 1 {
		return nil, fmt.Errorf("budget share must be in (0, 1], got %v", share)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.limits.Unlimited {
		return NewEnvelope(Limits{Unlimited: true}), nil
	}

	var latency time.Duration
	if e.limits.MaxLatency > 0 {
		remaining := e.limits.MaxLatency - time.Since(e.start)
		if remaining < 0 {
			remaining = 0
		}
		latency = remaining
	}

	return NewEnvelope(Limits{
		MaxTokens:      int(float64(e.limits.MaxTokens) * share),
		MaxToolCalls:   int(float64(e.limits.MaxToolCalls) * share),
		MaxEscalations: e.limits.MaxEscalations,
		MaxLatency:     latency,
		CostCeilingUsd: e.limits.CostCeilingUsd * share,
		MaxEnergyWh:    e.limits.MaxEnergyWh * share,
	}), nil
}

// Mirror folds a terminated sub-envelope's consumption into this envelope.
// The crew orchestrator calls it exactly once per agent termination.
func (e *Envelope) Mirror(sub *Envelope) {
	subUsage := sub.Usage()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tokensUsed += subUsage.TokensUsed
	e.toolCallsUsed += subUsage.ToolCallsUsed
	e.escalationsUsed += subUsage.EscalationsUsed
	e.costUsd += subUsage.CostUsd
	e.energyWh += subUsage.EnergyWh

	if e.limits.Unlimited {
		return
	}
	if e.limits.MaxTokens > 0 && e.tokensUsed > e.limits.MaxTokens {
		over := e.tokensUsed
		e.tokensUsed = e.limits.MaxTokens
		e.markExhausted("tokens", float64(over), float64(e.limits.MaxTokens))
	}
	if e.limits.CostCeilingUsd > 0 && e.costUsd > e.limits.CostCeilingUsd {
		over := e.costUsd
		e.costUsd = e.limits.CostCeilingUsd
		e.markExhausted("cost", over, e.limits.CostCeilingUsd)
	}
}

