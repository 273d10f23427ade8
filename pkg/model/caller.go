// Package model performs routed, budget-charged chat calls. It is the single
// charge path for LLM usage: token deduction derives cost from the model's
// pricing, and callers never additionally deduct cost for the same call.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/router"
	"github.com/ampere-run/ampere/pkg/trace"
)

// ErrProvider is the sentinel for failed provider calls.
var ErrProvider = errors.New("provider error")

// Caller routes, executes, and charges chat calls.
type Caller struct {
	providers *llms.ProviderRegistry
	router    *router.Router
	tracer    *trace.Logger
	energy    budget.EnergyConfig
	logger    *slog.Logger
}

// NewCaller wires a caller from its collaborators.
func NewCaller(providers *llms.ProviderRegistry, rt *router.Router, tracer *trace.Logger, energy budget.EnergyConfig, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{
		providers: providers,
		router:    rt,
		tracer:    tracer,
		energy:    energy,
		logger:    logger,
	}
}

// Request is one routed chat call.
type Request struct {
	Purpose  router.Purpose
	System   string
	Messages []llms.Message
	Context  *router.Context
	TraceID  string
	// Decision overrides routing when the caller already escalated.
	Decision *router.Decision
}

// Call routes the request, performs the chat call, charges the envelope, and
// maintains the router's failure accounting.
func (c *Caller) Call(ctx context.Context, env *budget.Envelope, req Request) (*llms.ModelResponse, *router.Decision, error) {
	if err := env.CheckBudget(); err != nil {
		return nil, nil, err
	}

	decision := req.Decision
	if decision == nil {
		var err error
		decision, err = c.router.Route(req.Purpose, env, req.Context)
		if err != nil {
			return nil, nil, err
		}
	}

	if c.tracer != nil && req.TraceID != "" {
		_ = c.tracer.LogEvent(req.TraceID, trace.EventRoutingDecision, map[string]any{
			"purpose":  string(req.Purpose),
			"tier":     string(decision.Tier),
			"provider": decision.Provider,
			"model":    decision.Model,
			"reason":   decision.Reason,
		})
	}

	provider, err := c.providers.GetProvider(decision.Provider)
	if err != nil {
		return nil, decision, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	resp, err := provider.Chat(ctx, llms.ModelRequest{
		Model:    decision.Model,
		Provider: decision.Provider,
		Tier:     decision.Tier,
		System:   req.System,
		Messages: req.Messages,
	})
	if err != nil {
		c.router.ReportFailure(decision.Provider)
		return nil, decision, fmt.Errorf("%w: %s/%s: %v", ErrProvider, decision.Provider, decision.Model, err)
	}
	if resp.Content == "" {
		c.router.ReportFailure(decision.Provider)
		return nil, decision, fmt.Errorf("%w: %s returned an empty response", ErrProvider, decision.Provider)
	}
	c.router.ReportSuccess(decision.Provider)

	chosenModel, _ := llms.FindModel(provider, decision.Model)
	if err := env.DeductTokens(resp.Usage, chosenModel); err != nil {
		return resp, decision, err
	}
	if err := env.DeductEnergy(chosenModel, resp.Usage, c.energy); err != nil {
		return resp, decision, err
	}

	c.logger.Debug("model call complete",
		"purpose", string(req.Purpose),
		"provider", decision.Provider,
		"model", decision.Model,
		"tokens", resp.Usage.Total)

	return resp, decision, nil
}

// Stream routes the request and returns the provider's chunk stream. Token
// charging happens when the terminal chunk reports usage.
func (c *Caller) Stream(ctx context.Context, env *budget.Envelope, req Request) (<-chan llms.StreamChunk, *router.Decision, error) {
	if err := env.CheckBudget(); err != nil {
		return nil, nil, err
	}

	decision := req.Decision
	if decision == nil {
		var err error
		decision, err = c.router.Route(req.Purpose, env, req.Context)
		if err != nil {
			return nil, nil, err
		}
	}

	provider, err := c.providers.GetProvider(decision.Provider)
	if err != nil {
		return nil, decision, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	upstream, err := provider.ChatStream(ctx, llms.ModelRequest{
		Model:    decision.Model,
		Provider: decision.Provider,
		Tier:     decision.Tier,
		System:   req.System,
		Messages: req.Messages,
	})
	if err != nil {
		c.router.ReportFailure(decision.Provider)
		return nil, decision, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	chosenModel, _ := llms.FindModel(provider, decision.Model)

	out := make(chan llms.StreamChunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.Done && chunk.Usage != nil {
				_ = env.DeductTokens(*chunk.Usage, chosenModel)
				_ = env.DeductEnergy(chosenModel, *chunk.Usage, c.energy)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, decision, nil
}
