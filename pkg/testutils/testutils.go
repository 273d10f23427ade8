// Package testutils provides shared fakes for tests: a scripted LLM
// provider and tool helpers. Production wiring never imports it.
package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/tools"
)

// ScriptedProvider replays canned responses in order. It satisfies the
// provider contract so tests can drive the full execution loop without a
// network.
type ScriptedProvider struct {
	ProviderName string
	Tiers        []llms.Tier
	Models       []llms.Model
	Available    bool

	// ChatFunc overrides the scripted queue when set.
	ChatFunc func(ctx context.Context, req llms.ModelRequest) (*llms.ModelResponse, error)

	mu        sync.Mutex
	responses []string
	calls     []llms.ModelRequest
}

// NewScriptedProvider builds a provider named name serving both tiers with
// one cheap model per tier.
func NewScriptedProvider(name string, responses ...string) *ScriptedProvider {
	return &ScriptedProvider{
		ProviderName: name,
		Tiers:        []llms.Tier{llms.TierSLM, llms.TierLLM},
		Available:    true,
		Models: []llms.Model{
			{
				ID:            name + "-slm",
				Name:          name + " small",
				Tier:          llms.TierSLM,
				ContextWindow: 32_000,
				CostPerInput:  0.0000001,
				CostPerOutput: 0.0000002,
				EnergyPerTok:  0.00001,
			},
			{
				ID:            name + "-llm",
				Name:          name + " large",
				Tier:          llms.TierLLM,
				ContextWindow: 128_000,
				CostPerInput:  0.000003,
				CostPerOutput: 0.000015,
				EnergyPerTok:  0.0003,
			},
		},
		responses: responses,
	}
}

// Enqueue appends responses to the script.
func (p *ScriptedProvider) Enqueue(responses ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, responses...)
}

// Calls returns a copy of every request seen so far.
func (p *ScriptedProvider) Calls() []llms.ModelRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llms.ModelRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *ScriptedProvider) Name() string                { return p.ProviderName }
func (p *ScriptedProvider) SupportedTiers() []llms.Tier { return p.Tiers }
func (p *ScriptedProvider) IsAvailable() bool           { return p.Available }
func (p *ScriptedProvider) ListModels() []llms.Model    { return p.Models }

func (p *ScriptedProvider) EstimateCost(promptTokens int, modelID string) float64 {
	if model, ok := llms.FindModel(p, modelID); ok {
		return float64(promptTokens) * model.CostPerInput
	}
	return 0
}

func (p *ScriptedProvider) Chat(ctx context.Context, req llms.ModelRequest) (*llms.ModelResponse, error) {
	if p.ChatFunc != nil {
		return p.ChatFunc(ctx, req)
	}

	p.mu.Lock()
	p.calls = append(p.calls, req)
	if len(p.responses) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("scripted provider '%s' ran out of responses", p.ProviderName)
	}
	content := p.responses[0]
	p.responses = p.responses[1:]
	p.mu.Unlock()

	usage := llms.TokenUsage{Prompt: 50, Completion: 25, Total: 75}
	model, _ := llms.FindModel(p, req.Model)

	return &llms.ModelResponse{
		Model:        req.Model,
		Provider:     p.ProviderName,
		Tier:         req.Tier,
		Content:      content,
		Usage:        usage,
		Latency:      time.Millisecond,
		CostUsd:      usage.Cost(model),
		FinishReason: "stop",
		EnergyWh:     usage.EnergyWh(model),
	}, nil
}

func (p *ScriptedProvider) ChatStream(ctx context.Context, req llms.ModelRequest) (<-chan llms.StreamChunk, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan llms.StreamChunk, 2)
	ch <- llms.StreamChunk{Content: resp.Content}
	ch <- llms.StreamChunk{Done: true, Usage: &resp.Usage, FinishReason: resp.FinishReason}
	close(ch)
	return ch, nil
}

// RecordingTool returns a tool that records every args map it sees and
// replies with a fixed output.
func RecordingTool(name string, output any) (*tools.Tool, *[]map[string]any) {
	var seen []map[string]any
	var mu sync.Mutex

	tool := &tools.Tool{
		Name:        name,
		Description: "Recording test tool.",
		Execute: func(_ context.Context, args map[string]any) (any, error) {
			mu.Lock()
			seen = append(seen, args)
			mu.Unlock()
			return output, nil
		},
	}
	return tool, &seen
}

// FailingTool returns a tool that always errors.
func FailingTool(name string) *tools.Tool {
	return &tools.Tool{
		Name:        name,
		Description: "Always fails.",
		Execute: func(_ context.Context, _ map[string]any) (any, error) {
			return nil, fmt.Errorf("tool '%s' failed deliberately", name)
		},
	}
}
