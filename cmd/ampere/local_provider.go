package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/tokens"
)

// localProvider is an offline provider for smoke runs: it answers every chat
// call with a canned final-answer envelope so the full loop can be exercised
// without network credentials. Real vendor adapters register alongside it.
type localProvider struct {
	models []llms.Model
}

func newLocalProvider() *localProvider {
	return &localProvider{
		models: []llms.Model{
			{ID: "local-slm", Name: "local small", Tier: llms.TierSLM, ContextWindow: 32_000},
			{ID: "local-llm", Name: "local large", Tier: llms.TierLLM, ContextWindow: 128_000},
		},
	}
}

func (p *localProvider) Name() string                { return "local" }
func (p *localProvider) SupportedTiers() []llms.Tier { return []llms.Tier{llms.TierSLM, llms.TierLLM} }
func (p *localProvider) IsAvailable() bool           { return true }
func (p *localProvider) ListModels() []llms.Model    { return p.models }

func (p *localProvider) EstimateCost(int, string) float64 { return 0 }

func (p *localProvider) Chat(_ context.Context, req llms.ModelRequest) (*llms.ModelResponse, error) {
	prompt := req.System
	for _, m := range req.Messages {
		prompt += "\n" + m.Content
	}
	promptTokens := tokens.Estimate(req.Model, prompt)

	answer, _ := json.Marshal(map[string]string{
		"answer": "local provider cannot reason; echoing the task: " + lastUserContent(req.Messages),
	})
	content := string(answer)

	return &llms.ModelResponse{
		Model:    req.Model,
		Provider: "local",
		Tier:     req.Tier,
		Content:  content,
		Usage: llms.TokenUsage{
			Prompt:     promptTokens,
			Completion: 20,
			Total:      promptTokens + 20,
		},
		Latency:      time.Millisecond,
		FinishReason: "stop",
	}, nil
}

func (p *localProvider) ChatStream(ctx context.Context, req llms.ModelRequest) (<-chan llms.StreamChunk, error) {
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

func lastUserContent(messages []llms.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
