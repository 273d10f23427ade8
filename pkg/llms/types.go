// Package llms defines the provider contract the runtime routes across, the
// model catalog types, and the request/response shapes for chat calls.
package llms

import (
	"context"
	"time"
)

// ============================================================================
// MODEL TIERS
// ============================================================================

// Tier classifies models by capability and latency.
type Tier string

const (
	// TierSLM is the small-latency tier used for cheap classification and
	// verification calls.
	TierSLM Tier = "slm"

	// TierLLM is the larger, more capable tier used for hard planning and
	// execution calls.
	TierLLM Tier = "llm"
)

// ============================================================================
// MODEL CATALOG
// ============================================================================

// Model describes a single model offered by a provider.
type Model struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Tier          Tier    `json:"tier"`
	ContextWindow int     `json:"context_window"`
	CostPerInput  float64 `json:"cost_per_input_token,omitempty"`  // USD per input token
	CostPerOutput float64 `json:"cost_per_output_token,omitempty"` // USD per output token
	EnergyPerTok  float64 `json:"energy_per_token_wh,omitempty"`   // Wh per token
}

// TokenUsage reports token consumption of a single chat call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Cost approximates the USD cost of this usage against the model's pricing.
func (u TokenUsage) Cost(model *Model) float64 {
	if model == nil {
		return 0
	}
	return float64(u.Prompt)*model.CostPerInput + float64(u.Completion)*model.CostPerOutput
}

// EnergyWh approximates the energy draw of this usage against the model.
func (u TokenUsage) EnergyWh(model *Model) float64 {
	if model == nil {
		return 0
	}
	return float64(u.Total) * model.EnergyPerTok
}

// ============================================================================
// CHAT REQUEST / RESPONSE
// ============================================================================

// ImageContent carries inline image data on a message.
type ImageContent struct {
	Data      string `json:"data"` // base64
	MediaType string `json:"media_type"`
}

// Message is one turn in a conversation.
type Message struct {
	Role    string         `json:"role"` // "user", "assistant", "system", "tool"
	Content string         `json:"content,omitempty"`
	Images  []ImageContent `json:"images,omitempty"`
}

// ResponseFormat hints the provider toward a structured output shape.
type ResponseFormat struct {
	Type   string         `json:"type"` // "text" or "json"
	Schema map[string]any `json:"schema,omitempty"`
}

// ModelRequest is a fully-routed chat request.
type ModelRequest struct {
	Model       string          `json:"model"`
	Provider    string          `json:"provider"`
	Tier        Tier            `json:"tier"`
	System      string          `json:"system,omitempty"`
	Messages    []Message       `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Format      *ResponseFormat `json:"response_format,omitempty"`
}

// ModelResponse is the provider's reply.
type ModelResponse struct {
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	Tier         Tier          `json:"tier"`
	Content      string        `json:"content"`
	Usage        TokenUsage    `json:"token_usage"`
	Latency      time.Duration `json:"latency_ms"`
	CostUsd      float64       `json:"cost_usd"`
	FinishReason string        `json:"finish_reason,omitempty"`
	EnergyWh     float64       `json:"energy_wh,omitempty"`
}

// StreamChunk is one element of a streaming chat response.
type StreamChunk struct {
	Content      string      `json:"content"`
	Done         bool        `json:"done"`
	Usage        *TokenUsage `json:"token_usage,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Err          error       `json:"-"`
}

// ============================================================================
// PROVIDER CONTRACT
// ============================================================================

// Provider is implemented once per LLM vendor. Adapters live outside the
// core; the runtime only depends on this contract.
type Provider interface {
	// Name returns the provider identifier used in routing configuration.
	Name() string

	// SupportedTiers returns the tiers this provider can serve.
	SupportedTiers() []Tier

	// IsAvailable reports whether the provider can currently take calls.
	IsAvailable() bool

	// ListModels returns the provider's model catalog.
	ListModels() []Model

	// EstimateCost approximates the USD cost of a prompt against a model.
	EstimateCost(promptTokens int, modelID string) float64

	// Chat performs a blocking chat call.
	Chat(ctx context.Context, req ModelRequest) (*ModelResponse, error)

	// ChatStream performs a streaming chat call. The returned channel is
	// closed after the chunk with Done set.
	ChatStream(ctx context.Context, req ModelRequest) (<-chan StreamChunk, error)
}

// FindModel returns the provider's model with the given ID.
func FindModel(p Provider, modelID string) (*Model, bool) {
	for _, m := range p.ListModels() {
		if m.ID == modelID {
			return &m, true
		}
	}
	return nil, false
}

// ModelsForTier filters the provider catalog by tier.
func ModelsForTier(p Provider, tier Tier) []Model {
	var out []Model
	for _, m := range p.ListModels() {
		if m.Tier == tier {
			out = append(out, m)
		}
	}
	return out
}
