// Package tokens provides token counting backed by tiktoken encodings.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter handles token counting for a specific model.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	// Encodings are expensive to build; cache them per model.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewCounter creates a counter for the given model. Models unknown to
// tiktoken fall back to the cl100k_base encoding.
func NewCounter(model string) (*Counter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &Counter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &Counter{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// Model returns the model this counter was built for.
func (c *Counter) Model() string {
	return c.model
}

// Estimate counts tokens for text against the given model, falling back to a
// character-based heuristic when no encoding can be constructed.
func Estimate(model, text string) int {
	counter, err := NewCounter(model)
	if err != nil {
		// Roughly four characters per token for English-like text.
		return len(text) / 4
	}
	return counter.Count(text)
}
