package llms

import (
	"fmt"

	"github.com/ampere-run/ampere/pkg/registry"
)

// ProviderRegistry manages provider instances keyed by name.
type ProviderRegistry struct {
	*registry.BaseRegistry[Provider]
}

// NewProviderRegistry creates an empty provider registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// RegisterProvider registers a provider under its own name.
func (r *ProviderRegistry) RegisterProvider(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	if provider.Name() == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	return r.Register(provider.Name(), provider)
}

// GetProvider retrieves a provider by name.
func (r *ProviderRegistry) GetProvider(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("provider '%s' not found", name)
	}
	return provider, nil
}
