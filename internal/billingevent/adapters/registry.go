// Package adapters selects the webhook adapter for the configured billing provider.
package adapters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/tokenledger/internal/billingevent/domain"
)

// Registry maps provider names to the factories that build their webhook adapters.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

// NewRegistry indexes factories by provider name. Later factories replace earlier ones with the
// same name.
func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: make(map[string]domain.AdapterFactory, len(factories))}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		if provider := normalizeProvider(factory.Provider()); provider != "" {
			registry.factories[provider] = factory
		}
	}
	return registry
}

// Providers lists the registered provider names in order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewAdapter builds the adapter for provider with cfg.
func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.Adapter, error) {
	name := normalizeProvider(provider)
	if r == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrProviderNotFound, name)
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrProviderNotFound, name)
	}
	return factory.NewAdapter(cfg)
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
