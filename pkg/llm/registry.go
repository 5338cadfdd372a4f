package llm

import (
	"fmt"
	"sync"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
)

// Factory creates a provider bound to one request's credentials.
type Factory func(apiKey, baseURL string) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[config.ProviderType]Factory)
)

// RegisterProvider registers a provider factory. Called from provider
// package init functions.
func RegisterProvider(name config.ProviderType, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewProvider builds a provider for the request's credentials.
// Returns ErrProviderUnavailable when no key was supplied and ErrNoProvider
// when no factory is registered for the type.
func NewProvider(name config.ProviderType, creds Credentials) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, name)
	}
	if !creds.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, name)
	}
	return factory(creds.Key(name), creds.ProxyURL(name))
}

// RegisteredProviders returns the provider types with registered factories.
func RegisteredProviders() []config.ProviderType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]config.ProviderType, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
