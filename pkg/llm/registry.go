package llm

import (
	"sort"
	"sync"

	"merilcat/pkg/config"
)

// ProviderGroupConfig is one entry of the "llm" array in config.json.
type ProviderGroupConfig struct {
	Type    string         `json:"type"`
	APIKeys []string       `json:"api_keys,omitempty"`
	Models  []string       `json:"models"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ProviderFactory builds the clients of one provider group, one per model
// (and key, where a provider rotates keys).
type ProviderFactory interface {
	Create(groupConfig ProviderGroupConfig, systemConfig *config.SystemConfig) ([]Client, error)
}

var (
	registryMu       sync.RWMutex
	providerRegistry = make(map[string]ProviderFactory)
)

// RegisterProvider registers a provider factory, typically from init().
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providerRegistry[name] = factory
}

// GetProviderFactory returns the factory registered under name.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := providerRegistry[name]
	return f, ok
}

// Providers lists the registered provider names.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
