// Package plugins holds the factory registry of configurable plugins.
// Plugin packages register themselves from init(); import
// merilcat/pkg/plugins/autoload to pull in the built-in set.
package plugins

import (
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/api"
	"merilcat/pkg/config"
	"merilcat/pkg/llm"
	"merilcat/pkg/plugin"
)

// Deps are the shared resources handed to every factory.
type Deps struct {
	Config *config.Config
	System *config.SystemConfig
	// LLM is nil when no provider is configured.
	LLM llm.Client
	// Plugins lists the registered plugins, for plugins that introspect.
	Plugins api.PluginLister
}

// Factory builds plugins from their raw configuration. Returning no
// plugins and a nil error skips the entry silently (e.g. missing
// credentials that are optional).
type Factory interface {
	Create(rawConfig jsoniter.RawMessage, deps Deps) ([]*plugin.Plugin, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(rawConfig jsoniter.RawMessage, deps Deps) ([]*plugin.Plugin, error)

func (f FactoryFunc) Create(rawConfig jsoniter.RawMessage, deps Deps) ([]*plugin.Plugin, error) {
	return f(rawConfig, deps)
}

var (
	registryMu     sync.RWMutex
	pluginRegistry = make(map[string]Factory)
)

// RegisterPlugin adds a factory under name, typically during init().
func RegisterPlugin(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	pluginRegistry[name] = factory
}

// GetPluginFactory retrieves a registered factory by name.
func GetPluginFactory(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := pluginRegistry[name]
	return f, ok
}

// Names lists the registered factory names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(pluginRegistry))
	for name := range pluginRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
