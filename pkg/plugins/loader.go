package plugins

import (
	"log/slog"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/plugin"
)

// LoadFromConfig builds the plugins of every configured name with a known
// factory, in sorted name order. Unknown names and failing factories are
// logged and skipped.
func LoadFromConfig(configs map[string]jsoniter.RawMessage, deps Deps) []*plugin.Plugin {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	var loaded []*plugin.Plugin
	for _, name := range names {
		factory, ok := GetPluginFactory(name)
		if !ok {
			slog.Warn("Unknown plugin type", "name", name, "known", Names())
			continue
		}

		ps, err := factory.Create(configs[name], deps)
		if err != nil {
			slog.Error("Failed to create plugin", "name", name, "error", err)
			continue
		}
		if len(ps) == 0 {
			slog.Info("Plugin skipped", "name", name)
			continue
		}
		loaded = append(loaded, ps...)
	}
	return loaded
}

// DecodeConfig unmarshals raw into v, leaving v untouched for an empty
// or null payload so factories can pre-fill defaults.
func DecodeConfig(raw jsoniter.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, v)
}
