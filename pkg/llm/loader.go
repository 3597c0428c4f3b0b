package llm

import (
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/config"
)

// NewFromConfig builds a client from the "llm" provider groups. Several
// resulting clients are wrapped in a FallbackClient in declaration order.
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (Client, error) {
	if len(rawLLM) == 0 {
		return nil, fmt.Errorf("missing 'llm' config")
	}
	if system == nil {
		system = config.DefaultSystemConfig()
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %w", err)
	}

	var clients []Client
	for _, group := range groups {
		slog.Info("Loading LLM group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown LLM provider type", "type", group.Type, "known", Providers())
			continue
		}

		created, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("Failed to create LLM clients", "type", group.Type, "error", err)
			continue
		}
		clients = append(clients, created...)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}
	slog.Info("LLM clients initialized", "count", len(clients))

	if len(clients) == 1 {
		return clients[0], nil
	}
	return &FallbackClient{
		Clients:    clients,
		MaxRetries: system.MaxRetries,
		RetryDelay: time.Duration(system.RetryDelayMs) * time.Millisecond,
	}, nil
}
