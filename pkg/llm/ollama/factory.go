package ollama

import (
	"log/slog"

	"merilcat/pkg/config"
	"merilcat/pkg/llm"
)

// OllamaFactory handles creation of Ollama Clients
type OllamaFactory struct{}

// Create implements llm.ProviderFactory. Groups without base_url use the
// system's ollama_default_url.
func (f *OllamaFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.Client, error) {
	var clients []llm.Client

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sys.OllamaDefaultURL
	}
	for _, model := range cfg.Models {
		client, err := NewOllamaClient(model, baseURL, cfg.Options, sys.InternalChannelBuffer)
		if err != nil {
			slog.Error("Failed to create Ollama client", "model", model, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &OllamaFactory{})
}
