package openailm

import (
	"fmt"

	"merilcat/pkg/config"
	"merilcat/pkg/llm"
)

const deepSeekBaseURL = "https://api.deepseek.com"

// OpenAIFactory builds clients for "openai" and "deepseek" groups.
type OpenAIFactory struct {
	provider       string
	defaultBaseURL string
}

// Create builds one client per model and key, models first.
func (f *OpenAIFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.Client, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("%s: no api_keys configured", f.provider)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = f.defaultBaseURL
	}

	var clients []llm.Client
	for _, model := range cfg.Models {
		for _, key := range cfg.APIKeys {
			clients = append(clients, NewClient(f.provider, key, model, baseURL, cfg.Options, sys.InternalChannelBuffer))
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &OpenAIFactory{provider: "openai"})
	llm.RegisterProvider("deepseek", &OpenAIFactory{provider: "deepseek", defaultBaseURL: deepSeekBaseURL})
}
