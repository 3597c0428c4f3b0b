package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Gateway connection modes.
const (
	GatewayModeServer = "server" // the gateway dials us (reverse WebSocket)
	GatewayModeClient = "client" // we dial the gateway (forward WebSocket)
)

// Config defines the application configuration.
// This structure maps directly to config.json and holds business-level
// settings: who the bot is, where the gateway lives and which plugins run.
type Config struct {
	// BotID is the account the gateway is logged in as.
	BotID int64 `json:"bot_id"`
	// RootID is the operator account. Plugins may treat it specially.
	RootID int64 `json:"root_id"`
	// Gateway describes how the protocol connection is established.
	Gateway GatewayConfig `json:"gateway"`
	// LLM holds the provider groups in raw JSON. Optional; plugins that need
	// a model stay disabled without it.
	LLM jsoniter.RawMessage `json:"llm"`
	// SystemPrompt is the persona given to conversational plugins.
	SystemPrompt string `json:"system_prompt"`
	// Plugins maps plugin names to their raw configuration payloads.
	Plugins map[string]jsoniter.RawMessage `json:"plugins"`
}

type GatewayConfig struct {
	// Mode is "server" (default) or "client".
	Mode string `json:"mode"`
	// ListenAddr is the server bind address. Default: 0.0.0.0:3000.
	ListenAddr string `json:"listen_addr"`
	// Path is the server WebSocket path. Default: /ws.
	Path string `json:"path"`
	// URL is the gateway endpoint dialed in client mode.
	URL string `json:"url"`
	// AccessToken, when set, is sent as a Bearer token in client mode.
	AccessToken string `json:"access_token"`
}

func (g *GatewayConfig) applyDefaults() {
	if g.Mode == "" {
		g.Mode = GatewayModeServer
	}
	if g.ListenAddr == "" {
		g.ListenAddr = "0.0.0.0:3000"
	}
	if g.Path == "" {
		g.Path = "/ws"
	}
}

// Validate ensures the configuration contains all mandatory fields.
func (c *Config) Validate() error {
	switch c.Gateway.Mode {
	case GatewayModeServer:
	case GatewayModeClient:
		if c.Gateway.URL == "" {
			return fmt.Errorf("gateway mode 'client' requires 'gateway.url'")
		}
	default:
		return fmt.Errorf("unknown gateway mode %q", c.Gateway.Mode)
	}
	return nil
}

// Parse decodes an application config, fills defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Gateway.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SystemConfig defines engine-level technical parameters, stored in
// system.json. They can be changed at runtime through WatchConfig.
type SystemConfig struct {
	// ActionTimeoutMs bounds how long an action waits for its response.
	ActionTimeoutMs int `json:"action_timeout_ms"`
	// BusCapacity is the per-subscriber buffer of every signal bus.
	BusCapacity int `json:"bus_capacity"`
	// ReconnectDelayMs is the first redial delay in client mode; it
	// doubles up to MaxReconnectDelayMs.
	ReconnectDelayMs    int `json:"reconnect_delay_ms"`
	MaxReconnectDelayMs int `json:"max_reconnect_delay_ms"`
	// MaxRetries is the number of attempts on a transient LLM error.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the wait between LLM retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff for one LLM request.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// OllamaDefaultURL is used when an ollama provider has no url.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer sizes the channels used for LLM streaming.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// ScriptTimeoutMs bounds one Lua callback.
	ScriptTimeoutMs int `json:"script_timeout_ms"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns safe defaults, used when system.json is
// missing or corrupt.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		ActionTimeoutMs:       10000,
		BusCapacity:           256,
		ReconnectDelayMs:      1000,
		MaxReconnectDelayMs:   30000,
		MaxRetries:            3,
		RetryDelayMs:          500,
		LLMTimeoutMs:          120000,
		OllamaDefaultURL:      "http://localhost:11434",
		InternalChannelBuffer: 100,
		ScriptTimeoutMs:       5000,
		LogLevel:              "info",
	}
}

// Load reads the application config at appPath, which is mandatory, and
// the system config at sysPath, which falls back to defaults.
func Load(appPath, sysPath string) (*Config, *SystemConfig, error) {
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(appFile)
	if err != nil {
		return nil, nil, err
	}

	return cfg, LoadSystemConfig(sysPath), nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails.
// Fields absent from the file keep their default values.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return DefaultSystemConfig()
	}

	return cfg
}
