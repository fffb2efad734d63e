package config

import (
	"fmt"
)

// Config represents the full tastychat configuration. It is assembled once at
// startup from the optional config file plus environment variables and is not
// mutated afterwards.
type Config struct {
	// Model holds the LLM side of the session
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Provider holds the tool-provider subprocess invocation
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Gateway holds the network-stream host settings
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Tools holds tool dispatch policy and limits
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Credentials are passed through to the tool provider, never logged
	Credentials CredentialsConfig `json:"credentials" mapstructure:"credentials"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ModelConfig configures the model invocation mechanism
type ModelConfig struct {
	// Identifier is "provider:model", e.g. "openai:gpt-4o-mini"
	Identifier  string  `json:"identifier" mapstructure:"identifier"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"`
	CustomRules string  `json:"custom_rules" mapstructure:"custom_rules"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries  int     `json:"max_retries" mapstructure:"max_retries"`
}

// ProviderName returns the provider part of the model identifier.
func (m ModelConfig) ProviderName() string {
	for i := 0; i < len(m.Identifier); i++ {
		if m.Identifier[i] == ':' {
			return m.Identifier[:i]
		}
	}
	return ""
}

// ModelName returns the model part of the model identifier.
func (m ModelConfig) ModelName() string {
	for i := 0; i < len(m.Identifier); i++ {
		if m.Identifier[i] == ':' {
			return m.Identifier[i+1:]
		}
	}
	return m.Identifier
}

// ProviderConfig describes how to spawn the tool-provider subprocess
type ProviderConfig struct {
	Command        string   `json:"command" mapstructure:"command"`
	Args           []string `json:"args" mapstructure:"args"`
	StartupTimeout int      `json:"startup_timeout" mapstructure:"startup_timeout"` // seconds
}

// GatewayConfig holds host-mode settings
type GatewayConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// Addr returns the listen address for the gateway.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// ToolsConfig defines tool access policy and call limits
type ToolsConfig struct {
	Allow       []string `json:"allow" mapstructure:"allow"`
	Deny        []string `json:"deny" mapstructure:"deny"`
	CallTimeout int      `json:"call_timeout" mapstructure:"call_timeout"` // seconds
}

// CredentialsConfig holds the TastyTrade OAuth material the tool provider needs
type CredentialsConfig struct {
	ClientSecret string `json:"client_secret" mapstructure:"client_secret"`
	RefreshToken string `json:"refresh_token" mapstructure:"refresh_token"`
	AccountID    string `json:"account_id" mapstructure:"account_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with working defaults for local mode.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Identifier:  "openai:gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxRetries:  3,
		},
		Provider: ProviderConfig{
			Command:        "uv",
			Args:           []string{"run", "tasty-agent", "stdio"},
			StartupTimeout: 60,
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Tools: ToolsConfig{
			Allow:       []string{"*"},
			CallTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
	}
}
