package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "openai:gpt-4o-mini", cfg.Model.Identifier)
	assert.Equal(t, "uv", cfg.Provider.Command)
	assert.Equal(t, []string{"run", "tasty-agent", "stdio"}, cfg.Provider.Args)
	assert.Equal(t, 60, cfg.Provider.StartupTimeout)
	assert.Equal(t, "0.0.0.0", cfg.Gateway.Host)
	assert.Equal(t, 8000, cfg.Gateway.Port)
	assert.Equal(t, []string{"*"}, cfg.Tools.Allow)
	assert.True(t, cfg.Logging.Redaction)
}

func TestModelConfig_IdentifierParts(t *testing.T) {
	tests := []struct {
		identifier string
		provider   string
		model      string
	}{
		{"openai:gpt-4o-mini", "openai", "gpt-4o-mini"},
		{"anthropic:claude-sonnet-4-20250514", "anthropic", "claude-sonnet-4-20250514"},
		{"bare-model", "", "bare-model"},
	}

	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			m := ModelConfig{Identifier: tt.identifier}
			assert.Equal(t, tt.provider, m.ProviderName())
			assert.Equal(t, tt.model, m.ModelName())
		})
	}
}

func TestGatewayConfig_Addr(t *testing.T) {
	g := GatewayConfig{Host: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", g.Addr())
}
