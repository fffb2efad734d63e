package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateModelIdentifier(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name       string
		identifier string
		wantErr    bool
	}{
		{"openai model", "openai:gpt-4o-mini", false},
		{"anthropic model", "anthropic:claude-sonnet-4-20250514", false},
		{"empty", "", true},
		{"no colon", "gpt-4o-mini", true},
		{"empty model part", "openai:", true},
		{"unknown provider", "cohere:command-r", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateModelIdentifier(tt.identifier)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_ValidateCredentials(t *testing.T) {
	v := NewValidator()

	err := v.ValidateCredentials(CredentialsConfig{})
	require.Error(t, err)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "TASTYTRADE_CLIENT_SECRET", cfgErr.Field)

	err = v.ValidateCredentials(CredentialsConfig{ClientSecret: "s"})
	require.Error(t, err)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "TASTYTRADE_REFRESH_TOKEN", cfgErr.Field)

	assert.NoError(t, v.ValidateCredentials(CredentialsConfig{
		ClientSecret: "s",
		RefreshToken: "t",
	}))
}

func TestValidator_ValidateGateway(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateGateway(GatewayConfig{Host: "0.0.0.0", Port: 8000}))
	assert.Error(t, v.ValidateGateway(GatewayConfig{Host: "", Port: 8000}))
	assert.Error(t, v.ValidateGateway(GatewayConfig{Host: "0.0.0.0", Port: 0}))
	assert.Error(t, v.ValidateGateway(GatewayConfig{Host: "0.0.0.0", Port: 70000}))
}

func TestValidator_ValidateForServe_MissingCredentials(t *testing.T) {
	v := NewValidator()

	cfg := DefaultConfig()
	err := v.ValidateForServe(cfg)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestValidator_ValidateForChat(t *testing.T) {
	v := NewValidator()

	cfg := DefaultConfig()
	assert.NoError(t, v.ValidateForChat(cfg))

	cfg.Model.Identifier = "nope"
	assert.Error(t, v.ValidateForChat(cfg))

	cfg = DefaultConfig()
	cfg.Provider.Command = " "
	assert.Error(t, v.ValidateForChat(cfg))
}
