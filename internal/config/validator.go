package config

import (
	"fmt"
	"strings"
)

// ConfigurationError reports invalid or missing startup configuration.
// It is fatal: callers exit non-zero before any session or listener exists.
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// supported model providers, keyed by identifier prefix
var knownProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

// ValidateModelIdentifier checks the "provider:model" identifier form.
func (v *Validator) ValidateModelIdentifier(identifier string) error {
	if identifier == "" {
		return &ConfigurationError{Field: "model.identifier", Reason: "cannot be empty"}
	}

	provider, model, found := strings.Cut(identifier, ":")
	if !found || model == "" {
		return &ConfigurationError{
			Field:  "model.identifier",
			Reason: fmt.Sprintf("%q is not in provider:model form", identifier),
		}
	}

	if !knownProviders[provider] {
		return &ConfigurationError{
			Field:  "model.identifier",
			Reason: fmt.Sprintf("unsupported provider %q (openai, anthropic)", provider),
		}
	}

	return nil
}

// ValidateProvider checks the tool-provider subprocess invocation.
func (v *Validator) ValidateProvider(cfg ProviderConfig) error {
	if strings.TrimSpace(cfg.Command) == "" {
		return &ConfigurationError{Field: "provider.command", Reason: "cannot be empty"}
	}
	if cfg.StartupTimeout <= 0 {
		return &ConfigurationError{Field: "provider.startup_timeout", Reason: "must be positive"}
	}
	return nil
}

// ValidateGateway checks host-mode listen parameters.
func (v *Validator) ValidateGateway(cfg GatewayConfig) error {
	if cfg.Host == "" {
		return &ConfigurationError{Field: "gateway.host", Reason: "cannot be empty"}
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return &ConfigurationError{
			Field:  "gateway.port",
			Reason: fmt.Sprintf("%d is out of range", cfg.Port),
		}
	}
	return nil
}

// ValidateCredentials checks the OAuth material required by host mode.
// Local mode leaves credential checks to the tool provider itself.
func (v *Validator) ValidateCredentials(cfg CredentialsConfig) error {
	if cfg.ClientSecret == "" {
		return &ConfigurationError{
			Field:  "TASTYTRADE_CLIENT_SECRET",
			Reason: "required environment variable is not set",
		}
	}
	if cfg.RefreshToken == "" {
		return &ConfigurationError{
			Field:  "TASTYTRADE_REFRESH_TOKEN",
			Reason: "required environment variable is not set",
		}
	}
	return nil
}

// ValidateForChat validates everything local mode needs before starting.
func (v *Validator) ValidateForChat(cfg *Config) error {
	if err := v.ValidateModelIdentifier(cfg.Model.Identifier); err != nil {
		return err
	}
	return v.ValidateProvider(cfg.Provider)
}

// ValidateForServe validates everything host mode needs before binding.
func (v *Validator) ValidateForServe(cfg *Config) error {
	if err := v.ValidateCredentials(cfg.Credentials); err != nil {
		return err
	}
	if err := v.ValidateProvider(cfg.Provider); err != nil {
		return err
	}
	return v.ValidateGateway(cfg.Gateway)
}
