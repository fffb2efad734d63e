package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the optional config file and applies environment overrides.
// The environment variable names are the contract shared with the tool
// provider and are bound verbatim, not derived from a prefix.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".tastychat", "tastychat.json")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	bindEnvironment(v)

	// The config file is optional; env-only operation matches the original
	// dotenv-driven setup.
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".tastychat")
	}

	return cfg, nil
}

// bindEnvironment binds the process-environment contract onto config keys.
func bindEnvironment(v *viper.Viper) {
	v.BindEnv("model.identifier", "MODEL_IDENTIFIER")
	v.BindEnv("model.base_url", "OPENAI_BASE_URL")
	v.BindEnv("model.custom_rules", "AGENT_CUSTOM_RULES")
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("credentials.client_secret", "TASTYTRADE_CLIENT_SECRET")
	v.BindEnv("credentials.refresh_token", "TASTYTRADE_REFRESH_TOKEN")
	v.BindEnv("credentials.account_id", "TASTYTRADE_ACCOUNT_ID")
}

// Save writes the configuration to the config file.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".tastychat", "tastychat.json")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("model", cfg.Model)
	v.Set("provider", cfg.Provider)
	v.Set("gateway", cfg.Gateway)
	v.Set("tools", cfg.Tools)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)
	// Credentials stay in the environment, never in the config file.

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
