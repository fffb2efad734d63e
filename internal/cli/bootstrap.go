package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/tastychat/internal/config"
	"github.com/harun/tastychat/internal/logger"
	"github.com/harun/tastychat/internal/observability"
	"github.com/harun/tastychat/pkg/mcp"
	"github.com/harun/tastychat/pkg/toolset"
)

// bootstrap loads configuration and brings up logging. Logging comes first so
// every later failure is reported through a configured writer.
func bootstrap() (*config.Config, *logger.Logger, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	lg, err := logger.Init(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err == nil {
			if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.jsonl")); err != nil {
				zl := lg.Zerolog()
				zl.Warn().Err(err).Msg("Audit trail disabled")
			}
		}
	}

	return cfg, lg, nil
}

// credentialEnv builds the KEY=VALUE entries the tool provider needs when
// credentials came from a config source other than the process environment.
func credentialEnv(cfg *config.Config) []string {
	var env []string
	if cfg.Credentials.ClientSecret != "" {
		env = append(env, "TASTYTRADE_CLIENT_SECRET="+cfg.Credentials.ClientSecret)
	}
	if cfg.Credentials.RefreshToken != "" {
		env = append(env, "TASTYTRADE_REFRESH_TOKEN="+cfg.Credentials.RefreshToken)
	}
	if cfg.Credentials.AccountID != "" {
		env = append(env, "TASTYTRADE_ACCOUNT_ID="+cfg.Credentials.AccountID)
	}
	return env
}

// connectProvider spawns the tool provider and registers its catalog. On any
// failure the subprocess is torn down before the error propagates.
func connectProvider(ctx context.Context, cfg *config.Config, lg *logger.Logger) (*mcp.Client, *toolset.Registry, error) {
	client := mcp.NewClient(mcp.Config{
		Command:        cfg.Provider.Command,
		Args:           cfg.Provider.Args,
		Env:            credentialEnv(cfg),
		StartupTimeout: time.Duration(cfg.Provider.StartupTimeout) * time.Second,
		CallTimeout:    time.Duration(cfg.Tools.CallTimeout) * time.Second,
		Logger:         lg.Zerolog(),
	})

	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}

	registry := toolset.New(
		&toolset.Policy{Allow: cfg.Tools.Allow, Deny: cfg.Tools.Deny},
		time.Duration(cfg.Tools.CallTimeout)*time.Second,
	)

	if _, err := registry.RegisterProvider(ctx, client); err != nil {
		client.Close()
		return nil, nil, err
	}

	return client, registry, nil
}
