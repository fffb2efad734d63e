package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/tastychat/internal/config"
)

var (
	configureModel   string
	configureBaseURL string
	configureCommand string
	configureHost    string
	configurePort    int
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write settings to the config file",
	Long: `Write model, provider and gateway settings to the config file.
Credentials are never written; they stay in the environment.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureModel, "model", "", "model identifier (provider:model)")
	configureCmd.Flags().StringVar(&configureBaseURL, "base-url", "", "OpenAI-compatible endpoint override")
	configureCmd.Flags().StringVar(&configureCommand, "provider-command", "", "tool provider command")
	configureCmd.Flags().StringVar(&configureHost, "host", "", "gateway host")
	configureCmd.Flags().IntVar(&configurePort, "port", 0, "gateway port")

	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	if configureModel != "" {
		cfg.Model.Identifier = configureModel
	}
	if configureBaseURL != "" {
		cfg.Model.BaseURL = configureBaseURL
	}
	if configureCommand != "" {
		cfg.Provider.Command = configureCommand
	}
	if configureHost != "" {
		cfg.Gateway.Host = configureHost
	}
	if configurePort != 0 {
		cfg.Gateway.Port = configurePort
	}

	validator := config.NewValidator()
	if err := validator.ValidateModelIdentifier(cfg.Model.Identifier); err != nil {
		return err
	}
	if err := validator.ValidateGateway(cfg.Gateway); err != nil {
		return err
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	cmd.Printf("Configuration saved (model %s, gateway %s)\n", cfg.Model.Identifier, cfg.Gateway.Addr())
	return nil
}
