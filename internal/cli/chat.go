package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/tastychat/internal/config"
	"github.com/harun/tastychat/pkg/agent"
	"github.com/harun/tastychat/pkg/chat"
	"github.com/harun/tastychat/pkg/prompt"
)

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, lg, err := bootstrap()
	if err != nil {
		return err
	}
	defer lg.Close()

	if err := config.NewValidator().ValidateForChat(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, registry, err := connectProvider(ctx, cfg, lg)
	if err != nil {
		return err
	}

	provider, err := agent.NewProvider(cfg.Model.ProviderName(), cfg.Model.BaseURL)
	if err != nil {
		client.Close()
		return err
	}

	session, err := agent.NewSession(agent.SessionConfig{
		Provider:     provider,
		Registry:     registry,
		Connector:    client,
		Model:        cfg.Model.ModelName(),
		Instructions: prompt.Compose(cfg.Model.CustomRules),
		Temperature:  cfg.Model.Temperature,
		MaxTokens:    cfg.Model.MaxTokens,
		MaxRetries:   cfg.Model.MaxRetries,
		Logger:       lg.Zerolog(),
	})
	if err != nil {
		client.Close()
		return err
	}

	loop, err := chat.New(chat.Config{
		Session: session,
		Input:   cmd.InOrStdin(),
		Output:  cmd.OutOrStdout(),
		Logger:  lg.Zerolog(),
	})
	if err != nil {
		session.Close()
		return err
	}

	// Loop owns the session from here; it closes it on every exit path.
	return loop.Run(ctx)
}
