package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/tastychat/internal/config"
	"github.com/harun/tastychat/pkg/gateway"
)

var (
	serveHost  string
	servePort  int
	serveDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the trading tool catalog over the network",
	Long: `Start the gateway server. It spawns the tool provider, takes over its
catalog, and serves it to network clients over a websocket stream, alongside
health and metrics endpoints.

Required environment variables:
  TASTYTRADE_CLIENT_SECRET    OAuth client secret
  TASTYTRADE_REFRESH_TOKEN    OAuth refresh token
  TASTYTRADE_ACCOUNT_ID       (optional) specific account to use`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind to (default 0.0.0.0)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to bind to (default 8000)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveDebug && logLevel == "" {
		logLevel = "debug"
	}

	cfg, lg, err := bootstrap()
	if err != nil {
		return err
	}
	defer lg.Close()

	if serveHost != "" {
		cfg.Gateway.Host = serveHost
	}
	if servePort != 0 {
		cfg.Gateway.Port = servePort
	}

	// Credentials and listen parameters are checked before anything spawns or
	// binds; a failure here exits non-zero with no partial startup.
	if err := config.NewValidator().ValidateForServe(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, registry, err := connectProvider(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer client.Close()

	server, err := gateway.NewServer(gateway.Config{
		Host:     cfg.Gateway.Host,
		Port:     cfg.Gateway.Port,
		Name:     rootCmd.Use,
		Version:  version,
		Registry: registry,
		Logger:   lg.Zerolog(),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	zl := lg.Zerolog()
	zl.Info().
		Str("endpoint", "ws://"+cfg.Gateway.Addr()+"/mcp").
		Msg("Gateway ready")
	cmd.Printf("Gateway listening on %s\n", cfg.Gateway.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return server.Stop()
	}
}
