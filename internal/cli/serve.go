package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/scriptbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/scriptbox/internal/infrastructure/server"
)

var (
	servePort      string
	serveHost      string
	serveIsolation string
	servePoolSize  int
	serveDev       bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&servePort, "port", "", "Listen port (overrides PORT)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides HOST)")
	serveCmd.Flags().StringVar(&serveIsolation, "isolation", "", "Worker isolation: process or inprocess (overrides WORKER_ISOLATION)")
	serveCmd.Flags().IntVar(&servePoolSize, "pool-size", 0, "Concurrent invocations (overrides WORKER_POOL_SIZE)")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "Development logging")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sandbox over HTTP",
	Long:  "Starts the HTTP service: POST /execute, GET /health, GET /metrics.\nSettings come from the environment; flags override them.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := serveConfig()
	if err != nil {
		return err
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// serveConfig loads the environment and applies flag overrides.
func serveConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if servePort != "" {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if serveIsolation != "" {
		cfg.Worker.Isolation = serveIsolation
	}
	if servePoolSize > 0 {
		cfg.Worker.PoolSize = servePoolSize
	}
	if serveDev {
		cfg.Logging.Development = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
