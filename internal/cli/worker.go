package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/scriptbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scriptbox/internal/worker"
)

func init() {
	rootCmd.AddCommand(workerCmd)
}

// workerCmd is the child side of process isolation. It is started by the
// service, never by hand.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one invocation read from stdin (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := logging.NewWorker()
		defer func() { _ = logger.Sync() }()

		return worker.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), logger.Logger)
	},
}
