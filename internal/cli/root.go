package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// exitScriptFailed is returned by "run" when the script did not succeed.
const exitScriptFailed = 2

var rootCmd = &cobra.Command{
	Use:   "scriptbox",
	Short: "Run untrusted JavaScript in a resource-bounded sandbox",
	Long: "scriptbox executes caller-supplied JavaScript with a hard timeout, a memory budget,\n" +
		"captured console output and allowlisted outbound fetch. It runs as an HTTP service\n" +
		"(serve) or one-shot from the command line (run).",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errScriptFailed) {
			os.Exit(exitScriptFailed)
		}
		os.Exit(1)
	}
}
