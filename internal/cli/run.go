package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/scriptbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/scriptbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scriptbox/internal/sandbox"
)

var errScriptFailed = errors.New("script did not succeed")

var (
	runInput     string
	runInputFile string
	runAllow     []string
	runTimeout   time.Duration
	runMemory    int64
	runOutput    string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runInput, "input", "", "Input value as JSON")
	runCmd.Flags().StringVar(&runInputFile, "input-file", "", "Read the input value from a JSON or YAML file")
	runCmd.Flags().StringSliceVar(&runAllow, "allow", nil, "Domain fetch may reach (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Execution timeout (default from SANDBOX_DEFAULT_TIMEOUT_MS)")
	runCmd.Flags().Int64Var(&runMemory, "memory", 0, "Memory limit in bytes (default from SANDBOX_DEFAULT_MEMORY_BYTES)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "json", "Output format: json or yaml")
}

var runCmd = &cobra.Command{
	Use:   "run <file|->",
	Short: "Execute one script and print its outcome",
	Long:  "Runs a script file (or stdin with \"-\") in the sandbox and prints the outcome.\nExit code 2 means the script ran but did not succeed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	if runOutput != "json" && runOutput != "yaml" {
		return fmt.Errorf("invalid --output %q: want json or yaml", runOutput)
	}

	code, err := readScript(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	input, err := readInput()
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:       "warn",
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec := sandbox.NewExecutor(cfg.Sandbox.ToSandbox(), sandbox.WithLogger(logger.Logger))
	out := exec.Execute(ctx, sandbox.Request{
		Code:             code,
		TimeoutMs:        runTimeout.Milliseconds(),
		MemoryLimitBytes: runMemory,
		AllowedDomains:   runAllow,
		Input:            input,
	})

	if err := writeOutcome(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if !out.Success {
		return errScriptFailed
	}
	return nil
}

func readScript(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	return string(data), nil
}

// readInput returns the --input or --input-file value as JSON, or nil when
// neither is set.
func readInput() (json.RawMessage, error) {
	switch {
	case runInput != "" && runInputFile != "":
		return nil, errors.New("--input and --input-file are mutually exclusive")
	case runInput != "":
		if !sonic.Valid([]byte(runInput)) {
			return nil, errors.New("--input is not valid JSON")
		}
		return json.RawMessage(runInput), nil
	case runInputFile != "":
		data, err := os.ReadFile(runInputFile)
		if err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
		// YAML is a superset of JSON, so one path covers both.
		converted, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parsing input file: %w", err)
		}
		return json.RawMessage(strings.TrimSpace(string(converted))), nil
	}
	return nil, nil
}

func writeOutcome(w io.Writer, out *sandbox.Outcome) error {
	data, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	if runOutput == "yaml" {
		if data, err = yaml.JSONToYAML(data); err != nil {
			return fmt.Errorf("encoding outcome: %w", err)
		}
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
