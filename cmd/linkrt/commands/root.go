package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/linkrt/pkg/config"
	"github.com/openfroyo/linkrt/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// pending holds log records written before a command picks the sink.
	pending *telemetry.PendingWriter
)

// Execute runs the root command
func Execute(ctx context.Context, logs *telemetry.PendingWriter, version, commit, buildDate string) error {
	pending = logs
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "linkrt",
		Short: "linkrt - runtime for connectable, polled I/O resources",
		Long: `linkrt manages the lifecycle of I/O resources and the pipelines
between them.

Features:
  - Create/connect/read/write lifecycle with hooks and statistics
  - Periodic polling with live-adjustable intervals
  - Bounded producer-consumer pipelines with backpressure
  - Prometheus metrics, OpenTelemetry tracing and structured logs
  - Hot reload of poll intervals and enabled flags`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "linkrt.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newProbeCommand())

	return rootCmd
}

// attachConsole routes buffered and future global log records to stderr.
func attachConsole() {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if pending != nil && !pending.Attached() {
		_ = pending.Attach(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// loadConfig loads and validates the file named by --config.
func loadConfig() (*config.File, error) {
	f, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", configPath, err)
	}
	return f, nil
}
