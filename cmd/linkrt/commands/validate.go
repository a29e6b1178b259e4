package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/linkrt/pkg/supervisor"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file without starting anything.

This command checks:
  - YAML syntax and unknown keys
  - Field constraints (required names, non-negative durations, ...)
  - Unique resource and pipeline names
  - Pipeline sources and sinks refer to known resources
  - Every driver is registered and accepts its options`,
		Example: `  # Validate the default config file
  linkrt validate

  # Validate a specific file
  linkrt validate -c ./deploy/linkrt.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			attachConsole()

			log.Debug().Str("path", configPath).Msg("Validating configuration")

			f, err := loadConfig()
			if err != nil {
				return err
			}

			// Building the supervisor constructs every driver without
			// touching the endpoints.
			if _, err := supervisor.New(f); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d resources, %d pipelines)\n",
				configPath, len(f.Resources), len(f.Pipelines))
			return nil
		},
	}

	return cmd
}
