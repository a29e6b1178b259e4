package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/linkrt/pkg/drivers"
	"github.com/openfroyo/linkrt/pkg/engine"
	"github.com/openfroyo/linkrt/pkg/lifecycle"
	"github.com/openfroyo/linkrt/pkg/supervisor"
)

// probeStep is the outcome of one probed operation.
type probeStep struct {
	Operation string        `json:"operation"`
	Status    engine.Status `json:"status"`
	Code      int           `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`
	Payload   string        `json:"payload,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// probeReport is printed by the probe command.
type probeReport struct {
	Resource string      `json:"resource"`
	Driver   string      `json:"driver"`
	OK       bool        `json:"ok"`
	Steps    []probeStep `json:"steps"`
}

func newProbeCommand() *cobra.Command {
	var (
		jsonOutput bool
		write      string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <resource>",
		Short: "Connect to one resource and read from it once",
		Long: `Create and connect the named resource, read one sample and optionally
write a payload, then destroy it. Polling and pipelines are not started.

The command exits non-zero when any step fails.`,
		Example: `  # Probe a resource
  linkrt probe thermo

  # Probe with a write and JSON output
  linkrt probe uplink --write 'ping' --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attachConsole()

			f, err := loadConfig()
			if err != nil {
				return err
			}
			rc, ok := f.Resource(args[0])
			if !ok {
				return fmt.Errorf("unknown resource %q", args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report, err := probe(ctx, supervisor.DefaultDrivers(), rc.Driver, drivers.Spec{Config: rc.Config, Options: rc.Options}, write)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printProbe(cmd.OutOrStdout(), report)
			}

			if !report.OK {
				return fmt.Errorf("probe of %s failed", report.Resource)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().StringVarP(&write, "write", "w", "", "payload to write after the read")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall probe timeout")

	return cmd
}

// probe runs create, connect, read, an optional write and destroy against
// one resource. Steps after the first failure are skipped, destroy always
// runs.
func probe(ctx context.Context, reg *drivers.Registry, driver string, spec drivers.Spec, write string) (*probeReport, error) {
	conn, err := reg.New(driver, spec)
	if err != nil {
		return nil, err
	}

	cfg := spec.Config
	cfg.PollInterval = 0
	cfg.Disabled = false

	ctrl, err := lifecycle.New[[]byte](cfg, conn, lifecycle.WithLogger(log.Logger))
	if err != nil {
		return nil, err
	}

	report := &probeReport{Resource: cfg.Name, Driver: driver, OK: true}
	run := func(op string, fn func() engine.Result) {
		if !report.OK {
			return
		}
		start := time.Now()
		r := fn()
		step := probeStep{
			Operation: op,
			Status:    r.Status,
			Code:      r.Code,
			Message:   r.Message,
			Duration:  time.Since(start),
		}
		if payload, ok := engine.PayloadAs[[]byte](r); ok {
			step.Payload = string(payload)
		}
		report.Steps = append(report.Steps, step)
		report.OK = r.OK()
	}

	run("create", func() engine.Result { return ctrl.Create(ctx) })
	run("connect", func() engine.Result { return ctrl.Connect(ctx) })
	run("read", func() engine.Result { return ctrl.ReadData(ctx) })
	if write != "" {
		run("write", func() engine.Result { return ctrl.WriteData(ctx, []byte(write)) })
	}

	// Destroy on a fresh context so a timed out probe still cleans up
	if r := ctrl.Destroy(context.WithoutCancel(ctx)); !r.OK() {
		log.Warn().Str("resource", cfg.Name).Str("error", r.Message).Msg("Destroy after probe failed")
	}
	return report, nil
}

func printProbe(w io.Writer, report *probeReport) {
	fmt.Fprintf(w, "%s (%s)\n", report.Resource, report.Driver)
	for _, s := range report.Steps {
		fmt.Fprintf(w, "  %-8s %-16s %8s", s.Operation, s.Status, s.Duration.Round(time.Microsecond))
		if s.Message != "" {
			fmt.Fprintf(w, "  %s", s.Message)
		}
		if s.Payload != "" {
			fmt.Fprintf(w, "  %q", s.Payload)
		}
		fmt.Fprintln(w)
	}
}
