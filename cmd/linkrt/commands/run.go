package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/linkrt/pkg/config"
	"github.com/openfroyo/linkrt/pkg/stats"
	"github.com/openfroyo/linkrt/pkg/supervisor"
	"github.com/openfroyo/linkrt/pkg/telemetry"
)

// shutdownTimeout bounds Stop and telemetry shutdown after a signal.
const shutdownTimeout = 15 * time.Second

func newRunCommand() *cobra.Command {
	var (
		watch       bool
		reloadDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every configured resource and pipeline",
		Long: `Start every resource and pipeline in the configuration file and keep
them running until interrupted.

While running:
  - Resources with a poll interval are read periodically
  - Reads of a pipeline source are queued and written to its sink
  - Metrics are served on the configured listen address
  - Edits to the file adjust poll intervals, polling and enabled flags
  - A status line per resource is logged every status_interval`,
		Example: `  # Run with the default config file
  linkrt run

  # Run a specific file without hot reload
  linkrt run -c ./deploy/linkrt.yaml --watch=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadConfig()
			if err != nil {
				attachConsole()
				return err
			}

			tel, err := setupTelemetry(f)
			if err != nil {
				return err
			}
			logger := tel.Logger.Zerolog()

			ctx := tel.WithContext(cmd.Context())
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					tel.Logger.WithError(err).Warn("Telemetry shutdown failed")
				}
			}()

			sup, err := supervisor.New(f,
				supervisor.WithLogger(tel.Logger),
				supervisor.WithTracer(tel.Tracer.Tracer()),
				supervisor.WithHooks(tel.Hooks()...),
				supervisor.WithMetrics(tel.Metrics),
			)
			if err != nil {
				return err
			}
			if err := tel.Metrics.Register(stats.NewCollector(f.Telemetry.Metrics.Namespace, sup.Snapshots)); err != nil {
				return fmt.Errorf("register statistics collector: %w", err)
			}
			if err := tel.StartMetricsServer(ctx); err != nil {
				return err
			}

			startErr := sup.Start(ctx)
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				if err := sup.Stop(stopCtx); err != nil {
					tel.Logger.WithError(err).Warn("Supervisor stop reported errors")
				}
			}()
			if startErr != nil {
				return startErr
			}

			if watch {
				w := config.NewWatcher(configPath, reloadDelay, logger, reloadHandler(ctx, tel, sup))
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Stop()
			}

			logger.Info().
				Str("config", configPath).
				Int("resources", len(f.Resources)).
				Int("pipelines", len(f.Pipelines)).
				Msg("linkrt running")

			statusLoop(ctx, logger, sup, f.StatusInterval)

			logger.Info().Msg("Shutting down")
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "reload the config file when it changes")
	cmd.Flags().DurationVar(&reloadDelay, "reload-delay", config.DefaultReloadDelay, "debounce delay for config reloads")

	return cmd
}

// setupTelemetry opens the configured log output, drains buffered startup
// records into it and builds the telemetry stack around it.
func setupTelemetry(f *config.File) (*telemetry.Telemetry, error) {
	out, err := telemetry.OpenOutput(f.Telemetry.Logging)
	if err != nil {
		attachConsole()
		return nil, fmt.Errorf("open log output: %w", err)
	}
	if pending != nil {
		_ = pending.Attach(telemetry.FormatWriter(f.Telemetry.Logging, out))
	}

	// Without LOG_LEVEL the configured level applies
	if os.Getenv("LOG_LEVEL") == "" {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}
	if verbose {
		f.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetryWithLogger(&f.Telemetry, telemetry.NewLoggerWithWriter(f.Telemetry.Logging, out))
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	return tel, nil
}

// reloadHandler applies a reloaded file and reports the outcome. ctx must
// carry the telemetry instance.
func reloadHandler(ctx context.Context, tel *telemetry.Telemetry, sup *supervisor.Supervisor) config.ReloadFunc {
	return func(f *config.File, err error) {
		op := telemetry.StartOperation(ctx, "config.reload", attribute.String("config.path", configPath))
		defer op.End(err)

		tel.Metrics.RecordConfigReload(err == nil)
		if pubErr := tel.Events.PublishConfigReloaded(configPath, err); pubErr != nil {
			op.Logger.WithError(pubErr).Debug("Config reload event not published")
		}
		if err != nil {
			op.Logger.WithError(err).WithField("config", configPath).Error("Config reload rejected, keeping current settings")
			return
		}

		changes := sup.Apply(op.Ctx, f)
		op.Logger.WithFields(map[string]interface{}{
			"applied":          len(changes.Applied),
			"restart_required": len(changes.RestartRequired),
		}).Info("Config reloaded")
	}
}

// statusLoop logs one line per resource and pipeline every interval until
// ctx is done. A zero interval only waits.
func statusLoop(ctx context.Context, logger zerolog.Logger, sup *supervisor.Supervisor, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sup.Report()
			logStatus(logger, sup.Status())
		}
	}
}

func logStatus(logger zerolog.Logger, st supervisor.Status) {
	for _, r := range st.Resources {
		ev := logger.Info().
			Str("resource", r.Name).
			Str("driver", r.Driver).
			Str("state", r.ResourceState.String())
		if r.Stats != nil {
			ev = ev.
				Uint64("valid", r.Stats.Counters.Valid).
				Uint64("errors", r.Stats.Counters.Error).
				Uint64("timeouts", r.Stats.Counters.Timeout).
				Uint64("dropped", r.Stats.Counters.Dropped)
		}
		ev.Msg("Resource status")
	}
	for _, p := range st.Pipelines {
		logger.Info().
			Str("pipeline", p.Name).
			Int("queued", p.Queued).
			Int("outstanding", p.Outstanding).
			Uint64("consumed", p.Stats.Counters.Valid).
			Uint64("dropped", p.Stats.Counters.Dropped).
			Msg("Pipeline status")
	}
}
