// Package telemetry provides observability instrumentation for linkrt.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring resources and pipelines.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Lifecycle Hooks
//
// Controllers and pipelines publish every operation as an engine.HookEvent.
// Telemetry.Hooks returns the sinks that turn those events into log records,
// Prometheus series and published events:
//
//	for _, h := range tel.Hooks() {
//	    opts = append(opts, lifecycle.WithHook(h))
//	}
//
// LogHook throttles warnings and errors per (source, event type) so that a
// resource failing on every poll cannot flood the log. Timeouts are logged at
// debug level.
//
// # Early Logging
//
// Records written before the configuration is loaded can be held in a
// PendingWriter and replayed once the real sink is known:
//
//	pending := telemetry.NewPendingWriter(1024)
//	log.Logger = zerolog.New(pending)
//	...
//	pending.Attach(os.Stderr)
//
// # Metrics
//
// Key metrics exposed:
//
//   - linkrt_operations_total{source,operation,status}
//   - linkrt_operation_duration_seconds{source,operation}
//   - linkrt_errors_by_status_total{status}
//   - linkrt_resource_connected{resource}
//   - linkrt_queue_full_total{pipeline}
//   - linkrt_queue_depth{pipeline}
//   - linkrt_outstanding_items{pipeline}
//
// Per-source statistics snapshots are exported by registering a
// stats.Collector through Metrics.Register.
package telemetry
