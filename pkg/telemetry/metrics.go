package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for linkrt.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Error metrics
	errorsByStatus *prometheus.CounterVec
	errorsByCode   *prometheus.CounterVec

	// Resource metrics
	resourceConnected *prometheus.GaugeVec
	resourceEnabled   *prometheus.GaugeVec

	// Pipeline metrics
	queueFull   *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
	outstanding *prometheus.GaugeVec

	// System metrics
	managedResources prometheus.Gauge
	configReloads    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of completed resource and pipeline operations",
			},
			[]string{"source", "operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of resource and pipeline operations in seconds",
				Buckets:   buckets,
			},
			[]string{"source", "operation"},
		),

		errorsByStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_status_total",
				Help:      "Total number of failed operations by status",
			},
			[]string{"status"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of failed operations by driver error code",
			},
			[]string{"code"},
		),

		resourceConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resource_connected",
				Help:      "Whether a resource is connected (1) or not (0)",
			},
			[]string{"resource"},
		),
		resourceEnabled: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resource_enabled",
				Help:      "Whether a resource accepts connections (1) or not (0)",
			},
			[]string{"resource"},
		),

		queueFull: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_full_total",
				Help:      "Total number of items rejected by a full pipeline queue",
			},
			[]string{"pipeline"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current number of queued pipeline items",
			},
			[]string{"pipeline"},
		),
		outstanding: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outstanding_items",
				Help:      "Current number of queued plus in-flight pipeline items",
			},
			[]string{"pipeline"},
		),

		managedResources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "managed_resources",
				Help:      "Current number of managed resources",
			},
		),
		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of configuration reloads by result",
			},
			[]string{"result"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.errorsByStatus,
		m.errorsByCode,
		m.resourceConnected,
		m.resourceEnabled,
		m.queueFull,
		m.queueDepth,
		m.outstanding,
		m.managedResources,
		m.configReloads,
	)

	return m, nil
}

// Register adds an extra collector, such as a stats.Collector, to the registry.
func (m *Metrics) Register(c prometheus.Collector) error {
	if m.registry == nil {
		return nil
	}
	return m.registry.Register(c)
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Operation Metrics

// RecordOperation records a completed operation with its status and duration.
func (m *Metrics) RecordOperation(source, operation, status string, duration time.Duration) {
	if m.operations == nil {
		return
	}
	m.operations.WithLabelValues(source, operation, status).Inc()
	m.operationDuration.WithLabelValues(source, operation).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records a failed operation by status and optionally by code.
func (m *Metrics) RecordError(status string, code int) {
	if m.errorsByStatus == nil {
		return
	}
	m.errorsByStatus.WithLabelValues(status).Inc()
	if code != 0 {
		m.errorsByCode.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

// Resource Metrics

// SetResourceConnected sets the connection gauge of a resource.
func (m *Metrics) SetResourceConnected(resource string, connected bool) {
	if m.resourceConnected == nil {
		return
	}
	m.resourceConnected.WithLabelValues(resource).Set(boolGauge(connected))
}

// SetResourceEnabled sets the enabled gauge of a resource.
func (m *Metrics) SetResourceEnabled(resource string, enabled bool) {
	if m.resourceEnabled == nil {
		return
	}
	m.resourceEnabled.WithLabelValues(resource).Set(boolGauge(enabled))
}

// ForgetResource removes every series labelled with resource.
func (m *Metrics) ForgetResource(resource string) {
	if m.resourceConnected == nil {
		return
	}
	m.resourceConnected.DeleteLabelValues(resource)
	m.resourceEnabled.DeleteLabelValues(resource)
	m.operations.DeletePartialMatch(prometheus.Labels{"source": resource})
	m.operationDuration.DeletePartialMatch(prometheus.Labels{"source": resource})
}

// Pipeline Metrics

// RecordQueueFull records an item rejected by a full queue.
func (m *Metrics) RecordQueueFull(pipeline string) {
	if m.queueFull == nil {
		return
	}
	m.queueFull.WithLabelValues(pipeline).Inc()
}

// SetQueueDepth sets the queued and outstanding gauges of a pipeline.
func (m *Metrics) SetQueueDepth(pipeline string, queued, outstanding int) {
	if m.queueDepth == nil {
		return
	}
	m.queueDepth.WithLabelValues(pipeline).Set(float64(queued))
	m.outstanding.WithLabelValues(pipeline).Set(float64(outstanding))
}

// System Metrics

// SetManagedResources sets the current number of managed resources.
func (m *Metrics) SetManagedResources(count float64) {
	if m.managedResources == nil {
		return
	}
	m.managedResources.Set(count)
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(ok bool) {
	if m.configReloads == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.configReloads.WithLabelValues(result).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The server is
// shut down when ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			logger.Error().Err(err).Str("address", server.Addr).Msg("Metrics server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("address", server.Addr).Str("path", path).Msg("Metrics server started")
	return nil
}
