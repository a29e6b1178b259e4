// Package supervisor builds and runs the resources and pipelines described
// by a configuration file.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/linkrt/pkg/config"
	"github.com/openfroyo/linkrt/pkg/drivers"
	"github.com/openfroyo/linkrt/pkg/drivers/sim"
	"github.com/openfroyo/linkrt/pkg/drivers/tcp"
	"github.com/openfroyo/linkrt/pkg/engine"
	"github.com/openfroyo/linkrt/pkg/lifecycle"
	"github.com/openfroyo/linkrt/pkg/pipeline"
	"github.com/openfroyo/linkrt/pkg/stats"
	"github.com/openfroyo/linkrt/pkg/telemetry"
)

// DefaultDrivers returns a registry with the built-in drivers.
func DefaultDrivers() *drivers.Registry {
	r := drivers.NewRegistry()
	r.MustRegister("sim", sim.Factory)
	r.MustRegister("tcp", tcp.Factory)
	return r
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger handed to every controller and pipeline.
func WithLogger(logger *telemetry.Logger) Option {
	return func(s *Supervisor) { s.log = logger }
}

// WithTracer sets the tracer handed to every controller and pipeline.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Supervisor) { s.tracer = tracer }
}

// WithHooks subscribes hooks to every resource and pipeline.
func WithHooks(hooks ...engine.Hook) Option {
	return func(s *Supervisor) { s.hooks = append(s.hooks, hooks...) }
}

// WithDrivers replaces the driver registry.
func WithDrivers(r *drivers.Registry) Option {
	return func(s *Supervisor) { s.registry = r }
}

// WithMetrics reports gauges to m and removes series of stopped resources.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

type resource struct {
	cfg  config.ResourceConfig
	ctrl *lifecycle.Controller[[]byte]
}

type feed struct {
	cfg  config.PipelineConfig
	pipe *pipeline.Pipeline[[]byte]
}

// Supervisor owns every controller and pipeline built from one File.
type Supervisor struct {
	log      *telemetry.Logger
	logger   zerolog.Logger
	tracer   trace.Tracer
	hooks    []engine.Hook
	registry *drivers.Registry
	metrics  *telemetry.Metrics

	mu        sync.Mutex
	resources []*resource
	pipelines []*feed
	started   bool
	stopped   bool
}

// New builds, but does not start, the resources and pipelines of f.
func New(f *config.File, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		log:    telemetry.NopLogger(),
		tracer: otel.Tracer("github.com/openfroyo/linkrt/pkg/supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = DefaultDrivers()
	}
	s.logger = s.log.NewComponentLogger("supervisor").Zerolog()

	byName := make(map[string]*resource, len(f.Resources))
	for _, rc := range f.Resources {
		r, err := s.buildResource(rc)
		if err != nil {
			return nil, err
		}
		s.resources = append(s.resources, r)
		byName[rc.Name] = r
	}

	for _, pc := range f.Pipelines {
		source, ok := byName[pc.Source]
		if !ok {
			return nil, fmt.Errorf("pipeline %s: unknown source resource %s", pc.Name, pc.Source)
		}
		var sink *resource
		if pc.Sink != "" {
			if sink, ok = byName[pc.Sink]; !ok {
				return nil, fmt.Errorf("pipeline %s: unknown sink resource %s", pc.Name, pc.Sink)
			}
		}

		p, err := s.buildPipeline(pc, sink)
		if err != nil {
			return nil, err
		}
		source.ctrl.AddHook(submitReads(p.pipe))
		s.pipelines = append(s.pipelines, p)
	}

	return s, nil
}

func (s *Supervisor) buildResource(rc config.ResourceConfig) (*resource, error) {
	conn, err := s.registry.New(rc.Driver, drivers.Spec{Config: rc.Config, Options: rc.Options})
	if err != nil {
		return nil, err
	}

	opts := []lifecycle.Option{
		lifecycle.WithLogger(s.log.WithDriver(rc.Driver).Zerolog()),
		lifecycle.WithTracer(s.tracer),
		lifecycle.WithSpanAttributes(telemetry.AttrDriver.String(rc.Driver)),
	}
	for _, h := range s.hooks {
		opts = append(opts, lifecycle.WithHook(h))
	}

	// Disabled resources start with polling paused so no wakeup runs
	// before Start.
	cfg := rc.Config
	if rc.Disabled {
		cfg.PollingPaused = true
	}

	ctrl, err := lifecycle.New[[]byte](cfg, conn, opts...)
	if err != nil {
		return nil, err
	}
	return &resource{cfg: rc, ctrl: ctrl}, nil
}

func (s *Supervisor) buildPipeline(pc config.PipelineConfig, sink *resource) (*feed, error) {
	consumer := engine.ConsumerFunc[[]byte](func(ctx context.Context, item []byte) error {
		return nil
	})
	if sink != nil {
		consumer = func(ctx context.Context, item []byte) error {
			return sink.ctrl.WriteData(ctx, item).Err()
		}
	}

	opts := []pipeline.Option[[]byte]{
		pipeline.WithLogger[[]byte](s.log.Zerolog()),
		pipeline.WithTracer[[]byte](s.tracer),
	}
	for _, h := range s.hooks {
		opts = append(opts, pipeline.WithHook[[]byte](h))
	}

	p, err := pipeline.New[[]byte](pc.Config, consumer, opts...)
	if err != nil {
		return nil, err
	}
	return &feed{cfg: pc, pipe: p}, nil
}

// submitReads forwards every successful read of a source into p.
func submitReads(p *pipeline.Pipeline[[]byte]) engine.Hook {
	return func(ctx context.Context, ev engine.HookEvent) {
		if ev.Type != engine.EventRead || !ev.Result.OK() {
			return
		}
		if payload, ok := engine.PayloadAs[[]byte](ev.Result); ok {
			p.Submit(ctx, payload)
		}
	}
}

// Start creates the pipelines, then creates every resource and connects the
// enabled ones. Connection failures are logged and left to polling to retry;
// creation failures abort the start.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.New("supervisor has been stopped")
	}
	if s.started {
		return nil
	}
	s.started = true

	for _, p := range s.pipelines {
		if r := p.pipe.Create(ctx); !r.OK() {
			return fmt.Errorf("pipeline %s: %w", p.cfg.Name, r.Err())
		}
	}

	var errs []error
	for _, r := range s.resources {
		if res := r.ctrl.Create(ctx); !res.OK() {
			errs = append(errs, fmt.Errorf("resource %s: %w", r.cfg.Name, res.Err()))
			continue
		}
		if r.cfg.Disabled {
			continue
		}
		if res := r.ctrl.Connect(ctx); !res.OK() {
			s.logger.Warn().
				Str("resource", r.cfg.Name).
				Str("status", string(res.Status)).
				Str("error", res.Message).
				Msg("Initial connect failed, polling will retry")
		}
	}
	s.reportLocked()

	s.logger.Info().
		Int("resources", len(s.resources)).
		Int("pipelines", len(s.pipelines)).
		Msg("Supervisor started")
	return errors.Join(errs...)
}

// Stop destroys everything: pipeline sources first so nothing new is
// submitted, then pipelines, then the remaining resources. Stop is
// idempotent.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	sources := make(map[string]bool, len(s.pipelines))
	for _, p := range s.pipelines {
		sources[p.cfg.Source] = true
	}

	var errs []error
	destroy := func(r *resource) {
		if res := r.ctrl.Destroy(ctx); !res.OK() {
			errs = append(errs, fmt.Errorf("resource %s: %w", r.cfg.Name, res.Err()))
		}
		if s.metrics != nil {
			s.metrics.ForgetResource(r.cfg.Name)
		}
	}

	for i := len(s.resources) - 1; i >= 0; i-- {
		if r := s.resources[i]; sources[r.cfg.Name] {
			destroy(r)
		}
	}
	for i := len(s.pipelines) - 1; i >= 0; i-- {
		s.pipelines[i].pipe.Destroy(ctx)
	}
	for i := len(s.resources) - 1; i >= 0; i-- {
		if r := s.resources[i]; !sources[r.cfg.Name] {
			destroy(r)
		}
	}
	if s.metrics != nil {
		s.metrics.SetManagedResources(0)
	}

	s.logger.Info().Msg("Supervisor stopped")
	return errors.Join(errs...)
}

// Changes summarizes what Apply did.
type Changes struct {
	// Applied lists live changes, e.g. "thermo: poll_interval 1s -> 2s".
	Applied []string

	// RestartRequired lists changes that only take effect after a restart.
	RestartRequired []string
}

// Apply applies the live-reloadable settings of f: poll interval, polling
// pause and the enabled flag. Every other difference is reported in
// Changes.RestartRequired and left untouched.
func (s *Supervisor) Apply(ctx context.Context, f *config.File) Changes {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ch Changes
	if s.stopped {
		return ch
	}

	current := make(map[string]*resource, len(s.resources))
	for _, r := range s.resources {
		current[r.cfg.Name] = r
	}
	seen := make(map[string]bool, len(f.Resources))

	for _, next := range f.Resources {
		seen[next.Name] = true
		r, ok := current[next.Name]
		if !ok {
			ch.RestartRequired = append(ch.RestartRequired, next.Name+": added")
			continue
		}
		ch.Applied = append(ch.Applied, s.applyResource(ctx, r, next)...)
		if !sameStructure(r.cfg, next) {
			ch.RestartRequired = append(ch.RestartRequired, next.Name+": driver settings changed")
		}
	}
	for _, r := range s.resources {
		if !seen[r.cfg.Name] {
			ch.RestartRequired = append(ch.RestartRequired, r.cfg.Name+": removed")
		}
	}

	if !samePipelines(s.pipelines, f.Pipelines) {
		ch.RestartRequired = append(ch.RestartRequired, "pipelines changed")
	}

	for _, msg := range ch.Applied {
		s.logger.Info().Str("change", msg).Msg("Applied configuration change")
	}
	for _, msg := range ch.RestartRequired {
		s.logger.Warn().Str("change", msg).Msg("Configuration change requires restart")
	}
	s.reportLocked()
	return ch
}

func (s *Supervisor) applyResource(ctx context.Context, r *resource, next config.ResourceConfig) []string {
	var applied []string
	prev := r.cfg
	pollingChanged := false

	if next.PollInterval != prev.PollInterval {
		r.ctrl.SetPollInterval(next.PollInterval)
		applied = append(applied, fmt.Sprintf("%s: poll_interval %v -> %v", next.Name, prev.PollInterval, next.PollInterval))
		r.cfg.PollInterval = next.PollInterval
	}

	if next.PollingPaused != prev.PollingPaused {
		applied = append(applied, fmt.Sprintf("%s: polling_paused %t -> %t", next.Name, prev.PollingPaused, next.PollingPaused))
		r.cfg.PollingPaused = next.PollingPaused
		pollingChanged = true
	}

	if next.Disabled != prev.Disabled {
		applied = append(applied, fmt.Sprintf("%s: disabled %t -> %t", next.Name, prev.Disabled, next.Disabled))
		r.cfg.Disabled = next.Disabled
		pollingChanged = true
		r.ctrl.SetEnabled(!next.Disabled)
		if next.Disabled {
			r.ctrl.Disconnect(ctx)
		} else if res := r.ctrl.Connect(ctx); !res.OK() {
			s.logger.Warn().Str("resource", next.Name).Str("error", res.Message).Msg("Connect after enable failed")
		}
	}

	// A disabled resource never polls; otherwise the pause flag decides.
	if pollingChanged {
		r.ctrl.SetPolling(!r.cfg.Disabled && !r.cfg.PollingPaused)
	}
	return applied
}

// sameStructure compares everything Apply cannot change live.
func sameStructure(a, b config.ResourceConfig) bool {
	for _, c := range []*config.ResourceConfig{&a, &b} {
		c.PollInterval = 0
		c.PollingPaused = false
		c.Disabled = false
		stream := c.Stream()
		c.StreamMode = &stream
	}
	return reflect.DeepEqual(a, b)
}

func samePipelines(current []*feed, next []config.PipelineConfig) bool {
	if len(current) != len(next) {
		return false
	}
	for i, p := range current {
		if !reflect.DeepEqual(p.cfg, next[i]) {
			return false
		}
	}
	return true
}

// ResourceStatus is a point-in-time view of one resource.
type ResourceStatus struct {
	engine.ResourceState
	Driver string          `json:"driver"`
	Stats  *stats.Snapshot `json:"stats,omitempty"`
}

// PipelineStatus is a point-in-time view of one pipeline.
type PipelineStatus struct {
	Name        string         `json:"name"`
	Source      string         `json:"source"`
	Sink        string         `json:"sink,omitempty"`
	Queued      int            `json:"queued"`
	Outstanding int            `json:"outstanding"`
	Stats       stats.Snapshot `json:"stats"`
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	Resources []ResourceStatus `json:"resources"`
	Pipelines []PipelineStatus `json:"pipelines"`
	TakenAt   time.Time        `json:"taken_at"`
}

// Status returns a snapshot of every resource and pipeline.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{TakenAt: time.Now()}
	for _, r := range s.resources {
		rs := ResourceStatus{ResourceState: r.ctrl.State(), Driver: r.cfg.Driver}
		if stt := r.ctrl.Stats(); stt != nil {
			snap := stt.Snapshot()
			rs.Stats = &snap
		}
		st.Resources = append(st.Resources, rs)
	}
	for _, p := range s.pipelines {
		st.Pipelines = append(st.Pipelines, PipelineStatus{
			Name:        p.cfg.Name,
			Source:      p.cfg.Source,
			Sink:        p.cfg.Sink,
			Queued:      p.pipe.QueueLen(),
			Outstanding: p.pipe.Outstanding(),
			Stats:       p.pipe.Stats().Snapshot(),
		})
	}
	return st
}

// Snapshots returns statistics keyed by resource or pipeline name. It is a
// stats.Source for stats.NewCollector.
func (s *Supervisor) Snapshots() map[string]stats.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]stats.Snapshot, len(s.resources)+len(s.pipelines))
	for _, r := range s.resources {
		if st := r.ctrl.Stats(); st != nil {
			out[r.cfg.Name] = st.Snapshot()
		}
	}
	for _, p := range s.pipelines {
		out[p.cfg.Name] = p.pipe.Stats().Snapshot()
	}
	return out
}

// Report pushes current gauges to the metrics given by WithMetrics.
func (s *Supervisor) Report() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportLocked()
}

func (s *Supervisor) reportLocked() {
	if s.metrics == nil || s.stopped {
		return
	}
	s.metrics.SetManagedResources(float64(len(s.resources)))
	for _, r := range s.resources {
		state := r.ctrl.State()
		s.metrics.SetResourceEnabled(r.cfg.Name, state.Enabled)
		s.metrics.SetResourceConnected(r.cfg.Name, state.Connected)
	}
	for _, p := range s.pipelines {
		s.metrics.SetQueueDepth(p.cfg.Name, p.pipe.QueueLen(), p.pipe.Outstanding())
	}
}

// Resource returns the controller of the named resource.
func (s *Supervisor) Resource(name string) (*lifecycle.Controller[[]byte], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.resources {
		if r.cfg.Name == name {
			return r.ctrl, true
		}
	}
	return nil, false
}

// Pipeline returns the named pipeline.
func (s *Supervisor) Pipeline(name string) (*pipeline.Pipeline[[]byte], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pipelines {
		if p.cfg.Name == name {
			return p.pipe, true
		}
	}
	return nil, false
}
