// Package lifecycle manages the Create/Connect/Read/Write/Disconnect/Destroy
// lifecycle of one connectable resource on behalf of a driver.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/linkrt/pkg/engine"
	"github.com/openfroyo/linkrt/pkg/poller"
	"github.com/openfroyo/linkrt/pkg/stats"
	"github.com/openfroyo/linkrt/pkg/telemetry"
)

// Option configures a Controller.
type Option func(*options)

type options struct {
	logger zerolog.Logger
	tracer trace.Tracer
	hooks  []engine.Hook
	attrs  []attribute.KeyValue
}

// WithLogger sets the controller logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithHook subscribes hook to every lifecycle event.
func WithHook(hook engine.Hook) Option {
	return func(o *options) { o.hooks = append(o.hooks, hook) }
}

// WithSpanAttributes adds attrs to every operation span.
func WithSpanAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *options) { o.attrs = append(o.attrs, attrs...) }
}

// Controller drives a Connector through its lifecycle.
//
// Lock order is read/write lock, then connection lock, then create lock.
// Connect and Disconnect are serialized; reads are serialized among
// themselves, writes among themselves, and a read may run alongside a write.
type Controller[T any] struct {
	cfg       Config
	connector engine.Connector[T]
	logger    zerolog.Logger
	tracer    trace.Tracer
	attrs     []attribute.KeyValue
	hooks     engine.HookSet

	readMu   sync.Mutex
	writeMu  sync.Mutex
	connMu   sync.Mutex
	createMu sync.Mutex

	// cfgMu guards the live-reloadable fields of cfg.
	cfgMu sync.RWMutex

	enabled     atomic.Bool
	initialized atomic.Bool
	connected   atomic.Bool
	closed      atomic.Bool

	stats  atomic.Pointer[stats.Statistics]
	poller atomic.Pointer[poller.Poller]
}

// New validates cfg, resolves its defaults and returns an idle controller.
func New[T any](cfg Config, connector engine.Connector[T], opts ...Option) (*Controller[T], error) {
	if connector == nil {
		return nil, engine.NewResourceError("connector is required", nil).WithResource(cfg.Name)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, engine.NewResourceError("invalid configuration", err).WithResource(cfg.Name)
	}

	o := options{
		logger: zerolog.Nop(),
		tracer: otel.Tracer("github.com/openfroyo/linkrt/pkg/lifecycle"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller[T]{
		cfg:       cfg,
		connector: connector,
		logger:    o.logger.With().Str("component", "lifecycle").Str("resource", cfg.Name).Logger(),
		tracer:    o.tracer,
		attrs:     o.attrs,
	}
	for _, h := range o.hooks {
		c.hooks.Add(h)
	}
	c.enabled.Store(!cfg.Disabled)
	return c, nil
}

// Name returns the resource name.
func (c *Controller[T]) Name() string { return c.cfg.Name }

// Config returns the resolved configuration.
func (c *Controller[T]) Config() Config {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

// AddHook subscribes hook to every lifecycle event.
func (c *Controller[T]) AddHook(hook engine.Hook) { c.hooks.Add(hook) }

// Stats returns the statistics allocated by Create, or nil before Create.
func (c *Controller[T]) Stats() *stats.Statistics { return c.stats.Load() }

// State returns the current lifecycle flags.
func (c *Controller[T]) State() engine.ResourceState {
	return engine.ResourceState{
		Name:        c.cfg.Name,
		Enabled:     c.enabled.Load(),
		Initialized: c.initialized.Load(),
		Connected:   c.connected.Load(),
	}
}

// SetEnabled allows or blocks new Connect attempts. An established
// connection is left untouched.
func (c *Controller[T]) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Trigger requests an immediate poll.
func (c *Controller[T]) Trigger() {
	if p := c.poller.Load(); p != nil {
		p.Trigger()
	}
}

// SetPollInterval changes the polling period of the live poller.
func (c *Controller[T]) SetPollInterval(d time.Duration) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.cfg.PollInterval = d
	if p := c.poller.Load(); p != nil {
		p.SetInterval(d)
	}
}

// SetPolling pauses or resumes periodic polling.
func (c *Controller[T]) SetPolling(enabled bool) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.cfg.PollingPaused = !enabled
	if p := c.poller.Load(); p != nil {
		p.SetTimerEnabled(enabled)
	}
}

// Create allocates statistics and the poller, then the driver resource.
// It is a no-op when already initialized. On failure every partial
// allocation is released before the original failure is returned.
func (c *Controller[T]) Create(ctx context.Context) engine.Result {
	c.createMu.Lock()
	defer c.createMu.Unlock()
	return c.create(ctx)
}

func (c *Controller[T]) create(ctx context.Context) engine.Result {
	if c.closed.Load() {
		return c.terminal("create")
	}
	if c.initialized.Load() {
		return engine.Success(nil)
	}

	commit := func(r engine.Result) {
		if r.OK() {
			c.initialized.Store(true)
		}
	}
	r := c.invoke(ctx, "create", engine.EventCreating, engine.EventCreated, engine.EventCreateError, commit, func(ctx context.Context) (any, error) {
		st, err := stats.New(c.cfg.Histogram)
		if err != nil {
			return nil, engine.NewResourceError("allocate statistics", err)
		}
		c.stats.Store(st)

		// Live settings changed after this point reach the stored poller.
		c.cfgMu.RLock()
		p := poller.New(poller.Config{
			Name:         c.cfg.Name,
			Interval:     c.cfg.PollInterval,
			AllowOverlap: c.cfg.AllowOverlap,
			StartPaused:  c.cfg.PollingPaused,
			JoinTimeout:  c.cfg.JoinTimeout,
		}, c.logger)
		p.OnWakeup(c.poll)
		p.OnTrigger(c.poll)
		c.poller.Store(p)
		c.cfgMu.RUnlock()

		if err := c.connector.Create(ctx); err != nil {
			return nil, err
		}
		if err := p.Create(ctx); err != nil {
			return nil, engine.NewResourceError("start poller", err)
		}
		return nil, nil
	})
	if r.OK() {
		return r
	}

	c.logger.Warn().Str("status", string(r.Status)).Msg("Create failed, releasing partial allocation")
	c.release(ctx)
	return r
}

// release tears down whatever create allocated without firing hooks.
func (c *Controller[T]) release(ctx context.Context) {
	if p := c.poller.Swap(nil); p != nil {
		_ = p.Destroy()
	}
	c.stats.Store(nil)
	rr := engine.ProtectErr(func() error { return c.connector.Destroy(ctx) })
	if !rr.OK() {
		c.logger.Warn().Str("status", string(rr.Status)).Str("error", rr.Message).Msg("Release after failed create failed")
	}
}

// Destroy disconnects, stops the poller and releases the driver resource,
// retrying the driver a bounded number of times. The controller is terminal
// afterwards; a second Destroy is a no-op. A failed disconnect still marks
// the resource disconnected and is reported when the destroy itself succeeds.
func (c *Controller[T]) Destroy(ctx context.Context) engine.Result {
	if c.closed.Swap(true) {
		return engine.Success(nil)
	}

	disc := c.disconnectForDestroy(ctx)

	c.createMu.Lock()
	r := c.destroy(ctx)
	c.createMu.Unlock()

	if r.OK() && disc != nil {
		r = engine.Failure(disc.Status, "disconnect before destroy: "+disc.Message, disc.Cause)
		r.Code = disc.Code
	}
	return r
}

// disconnectForDestroy returns the failed Disconnect result, or nil.
func (c *Controller[T]) disconnectForDestroy(ctx context.Context) *engine.Result {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected.Load() {
		return nil
	}
	r := c.disconnect(ctx)
	if r.OK() {
		return nil
	}
	c.connected.Store(false)
	c.logger.Warn().Str("status", string(r.Status)).Str("error", r.Message).Msg("Disconnect before destroy failed")
	return &r
}

func (c *Controller[T]) destroy(ctx context.Context) engine.Result {
	if !c.initialized.Load() {
		return engine.Success(nil)
	}

	ctx, span := c.startSpan(ctx, "destroy")
	defer span.End()

	c.fire(ctx, engine.EventDestroying, 0, engine.Result{})

	if p := c.poller.Swap(nil); p != nil {
		if err := p.Destroy(); err != nil {
			c.logger.Warn().Err(err).Msg("Poller did not stop cleanly")
		}
	}

	var last engine.Result
	for attempt := 1; attempt <= c.cfg.DestroyAttempts; attempt++ {
		start := time.Now()
		last = engine.ProtectErr(func() error { return c.connector.Destroy(ctx) })
		if last.OK() {
			c.initialized.Store(false)
			c.fire(ctx, engine.EventDestroyed, time.Since(start), last)
			return last
		}

		c.fire(ctx, engine.EventDestroyError, time.Since(start), last)
		telemetry.AddResourceEvent(span, c.cfg.Name, "destroy_retry", last.Message)
		c.logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.DestroyAttempts).
			Str("status", string(last.Status)).
			Str("error", last.Message).
			Msg("Destroy attempt failed")

		if attempt == c.cfg.DestroyAttempts {
			break
		}
		select {
		case <-time.After(c.cfg.destroyBackoff(attempt)):
		case <-ctx.Done():
			attempt = c.cfg.DestroyAttempts
		}
	}

	c.initialized.Store(false)
	err := fmt.Errorf("destroy failed after %d attempts: %w", c.cfg.DestroyAttempts, last.Err())
	telemetry.RecordError(span, err)
	c.logger.Error().Err(err).Msg("Giving up on destroy")

	r := engine.Failure(engine.StatusFailure, err.Error(), err)
	r.Code = last.Code
	return r
}

// Connect establishes the link, creating the resource first if needed.
func (c *Controller[T]) Connect(ctx context.Context) engine.Result {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connect(ctx)
}

func (c *Controller[T]) connect(ctx context.Context) engine.Result {
	if c.closed.Load() {
		return c.terminal("connect")
	}
	if !c.enabled.Load() {
		return engine.Failure(engine.StatusResource, "resource is disabled", nil)
	}
	if !c.initialized.Load() {
		c.createMu.Lock()
		r := c.create(ctx)
		c.createMu.Unlock()
		if !r.OK() {
			return r
		}
	}
	if c.connected.Load() {
		return engine.Success(nil)
	}

	commit := func(r engine.Result) { c.connected.Store(r.OK()) }
	return c.invoke(ctx, "connect", engine.EventConnecting, engine.EventConnected, engine.EventConnectError, commit, func(ctx context.Context) (any, error) {
		return nil, c.connector.Connect(ctx)
	})
}

// Disconnect tears down the link. The driver is not called when the resource
// was never created.
func (c *Controller[T]) Disconnect(ctx context.Context) engine.Result {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.disconnect(ctx)
}

func (c *Controller[T]) disconnect(ctx context.Context) engine.Result {
	if !c.initialized.Load() {
		c.connected.Store(false)
		return engine.Success(nil)
	}

	call := func(ctx context.Context) (any, error) {
		return nil, c.connector.Disconnect(ctx)
	}

	commit := func(r engine.Result) {
		if r.OK() {
			c.connected.Store(false)
		}
	}
	if c.connected.Load() {
		return c.invoke(ctx, "disconnect", engine.EventDisconnecting, engine.EventDisconnected, engine.EventDisconnectError, commit, call)
	}
	r := engine.Protect(func() (any, error) { return call(ctx) })
	commit(r)
	return r
}

// ReadData reads from the resource, connecting first if needed.
func (c *Controller[T]) ReadData(ctx context.Context) engine.Result {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	return c.transfer(ctx, "read", engine.EventReading, engine.EventRead, engine.EventReadError, func(ctx context.Context) (any, error) {
		return c.connector.Read(ctx)
	})
}

// WriteData writes payload to the resource, connecting first if needed. The
// result payload echoes what the driver reports as written.
func (c *Controller[T]) WriteData(ctx context.Context, payload T) engine.Result {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.transfer(ctx, "write", engine.EventWriting, engine.EventWritten, engine.EventWriteError, func(ctx context.Context) (any, error) {
		return c.connector.Write(ctx, payload)
	})
}

func (c *Controller[T]) transfer(ctx context.Context, op string, before, after, failed engine.EventType, fn func(ctx context.Context) (any, error)) engine.Result {
	if c.closed.Load() {
		return c.terminal(op)
	}
	if !c.connected.Load() {
		if r := c.Connect(ctx); !r.OK() {
			if st := c.stats.Load(); st != nil {
				st.Record(r.Status)
			}
			return r
		}
	}

	st := c.stats.Load()
	var start time.Time
	if st != nil {
		start = st.TimeStart()
	}

	r := c.invoke(ctx, op, before, after, failed, nil, fn)

	if st != nil {
		st.AddStatisticTime(start)
		st.Record(r.Status)
	}

	if c.cfg.ReconnectOnError && shouldReconnect(r.Status) {
		c.logger.Debug().Str("operation", op).Str("status", string(r.Status)).Msg("Dropping connection after failed transfer")
		c.Disconnect(ctx)
	}
	return r
}

func shouldReconnect(s engine.Status) bool {
	switch s {
	case engine.StatusSuccess, engine.StatusTimeout, engine.StatusDropData, engine.StatusNotImplemented:
		return false
	}
	return true
}

// poll is the poller callback. Its outcome is delivered through hooks and
// statistics, not the returned error.
func (c *Controller[T]) poll(ctx context.Context) error {
	c.ReadData(ctx)
	return nil
}

// invoke runs fn inside a span and its before/after/error hook triple,
// folding errors and panics into a Result. commit, when set, records the
// outcome in the state flags before the after or error hook fires.
func (c *Controller[T]) invoke(ctx context.Context, op string, before, after, failed engine.EventType, commit func(engine.Result), fn func(ctx context.Context) (any, error)) engine.Result {
	ctx, span := c.startSpan(ctx, op)
	defer span.End()

	c.fire(ctx, before, 0, engine.Result{})

	start := time.Now()
	r := engine.Protect(func() (any, error) { return fn(ctx) })
	elapsed := time.Since(start)

	if commit != nil {
		commit(r)
	}
	if r.OK() {
		c.fire(ctx, after, elapsed, r)
		return r
	}

	if r.Status != engine.StatusTimeout {
		telemetry.RecordError(span, r.Err())
	}
	span.SetAttributes(telemetry.AttrStatus.String(string(r.Status)))
	if r.Code != 0 {
		span.SetAttributes(telemetry.AttrCode.Int(r.Code))
	}
	c.fire(ctx, failed, elapsed, r)
	return r
}

func (c *Controller[T]) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	ctx, span := telemetry.StartResourceSpan(ctx, c.tracer, c.cfg.Name, op)
	if len(c.attrs) > 0 {
		span.SetAttributes(c.attrs...)
	}
	return ctx, span
}

func (c *Controller[T]) fire(ctx context.Context, ev engine.EventType, d time.Duration, r engine.Result) {
	c.hooks.Fire(ctx, engine.HookEvent{
		Type:     ev,
		Source:   c.cfg.Name,
		Duration: d,
		Result:   r,
	})
}

func (c *Controller[T]) terminal(op string) engine.Result {
	err := engine.NewResourceError("resource has been destroyed", nil).
		WithResource(c.cfg.Name).
		WithOperation(op)
	return engine.Failure(engine.StatusResource, err.Error(), err)
}
