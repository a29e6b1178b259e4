// Package pipeline implements a producer-consumer engine: produced items go
// into a bounded queue that a trigger-driven worker pool drains.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/openfroyo/linkrt/pkg/engine"
	"github.com/openfroyo/linkrt/pkg/poller"
	"github.com/openfroyo/linkrt/pkg/queue"
	"github.com/openfroyo/linkrt/pkg/stats"
	"github.com/openfroyo/linkrt/pkg/telemetry"
)

// Option configures a Pipeline.
type Option[T any] func(*Pipeline[T])

// WithProducer sets the producer used by ProduceData.
func WithProducer[T any](p engine.Producer[T]) Option[T] {
	return func(e *Pipeline[T]) { e.producer = p }
}

// WithLogger sets the pipeline logger.
func WithLogger[T any](logger zerolog.Logger) Option[T] {
	return func(e *Pipeline[T]) { e.logger = logger }
}

// WithTracer sets the tracer used for produce and consume spans.
func WithTracer[T any](tracer trace.Tracer) Option[T] {
	return func(e *Pipeline[T]) { e.tracer = tracer }
}

// WithHook subscribes hook to produce, consume and queue_full events.
func WithHook[T any](hook engine.Hook) Option[T] {
	return func(e *Pipeline[T]) { e.hooks.Add(hook) }
}

// Pipeline couples a bounded queue with a trigger-only poller. Consumption
// is reactive: each Trigger runs drain passes until the queue is empty.
type Pipeline[T any] struct {
	cfg      Config
	producer engine.Producer[T]
	consumer engine.Consumer[T]
	logger   zerolog.Logger
	tracer   trace.Tracer
	hooks    engine.HookSet

	queue   *queue.Bounded[T]
	poller  *poller.Poller
	stats   *stats.Statistics
	limiter *rate.Limiter

	inflight atomic.Int64
	closed   atomic.Bool
}

// New creates an idle pipeline consuming with consumer.
func New[T any](cfg Config, consumer engine.Consumer[T], opts ...Option[T]) (*Pipeline[T], error) {
	if consumer == nil {
		return nil, engine.NewResourceError("consumer is required", nil).WithResource(cfg.Name)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, engine.NewResourceError("invalid configuration", err).WithResource(cfg.Name)
	}

	st, err := stats.New(cfg.Histogram)
	if err != nil {
		return nil, engine.NewResourceError("allocate statistics", err).WithResource(cfg.Name)
	}

	e := &Pipeline[T]{
		cfg:      cfg,
		consumer: consumer,
		logger:   zerolog.Nop(),
		tracer:   otel.Tracer("github.com/openfroyo/linkrt/pkg/pipeline"),
		stats:    st,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "pipeline").Str("pipeline", cfg.Name).Logger()

	if cfg.ConsumeRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.ConsumeRate), cfg.ConsumeBurst)
	}

	e.queue = queue.New(cfg.MaxQueueSize, queue.WithOnFull(func(T) {
		e.stats.AddDrop()
		e.fire(context.Background(), engine.EventQueueFull, 0,
			engine.Failure(engine.StatusDropData, "queue full", engine.NewDropError("queue full", nil).WithResource(cfg.Name)))
	}))

	e.poller = poller.New(poller.Config{
		Name:        cfg.Name,
		JoinTimeout: cfg.JoinTimeout,
	}, e.logger)
	e.poller.OnTrigger(e.drain)

	return e, nil
}

// Name returns the pipeline name.
func (e *Pipeline[T]) Name() string { return e.cfg.Name }

// Config returns the resolved configuration.
func (e *Pipeline[T]) Config() Config { return e.cfg }

// Stats returns the consume statistics.
func (e *Pipeline[T]) Stats() *stats.Statistics { return e.stats }

// AddHook subscribes hook to pipeline events.
func (e *Pipeline[T]) AddHook(hook engine.Hook) { e.hooks.Add(hook) }

// QueueLen returns the number of queued items.
func (e *Pipeline[T]) QueueLen() int { return e.queue.Len() }

// Outstanding returns queued plus in-flight items.
func (e *Pipeline[T]) Outstanding() int {
	return e.queue.Len() + int(e.inflight.Load())
}

// Trigger requests a drain pass.
func (e *Pipeline[T]) Trigger() { e.poller.Trigger() }

// Create starts the consumer loop.
func (e *Pipeline[T]) Create(ctx context.Context) engine.Result {
	if e.closed.Load() {
		return e.terminal("create")
	}
	return engine.ProtectErr(func() error {
		if err := e.poller.Create(ctx); err != nil {
			return engine.NewResourceError("start consumer loop", err).WithResource(e.cfg.Name)
		}
		return nil
	})
}

// Destroy stops the consumer loop and discards queued items, counting each
// as dropped. The pipeline is terminal afterwards.
func (e *Pipeline[T]) Destroy(ctx context.Context) engine.Result {
	if e.closed.Swap(true) {
		return engine.Success(0)
	}
	if err := e.poller.Destroy(); err != nil {
		e.logger.Warn().Err(err).Msg("Consumer loop did not stop cleanly")
	}
	n := e.queue.Destroy()
	for i := 0; i < n; i++ {
		e.stats.AddDrop()
	}
	if n > 0 {
		e.logger.Info().Int("discarded", n).Msg("Discarded queued items on destroy")
	}
	return engine.Success(n)
}

// ProduceData calls the producer and queues its item. Production is refused
// with StatusDropData, without calling the producer, while outstanding work
// is at or above MaxOutstanding.
func (e *Pipeline[T]) ProduceData(ctx context.Context) engine.Result {
	if e.closed.Load() {
		return e.terminal("produce")
	}
	if e.producer == nil {
		return engine.Failure(engine.StatusNotImplemented, "no producer configured", engine.ErrNotImplemented)
	}
	if r, ok := e.admit(ctx); !ok {
		return r
	}

	ctx, span := e.startSpan(ctx, "produce")
	defer span.End()

	e.fire(ctx, engine.EventProducing, 0, engine.Result{})
	start := time.Now()
	r := engine.Protect(func() (any, error) {
		item, err := e.producer.Produce(ctx)
		if err != nil {
			return nil, err
		}
		if !e.queue.Enqueue(item) {
			return nil, engine.NewDropError("queue full", nil).WithResource(e.cfg.Name)
		}
		return item, nil
	})
	e.finish(ctx, span, engine.EventProduced, engine.EventProduceError, time.Since(start), r)

	if r.OK() {
		e.poller.Trigger()
	}
	return r
}

// Submit queues an item obtained elsewhere, applying the same backpressure
// as ProduceData.
func (e *Pipeline[T]) Submit(ctx context.Context, item T) engine.Result {
	if e.closed.Load() {
		return e.terminal("submit")
	}
	if r, ok := e.admit(ctx); !ok {
		return r
	}
	if !e.queue.Enqueue(item) {
		return engine.Failure(engine.StatusDropData, "queue full", engine.NewDropError("queue full", nil).WithResource(e.cfg.Name))
	}
	e.poller.Trigger()
	return engine.Success(item)
}

func (e *Pipeline[T]) admit(ctx context.Context) (engine.Result, bool) {
	if e.cfg.MaxOutstanding <= 0 || e.Outstanding() < e.cfg.MaxOutstanding {
		return engine.Result{}, true
	}
	e.stats.AddDrop()
	err := engine.NewDropError("too many outstanding items", nil).WithResource(e.cfg.Name)
	r := engine.Failure(engine.StatusDropData, err.Error(), err)
	e.fire(ctx, engine.EventProduceError, 0, r)
	return r, false
}

// drain is the trigger callback. Each pass fans out up to MaxParallelism
// workers that consume one item each.
func (e *Pipeline[T]) drain(ctx context.Context) error {
	workers := max(1, e.cfg.MaxParallelism)
	for {
		pending := e.queue.Len()
		if pending == 0 || ctx.Err() != nil {
			return nil
		}

		var g errgroup.Group
		g.SetLimit(workers)
		for i := 0; i < min(pending, workers); i++ {
			g.Go(func() error {
				e.consumeOne(ctx)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (e *Pipeline[T]) consumeOne(ctx context.Context) {
	paceErr := e.pace(ctx)

	item, ok := e.queue.Dequeue()
	if !ok {
		return
	}
	e.inflight.Add(1)
	defer e.inflight.Add(-1)

	if paceErr != nil {
		e.stats.AddDrop()
		err := engine.NewDropError("consume cancelled", paceErr).WithResource(e.cfg.Name)
		e.fire(ctx, engine.EventConsumeError, 0, engine.Failure(engine.StatusDropData, err.Error(), err))
		return
	}

	ctx, span := e.startSpan(ctx, "consume")
	defer span.End()

	e.fire(ctx, engine.EventConsuming, 0, engine.Result{Payload: item})
	start := e.stats.TimeStart()
	r := engine.Protect(func() (any, error) {
		return item, e.consumer.Consume(ctx, item)
	})
	elapsed := e.stats.AddStatisticTime(start)
	e.stats.Record(r.Status)
	e.finish(ctx, span, engine.EventConsumed, engine.EventConsumeError, elapsed, r)
}

func (e *Pipeline[T]) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

func (e *Pipeline[T]) finish(ctx context.Context, span trace.Span, after, failed engine.EventType, d time.Duration, r engine.Result) {
	if r.OK() {
		e.fire(ctx, after, d, r)
		return
	}
	if r.Status != engine.StatusTimeout && r.Status != engine.StatusDropData {
		telemetry.RecordError(span, r.Err())
	}
	span.SetAttributes(telemetry.AttrStatus.String(string(r.Status)))
	if r.Code != 0 {
		span.SetAttributes(telemetry.AttrCode.Int(r.Code))
	}
	e.fire(ctx, failed, d, r)
}

func (e *Pipeline[T]) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return telemetry.StartPipelineSpan(ctx, e.tracer, e.cfg.Name, op)
}

func (e *Pipeline[T]) fire(ctx context.Context, ev engine.EventType, d time.Duration, r engine.Result) {
	e.hooks.Fire(ctx, engine.HookEvent{
		Type:     ev,
		Source:   e.cfg.Name,
		Duration: d,
		Result:   r,
	})
}

func (e *Pipeline[T]) terminal(op string) engine.Result {
	err := engine.NewResourceError("pipeline has been destroyed", nil).
		WithResource(e.cfg.Name).
		WithOperation(op)
	return engine.Failure(engine.StatusResource, err.Error(), err)
}
