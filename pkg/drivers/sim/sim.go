// Package sim provides a simulated endpoint driver. It produces synthetic
// samples with configurable latency and failure injection, and echoes
// writes back to the caller.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/openfroyo/linkrt/pkg/drivers"
	"github.com/openfroyo/linkrt/pkg/engine"
)

// Option keys understood by Factory.
const (
	OptLatency         = "latency"
	OptJitter          = "jitter"
	OptFailureRatio    = "failure_ratio"
	OptTimeoutRatio    = "timeout_ratio"
	OptPayloadSize     = "payload_size"
	OptSeed            = "seed"
	OptConnectFailures = "connect_failures"
)

// FailureCode is the error code attached to injected failures.
const FailureCode = 1

// Config configures a simulated endpoint.
type Config struct {
	// Name is used as the payload prefix.
	Name string

	// Latency is added to every read and write. Jitter adds up to that much
	// on top, uniformly distributed.
	Latency time.Duration
	Jitter  time.Duration

	// ReadTimeout and WriteTimeout bound the simulated latency. An
	// operation that would take longer fails with a timeout after waiting
	// for the timeout.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// FailureRatio and TimeoutRatio are the probabilities in [0,1] that a
	// read or write fails or times out.
	FailureRatio float64
	TimeoutRatio float64

	// PayloadSize pads generated samples to at least this many bytes.
	PayloadSize int

	// ConnectFailures makes the first N Connect calls fail.
	ConnectFailures int

	// Seed makes injected faults reproducible. Zero picks a random seed.
	Seed uint64
}

// Endpoint is a simulated resource. It is safe for concurrent use.
type Endpoint struct {
	cfg Config

	mu           sync.Mutex
	rng          *rand.Rand
	created      bool
	connected    bool
	connectFails int
	seq          uint64
	written      [][]byte
}

// New creates a simulated endpoint.
func New(cfg Config) *Endpoint {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Endpoint{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Factory builds an endpoint from a driver spec.
func Factory(spec drivers.Spec) (engine.Connector[[]byte], error) {
	cfg := Config{
		Name:         spec.Name,
		ReadTimeout:  spec.ReadTimeout,
		WriteTimeout: spec.WriteTimeout,
	}

	var err error
	if cfg.Latency, err = durationOpt(spec.Options, OptLatency); err != nil {
		return nil, err
	}
	if cfg.Jitter, err = durationOpt(spec.Options, OptJitter); err != nil {
		return nil, err
	}
	if cfg.FailureRatio, err = ratioOpt(spec.Options, OptFailureRatio); err != nil {
		return nil, err
	}
	if cfg.TimeoutRatio, err = ratioOpt(spec.Options, OptTimeoutRatio); err != nil {
		return nil, err
	}
	if cfg.PayloadSize, err = intOpt(spec.Options, OptPayloadSize); err != nil {
		return nil, err
	}
	if cfg.ConnectFailures, err = intOpt(spec.Options, OptConnectFailures); err != nil {
		return nil, err
	}
	if v, ok := spec.Options[OptSeed]; ok {
		if cfg.Seed, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("option %s: %w", OptSeed, err)
		}
	}

	return New(cfg), nil
}

// Create implements engine.Connector.
func (e *Endpoint) Create(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = true
	return nil
}

// Destroy implements engine.Connector.
func (e *Endpoint) Destroy(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = false
	e.connected = false
	return nil
}

// Connect implements engine.Connector.
func (e *Endpoint) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.created {
		return engine.NewResourceError("endpoint not created", nil)
	}
	if e.connectFails < e.cfg.ConnectFailures {
		e.connectFails++
		return engine.NewFailureError("connection refused", nil).WithCode(FailureCode)
	}
	e.connected = true
	return nil
}

// Disconnect implements engine.Connector.
func (e *Endpoint) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
	return nil
}

// Read implements engine.Connector. It returns a sample of the form
// "<name> #<seq> <value>", padded to PayloadSize.
func (e *Endpoint) Read(ctx context.Context) ([]byte, error) {
	if err := e.simulate(ctx, e.cfg.ReadTimeout, "read"); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	sample := fmt.Sprintf("%s #%d %.3f", e.cfg.Name, e.seq, e.rng.NormFloat64()*10+20)
	for len(sample) < e.cfg.PayloadSize {
		sample += " "
	}
	return []byte(sample), nil
}

// Write implements engine.Connector. It records and echoes payload.
func (e *Endpoint) Write(ctx context.Context, payload []byte) ([]byte, error) {
	if err := e.simulate(ctx, e.cfg.WriteTimeout, "write"); err != nil {
		return nil, err
	}

	out := make([]byte, len(payload))
	copy(out, payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.written = append(e.written, out)
	return out, nil
}

// Written returns copies of every payload written so far.
func (e *Endpoint) Written() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.written))
	copy(out, e.written)
	return out
}

// Connected reports whether the endpoint is connected.
func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// simulate waits for the configured latency and rolls the fault dice.
func (e *Endpoint) simulate(ctx context.Context, timeout time.Duration, op string) error {
	e.mu.Lock()
	connected := e.connected
	delay := e.cfg.Latency
	if e.cfg.Jitter > 0 {
		delay += time.Duration(e.rng.Int64N(int64(e.cfg.Jitter)))
	}
	roll := e.rng.Float64()
	e.mu.Unlock()

	if !connected {
		return engine.NewFailureError("endpoint not connected", nil).WithOperation(op)
	}

	timedOut := roll < e.cfg.TimeoutRatio
	if timeout > 0 && delay > timeout {
		delay = timeout
		timedOut = true
	}

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	switch {
	case timedOut:
		return engine.NewTimeoutError(op+" timed out", nil).WithOperation(op)
	case roll < e.cfg.TimeoutRatio+e.cfg.FailureRatio:
		return engine.NewFailureError("injected "+op+" failure", nil).
			WithOperation(op).
			WithCode(FailureCode)
	}
	return nil
}

func durationOpt(opts map[string]string, key string) (time.Duration, error) {
	v, ok := opts[key]
	if !ok {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("option %s: invalid duration %q", key, v)
	}
	return d, nil
}

func ratioOpt(opts map[string]string, key string) (float64, error) {
	v, ok := opts[key]
	if !ok {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		return 0, fmt.Errorf("option %s: ratio must be between 0 and 1, got %q", key, v)
	}
	return f, nil
}

func intOpt(opts map[string]string, key string) (int, error) {
	v, ok := opts[key]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("option %s: invalid count %q", key, v)
	}
	return n, nil
}
