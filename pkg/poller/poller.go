// Package poller implements a signal-driven background worker that invokes
// callbacks on an explicit trigger, on a periodic timer, and once on quit.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultJoinTimeout bounds how long Destroy waits for the worker to exit.
const DefaultJoinTimeout = 5 * time.Second

var (
	// ErrJoinTimeout is returned by Destroy when the worker did not exit in time.
	ErrJoinTimeout = errors.New("poller: worker did not stop within join timeout")

	// ErrStopped is returned by Create on a destroyed poller.
	ErrStopped = errors.New("poller: stopped")
)

// Callback is invoked by the worker. ctx is cancelled when the poller is destroyed.
type Callback func(ctx context.Context) error

// State is the poller lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config configures a Poller.
type Config struct {
	// Name identifies the poller in log lines.
	Name string

	// Interval is the wakeup period. Zero disables the timer (trigger-only).
	Interval time.Duration

	// AllowOverlap lets a callback start while a previous one is still running.
	AllowOverlap bool

	// StartPaused creates the poller with the timer disabled.
	StartPaused bool

	// JoinTimeout bounds Destroy. Defaults to DefaultJoinTimeout.
	JoinTimeout time.Duration
}

// Poller runs one goroutine that waits on quit, trigger, interval change and
// the wakeup timer. Quit takes priority when several are ready.
type Poller struct {
	cfg    Config
	logger zerolog.Logger

	onWakeup  Callback
	onTrigger Callback
	onQuit    Callback

	quitCh     chan struct{}
	triggerCh  chan struct{}
	intervalCh chan struct{}

	interval     atomic.Int64
	timerEnabled atomic.Bool
	state        atomic.Int32

	lifecycleMu sync.Mutex
	callMu      sync.Mutex
	inflight    sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates an idle poller. Register callbacks before Create.
func New(cfg Config, logger zerolog.Logger) *Poller {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}

	p := &Poller{
		cfg:        cfg,
		logger:     logger.With().Str("component", "poller").Str("poller", cfg.Name).Logger(),
		quitCh:     make(chan struct{}, 1),
		triggerCh:  make(chan struct{}, 1),
		intervalCh: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	p.interval.Store(int64(cfg.Interval))
	p.timerEnabled.Store(!cfg.StartPaused)
	return p
}

// OnWakeup sets the callback run each time the interval elapses.
func (p *Poller) OnWakeup(cb Callback) { p.onWakeup = cb }

// OnTrigger sets the callback run for each consumed Trigger signal.
func (p *Poller) OnTrigger(cb Callback) { p.onTrigger = cb }

// OnQuit sets the callback run once when the worker exits.
func (p *Poller) OnQuit(cb Callback) { p.onQuit = cb }

// Create starts the worker goroutine. ctx supplies values to callbacks; its
// cancellation does not stop the poller.
func (p *Poller) Create(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	switch State(p.state.Load()) {
	case StateRunning:
		return nil
	case StateStopped:
		return ErrStopped
	}

	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.state.Store(int32(StateRunning))
	go p.run(p.ctx)

	p.logger.Debug().
		Dur("interval", p.Interval()).
		Bool("overlap", p.cfg.AllowOverlap).
		Msg("Poller started")
	return nil
}

// Destroy signals quit, cancels the callback context and waits up to
// JoinTimeout for the worker and any overlapping callbacks. On timeout the
// worker is abandoned and ErrJoinTimeout is returned.
func (p *Poller) Destroy() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	prev := State(p.state.Swap(int32(StateStopped)))
	if prev != StateRunning {
		return nil
	}

	signal(p.quitCh)
	p.cancel()

	joined := make(chan struct{})
	go func() {
		<-p.done
		p.inflight.Wait()
		close(joined)
	}()

	select {
	case <-joined:
		p.logger.Debug().Msg("Poller stopped")
		return nil
	case <-time.After(p.cfg.JoinTimeout):
		p.logger.Warn().
			Dur("join_timeout", p.cfg.JoinTimeout).
			Msg("Poller worker did not stop in time, abandoning it")
		return ErrJoinTimeout
	}
}

// Trigger requests one trigger callback. Triggers sent before the worker
// consumes the previous one collapse into it.
func (p *Poller) Trigger() {
	signal(p.triggerCh)
}

// SetInterval changes the wakeup period and restarts the current wait.
func (p *Poller) SetInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	p.interval.Store(int64(d))
	signal(p.intervalCh)
}

// Interval returns the current wakeup period.
func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SetTimerEnabled pauses or resumes periodic wakeups. Triggers still run.
func (p *Poller) SetTimerEnabled(enabled bool) {
	p.timerEnabled.Store(enabled)
	signal(p.intervalCh)
}

// TimerEnabled reports whether periodic wakeups are active.
func (p *Poller) TimerEnabled() bool {
	return p.timerEnabled.Load()
}

// State returns the lifecycle state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-p.quitCh:
			p.quit()
			return
		default:
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if iv := p.Interval(); iv > 0 && p.timerEnabled.Load() {
			timer = time.NewTimer(iv)
			timerC = timer.C
		}

		select {
		case <-p.quitCh:
			stopTimer(timer)
			p.quit()
			return
		case <-p.triggerCh:
			stopTimer(timer)
			p.invoke(ctx, "trigger", p.onTrigger)
		case <-p.intervalCh:
			stopTimer(timer)
		case <-timerC:
			p.invoke(ctx, "wakeup", p.onWakeup)
		}
	}
}

func (p *Poller) invoke(ctx context.Context, kind string, cb Callback) {
	if cb == nil {
		return
	}
	if !p.cfg.AllowOverlap {
		p.callMu.Lock()
		defer p.callMu.Unlock()
		p.call(ctx, kind, cb)
		return
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.call(ctx, kind, cb)
	}()
}

func (p *Poller) quit() {
	if p.onQuit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), p.cfg.JoinTimeout)
	defer cancel()
	p.call(ctx, "quit", p.onQuit)
}

func (p *Poller) call(ctx context.Context, kind string, cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("callback", kind).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Poller callback panicked")
		}
	}()

	if err := cb(ctx); err != nil {
		p.logger.Warn().
			Err(err).
			Str("callback", kind).
			Msg("Poller callback failed")
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
