package poller

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPoller_Cadence(t *testing.T) {
	p := New(Config{Name: "cadence", Interval: 100 * time.Millisecond}, zerolog.Nop())

	var wakeups atomic.Int32
	p.OnWakeup(func(ctx context.Context) error {
		wakeups.Add(1)
		return nil
	})

	if err := p.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(550 * time.Millisecond)
	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	if n := wakeups.Load(); n < 4 || n > 6 {
		t.Errorf("Expected 4..6 wakeups, got %d", n)
	}
}

func TestPoller_NoOverlap(t *testing.T) {
	p := New(Config{Interval: 5 * time.Millisecond}, zerolog.Nop())

	var active, maxActive atomic.Int32
	var calls atomic.Int32
	cb := func(ctx context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		calls.Add(1)
		return nil
	}
	p.OnWakeup(cb)
	p.OnTrigger(cb)

	if err := p.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		p.Trigger()
		time.Sleep(7 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	_ = p.Destroy()

	if maxActive.Load() > 1 {
		t.Errorf("Expected at most 1 concurrent callback, observed %d", maxActive.Load())
	}
	if calls.Load() == 0 {
		t.Error("Expected callbacks to run")
	}
}

func TestPoller_Overlap(t *testing.T) {
	p := New(Config{AllowOverlap: true}, zerolog.Nop())

	var active, maxActive atomic.Int32
	release := make(chan struct{})
	p.OnTrigger(func(ctx context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return nil
	})

	_ = p.Create(context.Background())
	for i := 0; i < 3; i++ {
		p.Trigger()
		time.Sleep(20 * time.Millisecond)
	}
	close(release)
	_ = p.Destroy()

	if maxActive.Load() < 2 {
		t.Errorf("Expected overlapping callbacks, observed max %d", maxActive.Load())
	}
}

func TestPoller_BoundedShutdown(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	p := New(Config{JoinTimeout: 200 * time.Millisecond}, logger)

	started := make(chan struct{})
	p.OnTrigger(func(ctx context.Context) error {
		close(started)
		time.Sleep(2 * time.Second)
		return nil
	})

	_ = p.Create(context.Background())
	p.Trigger()
	<-started

	begin := time.Now()
	err := p.Destroy()
	elapsed := time.Since(begin)

	if !errors.Is(err, ErrJoinTimeout) {
		t.Errorf("Expected ErrJoinTimeout, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("Expected Destroy to return near the join timeout, took %v", elapsed)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("Expected a warning to be logged, got %s", buf.String())
	}
}

func TestPoller_TriggerCollapse(t *testing.T) {
	p := New(Config{}, zerolog.Nop())

	var calls atomic.Int32
	block := make(chan struct{})
	p.OnTrigger(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			<-block
		}
		return nil
	})

	_ = p.Create(context.Background())
	p.Trigger()
	time.Sleep(20 * time.Millisecond)

	// Worker is busy; these latch into a single pending trigger.
	for i := 0; i < 5; i++ {
		p.Trigger()
	}
	close(block)
	time.Sleep(50 * time.Millisecond)
	_ = p.Destroy()

	if n := calls.Load(); n != 2 {
		t.Errorf("Expected 2 trigger callbacks, got %d", n)
	}
}

func TestPoller_SetInterval(t *testing.T) {
	p := New(Config{Interval: time.Hour}, zerolog.Nop())

	var wakeups atomic.Int32
	p.OnWakeup(func(ctx context.Context) error {
		wakeups.Add(1)
		return nil
	})

	_ = p.Create(context.Background())
	time.Sleep(20 * time.Millisecond)
	p.SetInterval(20 * time.Millisecond)
	time.Sleep(110 * time.Millisecond)
	_ = p.Destroy()

	if n := wakeups.Load(); n < 3 {
		t.Errorf("Expected the new interval to take effect, got %d wakeups", n)
	}
	if p.Interval() != 20*time.Millisecond {
		t.Errorf("Expected interval 20ms, got %v", p.Interval())
	}
}

func TestPoller_PausedTimer(t *testing.T) {
	p := New(Config{Interval: 10 * time.Millisecond, StartPaused: true}, zerolog.Nop())

	var wakeups, triggers atomic.Int32
	p.OnWakeup(func(ctx context.Context) error { wakeups.Add(1); return nil })
	p.OnTrigger(func(ctx context.Context) error { triggers.Add(1); return nil })

	_ = p.Create(context.Background())
	p.Trigger()
	time.Sleep(60 * time.Millisecond)

	if wakeups.Load() != 0 {
		t.Errorf("Expected no wakeups while paused, got %d", wakeups.Load())
	}
	if triggers.Load() != 1 {
		t.Errorf("Expected trigger to run while paused, got %d", triggers.Load())
	}

	p.SetTimerEnabled(true)
	time.Sleep(60 * time.Millisecond)
	_ = p.Destroy()

	if wakeups.Load() == 0 {
		t.Error("Expected wakeups after resuming")
	}
}

func TestPoller_QuitCallbackAndCancellation(t *testing.T) {
	p := New(Config{}, zerolog.Nop())

	var mu sync.Mutex
	var quitCtxErr error
	quitCalled := false
	cancelled := make(chan struct{})

	p.OnTrigger(func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	p.OnQuit(func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		quitCalled = true
		quitCtxErr = ctx.Err()
		return nil
	})

	_ = p.Create(context.Background())
	p.Trigger()
	time.Sleep(20 * time.Millisecond)

	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	select {
	case <-cancelled:
	default:
		t.Error("Expected running callback to observe cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	if !quitCalled {
		t.Error("Expected quit callback to run")
	}
	if quitCtxErr != nil {
		t.Errorf("Expected quit callback context to be live, got %v", quitCtxErr)
	}
}

func TestPoller_StateTransitions(t *testing.T) {
	p := New(Config{}, zerolog.Nop())

	if p.State() != StateIdle {
		t.Errorf("Expected idle, got %s", p.State())
	}
	_ = p.Create(context.Background())
	if err := p.Create(context.Background()); err != nil {
		t.Errorf("Expected second Create to be a no-op, got %v", err)
	}
	if p.State() != StateRunning {
		t.Errorf("Expected running, got %s", p.State())
	}
	_ = p.Destroy()
	if p.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", p.State())
	}
	if err := p.Destroy(); err != nil {
		t.Errorf("Expected second Destroy to be a no-op, got %v", err)
	}
	if err := p.Create(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

func TestPoller_CallbackPanicIsContained(t *testing.T) {
	var buf bytes.Buffer
	p := New(Config{}, zerolog.New(&buf))

	var calls atomic.Int32
	p.OnTrigger(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})

	_ = p.Create(context.Background())
	p.Trigger()
	time.Sleep(20 * time.Millisecond)
	p.Trigger()
	time.Sleep(20 * time.Millisecond)
	_ = p.Destroy()

	if calls.Load() != 2 {
		t.Errorf("Expected worker to survive a panic, got %d calls", calls.Load())
	}
	if !strings.Contains(buf.String(), "Poller callback panicked") {
		t.Error("Expected panic to be logged")
	}
}
