package engine

import (
	"context"
	"strings"
	"sync"
	"time"
)

// EventType identifies a lifecycle hook event.
type EventType string

const (
	EventCreating    EventType = "creating"
	EventCreated     EventType = "created"
	EventCreateError EventType = "create_error"

	EventDestroying   EventType = "destroying"
	EventDestroyed    EventType = "destroyed"
	EventDestroyError EventType = "destroy_error"

	EventConnecting   EventType = "connecting"
	EventConnected    EventType = "connected"
	EventConnectError EventType = "connect_error"

	EventDisconnecting   EventType = "disconnecting"
	EventDisconnected    EventType = "disconnected"
	EventDisconnectError EventType = "disconnect_error"

	EventReading   EventType = "reading"
	EventRead      EventType = "read"
	EventReadError EventType = "read_error"

	EventWriting    EventType = "writing"
	EventWritten    EventType = "written"
	EventWriteError EventType = "write_error"

	EventProducing    EventType = "producing"
	EventProduced     EventType = "produced"
	EventProduceError EventType = "produce_error"

	EventConsuming    EventType = "consuming"
	EventConsumed     EventType = "consumed"
	EventConsumeError EventType = "consume_error"

	// EventQueueFull is fired when a bounded queue rejects an item.
	EventQueueFull EventType = "queue_full"
)

// IsError returns true for the error half of a before/after/error triple.
func (e EventType) IsError() bool {
	return strings.HasSuffix(string(e), "_error")
}

// IsBefore returns true for events fired before an operation runs.
func (e EventType) IsBefore() bool {
	switch e {
	case EventCreating, EventDestroying, EventConnecting, EventDisconnecting,
		EventReading, EventWriting, EventProducing, EventConsuming:
		return true
	}
	return false
}

// Operation returns the operation an event belongs to, e.g. "read" for
// reading, read and read_error.
func (e EventType) Operation() string {
	switch e {
	case EventCreating, EventCreated, EventCreateError:
		return "create"
	case EventDestroying, EventDestroyed, EventDestroyError:
		return "destroy"
	case EventConnecting, EventConnected, EventConnectError:
		return "connect"
	case EventDisconnecting, EventDisconnected, EventDisconnectError:
		return "disconnect"
	case EventReading, EventRead, EventReadError:
		return "read"
	case EventWriting, EventWritten, EventWriteError:
		return "write"
	case EventProducing, EventProduced, EventProduceError:
		return "produce"
	case EventConsuming, EventConsumed, EventConsumeError:
		return "consume"
	case EventQueueFull:
		return "enqueue"
	}
	return string(e)
}

// Severity returns the log severity appropriate for an event carrying status.
// Timeouts and drops never escalate to error severity.
func (e EventType) Severity(status Status) string {
	switch {
	case e == EventQueueFull:
		return "warning"
	case !e.IsError():
		return "info"
	case status == StatusTimeout:
		return "debug"
	case status == StatusDropData:
		return "warning"
	default:
		return "error"
	}
}

// HookEvent is delivered to hook subscribers for every lifecycle phase.
type HookEvent struct {
	// Type is the event type.
	Type EventType

	// Source is the resource or pipeline name.
	Source string

	// Time is when the event was fired.
	Time time.Time

	// Duration is the operation duration, set on after/error events.
	Duration time.Duration

	// Result is the operation outcome, set on after/error events.
	Result Result
}

// Hook receives hook events. Hooks run synchronously on the operation's
// goroutine and must not block for long.
type Hook func(ctx context.Context, ev HookEvent)

// HookSet is a concurrency-safe multicast list of hooks.
type HookSet struct {
	mu    sync.RWMutex
	hooks []Hook
}

// Add appends hook to the set. Nil hooks are ignored.
func (h *HookSet) Add(hook Hook) {
	if hook == nil {
		return
	}
	h.mu.Lock()
	h.hooks = append(h.hooks, hook)
	h.mu.Unlock()
}

// Len returns the number of registered hooks.
func (h *HookSet) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hooks)
}

// Fire delivers ev to every hook in registration order. A panicking hook is
// isolated from the others and from the caller.
func (h *HookSet) Fire(ctx context.Context, ev HookEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.mu.RLock()
	hooks := h.hooks
	h.mu.RUnlock()
	for _, hook := range hooks {
		func() {
			defer func() { _ = recover() }()
			hook(ctx, ev)
		}()
	}
}
