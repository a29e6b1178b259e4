package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/linkrt/pkg/engine"
)

// Event represents a telemetry event in the linkrt runtime.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the resource or pipeline the event concerns.
	Source string `json:"source"`

	// Operation is the lifecycle operation, if applicable.
	Operation string `json:"operation,omitempty"`

	// Status is the operation status, if applicable.
	Status string `json:"status,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (debug, info, warning, error).
	Level string `json:"level"`

	// Duration is the operation duration, if applicable.
	Duration time.Duration `json:"duration,omitempty"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for events not derived from lifecycle hooks.
const (
	EventTypeResourceStateChanged = "resource.state_changed"
	EventTypeConfigReloaded       = "config.reloaded"
	EventTypeConfigReloadFailed   = "config.reload_failed"
	EventTypeError                = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelDebug   = "debug"
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.MinLevel != "" {
		ep.AddFilter(FilterByLevel(cfg.MinLevel))
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// stateTransitions maps successful link completions to the resource states
// they move between.
var stateTransitions = map[engine.EventType][2]string{
	engine.EventConnected:    {"initialized", "connected"},
	engine.EventDisconnected: {"connected", "initialized"},
}

// Hook returns an engine hook that republishes lifecycle events. The before
// half of each triple is skipped unless IncludeBefore is set. Successful
// connects and disconnects are followed by a state change event.
func (ep *EventPublisher) Hook() engine.Hook {
	return func(ctx context.Context, ev engine.HookEvent) {
		if ev.Type.IsBefore() && !ep.config.IncludeBefore {
			return
		}
		_ = ep.PublishHookEvent(ev)

		if t, ok := stateTransitions[ev.Type]; ok && ev.Result.OK() {
			_ = ep.PublishResourceStateChanged(ev.Source, t[0], t[1])
		}
	}
}

// PublishHookEvent publishes a lifecycle hook event.
func (ep *EventPublisher) PublishHookEvent(ev engine.HookEvent) error {
	status := ev.Result.Status
	msg := fmt.Sprintf("%s %s", ev.Source, ev.Type)
	if status.IsError() && status != "" {
		msg = fmt.Sprintf("%s %s: %s", ev.Source, ev.Type, ev.Result.Message)
	}

	event := Event{
		Timestamp: ev.Time,
		Type:      string(ev.Type),
		Source:    ev.Source,
		Operation: ev.Type.Operation(),
		Status:    string(status),
		Message:   msg,
		Level:     ev.Type.Severity(status),
		Duration:  ev.Duration,
	}
	if ev.Result.Code != 0 {
		event.Data = map[string]interface{}{"code": ev.Result.Code}
	}
	return ep.Publish(event)
}

// PublishResourceStateChanged publishes a resource state change event.
func (ep *EventPublisher) PublishResourceStateChanged(resource, oldState, newState string) error {
	return ep.Publish(Event{
		Type:    EventTypeResourceStateChanged,
		Source:  resource,
		Message: fmt.Sprintf("Resource %s state changed from %s to %s", resource, oldState, newState),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"old_state": oldState,
			"new_state": newState,
		},
	})
}

// PublishConfigReloaded publishes the outcome of a configuration reload.
func (ep *EventPublisher) PublishConfigReloaded(path string, err error) error {
	if err != nil {
		return ep.Publish(Event{
			Type:    EventTypeConfigReloadFailed,
			Source:  "config",
			Message: fmt.Sprintf("Reloading %s failed: %v", path, err),
			Level:   EventLevelError,
			Data:    map[string]interface{}{"path": path},
		})
	}
	return ep.Publish(Event{
		Type:    EventTypeConfigReloaded,
		Source:  "config",
		Message: fmt.Sprintf("Reloaded %s", path),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"path": path},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously. Batches are
// delivered when full or when FlushInterval elapses.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-tick:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Drain and flush remaining events before shutting down
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelDebug:   0,
		EventLevelInfo:    1,
		EventLevelWarning: 2,
		EventLevelError:   3,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterBySource creates a filter that only allows events from a specific resource or pipeline.
func FilterBySource(source string) EventFilter {
	return func(event Event) bool {
		return event.Source == source
	}
}
