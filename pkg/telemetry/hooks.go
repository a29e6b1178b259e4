package telemetry

import (
	"context"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/rs/zerolog"

	"github.com/openfroyo/linkrt/pkg/engine"
)

type throttleKey struct {
	source string
	event  engine.EventType
}

// LogHook returns an engine hook that logs lifecycle events. Before events
// are logged at trace level, completions at debug level and failures at the
// severity of their status. Warnings and errors are throttled to burst
// records per window for each source and event type; burst <= 0 disables
// throttling.
func LogHook(logger zerolog.Logger, burst int, window time.Duration) engine.Hook {
	var limiter *catrate.Limiter
	if burst > 0 && window > 0 {
		limiter = catrate.NewLimiter(map[time.Duration]int{window: burst})
	}

	return func(ctx context.Context, ev engine.HookEvent) {
		level := hookLevel(ev)
		if level >= zerolog.WarnLevel && limiter != nil {
			if _, ok := limiter.Allow(throttleKey{source: ev.Source, event: ev.Type}); !ok {
				return
			}
		}

		e := logger.WithLevel(level).
			Str("source", ev.Source).
			Str("event", string(ev.Type)).
			Str("operation", ev.Type.Operation())
		if !ev.Type.IsBefore() {
			e = e.Dur("duration", ev.Duration)
			if ev.Result.Status != "" {
				e = e.Str("status", string(ev.Result.Status))
			}
			if ev.Result.Code != 0 {
				e = e.Int("code", ev.Result.Code)
			}
			if ev.Result.Cause != nil {
				e = e.Err(ev.Result.Cause)
			}
		}
		if ev.Result.Message != "" {
			e.Msg(ev.Result.Message)
			return
		}
		e.Msg("Lifecycle event")
	}
}

func hookLevel(ev engine.HookEvent) zerolog.Level {
	if ev.Type.IsBefore() {
		return zerolog.TraceLevel
	}
	switch ev.Type.Severity(ev.Result.Status) {
	case EventLevelError:
		return zerolog.ErrorLevel
	case EventLevelWarning:
		return zerolog.WarnLevel
	case EventLevelDebug:
		return zerolog.DebugLevel
	}
	switch ev.Type {
	case engine.EventRead, engine.EventWritten, engine.EventProduced, engine.EventConsumed:
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// MetricsHook returns an engine hook that records completed operations,
// failures, rejected items and connection state in m.
func MetricsHook(m *Metrics) engine.Hook {
	return func(ctx context.Context, ev engine.HookEvent) {
		if ev.Type.IsBefore() {
			return
		}

		switch ev.Type {
		case engine.EventQueueFull:
			m.RecordQueueFull(ev.Source)
			return
		case engine.EventConnected:
			m.SetResourceConnected(ev.Source, true)
		case engine.EventDisconnected, engine.EventDestroyed:
			m.SetResourceConnected(ev.Source, false)
		}

		status := ev.Result.Status
		if status == "" {
			status = engine.StatusSuccess
		}
		m.RecordOperation(ev.Source, ev.Type.Operation(), string(status), ev.Duration)
		if ev.Type.IsError() {
			m.RecordError(string(status), ev.Result.Code)
		}
	}
}
