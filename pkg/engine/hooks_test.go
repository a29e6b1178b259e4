package engine

import (
	"context"
	"testing"
)

func TestHookSet_FireOrderAndIsolation(t *testing.T) {
	var hs HookSet
	var order []string

	hs.Add(func(ctx context.Context, ev HookEvent) { order = append(order, "first") })
	hs.Add(func(ctx context.Context, ev HookEvent) { panic("bad subscriber") })
	hs.Add(nil)
	hs.Add(func(ctx context.Context, ev HookEvent) {
		order = append(order, "third")
		if ev.Time.IsZero() {
			t.Error("Expected Fire to stamp the event time")
		}
	})

	if hs.Len() != 3 {
		t.Fatalf("Expected 3 hooks, got %d", hs.Len())
	}

	hs.Fire(context.Background(), HookEvent{Type: EventRead, Source: "plc1"})

	if len(order) != 2 || order[0] != "first" || order[1] != "third" {
		t.Errorf("Expected [first third], got %v", order)
	}
}

func TestEventTypeSeverity(t *testing.T) {
	tests := []struct {
		name   string
		event  EventType
		status Status
		want   string
	}{
		{"after event", EventRead, StatusSuccess, "info"},
		{"before event", EventConnecting, StatusSuccess, "info"},
		{"timeout", EventReadError, StatusTimeout, "debug"},
		{"drop", EventConsumeError, StatusDropData, "warning"},
		{"failure", EventConnectError, StatusFailure, "error"},
		{"queue full", EventQueueFull, StatusDropData, "warning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Severity(tt.status); got != tt.want {
				t.Errorf("Severity() = %s, want %s", got, tt.want)
			}
		})
	}

	if !EventWriting.IsBefore() || EventWritten.IsBefore() {
		t.Error("Expected only writing to be a before event")
	}
	if !EventDestroyError.IsError() || EventDestroyed.IsError() {
		t.Error("Expected only destroy_error to be an error event")
	}

	if EventWriteError.Operation() != "write" || EventQueueFull.Operation() != "enqueue" {
		t.Error("Expected events to map onto their operation")
	}
}
