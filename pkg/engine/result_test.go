package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusSuccess},
		{"plain", errors.New("boom"), StatusError},
		{"timeout error", NewTimeoutError("slow", nil), StatusTimeout},
		{"wrapped timeout error", fmt.Errorf("read: %w", NewTimeoutError("slow", nil)), StatusTimeout},
		{"resource error", NewResourceError("no port", nil), StatusResource},
		{"deadline exceeded", context.DeadlineExceeded, StatusTimeout},
		{"os deadline", fmt.Errorf("read: %w", os.ErrDeadlineExceeded), StatusTimeout},
		{"net timeout", timeoutNetError{}, StatusTimeout},
		{"canceled", context.Canceled, StatusDropData},
		{"not implemented", ErrNotImplemented, StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromError(t *testing.T) {
	cause := NewFailureError("write rejected", nil).WithCode(42)
	r := FromError(fmt.Errorf("plc: %w", cause))

	if r.OK() {
		t.Fatal("Expected failure result")
	}
	if r.Status != StatusFailure {
		t.Errorf("Expected status %s, got %s", StatusFailure, r.Status)
	}
	if r.Code != 42 {
		t.Errorf("Expected code 42, got %d", r.Code)
	}
	if !errors.Is(r.Cause, cause) {
		t.Errorf("Expected cause to wrap the original error, got %v", r.Cause)
	}

	if ok := FromError(nil); !ok.OK() {
		t.Errorf("Expected success for nil error, got %v", ok)
	}
}

func TestResultErr(t *testing.T) {
	if err := Success("x").Err(); err != nil {
		t.Errorf("Expected nil error for success, got %v", err)
	}

	r := Failure(StatusTimeout, "no reply", nil)
	err := r.Err()
	if !IsTimeout(err) {
		t.Errorf("Expected timeout error, got %v", err)
	}

	coerced := Failure(StatusSuccess, "", errors.New("odd"))
	if coerced.Status != StatusError {
		t.Errorf("Expected success status to be coerced to error, got %s", coerced.Status)
	}
	if coerced.Message != "odd" {
		t.Errorf("Expected message from cause, got %q", coerced.Message)
	}
}

func TestProtect(t *testing.T) {
	r := Protect(func() (any, error) {
		panic("driver exploded")
	})
	if r.Status != StatusException {
		t.Fatalf("Expected status %s, got %s", StatusException, r.Status)
	}
	var pe *PanicError
	if !errors.As(r.Cause, &pe) {
		t.Fatalf("Expected PanicError cause, got %T", r.Cause)
	}
	if pe.Value != "driver exploded" {
		t.Errorf("Expected panic value to be preserved, got %v", pe.Value)
	}

	r = Protect(func() (any, error) { return 7, nil })
	if v, ok := PayloadAs[int](r); !ok || v != 7 {
		t.Errorf("Expected payload 7, got %v (ok=%v)", r.Payload, ok)
	}

	sentinel := errors.New("inner")
	r = ProtectErr(func() error { panic(sentinel) })
	if !errors.Is(r.Cause, sentinel) {
		t.Errorf("Expected panic error value to unwrap, got %v", r.Cause)
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("connect: %w", &Error{Status: StatusNotImplemented, Message: "stub"})
	if !errors.Is(err, ErrNotImplemented) {
		t.Error("Expected errors.Is to match on status")
	}
	if errors.Is(NewTimeoutError("x", nil), ErrNotImplemented) {
		t.Error("Expected different statuses not to match")
	}

	e := NewResourceError("port busy", errors.New("EBUSY")).WithResource("plc1").WithOperation("create")
	want := "[error_resource] port busy (resource=plc1, operation=create): EBUSY"
	if e.Error() != want {
		t.Errorf("Expected %q, got %q", want, e.Error())
	}
}

func TestStatusValidate(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		wantErr bool
	}{
		{"success", StatusSuccess, false},
		{"timeout", StatusTimeout, false},
		{"drop", StatusDropData, false},
		{"invalid", Status("sorta"), true},
		{"empty", Status(""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.status.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Status.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnimplementedConnector(t *testing.T) {
	var c Connector[[]byte] = UnimplementedConnector[[]byte]{}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Errorf("Expected Connect to succeed, got %v", err)
	}
	if _, err := c.Read(ctx); !IsNotImplemented(err) {
		t.Errorf("Expected not implemented from Read, got %v", err)
	}
	if _, err := c.Write(ctx, nil); !IsNotImplemented(err) {
		t.Errorf("Expected not implemented from Write, got %v", err)
	}
}
