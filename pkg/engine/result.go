package engine

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Result is the tagged outcome returned by every boundary operation.
type Result struct {
	// Status classifies the outcome.
	Status Status `json:"status"`

	// Code is an optional numeric code supplied by a collaborator.
	Code int `json:"code,omitempty"`

	// Message is a human-readable description of a failure.
	Message string `json:"message,omitempty"`

	// Cause is the underlying error, populated for every failure.
	Cause error `json:"-"`

	// Payload carries the data read, or echoes the data written.
	Payload any `json:"payload,omitempty"`
}

// Success returns a successful result carrying payload.
func Success(payload any) Result {
	return Result{Status: StatusSuccess, Payload: payload}
}

// Failure returns a failed result. A StatusSuccess status is coerced to StatusError.
func Failure(status Status, message string, cause error) Result {
	if status == StatusSuccess {
		status = StatusError
	}
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return Result{Status: status, Message: message, Cause: cause}
}

// FromError classifies err into a Result. A nil error yields an empty success.
func FromError(err error) Result {
	if err == nil {
		return Success(nil)
	}
	r := Failure(Classify(err), err.Error(), err)
	var e *Error
	if errors.As(err, &e) {
		r.Code = e.Code
	}
	return r
}

// OK returns true if the result is a success.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Err returns nil for a success, otherwise an *Error carrying the status.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	var e *Error
	if errors.As(r.Cause, &e) && e.Status == r.Status {
		return e
	}
	return &Error{Status: r.Status, Code: r.Code, Message: r.Message, Err: r.Cause}
}

// String renders the result for log lines.
func (r Result) String() string {
	if r.OK() {
		return string(r.Status)
	}
	return fmt.Sprintf("%s: %s", r.Status, r.Message)
}

// PayloadAs extracts a typed payload from r.
func PayloadAs[T any](r Result) (T, bool) {
	v, ok := r.Payload.(T)
	return v, ok
}

// PanicError carries a recovered panic value and the stack at recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// Protect runs fn, folding a returned error into a classified Result and a
// panic into StatusException with the recovered value as Cause.
func Protect(fn func() (any, error)) (r Result) {
	defer func() {
		if v := recover(); v != nil {
			cause := &PanicError{Value: v, Stack: debug.Stack()}
			r = Failure(StatusException, cause.Error(), cause)
		}
	}()
	payload, err := fn()
	if err != nil {
		return FromError(err)
	}
	return Success(payload)
}

// ProtectErr is Protect for functions without a payload.
func ProtectErr(fn func() error) Result {
	return Protect(func() (any, error) {
		return nil, fn()
	})
}
