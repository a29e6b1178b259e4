package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Error represents a classified error with context.
// nolint:revive // named to mirror Result; callers use engine.Error
type Error struct {
	// Status is the classification used for counters and hook severity.
	Status Status `json:"status"`

	// Code is an optional numeric code supplied by a collaborator.
	Code int `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the resource name that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Status)
	}
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("[%s] %s (resource=%s, operation=%s)", e.Status, msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("[%s] %s (resource=%s)", e.Status, msg, e.Resource)
	} else {
		msg = fmt.Sprintf("[%s] %s", e.Status, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Status == t.Status && e.Code == t.Code
}

// ErrNotImplemented is returned by collaborator stubs that have not been wired.
var ErrNotImplemented = &Error{Status: StatusNotImplemented, Message: "not implemented"}

// NewError creates a new generic, unclassified error.
func NewError(message string, err error) *Error {
	return &Error{Status: StatusError, Message: message, Err: err}
}

// NewResourceError creates an allocation or configuration error.
func NewResourceError(message string, err error) *Error {
	return &Error{Status: StatusResource, Message: message, Err: err}
}

// NewFailureError creates an error for an operation that ran but failed.
func NewFailureError(message string, err error) *Error {
	return &Error{Status: StatusFailure, Message: message, Err: err}
}

// NewExceptionError wraps a caught fault.
func NewExceptionError(message string, err error) *Error {
	return &Error{Status: StatusException, Message: message, Err: err}
}

// NewTimeoutError creates an expected, recoverable timeout error.
func NewTimeoutError(message string, err error) *Error {
	return &Error{Status: StatusTimeout, Message: message, Err: err}
}

// NewDropError creates a backpressure or cancellation drop error.
func NewDropError(message string, err error) *Error {
	return &Error{Status: StatusDropData, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(name string) *Error {
	e.Resource = name
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

// Classify maps an error onto the status taxonomy.
func Classify(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return StatusTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return StatusTimeout
	}
	if errors.Is(err, context.Canceled) {
		return StatusDropData
	}
	return StatusError
}

// IsTimeout returns true if the error is classified as a timeout.
func IsTimeout(err error) bool {
	return err != nil && Classify(err) == StatusTimeout
}

// IsDropped returns true if the error is classified as dropped data.
func IsDropped(err error) bool {
	return err != nil && Classify(err) == StatusDropData
}

// IsNotImplemented returns true if the error reports an unwired collaborator.
func IsNotImplemented(err error) bool {
	return err != nil && Classify(err) == StatusNotImplemented
}
