package engine

import (
	"encoding/json"
	"fmt"
)

// Status is the outcome classification threaded through every operation.
type Status string

const (
	// StatusSuccess is the only non-error status.
	StatusSuccess Status = "success"

	// StatusError is a generic, unclassified error.
	StatusError Status = "error"

	// StatusResource indicates an allocation or configuration problem.
	StatusResource Status = "error_resource"

	// StatusFailure indicates the operation ran and failed.
	StatusFailure Status = "error_failure"

	// StatusException wraps a caught fault; Result.Cause carries it.
	StatusException Status = "error_exception"

	// StatusTimeout is expected and recoverable, logged at low severity.
	StatusTimeout Status = "error_timeout"

	// StatusDropData indicates backpressure rejection or a cancelled unit of work.
	StatusDropData Status = "error_drop_data"

	// StatusNotImplemented indicates a collaborator stub that is not wired.
	StatusNotImplemented Status = "error_not_implemented"
)

// IsError returns true for every status other than StatusSuccess.
func (s Status) IsError() bool {
	return s != StatusSuccess
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusSuccess, StatusError, StatusResource, StatusFailure,
		StatusException, StatusTimeout, StatusDropData, StatusNotImplemented:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Status(str)
	return s.Validate()
}

// ResourceState is a point-in-time view of a resource's lifecycle flags.
// Connected implies Initialized.
type ResourceState struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Initialized bool   `json:"initialized"`
	Connected   bool   `json:"connected"`
}

// String renders the state for log lines.
func (s ResourceState) String() string {
	switch {
	case s.Connected:
		return "connected"
	case s.Initialized:
		return "initialized"
	case !s.Enabled:
		return "disabled"
	default:
		return "idle"
	}
}
