// Package engine provides the core types and contracts of the linkrt runtime.
//
// # Overview
//
// linkrt manages "connectable" I/O resources: PLC links, serial ports, or any
// polled external endpoint. The runtime owns the lifecycle, polling, locking and
// statistics; a driver only implements the Connector contract.
//
// # Results
//
// Every boundary operation returns a Result, a tagged outcome:
//
//	r := controller.ReadData(ctx)
//	if !r.OK() {
//	    if r.Status == engine.StatusTimeout {
//	        // expected, retry on the next poll
//	    }
//	}
//	sample, _ := engine.PayloadAs[[]byte](r)
//
// Faults never cross a boundary as panics: Protect folds a recovered panic into
// StatusException with the original value as Result.Cause.
//
// # Error Classification
//
// Drivers report failures as plain errors. Classify maps them onto the status
// taxonomy:
//
//   - *Error: its own Status (use NewTimeoutError, NewResourceError, ...)
//   - context.DeadlineExceeded, os.ErrDeadlineExceeded, net timeouts: StatusTimeout
//   - context.Canceled: StatusDropData
//   - anything else: StatusError
//
// # Hooks
//
// Each lifecycle phase fires a before/after/error triple of HookEvents
// (creating/created/create_error, ..., reading/read/read_error). Hooks are the
// only integration surface for logging, UI and monitoring collaborators.
package engine
