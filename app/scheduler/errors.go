package scheduler

import (
	"errors"
	"fmt"
)

// ErrJobNotFound returned by GetJob if the scheduler has no job with the given key
var ErrJobNotFound = errors.New("job not found")

// TransportError is a connectivity failure or a non-2xx response without an actionable body
type TransportError struct {
	Op     string // operation name, e.g. "list jobs"
	Status int    // http status, 0 if the request didn't get a response
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError carries the scheduler's rejection message verbatim
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
