package boundq

import (
	"errors"
	"fmt"
)

var (
	// Admission errors.
	ErrQueueTimeout     = errors.New("boundq: timed out waiting for queue capacity")
	ErrQueueInterrupted = errors.New("boundq: interrupted while waiting for queue capacity")
	ErrQueueFull        = errors.New("boundq: queue is full")
	ErrQueueStopped     = errors.New("boundq: queue is stopped")

	// Lifecycle errors.
	ErrAlreadyStarted     = errors.New("boundq: queue already started")
	ErrWorkerStillRunning = errors.New("boundq: worker did not finish in time")

	// Construction errors.
	ErrInvalidCapacity = errors.New("boundq: capacity must be at least 1")
	ErrNilProcessFunc  = errors.New("boundq: process func is nil")
	ErrNilContainer    = errors.New("boundq: container factory returned nil")

	// Container errors.
	ErrContainerClosed = errors.New("boundq: container closed")
	ErrContainerFull   = errors.New("boundq: container full")
)

// ItemProcessingError reports a failed ProcessFunc call. Either Err is the
// error returned by the func, or Panic holds the recovered panic value.
// The item is considered consumed either way.
type ItemProcessingError struct {
	Item  any
	Err   error
	Panic any
}

func (e *ItemProcessingError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("boundq: processing panicked: %v", e.Panic)
	}
	return fmt.Sprintf("boundq: processing failed: %v", e.Err)
}

func (e *ItemProcessingError) Unwrap() error { return e.Err }
