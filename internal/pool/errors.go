package pool

import "errors"

var (
	// ErrQueueFull reports a submission rejected because the bounded task
	// queue is at capacity.
	ErrQueueFull = errors.New("task queue full")

	// ErrPoolClosed reports a submission or queued task rejected because the
	// pool is shutting down.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrTaskTimeout reports a dispatched task that produced no response
	// within the task timeout.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrTaskCancelled reports a queued task removed before dispatch.
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrRetriesExhausted reports a task that failed on every permitted
	// attempt.
	ErrRetriesExhausted = errors.New("task retries exhausted")
)
