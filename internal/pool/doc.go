// Package pool runs compositing and encode subtasks on a dynamically scaled
// set of isolated workers.
//
// Workers communicate with the pool exclusively through channels; no mutable
// state crosses a worker boundary. Each worker is guarded by its own circuit
// breaker, failed tasks retry with exponential backoff, and an independent
// health monitor replaces workers that fail consecutive probes. The task
// queue is bounded: submissions at capacity fail immediately so upstream
// callers apply their own backpressure instead of buffering without bound.
package pool
