package pool

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops routing work to a repeatedly failing worker until a
// cooldown elapses. One breaker guards one worker.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	failureThreshold int
	resetTimeout     time.Duration
	lastFailure      time.Time
	now              func() time.Time
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// Allow reports whether work may be routed through the breaker, moving an
// open breaker to half-open once the reset timeout has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	default:
		if b.now().Sub(b.lastFailure) >= b.resetTimeout {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
}

// RecordFailure counts a failure, opening the breaker at the threshold. A
// half-open breaker reopens on any failure.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		return
	}
	b.failureCount++
	if b.failureCount >= b.failureThreshold {
		b.state = BreakerOpen
	}
}

// RecordSuccess resets failure accounting. One success while half-open
// closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
	}
}

// Reset forces the breaker closed.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failureCount = 0
}

// State returns the current position without side effects.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
