// ABOUTME: This file implements circuit breaker pattern for feed host protection
// ABOUTME: Prevents hammering hosts that fail repeatedly by temporarily blocking calls
package fetcher

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a host's breaker is blocking calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed means requests are allowed.
	BreakerClosed BreakerState = iota
	// BreakerOpen means requests are blocked.
	BreakerOpen
	// BreakerHalfOpen means the breaker is probing for recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one host. Opens after threshold consecutive failures,
// probes again after the timeout.
type CircuitBreaker struct {
	failures    int
	lastFailure time.Time
	threshold   int
	timeout     time.Duration
	state       BreakerState
	mu          sync.Mutex
}

func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
		state:     BreakerClosed,
	}
}

// Call executes fn with circuit breaker protection.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()

	if cb.state == BreakerOpen && time.Since(cb.lastFailure) >= cb.timeout {
		cb.state = BreakerHalfOpen
	}
	if cb.state == BreakerOpen {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.threshold || cb.state == BreakerHalfOpen {
			cb.state = BreakerOpen
		}
		return err
	}

	cb.failures = 0
	cb.state = BreakerClosed
	return nil
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset returns the breaker to closed with zero failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = BreakerClosed
	cb.lastFailure = time.Time{}
}
