// Package resilience implements the Retry Handler and Circuit Breaker
// (C4): configurable backoff strategies guarded by a three-state breaker.
package resilience

import (
	"sync"
	"time"

	"github.com/industrial-rfp/workflow-core/core"
)

// CircuitState is one of the breaker's three states.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	Logger           core.Logger
	Clock            core.Clock
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           core.NoOpLogger{},
		Clock:            core.SystemClock{},
	}
}

// CircuitBreaker implements the three-state machine from spec.md §4.4:
// closed -> open on consecutive failures >= FailureThreshold; open ->
// half_open lazily, evaluated at the next IsOpen check, once OpenTimeout
// has elapsed since opening; half_open -> closed on consecutive successes
// >= SuccessThreshold; half_open -> open on any failure. The failure
// counter resets on any success while closed; both counters reset on
// entry to half_open.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg CircuitBreakerConfig

	state               CircuitState
	consecutiveFailures int
	consecutiveSuccess  int
	openedAt            time.Time
}

// NewCircuitBreaker constructs a CircuitBreaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NoOpLogger{}
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// IsOpen reports whether the breaker currently rejects calls. It lazily
// evaluates the open -> half_open transition before answering.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionToHalfOpenLocked()
	return cb.state == StateOpen
}

// State returns the breaker's current state, after the same lazy
// transition check as IsOpen.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionToHalfOpenLocked()
	return cb.state
}

func (cb *CircuitBreaker) maybeTransitionToHalfOpenLocked() {
	if cb.state != StateOpen {
		return
	}
	if cb.cfg.Clock.Now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
}

// RecordSuccess records a successful call and applies the resulting
// transition, if any.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionToHalfOpenLocked()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.consecutiveSuccess++
		if cb.consecutiveSuccess >= cb.cfg.SuccessThreshold {
			cb.transitionLocked(StateClosed)
		}
	}
}

// RecordFailure records a failed call and applies the resulting
// transition, if any.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionToHalfOpenLocked()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.cfg.Clock.Now()
	case StateHalfOpen:
		cb.consecutiveFailures = 0
		cb.consecutiveSuccess = 0
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.consecutiveSuccess = 0
	}
	cb.cfg.Logger.Info("circuit breaker state changed", map[string]interface{}{
		"name": cb.cfg.Name, "from": from.String(), "to": to.String(),
	})
}

// Reset forces the breaker back to closed, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
}
