package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/industrial-rfp/workflow-core/core"
)

// Strategy is the backoff shape applied between retry attempts.
type Strategy string

const (
	StrategyImmediate   Strategy = "immediate"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyFibonacci   Strategy = "fibonacci"
)

// RetryPolicy configures the Retry loop's attempt count and backoff math
// (spec.md §4.4).
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Strategy        Strategy
	ExponentialBase float64
	JitterEnabled   bool
}

// DefaultRetryPolicy returns sensible defaults: three attempts, exponential
// backoff with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Strategy:        StrategyExponential,
		ExponentialBase: 2.0,
		JitterEnabled:   true,
	}
}

// fibonacci returns fib(n) for n >= 1, with fib(1) = fib(2) = 1.
func fibonacci(n int) int64 {
	if n <= 2 {
		return 1
	}
	var a, b int64 = 1, 1
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

// delayForAttempt computes the raw, uncapped, unjittered delay before
// attempt N (1-indexed), per the formulas in spec.md §4.4.
func (p RetryPolicy) delayForAttempt(attempt int) time.Duration {
	switch p.Strategy {
	case StrategyImmediate:
		return 0
	case StrategyLinear:
		return p.InitialDelay * time.Duration(attempt)
	case StrategyFibonacci:
		return p.InitialDelay * time.Duration(fibonacci(attempt))
	case StrategyExponential:
		fallthrough
	default:
		base := p.ExponentialBase
		if base <= 0 {
			base = 2.0
		}
		factor := 1.0
		for i := 0; i < attempt-1; i++ {
			factor *= base
		}
		return time.Duration(float64(p.InitialDelay) * factor)
	}
}

// NextDelay computes the capped, optionally jittered delay before attempt
// N. Jitter multiplies the capped delay by a uniform random value in
// [0.5, 1.5).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := p.delayForAttempt(attempt)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterEnabled && delay > 0 {
		jitter := 0.5 + rand.Float64()
		delay = time.Duration(float64(delay) * jitter)
	}
	return delay
}

// Retry runs fn under policy, consulting breaker before every attempt. If
// breaker is open, Retry fails fast without invoking fn (spec.md §4.4:
// "check circuit breaker first; if open, fail fast with a distinct
// 'circuit open' error"). Success and failure are both reported to
// breaker. On exhaustion, the last error is returned wrapped with
// ErrMaxRetriesExceeded.
func Retry(ctx context.Context, policy RetryPolicy, breaker *CircuitBreaker, op string, fn func(ctx context.Context) error) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return core.NewOpError(op, "timeout", "", fmt.Errorf("%w: %v", core.ErrRequestTimeout, ctx.Err()))
		default:
		}

		if breaker != nil && breaker.IsOpen() {
			return core.NewOpError(op, "circuit", "", core.ErrCircuitOpen)
		}

		err := fn(ctx)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			return nil
		}
		lastErr = err
		if breaker != nil {
			breaker.RecordFailure()
		}

		if attempt == maxAttempts {
			break
		}

		delay := policy.NextDelay(attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return core.NewOpError(op, "timeout", "", fmt.Errorf("%w: %v", core.ErrRequestTimeout, ctx.Err()))
		case <-timer.C:
		}
	}

	return core.NewOpError(op, "delivery", "", fmt.Errorf("%w: %w", core.ErrMaxRetriesExceeded, lastErr))
}
