package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      time.Minute,
		Clock:            clock,
	})
}

func TestClosedOpensOnConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := newTestBreaker(clock)

	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, StateClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestSuccessResetsFailureCountInClosed(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := newTestBreaker(clock)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpenTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := newTestBreaker(clock)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(30 * time.Second)
	assert.Equal(t, StateOpen, cb.State()) // timeout not elapsed yet

	clock.now = clock.now.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestHalfOpenClosesOnConsecutiveSuccesses(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := newTestBreaker(clock)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	clock.now = clock.now.Add(time.Minute + time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	require.Equal(t, StateHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenReopensOnAnyFailure(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := newTestBreaker(clock)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	clock.now = clock.now.Add(time.Minute + time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestIsOpenReflectsCurrentState(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := newTestBreaker(clock)
	assert.False(t, cb.IsOpen())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
}

func TestResetForcesClosed(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := newTestBreaker(clock)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}
