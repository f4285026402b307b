package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordLatencyAndSnapshotMean(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := NewMetrics(clock)

	m.RecordLatency(100 * time.Millisecond)
	m.RecordLatency(200 * time.Millisecond)
	m.RecordLatency(300 * time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, 3, snap.SampleCount)
	assert.Equal(t, 200*time.Millisecond, snap.Mean)
}

func TestSnapshotPercentiles(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := NewMetrics(clock)

	for i := 1; i <= 100; i++ {
		m.RecordLatency(time.Duration(i) * time.Millisecond)
	}

	snap := m.Snapshot()
	assert.Equal(t, 95*time.Millisecond, snap.P95)
	assert.Equal(t, 99*time.Millisecond, snap.P99)
}

func TestLatencyRingBufferOverwritesOldest(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := NewMetrics(clock)

	for i := 0; i < maxLatencySamples+10; i++ {
		m.RecordLatency(time.Duration(i) * time.Millisecond)
	}

	snap := m.Snapshot()
	assert.Equal(t, maxLatencySamples, snap.SampleCount)
}

func TestRecordErrorAndTimeoutCounters(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := NewMetrics(clock)

	m.RecordError(false)
	m.RecordError(true)
	m.RecordRetry()
	m.RecordCircuitTrip()

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.ErrorCount)
	assert.Equal(t, int64(1), snap.TimeoutCount)
	assert.Equal(t, int64(1), snap.RetryCount)
	assert.Equal(t, int64(1), snap.CircuitTripCount)
}

func TestErrorRatePerMinuteNormalizesToUptime(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := NewMetrics(clock)

	m.RecordError(false)
	m.RecordError(false)

	clock.now = clock.now.Add(2 * time.Minute)
	snap := m.Snapshot()
	assert.InDelta(t, 1.0, snap.ErrorRatePerMin, 0.001)
}

func TestSnapshotWithNoSamplesIsZeroValued(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := NewMetrics(clock)

	snap := m.Snapshot()
	assert.Equal(t, time.Duration(0), snap.Mean)
	assert.Equal(t, time.Duration(0), snap.P95)
	assert.Equal(t, 0, snap.SampleCount)
}
