package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/industrial-rfp/workflow-core/core"
)

const maxLatencySamples = 1000

// Metrics is the rolling performance-metrics aggregate from spec.md §4.3:
// a bounded window of latency samples plus running counters, exposing
// mean/P95/P99 and an error rate normalized to uptime.
type Metrics struct {
	mu sync.Mutex

	startedAt time.Time
	clock     core.Clock

	samples []time.Duration // ring buffer, oldest overwritten first
	next    int
	filled  int

	errorCount      int64
	timeoutCount    int64
	retryCount      int64
	circuitTripCount int64
}

// NewMetrics constructs a Metrics aggregate whose uptime clock starts now.
func NewMetrics(clock core.Clock) *Metrics {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Metrics{
		startedAt: clock.Now(),
		clock:     clock,
		samples:   make([]time.Duration, maxLatencySamples),
	}
}

// RecordLatency appends a latency sample to the rolling window.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[m.next] = d
	m.next = (m.next + 1) % maxLatencySamples
	if m.filled < maxLatencySamples {
		m.filled++
	}
}

// RecordError increments the error counter, and the timeout counter too if
// isTimeout.
func (m *Metrics) RecordError(isTimeout bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount++
	if isTimeout {
		m.timeoutCount++
	}
}

// RecordRetry increments the retry counter.
func (m *Metrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount++
}

// RecordCircuitTrip increments the circuit-breaker trip counter.
func (m *Metrics) RecordCircuitTrip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitTripCount++
}

// Snapshot is a point-in-time read of the aggregate.
type Snapshot struct {
	Mean             time.Duration
	P95              time.Duration
	P99              time.Duration
	ErrorCount       int64
	TimeoutCount     int64
	RetryCount       int64
	CircuitTripCount int64
	ErrorRatePerMin  float64
	SampleCount      int
	Uptime           time.Duration
}

// Snapshot computes the current metrics view.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := make([]time.Duration, m.filled)
	copy(sorted, m.samples[:m.filled])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var mean time.Duration
	if len(sorted) > 0 {
		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		mean = sum / time.Duration(len(sorted))
	}

	uptime := m.clock.Now().Sub(m.startedAt)
	errorRate := 0.0
	if uptime > 0 {
		errorRate = float64(m.errorCount) / uptime.Minutes()
	}

	return Snapshot{
		Mean:             mean,
		P95:              percentile(sorted, 0.95),
		P99:              percentile(sorted, 0.99),
		ErrorCount:       m.errorCount,
		TimeoutCount:     m.timeoutCount,
		RetryCount:       m.retryCount,
		CircuitTripCount: m.circuitTripCount,
		ErrorRatePerMin:  errorRate,
		SampleCount:      len(sorted),
		Uptime:           uptime,
	}
}

// percentile returns the p-th percentile (0 < p <= 1) of an already-sorted
// slice: the element at index floor(p*n)-1, clamped to the slice bounds.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
