// Package telemetry implements the Tracer and Metrics component (C5):
// per-message trace lifecycle, rolling latency/error statistics, and
// per-queue depth monitoring, with an OpenTelemetry export path.
package telemetry

import (
	"sync"
	"time"

	"github.com/industrial-rfp/workflow-core/core"
)

// Hop records one step a message took through the system.
type Hop struct {
	Label     string
	Timestamp time.Time
}

// ProcessingTime records a named stage's duration within a trace.
type ProcessingTime struct {
	Stage    string
	Duration time.Duration
}

// TraceStatus is the terminal state of a trace, once one has been reached.
type TraceStatus string

const (
	TraceStatusInFlight   TraceStatus = "in_flight"
	TraceStatusDelivered  TraceStatus = "delivered"
	TraceStatusAcked      TraceStatus = "acknowledged"
	TraceStatusFailed     TraceStatus = "failed"
)

// Trace is the per-message record the tracer maintains for its lifetime.
type Trace struct {
	MessageID       string
	Sender          string
	Recipient       string
	Type            string
	CorrelationID   string
	CreatedAt       time.Time
	Hops            []Hop
	ProcessingTimes []ProcessingTime
	Status          TraceStatus
	Error           string
	DeliveredAt     *time.Time
	AckedAt         *time.Time
	FailedAt        *time.Time
}

// Tracer implements the start_trace/record_hop/.../mark_failed lifecycle
// from spec.md §4.3: calls against an unknown message ID are no-ops, and
// the trace set is bounded at MaxTraces with oldest-first eviction. The
// Metrics aggregate is fed by RecordProcessingTime (latency samples) and
// MarkFailed (error/timeout counters) in O(1); MarkDelivered and
// MarkAcknowledged do not update it.
type Tracer struct {
	mu        sync.Mutex
	maxTraces int
	traces    map[string]*Trace
	order     []string // insertion order, for oldest-first eviction
	metrics   *Metrics
	clock     core.Clock
}

// NewTracer constructs a Tracer bounded at maxTraces, feeding terminal
// transitions into metrics.
func NewTracer(maxTraces int, metrics *Metrics, clock core.Clock) *Tracer {
	if maxTraces <= 0 {
		maxTraces = 1000
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Tracer{
		maxTraces: maxTraces,
		traces:    make(map[string]*Trace),
		metrics:   metrics,
		clock:     clock,
	}
}

// StartTrace begins tracking msgID. If the tracer is already at capacity,
// the oldest trace (by creation order) is evicted first.
func (t *Tracer) StartTrace(msgID, sender, recipient, msgType, correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.traces) >= t.maxTraces {
		t.evictOldestLocked()
	}

	t.traces[msgID] = &Trace{
		MessageID:     msgID,
		Sender:        sender,
		Recipient:     recipient,
		Type:          msgType,
		CorrelationID: correlationID,
		CreatedAt:     t.clock.Now(),
		Status:        TraceStatusInFlight,
	}
	t.order = append(t.order, msgID)
}

func (t *Tracer) evictOldestLocked() {
	if len(t.order) == 0 {
		return
	}
	oldest := t.order[0]
	t.order = t.order[1:]
	delete(t.traces, oldest)
}

// RecordHop appends a labeled hop to msgID's trace. No-op if unknown.
func (t *Tracer) RecordHop(msgID, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traces[msgID]
	if !ok {
		return
	}
	tr.Hops = append(tr.Hops, Hop{Label: label, Timestamp: t.clock.Now()})
}

// RecordProcessingTime appends a named stage duration to msgID's trace. No-op
// if unknown.
func (t *Tracer) RecordProcessingTime(msgID, stage string, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traces[msgID]
	if !ok {
		return
	}
	tr.ProcessingTimes = append(tr.ProcessingTimes, ProcessingTime{Stage: stage, Duration: duration})
	if t.metrics != nil {
		t.metrics.RecordLatency(duration)
	}
}

// MarkDelivered transitions msgID to delivered. No-op if unknown.
func (t *Tracer) MarkDelivered(msgID string) {
	t.mu.Lock()
	tr, ok := t.traces[msgID]
	if !ok {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	tr.Status = TraceStatusDelivered
	tr.DeliveredAt = &now
	t.mu.Unlock()
}

// MarkAcknowledged transitions msgID to acknowledged, a terminal state.
// The metrics aggregate is not updated. No-op if unknown.
func (t *Tracer) MarkAcknowledged(msgID string) {
	t.mu.Lock()
	tr, ok := t.traces[msgID]
	if !ok {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	tr.Status = TraceStatusAcked
	tr.AckedAt = &now
	t.mu.Unlock()
}

// MarkFailed transitions msgID to failed, a terminal state, records err,
// and updates the metrics aggregate (error count). No-op if unknown.
func (t *Tracer) MarkFailed(msgID string, err error) {
	t.mu.Lock()
	tr, ok := t.traces[msgID]
	if !ok {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	tr.Status = TraceStatusFailed
	tr.FailedAt = &now
	if err != nil {
		tr.Error = err.Error()
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordError(core.IsTimeout(err))
	}
}

// Get returns a snapshot of msgID's trace, or (nil, false) if unknown.
func (t *Tracer) Get(msgID string) (*Trace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traces[msgID]
	if !ok {
		return nil, false
	}
	clone := *tr
	clone.Hops = append([]Hop(nil), tr.Hops...)
	clone.ProcessingTimes = append([]ProcessingTime(nil), tr.ProcessingTimes...)
	return &clone, true
}

// Len returns the number of traces currently retained.
func (t *Tracer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.traces)
}
