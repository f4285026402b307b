package telemetry

import (
	"sync"
	"time"

	"github.com/industrial-rfp/workflow-core/core"
)

// HealthTag classifies a queue's current state for quick operator
// scanning.
type HealthTag string

const (
	HealthHealthy  HealthTag = "healthy"
	HealthBacklog  HealthTag = "backlog"
	HealthIdle     HealthTag = "idle"
)

// backlogThreshold is the depth at or above which a queue is tagged "backlog"
// rather than "healthy".
const backlogThreshold = 100

// idleThreshold is how long without any enqueue/dequeue activity before a
// queue is tagged "idle".
const idleThreshold = 5 * time.Minute

type queueStats struct {
	depth         int
	highWaterMark int
	throughput    int64 // cumulative dequeues
	lastActivity  time.Time
}

// QueueMonitor implements record_enqueue/record_dequeue from spec.md §4.3,
// exposing depth, high-water mark, cumulative throughput, idle time, and a
// health tag per queue.
type QueueMonitor struct {
	mu     sync.Mutex
	queues map[string]*queueStats
	clock  core.Clock
}

// NewQueueMonitor constructs a QueueMonitor.
func NewQueueMonitor(clock core.Clock) *QueueMonitor {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &QueueMonitor{queues: make(map[string]*queueStats), clock: clock}
}

func (qm *QueueMonitor) statsLocked(queue string) *queueStats {
	s, ok := qm.queues[queue]
	if !ok {
		s = &queueStats{lastActivity: qm.clock.Now()}
		qm.queues[queue] = s
	}
	return s
}

// RecordEnqueue registers one message entering queue.
func (qm *QueueMonitor) RecordEnqueue(queue string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	s := qm.statsLocked(queue)
	s.depth++
	if s.depth > s.highWaterMark {
		s.highWaterMark = s.depth
	}
	s.lastActivity = qm.clock.Now()
}

// RecordDequeue registers one message leaving queue.
func (qm *QueueMonitor) RecordDequeue(queue string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	s := qm.statsLocked(queue)
	if s.depth > 0 {
		s.depth--
	}
	s.throughput++
	s.lastActivity = qm.clock.Now()
}

// QueueHealth is a point-in-time view of one queue's stats.
type QueueHealth struct {
	Queue         string
	Depth         int
	HighWaterMark int
	Throughput    int64
	IdleFor       time.Duration
	Health        HealthTag
}

// Health returns the current health view of queue, or (zero, false) if it
// has never been observed.
func (qm *QueueMonitor) Health(queue string) (QueueHealth, bool) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	s, ok := qm.queues[queue]
	if !ok {
		return QueueHealth{}, false
	}
	idleFor := qm.clock.Now().Sub(s.lastActivity)

	tag := HealthHealthy
	switch {
	case idleFor >= idleThreshold:
		tag = HealthIdle
	case s.depth >= backlogThreshold:
		tag = HealthBacklog
	}

	return QueueHealth{
		Queue:         queue,
		Depth:         s.depth,
		HighWaterMark: s.highWaterMark,
		Throughput:    s.throughput,
		IdleFor:       idleFor,
		Health:        tag,
	}, true
}

// All returns a health snapshot for every queue observed so far.
func (qm *QueueMonitor) All() []QueueHealth {
	qm.mu.Lock()
	queues := make([]string, 0, len(qm.queues))
	for q := range qm.queues {
		queues = append(queues, q)
	}
	qm.mu.Unlock()

	out := make([]QueueHealth, 0, len(queues))
	for _, q := range queues {
		if h, ok := qm.Health(q); ok {
			out = append(out, h)
		}
	}
	return out
}
