// Package estimator implements the Time Estimator (C9): per-stage and
// per-workflow duration estimates derived from a bounded history of past
// observations.
package estimator

import (
	"sort"
	"sync"
	"time"
)

const (
	historyCapacity  = 100
	defaultEstimate  = time.Second
	confidenceDivisor = 20.0
)

// Estimator maintains bounded rings of observed stage and workflow
// durations and derives conservative (90th-percentile) estimates from
// them.
type Estimator struct {
	mu              sync.Mutex
	stageHistory    map[string][]time.Duration
	workflowHistory []time.Duration
}

// New builds an empty Estimator.
func New() *Estimator {
	return &Estimator{
		stageHistory: make(map[string][]time.Duration),
	}
}

// RecordStageTime appends an observed stage duration, keeping only the
// most recent historyCapacity samples.
func (e *Estimator) RecordStageTime(stage string, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hist := append(e.stageHistory[stage], duration)
	if len(hist) > historyCapacity {
		hist = hist[len(hist)-historyCapacity:]
	}
	e.stageHistory[stage] = hist
}

// RecordWorkflowTime appends an observed full-workflow duration, keeping
// only the most recent historyCapacity samples.
func (e *Estimator) RecordWorkflowTime(duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.workflowHistory = append(e.workflowHistory, duration)
	if len(e.workflowHistory) > historyCapacity {
		e.workflowHistory = e.workflowHistory[len(e.workflowHistory)-historyCapacity:]
	}
}

// EstimateStageTime returns the 90th-percentile observed duration for a
// stage, or defaultEstimate (one second) when no samples exist.
func (e *Estimator) EstimateStageTime(stage string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	times := e.stageHistory[stage]
	if len(times) == 0 {
		return defaultEstimate
	}
	return percentile90(times)
}

// EstimateWorkflowTime returns the 90th-percentile observed full-workflow
// duration, or, if no workflow has completed yet, the sum of each named
// stage's current estimate.
func (e *Estimator) EstimateWorkflowTime(stageNames []string) time.Duration {
	e.mu.Lock()
	if len(e.workflowHistory) > 0 {
		d := percentile90(e.workflowHistory)
		e.mu.Unlock()
		return d
	}
	e.mu.Unlock()

	var total time.Duration
	for _, name := range stageNames {
		total += e.EstimateStageTime(name)
	}
	return total
}

// ConfidenceLevel reports how much history backs a stage's estimate, from
// 0.0 (no samples) to 1.0 (confidenceDivisor or more samples).
func (e *Estimator) ConfidenceLevel(stage string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := len(e.stageHistory[stage])
	if count == 0 {
		return 0.0
	}
	level := float64(count) / confidenceDivisor
	if level > 1.0 {
		level = 1.0
	}
	return level
}

// percentile90 returns the 90th-percentile value of times using the same
// floor(len*0.9) index the original estimator uses; times is not mutated.
func percentile90(times []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.9)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
