package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEnqueueTracksDepthAndHighWaterMark(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	qm := NewQueueMonitor(clock)

	qm.RecordEnqueue("sales")
	qm.RecordEnqueue("sales")
	qm.RecordDequeue("sales")
	qm.RecordEnqueue("sales")

	h, ok := qm.Health("sales")
	require.True(t, ok)
	assert.Equal(t, 2, h.Depth)
	assert.Equal(t, 2, h.HighWaterMark)
	assert.Equal(t, int64(1), h.Throughput)
}

func TestHealthUnknownQueueReturnsFalse(t *testing.T) {
	qm := NewQueueMonitor(&fakeClock{now: time.Now()})
	_, ok := qm.Health("nope")
	assert.False(t, ok)
}

func TestHealthTagBacklog(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	qm := NewQueueMonitor(clock)
	for i := 0; i < backlogThreshold; i++ {
		qm.RecordEnqueue("pricing")
	}
	h, ok := qm.Health("pricing")
	require.True(t, ok)
	assert.Equal(t, HealthBacklog, h.Health)
}

func TestHealthTagIdle(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	qm := NewQueueMonitor(clock)
	qm.RecordEnqueue("technical")
	qm.RecordDequeue("technical")

	clock.now = clock.now.Add(idleThreshold + time.Second)
	h, ok := qm.Health("technical")
	require.True(t, ok)
	assert.Equal(t, HealthIdle, h.Health)
}

func TestHealthTagHealthyByDefault(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	qm := NewQueueMonitor(clock)
	qm.RecordEnqueue("response")
	h, ok := qm.Health("response")
	require.True(t, ok)
	assert.Equal(t, HealthHealthy, h.Health)
}

func TestDequeueNeverDropsDepthBelowZero(t *testing.T) {
	qm := NewQueueMonitor(&fakeClock{now: time.Now()})
	qm.RecordDequeue("empty")
	h, ok := qm.Health("empty")
	require.True(t, ok)
	assert.Equal(t, 0, h.Depth)
}

func TestAllReturnsEveryObservedQueue(t *testing.T) {
	qm := NewQueueMonitor(&fakeClock{now: time.Now()})
	qm.RecordEnqueue("a")
	qm.RecordEnqueue("b")

	all := qm.All()
	assert.Len(t, all, 2)
}
