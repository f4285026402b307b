package comm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-rfp/workflow-core/broker"
	"github.com/industrial-rfp/workflow-core/message"
	"github.com/industrial-rfp/workflow-core/statestore"
	"github.com/industrial-rfp/workflow-core/telemetry"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	brk := broker.NewInProcessBroker()
	store := statestore.NewInMemoryStore()
	return NewManager(brk, store)
}

func TestRegisterAgentRecordsStateAndSubscribes(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.RegisterAgent(ctx, "pricing", "pricing_calculation", []string{"calc"}))

	agents := m.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, "pricing", agents[0].ID)

	_, ok := m.GetAgentState(ctx, "pricing", "_meta")
	assert.True(t, ok)
}

func TestRegisterAgentTwiceFails(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.RegisterAgent(ctx, "pricing", "pricing_calculation", nil))
	err := m.RegisterAgent(ctx, "pricing", "pricing_calculation", nil)
	assert.Error(t, err)
}

func TestUnregisterAgentRemovesStateAndSubscription(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.RegisterAgent(ctx, "pricing", "pricing_calculation", nil))
	require.NoError(t, m.UnregisterAgent(ctx, "pricing"))

	assert.Len(t, m.Agents(), 0)
	_, ok := m.GetAgentState(ctx, "pricing", "_meta")
	assert.False(t, ok)
}

func TestSendRequestReceivesMatchingResponse(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.RegisterAgent(ctx, "orchestrator", "orchestrator", nil))
	require.NoError(t, m.RegisterAgent(ctx, "pricing", "pricing_calculation", nil))

	m.RegisterHandler("pricing", message.TypeRequest, func(ctx context.Context, msg *message.Message) {
		_ = m.SendResponse(ctx, msg, "pricing", map[string]interface{}{"status": "success", "total": 42})
	})

	resp, ok := m.SendRequest(ctx, "orchestrator", "pricing", map[string]interface{}{"rfp_id": "R-1"}, time.Second)
	require.True(t, ok)
	require.NotNil(t, resp)
	assert.Equal(t, "success", resp.Payload["status"])
}

func TestSendRequestTimesOutAndClearsPendingFuture(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.RegisterAgent(ctx, "orchestrator", "orchestrator", nil))
	require.NoError(t, m.RegisterAgent(ctx, "pricing", "pricing_calculation", nil))
	// No handler registered on pricing: request is delivered but never answered.

	resp, ok := m.SendRequest(ctx, "orchestrator", "pricing", nil, 20*time.Millisecond)
	assert.False(t, ok)
	assert.Nil(t, resp)

	m.mu.Lock()
	pendingCount := len(m.pending)
	m.mu.Unlock()
	assert.Equal(t, 0, pendingCount)
}

func TestQueueMonitorObservesPublishAndDelivery(t *testing.T) {
	ctx := context.Background()
	brk := broker.NewInProcessBroker()
	store := statestore.NewInMemoryStore()
	queues := telemetry.NewQueueMonitor(nil)
	m := NewManager(brk, store, WithQueueMonitor(queues))

	require.NoError(t, m.RegisterAgent(ctx, "orchestrator", "orchestrator", nil))
	require.NoError(t, m.RegisterAgent(ctx, "pricing", "pricing_calculation", nil))
	m.RegisterHandler("pricing", message.TypeRequest, func(ctx context.Context, msg *message.Message) {
		_ = m.SendResponse(ctx, msg, "pricing", map[string]interface{}{"status": "success"})
	})

	_, ok := m.SendRequest(ctx, "orchestrator", "pricing", nil, time.Second)
	require.True(t, ok)

	health, found := queues.Health("pricing")
	require.True(t, found)
	assert.Equal(t, int64(1), health.Throughput)
}

func TestSendResponseDropsWhenReplyToMissing(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	req := &message.Message{ID: "m1", CorrelationID: "c1"} // no ReplyTo
	err := m.SendResponse(ctx, req, "pricing", map[string]interface{}{"status": "success"})
	assert.NoError(t, err)
}

func TestBroadcastSkipsSenderAndFiltersByType(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.RegisterAgent(ctx, "orchestrator", "orchestrator", nil))
	require.NoError(t, m.RegisterAgent(ctx, "pricing", "pricing_calculation", nil))
	require.NoError(t, m.RegisterAgent(ctx, "sales", "sales_analysis", nil))

	received := make(chan string, 2)
	m.RegisterHandler("pricing", message.TypeNotification, func(ctx context.Context, msg *message.Message) {
		received <- msg.Recipient
	})
	m.RegisterHandler("sales", message.TypeNotification, func(ctx context.Context, msg *message.Message) {
		received <- msg.Recipient
	})

	m.Broadcast(ctx, "orchestrator", map[string]interface{}{"event": "workflow_completed"}, "pricing_calculation")

	select {
	case r := <-received:
		assert.Equal(t, "pricing", r)
	case <-time.After(time.Second):
		t.Fatal("expected a notification to pricing")
	}

	select {
	case r := <-received:
		t.Fatalf("unexpected second notification to %s", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouteLogsAndDropsWhenNoHandlerMatches(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.RegisterAgent(ctx, "pricing", "pricing_calculation", nil))

	// No handler registered for TypeEvent; route must not panic.
	require.NoError(t, m.SendMessage(ctx, &message.Message{
		ID: "m1", Sender: "x", Recipient: "pricing", Type: message.TypeEvent, Priority: message.PriorityNormal,
	}))
}

func TestSetAndGetAgentState(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.SetAgentState(ctx, "pricing", "last_run", "2026-01-01"))
	v, ok := m.GetAgentState(ctx, "pricing", "last_run")
	require.True(t, ok)
	assert.Equal(t, "2026-01-01", v)
}

func TestConnectAndDisconnect(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Disconnect(ctx))
}
