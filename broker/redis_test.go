package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-rfp/workflow-core/message"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestRedisBrokerPriorityOrdering(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	b := NewRedisBroker(client, "test")
	ctx := context.Background()

	require.True(t, b.Publish(ctx, newMsg("low", "agent-1", message.PriorityLow)))
	require.True(t, b.Publish(ctx, newMsg("urgent", "agent-1", message.PriorityUrgent)))
	require.True(t, b.Publish(ctx, newMsg("normal", "agent-1", message.PriorityNormal)))

	got := b.GetMessage(ctx, "agent-1", 0)
	require.NotNil(t, got)
	assert.Equal(t, "urgent", got.ID)

	got = b.GetMessage(ctx, "agent-1", 0)
	require.NotNil(t, got)
	assert.Equal(t, "normal", got.ID)

	got = b.GetMessage(ctx, "agent-1", 0)
	require.NotNil(t, got)
	assert.Equal(t, "low", got.ID)
}

func TestRedisBrokerAcknowledge(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	b := NewRedisBroker(client, "test")
	ctx := context.Background()

	require.True(t, b.Publish(ctx, newMsg("m1", "agent-1", message.PriorityNormal)))
	got := b.GetMessage(ctx, "agent-1", 0)
	require.NotNil(t, got)
	assert.Len(t, b.PendingAcks(), 1)

	assert.True(t, b.Acknowledge("m1"))
	assert.False(t, b.Acknowledge("m1"))
	assert.Empty(t, b.PendingAcks())
}

func TestRedisBrokerExpiredGoesToDeadLetter(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	b := NewRedisBroker(client, "test")
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	msg := newMsg("expired", "agent-1", message.PriorityNormal)
	msg.ExpiresAt = &past

	assert.False(t, b.Publish(ctx, msg))
	require.Len(t, b.DeadLetters(), 1)
	assert.Equal(t, "expired", b.DeadLetters()[0].ID)
	assert.Equal(t, 0, b.GetQueueSize("agent-1"))
}

func TestRedisBrokerGetMessageTimesOut(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	b := NewRedisBroker(client, "test")
	start := time.Now()
	got := b.GetMessage(context.Background(), "agent-1", 30*time.Millisecond)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRedisBrokerSubscribeDrainsOnNotify(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	b := NewRedisBroker(client, "test")
	defer b.Close()
	ctx := context.Background()

	received := make(chan *message.Message, 1)
	b.Subscribe("agent-1", func(m *message.Message) { received <- m })

	require.True(t, b.Publish(ctx, newMsg("pushed", "agent-1", message.PriorityNormal)))

	select {
	case got := <-received:
		assert.Equal(t, "pushed", got.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber was never notified")
	}
}

func TestRedisBrokerQueueSize(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	b := NewRedisBroker(client, "test")
	ctx := context.Background()

	require.True(t, b.Publish(ctx, newMsg("m1", "agent-1", message.PriorityNormal)))
	require.True(t, b.Publish(ctx, newMsg("m2", "agent-1", message.PriorityNormal)))
	assert.Equal(t, 2, b.GetQueueSize("agent-1"))
}
