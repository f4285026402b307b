package broker

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/industrial-rfp/workflow-core/core"
	"github.com/industrial-rfp/workflow-core/message"
)

// popScript atomically pops the lowest-scoring member of a sorted set, so
// concurrent RedisBroker instances never hand the same message to two
// consumers.
const popScript = `
local members = redis.call('ZRANGE', KEYS[1], 0, 0)
if #members == 0 then
  return false
end
redis.call('ZREM', KEYS[1], members[1])
return members[1]
`

// RedisBroker is the durable Broker backend: a sorted set per recipient
// keyed by a composite priority score, a Redis list as the dead-letter
// queue, a hash for pending acks, and a pub/sub channel per recipient used
// only to wake blocked consumers and push subscribers (spec.md §4.1,
// "Redis: sorted set per recipient ... pub/sub channel per recipient
// triggers subscribers").
type RedisBroker struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
	clock     core.Clock

	mu          sync.Mutex
	subscribers map[string][]Handler
	cancelSub   map[string]context.CancelFunc
	closed      bool
}

// RedisBrokerOption configures a RedisBroker at construction time.
type RedisBrokerOption func(*RedisBroker)

// WithRedisBrokerLogger attaches a logger.
func WithRedisBrokerLogger(l core.Logger) RedisBrokerOption {
	return func(b *RedisBroker) { b.logger = l }
}

// WithRedisBrokerClock overrides the broker's clock, for deterministic tests.
func WithRedisBrokerClock(c core.Clock) RedisBrokerOption {
	return func(b *RedisBroker) { b.clock = c }
}

// NewRedisBroker wraps an existing go-redis client. namespace prefixes every
// key the broker touches so it can share a Redis instance with the state
// store.
func NewRedisBroker(client *redis.Client, namespace string, opts ...RedisBrokerOption) *RedisBroker {
	b := &RedisBroker{
		client:      client,
		namespace:   namespace,
		logger:      core.NoOpLogger{},
		clock:       core.SystemClock{},
		subscribers: make(map[string][]Handler),
		cancelSub:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBroker) queueKey(recipient string) string {
	return b.namespace + ":queue:" + recipient
}

func (b *RedisBroker) notifyChannel(recipient string) string {
	return b.namespace + ":notify:" + recipient
}

func (b *RedisBroker) deadLetterKey() string {
	return b.namespace + ":deadletter"
}

func (b *RedisBroker) pendingAckKey() string {
	return b.namespace + ":pendingack"
}

// score packs priority into the high bits and a relative enqueue time into
// the low bits so ZRANGE ascending yields highest-priority-first,
// FIFO-within-priority ordering without the magnitudes of a wall-clock
// timestamp swamping the priority term.
func score(priority message.Priority, enqueuedAt time.Time) float64 {
	const tier = 1e15
	inverted := message.PriorityUrgent - priority + 1
	return float64(inverted)*tier + float64(enqueuedAt.UnixMicro()%int64(tier))
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, msg *message.Message) bool {
	now := b.clock.Now()
	if msg.IsExpired(now) {
		b.pushDeadLetter(ctx, msg)
		return false
	}

	toEnqueue := msg.Clone()
	if toEnqueue.EnqueuedAt.IsZero() {
		toEnqueue.EnqueuedAt = now
	}
	data, err := toEnqueue.ToJSON()
	if err != nil {
		b.logger.Error("failed to serialize message for publish", map[string]interface{}{"error": err.Error()})
		return false
	}

	err = b.client.ZAdd(ctx, b.queueKey(msg.Recipient), &redis.Z{
		Score:  score(toEnqueue.Priority, toEnqueue.EnqueuedAt),
		Member: data,
	}).Err()
	if err != nil {
		b.logger.Error("redis publish failed", map[string]interface{}{"error": err.Error(), "recipient": msg.Recipient})
		return false
	}

	b.client.Publish(ctx, b.notifyChannel(msg.Recipient), "1")
	return true
}

func (b *RedisBroker) pushDeadLetter(ctx context.Context, msg *message.Message) {
	data, err := msg.ToJSON()
	if err != nil {
		return
	}
	b.client.LPush(ctx, b.deadLetterKey(), data)
	b.logger.Warn("message expired at publish, routed to dead letter", map[string]interface{}{
		"message_id": msg.ID, "recipient": msg.Recipient,
	})
}

// popOne atomically pops and decodes the highest-priority message for
// recipient, discarding any messages found expired along the way.
func (b *RedisBroker) popOne(ctx context.Context, recipient string) *message.Message {
	for {
		res, err := b.client.Eval(ctx, popScript, []string{b.queueKey(recipient)}).Result()
		if err != nil || res == nil {
			return nil
		}
		raw, ok := res.(string)
		if !ok {
			return nil
		}
		msg, err := message.FromJSON([]byte(raw))
		if err != nil {
			b.logger.Error("discarding unparseable queue entry", map[string]interface{}{"error": err.Error()})
			continue
		}
		if msg.IsExpired(b.clock.Now()) {
			b.pushDeadLetter(ctx, msg)
			continue
		}
		return msg
	}
}

// GetMessage implements Broker.
func (b *RedisBroker) GetMessage(ctx context.Context, recipient string, timeout time.Duration) *message.Message {
	if msg := b.popOne(ctx, recipient); msg != nil {
		b.markPending(ctx, msg)
		return msg
	}
	if timeout <= 0 {
		return nil
	}

	deadline := b.clock.Now().Add(timeout)
	sub := b.client.Subscribe(ctx, b.notifyChannel(recipient))
	defer sub.Close()
	ch := sub.Channel()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
			if msg := b.popOne(ctx, recipient); msg != nil {
				b.markPending(ctx, msg)
				return msg
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

func (b *RedisBroker) markPending(ctx context.Context, msg *message.Message) {
	data, err := msg.ToJSON()
	if err != nil {
		return
	}
	b.client.HSet(ctx, b.pendingAckKey(), msg.ID, data)
}

// Acknowledge implements Broker.
func (b *RedisBroker) Acknowledge(msgID string) bool {
	ctx := context.Background()
	n, err := b.client.HDel(ctx, b.pendingAckKey(), msgID).Result()
	return err == nil && n > 0
}

// GetQueueSize implements Broker.
func (b *RedisBroker) GetQueueSize(recipient string) int {
	n, err := b.client.ZCard(context.Background(), b.queueKey(recipient)).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// DeadLetters implements Broker.
func (b *RedisBroker) DeadLetters() []*message.Message {
	ctx := context.Background()
	raw, err := b.client.LRange(ctx, b.deadLetterKey(), 0, -1).Result()
	if err != nil {
		return nil
	}
	out := make([]*message.Message, 0, len(raw))
	for _, r := range raw {
		if msg, err := message.FromJSON([]byte(r)); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

// PendingAcks implements Broker.
func (b *RedisBroker) PendingAcks() []*message.Message {
	ctx := context.Background()
	all, err := b.client.HGetAll(ctx, b.pendingAckKey()).Result()
	if err != nil {
		return nil
	}
	out := make([]*message.Message, 0, len(all))
	for _, r := range all {
		if msg, err := message.FromJSON([]byte(r)); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

// Subscribe implements Broker. It starts one background goroutine per
// newly-seen recipient that listens on that recipient's notify channel and
// drains the queue into registered handlers whenever it fires.
func (b *RedisBroker) Subscribe(recipient string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[recipient] = append(b.subscribers[recipient], handler)
	if _, running := b.cancelSub[recipient]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancelSub[recipient] = cancel
	go b.runSubscriptionLoop(ctx, recipient)
}

func (b *RedisBroker) runSubscriptionLoop(ctx context.Context, recipient string) {
	sub := b.client.Subscribe(ctx, b.notifyChannel(recipient))
	defer sub.Close()
	ch := sub.Channel()

	b.drainToSubscribers(ctx, recipient)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			b.drainToSubscribers(ctx, recipient)
		}
	}
}

func (b *RedisBroker) drainToSubscribers(ctx context.Context, recipient string) {
	for {
		msg := b.popOne(ctx, recipient)
		if msg == nil {
			return
		}
		b.mu.Lock()
		handlers := append([]Handler(nil), b.subscribers[recipient]...)
		b.mu.Unlock()
		for _, h := range handlers {
			b.safeInvoke(h, msg)
		}
	}
}

func (b *RedisBroker) safeInvoke(h Handler, msg *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber callback panicked, dropped", map[string]interface{}{
				"message_id": msg.ID, "recover": r,
			})
		}
	}()
	h(msg.Clone())
}

// Unsubscribe implements Broker.
func (b *RedisBroker) Unsubscribe(recipient string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, recipient)
	if cancel, ok := b.cancelSub[recipient]; ok {
		cancel()
		delete(b.cancelSub, recipient)
	}
}

// Close implements Broker.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	for recipient, cancel := range b.cancelSub {
		cancel()
		delete(b.cancelSub, recipient)
	}
	b.mu.Unlock()
	return b.client.Close()
}
