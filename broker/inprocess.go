package broker

import (
	"context"
	"sync"
	"time"

	"github.com/industrial-rfp/workflow-core/core"
	"github.com/industrial-rfp/workflow-core/message"
)

// recipientState holds everything the in-process broker tracks per
// recipient: its priority queue, any push subscribers, and goroutines
// currently blocked in GetMessage waiting for a wake-up.
type recipientState struct {
	queue       *priorityQueue
	subscribers []Handler
	waiters     []chan struct{}
}

// InProcessBroker is the default Broker: per-recipient bounded queues held
// in memory, subscriber callbacks invoked synchronously on Publish.
type InProcessBroker struct {
	mu           sync.Mutex
	recipients   map[string]*recipientState
	pendingAck   map[string]*message.Message
	deadLetter   []*message.Message
	maxQueueSize int
	clock        core.Clock
	logger       core.Logger
	closed       bool
}

// InProcessOption configures an InProcessBroker at construction time.
type InProcessOption func(*InProcessBroker)

// WithMaxQueueSize bounds each recipient's queue; Publish returns false
// once the bound is reached. Zero (the default) means unbounded.
func WithMaxQueueSize(n int) InProcessOption {
	return func(b *InProcessBroker) { b.maxQueueSize = n }
}

// WithBrokerLogger attaches a logger, used for subscriber-callback panics
// and dead-letter notices.
func WithBrokerLogger(l core.Logger) InProcessOption {
	return func(b *InProcessBroker) { b.logger = l }
}

// WithClock overrides the broker's notion of "now", for deterministic
// expiry tests.
func WithClock(c core.Clock) InProcessOption {
	return func(b *InProcessBroker) { b.clock = c }
}

// NewInProcessBroker constructs an in-process Broker.
func NewInProcessBroker(opts ...InProcessOption) *InProcessBroker {
	b := &InProcessBroker{
		recipients: make(map[string]*recipientState),
		pendingAck: make(map[string]*message.Message),
		clock:      core.SystemClock{},
		logger:     core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *InProcessBroker) recipientStateLocked(recipient string) *recipientState {
	rs, ok := b.recipients[recipient]
	if !ok {
		rs = &recipientState{queue: newPriorityQueue()}
		b.recipients[recipient] = rs
	}
	return rs
}

// Publish implements Broker.
func (b *InProcessBroker) Publish(_ context.Context, msg *message.Message) bool {
	now := b.clock.Now()

	if msg.IsExpired(now) {
		b.mu.Lock()
		b.deadLetter = append(b.deadLetter, msg.Clone())
		b.mu.Unlock()
		b.logger.Warn("message expired at publish, routed to dead letter", map[string]interface{}{
			"message_id": msg.ID, "recipient": msg.Recipient,
		})
		return false
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	rs := b.recipientStateLocked(msg.Recipient)
	if b.maxQueueSize > 0 && rs.queue.Len() >= b.maxQueueSize {
		b.mu.Unlock()
		b.logger.Warn("recipient queue full, publish rejected", map[string]interface{}{
			"message_id": msg.ID, "recipient": msg.Recipient,
		})
		return false
	}

	toEnqueue := msg.Clone()
	if toEnqueue.EnqueuedAt.IsZero() {
		toEnqueue.EnqueuedAt = now
	}
	rs.queue.enqueue(toEnqueue)

	// Push delivery: if the recipient has subscribers, drain and deliver
	// synchronously, highest priority first, before returning control to
	// the publisher (spec.md §4.1).
	hasSubscribers := len(rs.subscribers) > 0
	var delivered []*message.Message
	if hasSubscribers {
		for {
			next := b.dequeueValidLocked(rs)
			if next == nil {
				break
			}
			delivered = append(delivered, next)
		}
	}
	b.wakeWaitersLocked(rs)
	handlers := append([]Handler(nil), rs.subscribers...)
	b.mu.Unlock()

	for _, m := range delivered {
		b.dispatch(handlers, m)
	}
	return true
}

// dispatch invokes every handler for a pushed message, isolating panics
// and errors per handler so one misbehaving subscriber never blocks
// delivery to the others (spec.md §4.1, "Failure semantics").
func (b *InProcessBroker) dispatch(handlers []Handler, msg *message.Message) {
	for _, h := range handlers {
		b.safeInvoke(h, msg)
	}
}

func (b *InProcessBroker) safeInvoke(h Handler, msg *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber callback panicked, dropped", map[string]interface{}{
				"message_id": msg.ID, "recover": r,
			})
		}
	}()
	h(msg.Clone())
}

// dequeueValidLocked pops the next non-expired message, discarding any
// expired ones it encounters along the way (spec.md §4.1: "expired
// messages discovered on dequeue are discarded and the next message is
// returned").
func (b *InProcessBroker) dequeueValidLocked(rs *recipientState) *message.Message {
	now := b.clock.Now()
	for {
		next := rs.queue.dequeue()
		if next == nil {
			return nil
		}
		if next.IsExpired(now) {
			b.deadLetter = append(b.deadLetter, next)
			continue
		}
		return next
	}
}

func (b *InProcessBroker) wakeWaitersLocked(rs *recipientState) {
	for _, w := range rs.waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	rs.waiters = nil
}

// Subscribe implements Broker.
func (b *InProcessBroker) Subscribe(recipient string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs := b.recipientStateLocked(recipient)
	rs.subscribers = append(rs.subscribers, handler)
}

// Unsubscribe implements Broker.
func (b *InProcessBroker) Unsubscribe(recipient string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rs, ok := b.recipients[recipient]; ok {
		rs.subscribers = nil
	}
}

// GetMessage implements Broker.
func (b *InProcessBroker) GetMessage(ctx context.Context, recipient string, timeout time.Duration) *message.Message {
	deadline := b.clock.Now().Add(timeout)

	for {
		b.mu.Lock()
		rs := b.recipientStateLocked(recipient)
		msg := b.dequeueValidLocked(rs)
		if msg != nil {
			b.pendingAck[msg.ID] = msg
			b.mu.Unlock()
			return msg
		}
		if timeout <= 0 {
			b.mu.Unlock()
			return nil
		}

		wake := make(chan struct{}, 1)
		rs.waiters = append(rs.waiters, wake)
		b.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
			return nil
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

// Acknowledge implements Broker.
func (b *InProcessBroker) Acknowledge(msgID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pendingAck[msgID]; !ok {
		return false
	}
	delete(b.pendingAck, msgID)
	return true
}

// GetQueueSize implements Broker.
func (b *InProcessBroker) GetQueueSize(recipient string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs, ok := b.recipients[recipient]
	if !ok {
		return 0
	}
	return rs.queue.Len()
}

// DeadLetters implements Broker.
func (b *InProcessBroker) DeadLetters() []*message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*message.Message, len(b.deadLetter))
	copy(out, b.deadLetter)
	return out
}

// PendingAcks implements Broker.
func (b *InProcessBroker) PendingAcks() []*message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*message.Message, 0, len(b.pendingAck))
	for _, m := range b.pendingAck {
		out = append(out, m)
	}
	return out
}

// Close implements Broker.
func (b *InProcessBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, rs := range b.recipients {
		b.wakeWaitersLocked(rs)
	}
	return nil
}
