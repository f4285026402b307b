// Package broker implements the Message Broker (C2): per-recipient
// priority queues, pub/sub fan-out, pending-ack tracking and dead-letter
// handling, behind one contract with two interchangeable backends.
package broker

import (
	"context"
	"time"

	"github.com/industrial-rfp/workflow-core/message"
)

// Handler is invoked once per message delivered to a recipient via
// Subscribe. Multiple handlers for the same recipient all fan out.
type Handler func(msg *message.Message)

// Broker is the contract shared by the in-process and Redis-backed
// implementations (spec.md §4.1).
type Broker interface {
	// Publish enqueues msg for msg.Recipient. It returns false (never an
	// error to the caller) when the message is expired or the recipient's
	// queue is full; the message is diverted to the dead-letter queue in
	// the expired case.
	Publish(ctx context.Context, msg *message.Message) bool

	// Subscribe registers handler to be invoked for every message delivered
	// to recipient. The in-process backend invokes it synchronously within
	// Publish; the Redis backend invokes it from a background goroutine
	// woken by the recipient's notify channel.
	Subscribe(recipient string, handler Handler)

	// Unsubscribe removes all handlers registered for recipient.
	Unsubscribe(recipient string)

	// GetMessage dequeues the next message for recipient. timeout == 0
	// returns immediately (nil if the queue is empty); timeout > 0 waits
	// up to timeout for a message to arrive. Returned messages are moved
	// into the pending-ack set keyed by message ID.
	GetMessage(ctx context.Context, recipient string, timeout time.Duration) *message.Message

	// Acknowledge removes msgID from the pending-ack set. It is
	// idempotent: acknowledging twice, or an unknown ID, both return false
	// without error on the second/unknown call.
	Acknowledge(msgID string) bool

	// GetQueueSize returns the current depth of recipient's queue.
	GetQueueSize(recipient string) int

	// DeadLetters returns a snapshot of the dead-letter queue for operator
	// inspection.
	DeadLetters() []*message.Message

	// PendingAcks returns a snapshot of messages dequeued but not yet
	// acknowledged, for redelivery after a consumer crash.
	PendingAcks() []*message.Message

	// Close releases any resources held by the broker (Redis connections,
	// background goroutines).
	Close() error
}
