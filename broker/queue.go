package broker

import (
	"container/heap"

	"github.com/industrial-rfp/workflow-core/message"
)

// priorityQueue orders messages by (priority desc, enqueue time asc), per
// spec.md §4.1: "a priority queue keyed by (-priority, enqueue_timestamp)".
type priorityQueue struct {
	items []*message.Message
	seq   uint64 // tie-breaker when timestamps collide
	seqOf map[*message.Message]uint64
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{seqOf: make(map[*message.Message]uint64)}
}

func (q *priorityQueue) Len() int { return len(q.items) }

func (q *priorityQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority // higher priority first
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return q.seqOf[a] < q.seqOf[b]
}

func (q *priorityQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *priorityQueue) Push(x interface{}) {
	m := x.(*message.Message)
	q.seq++
	q.seqOf[m] = q.seq
	q.items = append(q.items, m)
}

func (q *priorityQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	delete(q.seqOf, m)
	return m
}

// enqueue adds msg, maintaining the heap invariant.
func (q *priorityQueue) enqueue(msg *message.Message) {
	heap.Push(q, msg)
}

// dequeue removes and returns the highest-priority, earliest message, or
// nil if the queue is empty.
func (q *priorityQueue) dequeue() *message.Message {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*message.Message)
}

// peek returns the head of the queue without removing it.
func (q *priorityQueue) peek() *message.Message {
	if q.Len() == 0 {
		return nil
	}
	return q.items[0]
}
