// Package queue provides the FIFO that decouples score event publishers from
// the event bus dispatcher.
package queue

import (
	"context"
	"sync"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/metrics"
)

// Event represents the payload type flowing through the queue.
type Event = model.ScoreEvent

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue appends an event without waiting for consumers.
	// Returns false if the queue is closed or at capacity.
	Enqueue(ctx context.Context, e Event) bool

	// Dequeue returns a channel that yields events in enqueue order. The
	// channel is closed once the queue is closed and drained, or ctx ends.
	Dequeue(ctx context.Context) <-chan Event

	// Len returns the current number of queued events.
	Len(ctx context.Context) int

	// Close stops accepting events. Queued events are still delivered.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue with a growable slice, so publishers never
// block on slow consumers. A capacity of 0 means unbounded.
type InMemoryQueue struct {
	mu       sync.Mutex
	items    []Event
	head     int
	capacity int
	closed   bool
	signal   chan struct{}
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{signal: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(q)
	}
	metrics.UpdateEventQueueDepth(0)
	return q
}

// Enqueue adds an event to the tail of the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: stored by value
	if ctx.Err() != nil {
		metrics.RecordError("queue", "context_cancelled")
		return false
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		metrics.RecordError("queue", "closed")
		return false
	}
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		q.mu.Unlock()
		metrics.RecordError("queue", "capacity_exceeded")
		return false
	}
	q.items = append(q.items, e)
	size := q.lenLocked()
	q.mu.Unlock()

	metrics.UpdateEventQueueDepth(size)
	q.wake()
	return true
}

// Dequeue returns a channel that will receive events as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			e, ok, done := q.pop()
			if done {
				return
			}
			if !ok {
				select {
				case <-q.signal:
					continue
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// pop removes the head event. done is true once the queue is closed and empty.
func (q *InMemoryQueue) pop() (e Event, ok, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lenLocked() == 0 {
		q.items, q.head = q.items[:0], 0
		return Event{}, false, q.closed
	}
	e = q.items[q.head]
	q.items[q.head] = Event{}
	q.head++
	// Compact once the consumed prefix dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	metrics.UpdateEventQueueDepth(q.lenLocked())
	return e, true, false
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len(_ context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Close stops accepting events.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	q.wake()
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *InMemoryQueue) lenLocked() int {
	return len(q.items) - q.head
}

func (q *InMemoryQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
