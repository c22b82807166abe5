// Package dedupe tracks idempotency keys so retried score submissions are
// applied at most once.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// DefaultMaxSize is the number of keys remembered when no size is configured.
const DefaultMaxSize = 50000

// Deduper records seen idempotency keys.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed submission can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps keys in insertion order and evicts the oldest once
// maxSize is reached. maxSize <= 0 disables eviction.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: DefaultMaxSize,
		seen:    make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SeenAndRecord atomically checks if id was seen and records it if not.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		d.evictOldest()
	}
	d.seen[id] = d.order.PushBack(id)
	d.size.Store(int64(d.order.Len()))
	return false
}

// Unrecord removes id from the seen set.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[id]; ok {
		d.order.Remove(el)
		delete(d.seen, id)
		d.size.Store(int64(d.order.Len()))
	}
}

// evictOldest drops the first recorded key. Must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	front := d.order.Front()
	if front == nil {
		return
	}
	d.order.Remove(front)
	delete(d.seen, front.Value.(string))
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
