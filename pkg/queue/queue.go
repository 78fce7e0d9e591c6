// Package queue provides a thread-safe FIFO used for message-port inboxes.
// Producers never block. An unbounded queue grows on demand; a bounded one
// applies its overflow policy when full.
package queue

import (
	"sync"

	"github.com/c360/streamrt/errors"
)

// OverflowPolicy defines how Push behaves when the queue is at capacity.
type OverflowPolicy int

const (
	// DropOldest discards the head of the queue to admit the new item.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the item being pushed.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called, outside the queue lock, with each discarded item.
type DropCallback[T any] func(item T)

// initialUnbounded is the starting ring size of an unbounded queue.
const initialUnbounded = 64

// Queue is a ring, fixed or growing. Any number of goroutines may Push; Pop
// and Drain are typically called by the single consumer that owns the port.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next read position
	size     int
	capacity int // 0 when unbounded
	closed   bool

	stats   *Statistics
	metrics *queueMetrics
	opts    *queueOptions[T]
}

// New creates a queue holding at most capacity items. A capacity of zero or
// less makes the queue unbounded; it never drops.
func New[T any](capacity int, options ...Option[T]) (*Queue[T], error) {
	opts := applyOptions(options...)
	size := capacity
	if capacity <= 0 {
		capacity = 0
		size = initialUnbounded
	}

	var metrics *queueMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Queue", "New", "metrics registration")
		}
	}

	return &Queue[T]{
		items:    make([]T, size),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Push appends item. It reports whether an item was discarded to make room
// (or, under DropNewest, whether item itself was discarded).
func (q *Queue[T]) Push(item T) (bool, error) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return false, errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Push", "queue closed")
	}

	var (
		dropped   T
		didDrop   bool
		zero      T
		acceptNew = true
	)

	if q.capacity == 0 && q.size == len(q.items) {
		q.grow()
	}
	if q.capacity > 0 && q.size == q.capacity {
		didDrop = true
		q.stats.drop()
		if q.metrics != nil {
			q.metrics.drops.Inc()
		}

		switch q.opts.overflowPolicy {
		case DropNewest:
			dropped = item
			acceptNew = false
		default:
			dropped = q.items[q.head]
			q.items[q.head] = zero
			q.head = (q.head + 1) % len(q.items)
			q.size--
		}
	}

	if acceptNew {
		q.items[(q.head+q.size)%len(q.items)] = item
		q.size++
		q.stats.push(q.size)
		if q.metrics != nil {
			q.metrics.pushes.Inc()
			q.metrics.depth.Set(float64(q.size))
		}
	}
	q.mu.Unlock()

	if didDrop && q.opts.dropCallback != nil {
		q.opts.dropCallback(dropped)
	}
	if acceptNew && q.opts.notify != nil {
		q.opts.notify()
	}
	return didDrop, nil
}

// Pop removes and returns the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--

	q.stats.pop(q.size)
	if q.metrics != nil {
		q.metrics.depth.Set(float64(q.size))
	}
	return item, true
}

// Drain removes up to max items in FIFO order. max <= 0 drains everything.
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.size
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	var zero T
	out := make([]T, n)
	for i := range out {
		out[i] = q.items[q.head]
		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
	}
	q.size -= n

	for i := 0; i < n; i++ {
		q.stats.pop(q.size)
	}
	if q.metrics != nil {
		q.metrics.depth.Set(float64(q.size))
	}
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity, or zero for an unbounded queue.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// grow doubles the ring, unwrapping it. Caller holds mu.
func (q *Queue[T]) grow() {
	items := make([]T, 2*len(q.items))
	n := copy(items, q.items[q.head:])
	copy(items[n:], q.items[:q.head])
	q.items = items
	q.head = 0
}

// Clear discards every queued item. The drop callback is not invoked.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.head = 0
	q.size = 0
	if q.metrics != nil {
		q.metrics.depth.Set(0)
	}
}

// Stats returns the queue statistics.
func (q *Queue[T]) Stats() *Statistics {
	return q.stats
}

// Close rejects further pushes. Queued items remain poppable.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
