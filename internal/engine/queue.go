package engine

import (
	"sync"
)

// queue is a thread-safe FIFO queue with channel signalling for
// context-aware waiting, used for the universe input queue and for the
// constant reclaim queue.
//
// A positive capacity bounds the queue; producers wait on Space() for room.
// A capacity of zero leaves it unbounded.
type queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool
	signal   chan struct{} // Signals item availability (buffered, size 1)
	space    chan struct{} // Signals room after a dequeue (buffered, size 1)
}

func newQueue[T any](capacity int) *queue[T] {
	return &queue[T]{
		items:    make([]T, 0, 16),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}
}

// TryEnqueue adds an item to the back of the queue without blocking.
// Returns ok=false when the queue is full and closed=true once Close ran.
func (q *queue[T]) TryEnqueue(item T) (ok, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, true
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return false, false
	}
	q.items = append(q.items, item)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true, false
}

// TryDequeue removes the front item if there is one.
func (q *queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]

	// Nil out the slot so the backing array does not retain the item.
	q.items[0] = zero
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	select {
	case q.space <- struct{}{}:
	default:
	}
	return item, true
}

// Wait returns a channel that signals when items may be available.
// It is closed by Close.
func (q *queue[T]) Wait() <-chan struct{} {
	return q.signal
}

// Space returns a channel that signals when room may be available.
// It is closed by Close.
func (q *queue[T]) Space() <-chan struct{} {
	return q.space
}

// Len returns the current queue length.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further items and wakes all waiters.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
	close(q.space)
}

// Closed reports whether Close ran.
func (q *queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
