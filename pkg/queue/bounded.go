// Package queue provides a thread-safe bounded FIFO queue.
package queue

import (
	"sync"

	"github.com/eapache/queue"
)

// Option configures a Bounded queue.
type Option[T any] func(*Bounded[T])

// WithOnFull registers a callback fired with each rejected item. It runs on the
// enqueuing goroutine after the queue lock is released.
func WithOnFull[T any](fn func(item T)) Option[T] {
	return func(q *Bounded[T]) {
		q.onFull = fn
	}
}

// Bounded is a FIFO queue with an optional capacity. The capacity check and
// the insert happen under one lock, so concurrent producers never overshoot.
type Bounded[T any] struct {
	mu       sync.Mutex
	items    *queue.Queue
	capacity int
	onFull   func(item T)
}

// New creates a queue holding at most capacity items. A capacity <= 0 means
// unbounded.
func New[T any](capacity int, opts ...Option[T]) *Bounded[T] {
	q := &Bounded[T]{
		items:    queue.New(),
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends item. It returns false and fires the full callback when the
// queue is at capacity.
func (q *Bounded[T]) Enqueue(item T) bool {
	q.mu.Lock()
	if q.capacity > 0 && q.items.Length() >= q.capacity {
		q.mu.Unlock()
		if q.onFull != nil {
			q.onFull(item)
		}
		return false
	}
	q.items.Add(item)
	q.mu.Unlock()
	return true
}

// Dequeue removes and returns the oldest item. It never blocks.
func (q *Bounded[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.items.Remove().(T), true
}

// Peek returns the oldest item without removing it.
func (q *Bounded[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.items.Peek().(T), true
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Capacity returns the configured capacity; <= 0 means unbounded.
func (q *Bounded[T]) Capacity() int {
	return q.capacity
}

// Clear swaps in an empty backing store and returns how many items were
// discarded. A Dequeue racing with Clear either gets its item or sees an empty
// queue; the item is never delivered twice.
func (q *Bounded[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.items.Length()
	q.items = queue.New()
	return n
}

// Destroy discards every queued item. The queue stays usable afterwards.
func (q *Bounded[T]) Destroy() int {
	return q.Clear()
}
