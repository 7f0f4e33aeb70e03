// Package inbound holds the pending inbound FIFO that transport goroutines push to and the
// synchronization loop polls once per tick.
package inbound

import "sync"

// initialQueueCapacity is the starting capacity of a queue.
const initialQueueCapacity = 64

// compactThreshold is the number of consumed slots after which the backing array is compacted.
const compactThreshold = 256

// Queue is an unbounded, mutex-guarded FIFO. Items are only ever removed from the front and are
// never reordered.
type Queue[T any] struct {
	items []T
	head  int
	mu    sync.Mutex
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{items: make([]T, 0, initialQueueCapacity)}
}

// Push appends v to the back of the queue. Safe to call from any goroutine.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// PopFront removes and returns the oldest item.
func (q *Queue[T]) PopFront() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v, true
}

// Drain appends every queued item to target in arrival order and empties the queue.
func (q *Queue[T]) Drain(target *[]T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	*target = append(*target, q.items[q.head:]...)
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}

// Clear drops every queued item and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items) - q.head
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return n
}
