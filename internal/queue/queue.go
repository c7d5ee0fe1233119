// Package queue provides the FIFO used between pipeline stages.
//
// A Queue is either bounded, in which case pushing onto a full queue evicts
// the oldest item, or unbounded (capacity <= 0). Push never blocks.
package queue

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("queue closed")

type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool
	notify   chan struct{}
}

func New[T any](capacity int) *Queue[T] {
	q := &Queue[T]{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
	if capacity > 0 {
		q.items = make([]T, 0, capacity)
	}
	return q
}

// Push appends v. When the queue is bounded and full the oldest item is
// removed and returned with dropped set.
func (q *Queue[T]) Push(v T) (evicted T, dropped bool, err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return evicted, false, ErrClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		evicted = q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return evicted, dropped, nil
}

// TryPop removes the head without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Next blocks until an item is available, the queue is closed and empty, or
// stop is closed. A nil stop channel never fires.
func (q *Queue[T]) Next(stop <-chan struct{}) (T, bool) {
	var zero T
	for {
		select {
		case <-stop:
			return zero, false
		default:
		}
		q.mu.Lock()
		if v, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return v, true
		}
		if q.closed {
			q.mu.Unlock()
			return zero, false
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-stop:
			return zero, false
		}
	}
}

// Close stops further pushes. Items already queued are still handed out by
// Next.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Clear removes and returns everything still queued.
func (q *Queue[T]) Clear() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	if q.capacity > 0 {
		q.items = make([]T, 0, q.capacity)
	}
	return out
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 && q.capacity <= 0 {
		q.items = nil
	}
	return v, true
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
