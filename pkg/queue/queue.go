package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned by the blocking accessors once the queue has been
// stopped and holds no more items.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO safe for concurrent use. Consumers block in
// WaitAndPop/WaitAndFront until an item arrives or the queue is stopped.
// Items pushed before Stop are still delivered; ErrClosed is only returned
// once the queue is both stopped and empty.
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	head    int
	stopped bool
}

// New creates an empty queue
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item and wakes one waiter. Pushing onto a stopped queue
// still succeeds so late producers never lose data silently.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

// WaitAndPop removes and returns the front item, blocking while the queue is
// empty and running.
func (q *Queue[T]) WaitAndPop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.lenLocked() == 0 && !q.stopped {
		q.cond.Wait()
	}
	if q.lenLocked() == 0 {
		var zero T
		return zero, ErrClosed
	}
	return q.popLocked(), nil
}

// WaitAndFront returns the front item without removing it.
func (q *Queue[T]) WaitAndFront() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.lenLocked() == 0 && !q.stopped {
		q.cond.Wait()
	}
	if q.lenLocked() == 0 {
		var zero T
		return zero, ErrClosed
	}
	return q.items[q.head], nil
}

// TryPop removes the front item if there is one.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lenLocked() == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Stop marks the queue as stopped and wakes every waiter. It is idempotent.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Stopped reports whether Stop has been called
func (q *Queue[T]) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}

func (q *Queue[T]) popLocked() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Compact once the consumed prefix dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = zero
		}
		q.items = q.items[:n]
		q.head = 0
	}
	return item
}
