package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/knot/internal/ir"
)

// errQueueClosed is returned by Dequeue once the queue is closed and drained.
var errQueueClosed = errors.New("queue closed")

// envelope carries a change through the input queue with its provenance.
type envelope[C ir.Tagged] struct {
	change C
	origin ir.Origin
	source string // Owner of the source, transformer or trigger; empty for Accept
}

// queue is a thread-safe unbounded FIFO.
//
// The queue is unbounded so that producers (Accept callers, transformers,
// triggers, publication fan-out) never block on a slow consumer.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in consumers (prevents goroutine hangs on context cancellation).
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // Signals item availability (buffered, size 1)
}

// newQueue creates an empty queue.
func newQueue[T any]() *queue[T] {
	return &queue[T]{
		items:  make([]T, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *queue[T]) Enqueue(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, v)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// next pops the front item, reporting whether the queue is closed when empty.
// Emptiness and closure are read under one lock so a close can never hide
// an item enqueued just before it.
func (q *queue[T]) next() (v T, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return v, false, q.closed
	}

	v = q.items[0]

	// Clear the slot so the backing array does not retain the value
	var zero T
	q.items[0] = zero

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return v, true, false
}

// Dequeue removes and returns the front item, blocking until one is
// available, the queue is closed and drained (errQueueClosed), or ctx is done.
func (q *queue[T]) Dequeue(ctx context.Context) (T, error) {
	for {
		v, ok, closed := q.next()
		if ok {
			return v, nil
		}
		if closed {
			return v, errQueueClosed
		}

		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-q.signal:
			// Loop back to next(); a closed signal channel fires immediately
		}
	}
}

// Len returns the current queue length.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more items will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
// Items already queued remain available to Dequeue.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
