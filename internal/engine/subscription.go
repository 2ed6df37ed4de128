package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/knot/internal/ir"
)

// Subscription is an ordered view of a knot's published states.
//
// The first value is the state current at subscription time; every later
// publication follows in order, each exactly once. Values are buffered, so
// a slow subscriber never stalls the reduction loop.
//
// Thread-safety: Next and Close may be called from any goroutine, but
// concurrent Next calls split the stream between callers.
type Subscription[S ir.Tagged] struct {
	values *queue[S]
	detach func(*Subscription[S])

	mu   sync.Mutex
	last int64 // Highest seq delivered; -1 before the replay
	err  error
}

func newSubscription[S ir.Tagged](detach func(*Subscription[S])) *Subscription[S] {
	return &Subscription[S]{
		values: newQueue[S](),
		detach: detach,
		last:   -1,
	}
}

// push delivers a publication unless its seq was already delivered.
func (s *Subscription[S]) push(seq int64, state S) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.last {
		return
	}
	s.last = seq
	s.values.Enqueue(state)
}

// finish ends the stream; buffered values remain readable.
func (s *Subscription[S]) finish(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.values.Close()
}

// Next returns the next state, blocking until one is published.
//
// After the stream ends and its buffer is drained, Next returns ErrStopped
// for a clean stop, or the error that terminated the knot.
func (s *Subscription[S]) Next(ctx context.Context) (S, error) {
	v, err := s.values.Dequeue(ctx)
	if errors.Is(err, errQueueClosed) {
		return v, s.Err()
	}
	return v, err
}

// Err returns the terminating error once the stream has ended, else nil.
func (s *Subscription[S]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscription from its knot.
func (s *Subscription[S]) Close() {
	if s.detach != nil {
		s.detach(s)
	}
	s.finish(ErrStopped)
}

// Await reads sub until a state satisfies match, returning that state.
func Await[S ir.Tagged](ctx context.Context, sub *Subscription[S], match func(S) bool) (S, error) {
	for {
		state, err := sub.Next(ctx)
		if err != nil {
			return state, err
		}
		if match(state) {
			return state, nil
		}
	}
}

// AwaitTag reads sub until a state tagged tag is published.
func AwaitTag[S ir.Tagged](ctx context.Context, sub *Subscription[S], tag ir.Tag) (S, error) {
	return Await(ctx, sub, func(s S) bool { return ir.TagOf(s) == tag })
}
