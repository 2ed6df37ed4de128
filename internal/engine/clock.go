package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps state publications.
//
// The initial state is seq 0; every reduction takes the next value. This
// gives:
//   - A total order over publications, independent of wall time
//   - A cheap duplicate filter for subscribers that joined mid-stream
//   - Stable seq numbers in the transition journal
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// In practice only the reduction loop calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
