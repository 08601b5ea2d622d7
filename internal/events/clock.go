package events

import "sync/atomic"

// Clock hands out event sequence numbers. Seq values are strictly
// increasing for the life of the clock and never reused; wall time plays
// no part in ordering.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock { return NewClockAt(0) }

// NewClockAt returns a clock whose first Next is start+1, for appending
// after events that were already numbered.
func NewClockAt(start int64) *Clock {
	c := new(Clock)
	c.last.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 { return c.last.Add(1) }

// Current returns the last value handed out.
func (c *Clock) Current() int64 { return c.last.Load() }
