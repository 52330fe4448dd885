package pipeline

import "sync/atomic"

// Clock hands out the logical seq stamped on decisions and physical-only
// records. Values are strictly increasing; the first is start+1.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock for an empty log.
func NewClock() *Clock { return NewClockAt(0) }

// NewClockAt returns a clock continuing after start, normally the store's
// MaxSeq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock.
func (c *Clock) Next() int64 { return c.seq.Add(1) }

// Current returns the last value handed out.
func (c *Clock) Current() int64 { return c.seq.Load() }
