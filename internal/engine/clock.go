package engine

import "sync/atomic"

// Clock numbers steps. Step numbers start at 1 and strictly increase, so a
// journal can order steps without wall-clock time.
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a clock whose first step is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next step is start+1.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new step number.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last step number handed out.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
