// Package clock implements capture-time: a monotonic microsecond counter
// measured from process init, plus a settable time-difference accumulator
// used by the player to fast-forward without perturbing any callsite.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock measures elapsed microseconds since it was created, with an
// adjustable offset that callers fold in only through Now.
type Clock struct {
	start time.Time
	diff  atomic.Int64 // microseconds, added to the raw elapsed time
}

// New creates a Clock whose epoch is the current instant.
func New() *Clock {
	return &Clock{start: time.Now()}
}

// Now returns elapsed microseconds since creation, plus the current
// time-difference accumulator.
func (c *Clock) Now() int64 {
	elapsed := time.Since(c.start).Microseconds()
	return elapsed + c.diff.Load()
}

// AdjustDiff atomically adds delta microseconds to the time-difference
// accumulator, used by the player's fast-forward key handler.
func (c *Clock) AdjustDiff(delta int64) int64 {
	return c.diff.Add(delta)
}

// SetDiff atomically overwrites the time-difference accumulator.
func (c *Clock) SetDiff(v int64) {
	c.diff.Store(v)
}

// Diff returns the current time-difference accumulator.
func (c *Clock) Diff() int64 {
	return c.diff.Load()
}
