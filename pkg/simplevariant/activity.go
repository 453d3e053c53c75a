package simplevariant

import (
	"sync/atomic"
	"time"
)

// ActivityClock records when the service last saw external traffic. It is
// shared between the request path, which touches it, and the reconciler,
// which reads it. Safe for concurrent use.
type ActivityClock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewActivityClock creates a clock reading time from now (time.Now when nil).
// The clock starts as if activity happened at creation.
func NewActivityClock(now func() time.Time) *ActivityClock {
	if now == nil {
		now = time.Now
	}
	c := &ActivityClock{now: now}
	c.Touch()
	return c
}

// Touch marks activity at the current time.
func (c *ActivityClock) Touch() {
	c.last.Store(c.now().UnixNano())
}

// LastActivity returns the time of the most recent Touch.
func (c *ActivityClock) LastActivity() time.Time {
	return time.Unix(0, c.last.Load())
}

// IdleFor returns how long it has been since the last Touch.
func (c *ActivityClock) IdleFor() time.Duration {
	return c.now().Sub(c.LastActivity())
}

// IsIdle reports whether no activity happened within threshold.
func (c *ActivityClock) IsIdle(threshold time.Duration) bool {
	return c.IdleFor() >= threshold
}
