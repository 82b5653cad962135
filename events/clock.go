package events

import "time"

// Clock yields monotonic nanosecond timestamps and maps them back to wall time.
type Clock interface {
	Now() uint64
	Wall(ns uint64) time.Time
}

// MonotonicClock counts nanoseconds from its creation using the runtime's monotonic clock.
type MonotonicClock struct {
	base time.Time
}

// NewMonotonicClock starts a clock at zero.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{base: time.Now()}
}

// Now implements Clock.
func (c *MonotonicClock) Now() uint64 {
	return uint64(time.Since(c.base))
}

// Wall converts a timestamp of this clock to wall time.
func (c *MonotonicClock) Wall(ns uint64) time.Time {
	return c.base.Add(time.Duration(ns))
}
