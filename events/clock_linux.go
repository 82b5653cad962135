//go:build linux

package events

import (
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// BootClock reads CLOCK_BOOTTIME, the clock kernel-side probes stamp events with.
type BootClock struct {
	offset int64
}

// NewBootClock estimates the offset between CLOCK_BOOTTIME and wall time. The smallest of
// several samples is kept since scheduling delay only ever widens the gap.
func NewBootClock() (clock *BootClock, fault error) {
	const rounds = 25

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var (
		best    int64
		minDiff int64 = 1<<63 - 1
	)
	for range rounds {
		var ts unix.Timespec

		now := time.Now()
		if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
			return nil, fmt.Errorf("could not read boot clock: %w", err)
		}

		offset := now.UnixNano() - ts.Nano()
		diff := offset
		if diff < 0 {
			diff = -diff
		}

		if diff < minDiff {
			minDiff = diff
			best = offset
		}
	}

	return &BootClock{offset: best}, nil
}

// Now implements Clock.
func (c *BootClock) Now() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return 0
	}

	return uint64(ts.Nano())
}

// Wall converts a boot clock timestamp to wall time.
func (c *BootClock) Wall(ns uint64) time.Time {
	return time.Unix(0, c.offset+int64(ns))
}
