//go:build linux

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

// MonotonicRawClock reads CLOCK_MONOTONIC_RAW, which is immune to NTP rate
// adjustment. The control loop prefers it on Linux so slewing cannot warp
// PID time deltas.
type MonotonicRawClock struct {
	startNs int64
}

func monotonicRawNs() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		// Fall back to the runtime clock on the rare kernel without
		// MONOTONIC_RAW support.
		return time.Now().UnixNano()
	}
	return ts.Nano()
}

// NewMonotonicRaw creates a MonotonicRawClock anchored at the current
// instant.
func NewMonotonicRaw() Clock {
	return &MonotonicRawClock{startNs: monotonicRawNs()}
}

// NowMicros returns microseconds since the clock was created.
func (c *MonotonicRawClock) NowMicros() uint64 {
	return uint64(monotonicRawNs()-c.startNs) / 1000
}

// Now returns the time since the clock was created.
func (c *MonotonicRawClock) Now() time.Duration {
	return time.Duration(monotonicRawNs() - c.startNs)
}
