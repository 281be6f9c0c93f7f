// Package tick implements the microsecond timebase used for all passage
// timing points and markers.
package tick

import "time"

// Tick is a microsecond-resolution instant or duration, always measured from
// the start of a passage's source file unless documented otherwise.
type Tick int64

// PerSecond is the number of ticks in one second.
const PerSecond Tick = 1_000_000

// FromMillis converts a millisecond count to ticks.
func FromMillis(ms int64) Tick {
	return Tick(ms) * 1000
}

// Millis converts a tick count to milliseconds, truncating sub-millisecond
// remainders.
func (t Tick) Millis() int64 {
	return int64(t) / 1000
}

// Duration converts a tick count to a time.Duration.
func (t Tick) Duration() time.Duration {
	return time.Duration(t) * time.Microsecond
}

// FrameAt returns the zero-based frame index at this tick for the given
// sample rate (frames per second).
func (t Tick) FrameAt(sampleRate int) int64 {
	return int64(t) * int64(sampleRate) / int64(PerSecond)
}

// FromFrame converts a frame index at the given sample rate back to a tick,
// rounding up so that FromFrame(f, rate).FrameAt(rate) == f.
func FromFrame(frame int64, sampleRate int) Tick {
	if sampleRate == 0 {
		return 0
	}
	return Tick((frame*int64(PerSecond) + int64(sampleRate) - 1) / int64(sampleRate))
}
