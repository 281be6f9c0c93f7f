// Package ringbuffer implements the lock-free single-producer/single-consumer
// stereo-frame hand-off between the mixer and the OS audio callback (§4.1).
//
// Grounded on the teacher's pkg/ringbuffer (byte SPSC, atomic cursors,
// power-of-two masking) and pkg/audioframeringbuffer (same pattern
// specialised to a structured element), generalised here to pad the read and
// write cursors onto separate cache lines — §4.1 calls out false-sharing
// avoidance as a performance requirement the teacher's single-struct layout
// does not provide.
package ringbuffer

import (
	"sync/atomic"
	"time"
)

// Frame is one stereo sample pair handed from the mixer to the audio
// callback.
type Frame struct {
	Left, Right float32
}

// cacheLinePad is sized to push the following field onto its own cache line
// on common 64-byte-line architectures.
type cacheLinePad [64]byte

// RingBuffer is a lock-free SPSC ring buffer of stereo Frames.
//
//   - Push must only be called by the producer (mixer) goroutine.
//   - Pop must only be called by the consumer (OS audio callback).
//
// Neither method allocates or blocks, satisfying the realtime constraint on
// the audio callback side (§5, §9).
type RingBuffer struct {
	buffer []Frame
	mask   uint64

	_        cacheLinePad
	writePos atomic.Uint64
	_        cacheLinePad
	readPos  atomic.Uint64
	_        cacheLinePad

	startedAt   time.Time
	gracePeriod time.Duration

	underruns      atomic.Uint64
	graceUnderruns atomic.Uint64
}

// New creates a ring buffer sized to at least capacity frames (rounded up to
// the next power of two for cheap masking) with the given startup grace
// period during which underruns are tracked separately and not counted as
// errors (§4.1, DESIGN.md open-question resolution).
func New(capacity uint64, gracePeriod time.Duration) *RingBuffer {
	capacity = nextPowerOf2(capacity)
	return &RingBuffer{
		buffer:      make([]Frame, capacity),
		mask:        capacity - 1,
		startedAt:   time.Now(),
		gracePeriod: gracePeriod,
	}
}

// Capacity returns the buffer's frame capacity.
func (rb *RingBuffer) Capacity() uint64 {
	return uint64(len(rb.buffer))
}

// AvailableWrite returns the number of frames the producer may currently
// push.
func (rb *RingBuffer) AvailableWrite() uint64 {
	w := rb.writePos.Load()
	r := rb.readPos.Load()
	return uint64(len(rb.buffer)) - (w - r)
}

// AvailableRead returns the number of frames the consumer may currently pop.
func (rb *RingBuffer) AvailableRead() uint64 {
	w := rb.writePos.Load()
	r := rb.readPos.Load()
	return w - r
}

// Push writes one frame. It returns false (and writes nothing) when the
// buffer is full; the producer should stop pushing for this batch and
// retry on the next mixer cycle (§4.1: "backpressure is communicated by
// push returning false").
func (rb *RingBuffer) Push(f Frame) bool {
	if rb.AvailableWrite() == 0 {
		return false
	}
	w := rb.writePos.Load()
	rb.buffer[w&rb.mask] = f
	rb.writePos.Store(w + 1) // release: frame write happens-before this store
	return true
}

// Pop reads one frame. It returns (Frame{}, false) on underrun, in which
// case the caller must output a silent frame (§4.1). Underruns before the
// grace period has elapsed are tracked separately and are not errors.
func (rb *RingBuffer) Pop() (Frame, bool) {
	if rb.AvailableRead() == 0 {
		if time.Since(rb.startedAt) < rb.gracePeriod {
			rb.graceUnderruns.Add(1)
		} else {
			rb.underruns.Add(1)
		}
		return Frame{}, false
	}
	r := rb.readPos.Load() // acquire: paired with the producer's release store
	f := rb.buffer[r&rb.mask]
	rb.readPos.Store(r + 1)
	return f, true
}

// Underruns reports the number of post-grace-period underruns observed.
func (rb *RingBuffer) Underruns() uint64 {
	return rb.underruns.Load()
}

// GraceUnderruns reports the number of underruns observed within the
// startup grace period — diagnostic only, never surfaced as an error.
func (rb *RingBuffer) GraceUnderruns() uint64 {
	return rb.graceUnderruns.Load()
}

// Reset clears the buffer's positions (used on stop/seek) and restarts the
// grace-period clock.
func (rb *RingBuffer) Reset() {
	rb.readPos.Store(0)
	rb.writePos.Store(0)
	rb.startedAt = time.Now()
}

func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
