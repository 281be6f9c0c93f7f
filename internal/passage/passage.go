// Package passage implements the append-only PCM store for one live queue
// entry (§4.2): single-writer appends from a decoder, concurrent positional
// reads from the mixer.
package passage

import (
	"errors"
	"sync"

	"github.com/wkmp/audiocore/internal/ringbuffer"
)

// ErrFinalised is returned by Append once Finalise has been called, per the
// §4.2 edge case ("append on finalised buffer: treat as bug, log error, drop
// samples") — the caller is expected to log and drop, not panic.
var ErrFinalised = errors.New("passage: append on finalised buffer")

// Buffer holds decoded stereo f32 PCM for one passage. Zero value is not
// usable; construct with New.
type Buffer struct {
	mu sync.RWMutex

	frames         []ringbuffer.Frame
	decodeComplete bool
	totalFrames    uint64

	readyForStartEmitted bool
}

// New returns an empty passage buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append adds decoded frames to the end of the buffer. It fails with
// ErrFinalised if the buffer has already been finalised.
func (b *Buffer) Append(frames []ringbuffer.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.decodeComplete {
		return ErrFinalised
	}
	b.frames = append(b.frames, frames...)
	return nil
}

// Finalise marks decoding complete and captures the final frame count. Safe
// to call exactly once; subsequent calls are no-ops (end-of-stream is only
// ever signalled once by a decoder).
func (b *Buffer) Finalise() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.decodeComplete {
		return
	}
	b.decodeComplete = true
	b.totalFrames = uint64(len(b.frames))
}

// ReadRange returns up to length frames starting at offset, clamped to what
// has actually been written. It never blocks and never errors: reading past
// the written frontier before decode_complete is a transient, tolerated
// under-decode condition per §4.2 and §4.6.
func (b *Buffer) ReadRange(offset, length uint64) []ringbuffer.Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := uint64(len(b.frames))
	if offset >= n {
		return nil
	}
	end := offset + length
	if end > n {
		end = n
	}
	out := make([]ringbuffer.Frame, end-offset)
	copy(out, b.frames[offset:end])
	return out
}

// IsExhausted reports whether position has reached the end of a finalised
// buffer — the sole authoritative completion signal the mixer relies on.
func (b *Buffer) IsExhausted(position uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.decodeComplete && position >= b.totalFrames
}

// Duration returns the finalised total frame count, or the live
// samples-written count before finalisation. UI-approximation only; the
// mixer must use IsExhausted for completion, never Duration (§4.2).
func (b *Buffer) Duration() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.decodeComplete {
		return b.totalFrames
	}
	return uint64(len(b.frames))
}

// SamplesWritten reports the number of frames appended so far, finalised or
// not — used by the buffer manager to compute the ReadyForStart threshold
// (§4.3).
func (b *Buffer) SamplesWritten() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint64(len(b.frames))
}

// DecodeComplete reports whether Finalise has been called.
func (b *Buffer) DecodeComplete() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.decodeComplete
}

// MarkReadyForStartEmitted records that the buffer manager has emitted the
// ReadyForStart event for this buffer, and reports whether it had already
// been emitted — callers use the return value to guard a single emission
// (§4.3: "emitted exactly once per passage buffer").
func (b *Buffer) MarkReadyForStartEmitted() (alreadyEmitted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	alreadyEmitted = b.readyForStartEmitted
	b.readyForStartEmitted = true
	return alreadyEmitted
}

// IsReadyForStart reports whether the buffer has crossed the
// ReadyForStart threshold, without consuming or mutating the one-shot
// emission latch MarkReadyForStartEmitted guards. Used by the mixer to
// decide, at the moment a StartCrossfade marker fires, whether to begin
// the crossfade or treat it as missed (§4.6).
func (b *Buffer) IsReadyForStart() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.readyForStartEmitted
}
