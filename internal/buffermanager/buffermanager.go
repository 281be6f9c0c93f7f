// Package buffermanager owns every live passage buffer, broadcasts their
// state transitions, and bounds how many decode chains may run at once
// (§4.3).
//
// The publish/subscribe shape is grounded on the teacher's own use of plain
// Go channels for coordination (internal/fileplayer's stopChan and
// playbackCompleteChan), generalised here into internal/events's broadcast
// bus. Chain slot allocation is new (the teacher has no equivalent) but
// follows the teacher's habit of small mutex-guarded state for
// single-writer/few-reader fields.
package buffermanager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wkmp/audiocore/internal/events"
	"github.com/wkmp/audiocore/internal/passage"
)

// ErrNoChainAvailable is returned by Allocate when every decode-chain slot
// is already in use (§4.3).
var ErrNoChainAvailable = errors.New("buffermanager: no decode chain slot available")

// EventKind identifies a BufferEvent's variant (§4.3).
type EventKind int

const (
	ReadyForStart EventKind = iota
	DecodeComplete
	Exhausted
	Released
)

func (k EventKind) String() string {
	switch k {
	case ReadyForStart:
		return "ReadyForStart"
	case DecodeComplete:
		return "DecodeComplete"
	case Exhausted:
		return "Exhausted"
	case Released:
		return "Released"
	default:
		return "Unknown"
	}
}

// BufferEvent is broadcast on every passage-buffer state transition the
// orchestrator or SSE surface cares about.
type BufferEvent struct {
	Kind         EventKind
	QueueEntryID string

	// BufferFillMS is set for ReadyForStart.
	BufferFillMS int64
	// TotalFrames is set for DecodeComplete.
	TotalFrames uint64
}

type entry struct {
	buf       *passage.Buffer
	chainSlot int
	fileRef   string
	playing   bool
	exhausted bool
}

// Manager owns the live passage buffers for the current queue window.
type Manager struct {
	mu sync.Mutex

	minPlaybackBufferMS int64
	sampleRate          int

	maxChains int
	chainUsed []bool

	buffers map[string]*entry

	bus *events.Bus[BufferEvent]
}

// New constructs a Manager. minPlaybackBufferMS and sampleRate together
// define the ReadyForStart threshold in frames (§4.3: default 3000 ms);
// maxChains bounds concurrent decode chains (§4.3: default 16, configurable
// down for constrained hardware, see DESIGN.md).
func New(maxChains int, minPlaybackBufferMS int64, sampleRate int) *Manager {
	return &Manager{
		minPlaybackBufferMS: minPlaybackBufferMS,
		sampleRate:          sampleRate,
		maxChains:           maxChains,
		chainUsed:           make([]bool, maxChains),
		buffers:             make(map[string]*entry),
		bus:                 events.New[BufferEvent](),
	}
}

// SubscribeEvents returns a live subscription to buffer events.
func (m *Manager) SubscribeEvents(buffer int) *events.Subscription[BufferEvent] {
	return m.bus.Subscribe(buffer)
}

// Allocate finds the lowest-numbered free chain slot and reserves it.
func (m *Manager) Allocate(queueEntryID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for slot, used := range m.chainUsed {
		if !used {
			m.chainUsed[slot] = true
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: all %d chains in use (requested for %s)", ErrNoChainAvailable, m.maxChains, queueEntryID)
}

// ReleaseChain frees a previously allocated chain slot without touching any
// registered buffer. Register never allocates a slot and Release frees a
// buffer's slot itself; this is exported for callers that allocate before
// they have a file_ref to register.
func (m *Manager) ReleaseChain(slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot >= 0 && slot < len(m.chainUsed) {
		m.chainUsed[slot] = false
	}
}

// ActiveChains reports how many decode-chain slots are currently allocated.
func (m *Manager) ActiveChains() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, used := range m.chainUsed {
		if used {
			n++
		}
	}
	return n
}

// Register creates (or returns the existing) buffer for queueEntryID. It is
// idempotent: calling it twice for the same ID returns the same buffer
// without resetting any progress (§4.3).
func (m *Manager) Register(queueEntryID string, chainSlot int, fileRef string) *passage.Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.buffers[queueEntryID]; ok {
		return e.buf
	}
	e := &entry{buf: passage.New(), chainSlot: chainSlot, fileRef: fileRef}
	m.buffers[queueEntryID] = e
	return e.buf
}

// Buffer returns the live passage buffer for queueEntryID, if any. Used by
// the orchestrator to hand the buffer to the mixer on start/crossfade-prep
// (§4.9); the buffer manager remains its sole owner.
func (m *Manager) Buffer(queueEntryID string) (*passage.Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.buffers[queueEntryID]
	if !ok {
		return nil, false
	}
	return e.buf, true
}

// IsManaged reports whether queueEntryID currently has a registered buffer.
func (m *Manager) IsManaged(queueEntryID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buffers[queueEntryID]
	return ok
}

// NotifySamplesAppended is invoked by a decoder after each append. It
// recomputes the ReadyForStart threshold and emits the event exactly once
// (§4.3).
func (m *Manager) NotifySamplesAppended(queueEntryID string, _ int) {
	m.mu.Lock()
	e, ok := m.buffers[queueEntryID]
	m.mu.Unlock()
	if !ok {
		return
	}

	fillMS := framesToMS(e.buf.SamplesWritten(), m.sampleRate)
	if fillMS < m.minPlaybackBufferMS && !e.buf.DecodeComplete() {
		return
	}
	if e.buf.MarkReadyForStartEmitted() {
		return
	}
	m.bus.Publish(BufferEvent{Kind: ReadyForStart, QueueEntryID: queueEntryID, BufferFillMS: fillMS})
}

// Finalise is invoked by a decoder at end-of-file. It finalises the buffer,
// emits DecodeComplete, and — if the ReadyForStart threshold was never
// reached by fill level alone (a short passage) — emits ReadyForStart now
// (§4.3: "OR when decode_complete is true, whichever comes first").
func (m *Manager) Finalise(queueEntryID string) {
	m.mu.Lock()
	e, ok := m.buffers[queueEntryID]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.buf.Finalise()
	m.bus.Publish(BufferEvent{Kind: DecodeComplete, QueueEntryID: queueEntryID, TotalFrames: e.buf.Duration()})

	if !e.buf.MarkReadyForStartEmitted() {
		m.bus.Publish(BufferEvent{
			Kind:         ReadyForStart,
			QueueEntryID: queueEntryID,
			BufferFillMS: framesToMS(e.buf.Duration(), m.sampleRate),
		})
	}
}

// MarkPlaying records that the mixer has begun reading from this buffer.
func (m *Manager) MarkPlaying(queueEntryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.buffers[queueEntryID]; ok {
		e.playing = true
	}
}

// MarkExhausted records that the mixer has fully consumed this buffer and
// emits Exhausted exactly once.
func (m *Manager) MarkExhausted(queueEntryID string) {
	m.mu.Lock()
	e, ok := m.buffers[queueEntryID]
	if ok {
		if e.exhausted {
			ok = false
		} else {
			e.exhausted = true
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.bus.Publish(BufferEvent{Kind: Exhausted, QueueEntryID: queueEntryID})
}

// Release frees the buffer and its decode-chain slot for queueEntryID.
func (m *Manager) Release(queueEntryID string) {
	m.mu.Lock()
	e, ok := m.buffers[queueEntryID]
	if ok {
		delete(m.buffers, queueEntryID)
		if e.chainSlot >= 0 && e.chainSlot < len(m.chainUsed) {
			m.chainUsed[e.chainSlot] = false
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.bus.Publish(BufferEvent{Kind: Released, QueueEntryID: queueEntryID})
}

func framesToMS(frames uint64, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return int64(frames) * 1000 / int64(sampleRate)
}
