// Package mixer produces stereo frames for the ring-buffer producer by
// reading one or two passage buffers, applying fades, and surfacing marker
// events as playback position crosses scheduled ticks (§4.6).
//
// Grounded on two sources: the teacher's producer/consumer loop shape in
// pkg/audioplayer/player.go (pull N frames, process, hand off) for the
// batch-mix call shape, and — for the crossfade sample-mixing math itself,
// which has no teacher analogue — the pack's friendsincode-grimnir_radio
// playout session (other_examples/628d8203_...crossfade.go.go), which
// linearly mixes two PCM streams by a fade fraction and promotes the next
// stream to current when the fade completes. That session's three
// conceptual states (no-fade / playing / crossfading) map directly onto
// this package's None/SinglePassage/Crossfading machine; its time-based
// fraction becomes this package's marker-driven, frame-position-based
// fraction.
package mixer

import (
	"log/slog"
	"sync"

	"github.com/wkmp/audiocore/internal/fadecurve"
	"github.com/wkmp/audiocore/internal/marker"
	"github.com/wkmp/audiocore/internal/passage"
	"github.com/wkmp/audiocore/internal/ringbuffer"
	"github.com/wkmp/audiocore/internal/tick"
)

// State is the mixer's top-level playback state (§4.6).
type State int

const (
	None State = iota
	SinglePassage
	Crossfading
)

func (s State) String() string {
	switch s {
	case SinglePassage:
		return "SinglePassage"
	case Crossfading:
		return "Crossfading"
	default:
		return "None"
	}
}

// EventKind identifies what an OutputEvent reports upward to the
// orchestrator.
type EventKind int

const (
	PositionUpdate EventKind = iota
	SongBoundary
	PassageComplete
	CrossfadeStarted
	CrossfadeMissed
)

// OutputEvent is emitted by Mix as playback crosses a scheduled tick or the
// mixer's own state changes.
type OutputEvent struct {
	Kind         EventKind
	QueueEntryID string

	PositionMS int64  // PositionUpdate
	SongID     string // SongBoundary

	FromQueueEntryID string // CrossfadeStarted / CrossfadeMissed
	ToQueueEntryID   string // CrossfadeStarted
}

// defaultCrossfadeMS is used when the StartCrossfade marker fires and
// PrepareNext was never called or supplied a zero-length window —
// §4.6: "a default of 3 000 ms" when both lead points collapse to zero.
const defaultCrossfadeMS = 3000

// defaultCrossfadeFrames converts defaultCrossfadeMS into the mixer's
// sample-rate frame space. Zero if sampleRate was never set.
func (m *Mixer) defaultCrossfadeFrames() uint64 {
	if m.sampleRate <= 0 {
		return 0
	}
	return uint64(defaultCrossfadeMS * m.sampleRate / 1000)
}

type slot struct {
	passageID    string
	queueEntryID string
	buf          *passage.Buffer
	position     uint64
	markers      *marker.Heap

	fadeInCurve     fadecurve.Curve
	fadeInTotal     uint64
	fadeInElapsed   uint64

	fadeOutCurve    fadecurve.Curve
	fadeOutTotal    uint64
	fadeOutElapsed  uint64
	fadeOutActive   bool

	completeEmitted bool
	underrunActive  bool
}

func newSlot(passageID, queueEntryID string, buf *passage.Buffer, initialPosition uint64) *slot {
	return &slot{
		passageID:    passageID,
		queueEntryID: queueEntryID,
		buf:          buf,
		position:     initialPosition,
		markers:      marker.NewHeap(),
	}
}

// readFrame reads one frame at the slot's logical position+offset. ok is
// false on a transient under-decode miss (§4.2, §4.6); the caller must
// treat that as silence, not exhaustion.
func (s *slot) readFrame(offset uint64) (ringbuffer.Frame, bool) {
	got := s.buf.ReadRange(s.position+offset, 1)
	if len(got) == 0 {
		return ringbuffer.Frame{}, false
	}
	return got[0], true
}

func (s *slot) fadeInGain() float64 {
	if s.fadeInTotal == 0 || s.fadeInElapsed >= s.fadeInTotal {
		return 1
	}
	t := float64(s.fadeInElapsed) / float64(s.fadeInTotal)
	return fadecurve.Gain(s.fadeInCurve, t)
}

func (s *slot) hardFadeGain() float64 {
	if !s.fadeOutActive || s.fadeOutTotal == 0 {
		return 1
	}
	t := float64(s.fadeOutElapsed) / float64(s.fadeOutTotal)
	return fadecurve.FadeOutGain(s.fadeOutCurve, t)
}

type pendingNext struct {
	passageID       string
	queueEntryID    string
	buf             *passage.Buffer
	crossfadeFrames uint64
	fadeInCurve     fadecurve.Curve
	fadeOutCurve    fadecurve.Curve
	markers         *marker.Heap
}

// Mixer is the engine's single mixing component; one instance serves the
// whole playback pipeline (§5: mixer state is single-writer, driven only by
// the realtime mix loop and command-triggered transitions, both serialised
// by mu).
type Mixer struct {
	mu sync.Mutex

	state   State
	current *slot
	next    *slot

	pending *pendingNext

	crossfadeElapsed uint64
	crossfadeTotal   uint64

	sampleRate int
}

// New constructs an idle mixer. sampleRate is used only to compute the
// default 3-second crossfade window when PrepareNext was never called or
// supplied a zero-length window.
func New(sampleRate int) *Mixer {
	return &Mixer{sampleRate: sampleRate}
}

// SetCurrentPassage transitions to SinglePassage with a fresh slot,
// discarding any previous current/next state (§4.6: "transitions
// None/SinglePassage→SinglePassage; resets position and markers").
func (m *Mixer) SetCurrentPassage(passageID, queueEntryID string, buf *passage.Buffer, initialPosition uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = newSlot(passageID, queueEntryID, buf, initialPosition)
	m.next = nil
	m.pending = nil
	m.state = SinglePassage
}

// AddMarker inserts a marker into current's heap. Duplicates are permitted
// (§4.6: "handler is idempotent").
func (m *Mixer) AddMarker(at tick.Tick, event marker.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.markers.Insert(at, event)
	}
}

// ApplyFadeIn installs an initial fade-in on current (§4.6).
func (m *Mixer) ApplyFadeIn(curve fadecurve.Curve, durationFrames uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.current.fadeInCurve = curve
	m.current.fadeInTotal = durationFrames
	m.current.fadeInElapsed = 0
}

// PrepareNext records the up-next passage and the fade curves/crossfade
// length to use once the StartCrossfade marker fires, without starting
// playback of it yet. The mixer itself decides, at the exact sample the
// marker fires, whether next is ready (DESIGN.md: doing the readiness
// check here rather than round-tripping to the orchestrator keeps the
// transition sample-accurate).
func (m *Mixer) PrepareNext(passageID, queueEntryID string, buf *passage.Buffer, crossfadeFrames uint64, fadeOutCurveForCurrent, fadeInCurveForNext fadecurve.Curve) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = &pendingNext{
		passageID:       passageID,
		queueEntryID:    queueEntryID,
		buf:             buf,
		crossfadeFrames: crossfadeFrames,
		fadeInCurve:     fadeInCurveForNext,
		fadeOutCurve:    fadeOutCurveForCurrent,
		markers:         marker.NewHeap(),
	}
}

// AddMarkerToNext inserts a marker into the pending next passage's own
// heap, so that once the crossfade begins and next is promoted to a slot of
// its own, its position/song-boundary/crossfade/complete markers are
// already in place (§4.7: "the orchestrator installs the marker then"
// applies just as much to next's own future markers as to current's
// crossfade-start marker). A no-op if PrepareNext has not been called yet.
func (m *Mixer) AddMarkerToNext(at tick.Tick, event marker.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.pending.markers.Insert(at, event)
	}
}

// Reset transitions the mixer back to None, discarding current, next, and
// any pending crossfade preparation without emitting any events (§4.6:
// "Seek or skip during playback: the orchestrator stops the mixer (state →
// None) and issues a new set_current_passage").
func (m *Mixer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.next = nil
	m.pending = nil
	m.state = None
	m.crossfadeElapsed = 0
	m.crossfadeTotal = 0
}

// GetPosition returns current's read position in frames.
func (m *Mixer) GetPosition() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.position
}

// GetState reports the mixer's top-level state.
func (m *Mixer) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mix produces up to requested stereo frames and returns any marker-driven
// output events, in tick order (§4.6).
func (m *Mixer) Mix(requested int) ([]ringbuffer.Frame, []OutputEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == None || m.current == nil || requested <= 0 {
		return nil, nil
	}

	out := make([]ringbuffer.Frame, 0, requested)
	var n int

	switch m.state {
	case SinglePassage:
		n = m.mixSingle(requested, &out)
	case Crossfading:
		n = m.mixCrossfade(requested, &out)
	}

	var events []OutputEvent
	events = append(events, m.advanceAndTransition(n)...)
	events = append(events, m.collectMarkerEvents()...)

	return out, events
}

func (m *Mixer) mixSingle(requested int, out *[]ringbuffer.Frame) int {
	cur := m.current
	produced := 0
	for i := 0; i < requested; i++ {
		if cur.buf.IsExhausted(cur.position + uint64(i)) {
			break
		}
		f, ok := cur.readFrame(uint64(i))
		if !ok {
			m.noteUnderrun(cur)
			f = ringbuffer.Frame{}
		} else {
			cur.underrunActive = false
			gain := cur.fadeInGain() * cur.hardFadeGain()
			f.Left = clip(f.Left * float32(gain))
			f.Right = clip(f.Right * float32(gain))
		}
		*out = append(*out, f)
		produced++
		advanceFadeCounters(cur)
	}
	return produced
}

func (m *Mixer) mixCrossfade(requested int, out *[]ringbuffer.Frame) int {
	cur, nxt := m.current, m.next
	produced := 0
	for i := 0; i < requested; i++ {
		if cur.buf.IsExhausted(cur.position + uint64(i)) {
			break
		}

		cf, curOK := cur.readFrame(uint64(i))
		if !curOK {
			m.noteUnderrun(cur)
			cf = ringbuffer.Frame{}
		} else {
			cur.underrunActive = false
		}

		nf, nextOK := nxt.readFrame(uint64(i))
		if !nextOK {
			nf = ringbuffer.Frame{}
		}

		elapsed := m.crossfadeElapsed + uint64(i)
		t := 1.0
		if m.crossfadeTotal > 0 {
			t = float64(elapsed) / float64(m.crossfadeTotal)
			if t > 1 {
				t = 1
			}
		}
		gOut := fadecurve.FadeOutGain(cur.fadeOutCurve, t)
		gIn := fadecurve.Gain(nxt.fadeInCurve, t)

		mixed := ringbuffer.Frame{
			Left:  clip(cf.Left*float32(gOut) + nf.Left*float32(gIn)),
			Right: clip(cf.Right*float32(gOut) + nf.Right*float32(gIn)),
		}
		*out = append(*out, mixed)
		produced++
	}
	return produced
}

func advanceFadeCounters(s *slot) {
	if s.fadeInElapsed < s.fadeInTotal {
		s.fadeInElapsed++
	}
	if s.fadeOutActive && s.fadeOutElapsed < s.fadeOutTotal {
		s.fadeOutElapsed++
	}
}

func (m *Mixer) noteUnderrun(s *slot) {
	if !s.underrunActive {
		slog.Warn("mixer: decoder underrun", "queue_entry_id", s.queueEntryID)
		s.underrunActive = true
	}
}

func clip(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// advanceAndTransition advances read positions by n frames, applies the
// exhaustion transitions of §4.6 step 4, and returns any events the
// transition itself produces (PassageComplete only).
func (m *Mixer) advanceAndTransition(n int) []OutputEvent {
	if n <= 0 || m.current == nil {
		return nil
	}
	var events []OutputEvent

	m.current.position += uint64(n)
	if m.state == Crossfading {
		m.next.position += uint64(n)
		m.crossfadeElapsed += uint64(n)
	}

	if !m.current.buf.IsExhausted(m.current.position) {
		return events
	}

	switch m.state {
	case Crossfading:
		if !m.current.completeEmitted {
			events = append(events, OutputEvent{Kind: PassageComplete, QueueEntryID: m.current.queueEntryID})
			m.current.completeEmitted = true
		}
		promoted := m.next
		m.current = promoted
		m.next = nil
		m.state = SinglePassage
	case SinglePassage:
		if !m.current.completeEmitted {
			events = append(events, OutputEvent{Kind: PassageComplete, QueueEntryID: m.current.queueEntryID})
			m.current.completeEmitted = true
		}
		m.current = nil
		m.state = None
	}
	return events
}

// collectMarkerEvents pops due markers from current (and next, while
// crossfading) and translates them into OutputEvents, handling the
// StartCrossfade marker's ready/missed branch inline (§4.6 edge cases).
func (m *Mixer) collectMarkerEvents() []OutputEvent {
	if m.current == nil {
		return nil
	}

	var events []OutputEvent
	due := m.current.markers.PopDue(tick.Tick(int64(m.current.position)))
	for _, mk := range due {
		events = append(events, m.translateMarker(mk)...)
	}

	if m.state == Crossfading && m.next != nil {
		nextDue := m.next.markers.PopDue(tick.Tick(int64(m.next.position)))
		for _, mk := range nextDue {
			events = append(events, m.translateMarker(mk)...)
		}
	}
	return events
}

func (m *Mixer) translateMarker(mk marker.Marker) []OutputEvent {
	switch mk.Event.Kind {
	case marker.PositionUpdate:
		return []OutputEvent{{Kind: PositionUpdate, QueueEntryID: m.current.queueEntryID, PositionMS: mk.Event.PositionMS}}
	case marker.SongBoundary:
		return []OutputEvent{{Kind: SongBoundary, QueueEntryID: m.current.queueEntryID, SongID: mk.Event.SongID}}
	case marker.PassageComplete:
		if m.current.completeEmitted {
			return nil
		}
		m.current.completeEmitted = true
		return []OutputEvent{{Kind: PassageComplete, QueueEntryID: m.current.queueEntryID}}
	case marker.StartCrossfade:
		return m.handleStartCrossfade()
	default:
		return nil
	}
}

func (m *Mixer) handleStartCrossfade() []OutputEvent {
	if m.state != SinglePassage {
		return nil
	}

	if m.pending != nil && m.pending.buf.IsReadyForStart() {
		p := m.pending
		m.next = newSlot(p.passageID, p.queueEntryID, p.buf, 0)
		if p.markers != nil {
			m.next.markers = p.markers
		}
		m.next.fadeInCurve = p.fadeInCurve
		m.current.fadeOutCurve = p.fadeOutCurve
		m.crossfadeTotal = p.crossfadeFrames
		if m.crossfadeTotal == 0 {
			m.crossfadeTotal = m.defaultCrossfadeFrames()
		}
		m.crossfadeElapsed = 0
		m.state = Crossfading
		m.pending = nil
		return []OutputEvent{{
			Kind:             CrossfadeStarted,
			FromQueueEntryID: m.current.queueEntryID,
			ToQueueEntryID:   m.next.queueEntryID,
		}}
	}

	frames := m.defaultCrossfadeFrames()
	curve := fadecurve.Linear
	var toQID string
	if m.pending != nil {
		curve = m.pending.fadeOutCurve
		toQID = m.pending.queueEntryID
		if m.pending.crossfadeFrames > 0 {
			frames = m.pending.crossfadeFrames
		}
	}

	m.current.fadeOutCurve = curve
	m.current.fadeOutTotal = frames
	m.current.fadeOutElapsed = 0
	m.current.fadeOutActive = true

	return []OutputEvent{{Kind: CrossfadeMissed, FromQueueEntryID: m.current.queueEntryID, ToQueueEntryID: toQID}}
}
