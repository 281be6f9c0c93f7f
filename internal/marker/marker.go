// Package marker implements the tick-ordered event heap anchored in a
// passage's timeline (§4.7).
package marker

import (
	"container/heap"

	"github.com/wkmp/audiocore/internal/tick"
)

// EventKind identifies what a marker signals when it fires.
type EventKind int

const (
	// PositionUpdate carries a millisecond position for externally visible
	// progress reporting.
	PositionUpdate EventKind = iota
	// StartCrossfade signals the mixer should begin crossfading to the
	// named next passage.
	StartCrossfade
	// SongBoundary signals a song-timeline entry has started within the
	// current passage.
	SongBoundary
	// PassageComplete signals the passage has reached its end tick.
	PassageComplete
)

// tieBreakOrder gives the fixed precedence §4.7 assigns to markers that
// land on the exact same tick: song boundaries, then position updates, then
// crossfade starts, then passage-complete last.
func (k EventKind) tieBreakOrder() int {
	switch k {
	case SongBoundary:
		return 0
	case PositionUpdate:
		return 1
	case StartCrossfade:
		return 2
	case PassageComplete:
		return 3
	default:
		return 4
	}
}

// Event is the payload attached to a Marker, carried through to the
// orchestrator's event handlers once the marker fires.
type Event struct {
	Kind EventKind

	// PositionMS is set for PositionUpdate.
	PositionMS int64
	// NextQueueEntryID / NextPassageID are set for StartCrossfade.
	NextQueueEntryID string
	NextPassageID    string
	// SongID is set for SongBoundary.
	SongID string
}

// Marker is a single scheduled event keyed to a tick within a passage's
// local timeline.
type Marker struct {
	Tick  tick.Tick
	Event Event

	// seq preserves FIFO submission order as a final tiebreak once Tick and
	// the event-kind precedence are both equal.
	seq uint64
}

// Heap is a tick-ordered min-heap of markers for one mixer slot (current or
// next). It is not safe for concurrent use; callers serialise access the
// same way the mixer serialises all other per-slot state (§5).
type Heap struct {
	items  markerSlice
	nextSeq uint64
}

// NewHeap returns an empty marker heap.
func NewHeap() *Heap {
	h := &Heap{}
	heap.Init(&h.items)
	return h
}

// Insert adds a marker in O(log n). Duplicates are permitted; firing is
// handled idempotently by the caller (§4.6 add_marker).
func (h *Heap) Insert(at tick.Tick, event Event) {
	h.nextSeq++
	heap.Push(&h.items, Marker{Tick: at, Event: event, seq: h.nextSeq})
}

// Len reports the number of markers still pending.
func (h *Heap) Len() int {
	return h.items.Len()
}

// PopDue removes and returns all markers with Tick <= tickNow, in
// increasing tick order with the §4.7 tie-break applied, in O((k+1) log n)
// for k markers popped.
func (h *Heap) PopDue(tickNow tick.Tick) []Marker {
	var due []Marker
	for h.items.Len() > 0 && h.items[0].Tick <= tickNow {
		due = append(due, heap.Pop(&h.items).(Marker))
	}
	return due
}

// Reset discards all pending markers, used when the mixer resets a slot to
// a new passage (§4.6 set_current_passage).
func (h *Heap) Reset() {
	h.items = h.items[:0]
}

type markerSlice []Marker

func (s markerSlice) Len() int { return len(s) }

func (s markerSlice) Less(i, j int) bool {
	if s[i].Tick != s[j].Tick {
		return s[i].Tick < s[j].Tick
	}
	oi, oj := s[i].Event.Kind.tieBreakOrder(), s[j].Event.Kind.tieBreakOrder()
	if oi != oj {
		return oi < oj
	}
	return s[i].seq < s[j].seq
}

func (s markerSlice) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s *markerSlice) Push(x any) {
	*s = append(*s, x.(Marker))
}

func (s *markerSlice) Pop() any {
	old := *s
	n := len(old)
	item := old[n-1]
	*s = old[:n-1]
	return item
}
