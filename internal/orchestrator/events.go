package orchestrator

import (
	"time"

	"github.com/wkmp/audiocore/internal/queue"
)

// EventKind identifies the variant of an externally-broadcast Event (§6.2).
type EventKind int

const (
	EvInitialState EventKind = iota
	EvQueueStateUpdate
	EvPassageStarted
	EvPassageCompleted
	EvCrossfadeStarted
	EvCurrentSongChanged
	EvPositionUpdate
	EvPlaybackProgress
	EvVolumeChanged
	EvWatchdogIntervention
	EvBufferReady
	EvPlaybackError
)

func (k EventKind) String() string {
	switch k {
	case EvInitialState:
		return "InitialState"
	case EvQueueStateUpdate:
		return "QueueStateUpdate"
	case EvPassageStarted:
		return "PassageStarted"
	case EvPassageCompleted:
		return "PassageCompleted"
	case EvCrossfadeStarted:
		return "CrossfadeStarted"
	case EvCurrentSongChanged:
		return "CurrentSongChanged"
	case EvPositionUpdate:
		return "PositionUpdate"
	case EvPlaybackProgress:
		return "PlaybackProgress"
	case EvVolumeChanged:
		return "VolumeChanged"
	case EvWatchdogIntervention:
		return "WatchdogIntervention"
	case EvBufferReady:
		return "BufferReady"
	case EvPlaybackError:
		return "PlaybackError"
	default:
		return "Unknown"
	}
}

// Event is one externally-visible playback event (§6.2). Every event
// carries a Timestamp; the remaining fields are populated according to
// Kind, matching the per-event parameter lists in §6.2.
type Event struct {
	Kind      EventKind
	Timestamp time.Time

	QueueState queue.Snapshot // InitialState, QueueStateUpdate

	QueueEntryID string // PassageStarted, PassageCompleted, PositionUpdate, PlaybackProgress, BufferReady
	PassageID    string // PassageStarted, CurrentSongChanged

	FromQueueEntryID string // CrossfadeStarted
	ToQueueEntryID   string // CrossfadeStarted

	SongID string // CurrentSongChanged

	PositionMS int64 // InitialState, PositionUpdate, PlaybackProgress
	DurationMS int64 // PlaybackProgress

	Volume float64 // InitialState, VolumeChanged

	InterventionType    string // WatchdogIntervention: "decode" | "mixer"
	InterventionsTotal  uint64 // WatchdogIntervention

	Message string // PlaybackError
}
