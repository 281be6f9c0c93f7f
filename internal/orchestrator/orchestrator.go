// Package orchestrator composes the queue manager, buffer manager, decoder
// pool, mixer, and ring buffer into the event-driven engine of §4.9: it
// translates user commands and internal events into decode requests, mixer
// transitions, and external broadcasts, with a 100 ms watchdog as a
// detection-only safety net.
//
// The watchdog loop is grounded on the teacher's consumer()/producer()
// goroutines in pkg/audioplayer/player.go (a for { select { case
// <-stop:...; default: }; ...; time.Sleep } shape), generalised to a
// time.Ticker-driven pass since the watchdog must fire at a fixed cadence
// rather than as fast as possible.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wkmp/audiocore/internal/buffermanager"
	"github.com/wkmp/audiocore/internal/config"
	"github.com/wkmp/audiocore/internal/decodepool"
	"github.com/wkmp/audiocore/internal/events"
	"github.com/wkmp/audiocore/internal/fadecurve"
	"github.com/wkmp/audiocore/internal/metrics"
	"github.com/wkmp/audiocore/internal/mixer"
	"github.com/wkmp/audiocore/internal/queue"
	"github.com/wkmp/audiocore/internal/ringbuffer"
	"github.com/wkmp/audiocore/internal/tick"
)

// ErrInvalidTiming is returned when a passage's timing points violate the
// §3 ordering invariant (start ≤ fade_in ≤ lead_in ≤ lead_out ≤ fade_out ≤
// end, all non-negative).
var ErrInvalidTiming = errors.New("orchestrator: invalid passage timing points")

// ErrNotFound is returned by Remove/Reorder when the queue_entry_id is not
// present in the queue.
var ErrNotFound = errors.New("orchestrator: queue entry not found")

// ErrIndexOutOfRange is returned by Reorder when new_index is negative or
// not less than the length of the queued list.
var ErrIndexOutOfRange = errors.New("orchestrator: reorder index out of range")

// ErrQueueEmpty is returned by Skip when there is no current passage to
// skip.
var ErrQueueEmpty = errors.New("orchestrator: queue is empty")

// ErrVolumeOutOfRange is returned by SetVolume for values outside [0, 1].
var ErrVolumeOutOfRange = errors.New("orchestrator: volume out of range")

// PassageTiming is the six-tick, two-curve bundle of §3 "Passage Timing
// Points", supplied at enqueue.
type PassageTiming struct {
	StartTick        tick.Tick
	FadeInPointTick  tick.Tick
	LeadInPointTick  tick.Tick
	LeadOutPointTick tick.Tick
	FadeOutPointTick tick.Tick
	EndTick          tick.Tick

	FadeInCurve  fadecurve.Curve
	FadeOutCurve fadecurve.Curve
}

// Validate checks the §3 ordering invariant:
// start ≤ fade_in ≤ lead_in ≤ lead_out ≤ fade_out ≤ end, all non-negative.
func (t PassageTiming) Validate() error {
	if t.StartTick < 0 {
		return fmt.Errorf("%w: start_tick %d is negative", ErrInvalidTiming, t.StartTick)
	}
	points := []tick.Tick{t.StartTick, t.FadeInPointTick, t.LeadInPointTick, t.LeadOutPointTick, t.FadeOutPointTick, t.EndTick}
	for i := 1; i < len(points); i++ {
		if points[i] < points[i-1] {
			return fmt.Errorf("%w: point %d (%d) precedes point %d (%d)", ErrInvalidTiming, i, points[i], i-1, points[i-1])
		}
	}
	return nil
}

// SongTimelineEntry is one song-timeline entry within a passage (§4.7 "one
// marker per song-timeline entry start time").
type SongTimelineEntry struct {
	StartTick tick.Tick
	SongID    string
}

// PassageSpec is everything the orchestrator needs to decode, mix, and
// report on a passage. PassageID is opaque and minted by the core when the
// caller supplies none (§3 "ephemeral/synthetic passage_id values the core
// itself must mint").
type PassageSpec struct {
	PassageID    string
	FileRef      string
	Timing       PassageTiming
	SongTimeline []SongTimelineEntry
}

// EnqueueRequest is the Enqueue command's parameters (§6.1).
type EnqueueRequest struct {
	PassageSpec
}

type passageRecord struct {
	spec      PassageSpec
	chainSlot int
}

// Engine is the orchestrator: the single owner of the queue manager, buffer
// manager, decoder pool, mixer, and ring-buffer producer side (§4.9).
type Engine struct {
	cfg        *config.Store
	settings   config.Settings
	sampleRate int
	batchSize  int

	queue   *queue.Manager
	buffers *buffermanager.Manager
	pool    *decodepool.Pool
	mixer   *mixer.Mixer
	ring    *ringbuffer.RingBuffer
	metrics *metrics.Registry

	bus *events.Bus[Event]

	mixEvents chan mixer.OutputEvent

	mu            sync.Mutex
	records       map[string]*passageRecord
	volume        float64
	audioExpected bool

	interventions atomic.Uint64

	// lastRingUnderruns/lastRingGraceUnderruns hold the ring buffer's
	// cumulative counts as of the last updateGauges poll, so only the
	// delta since then is added to the (resettable) prometheus counters.
	lastRingUnderruns      uint64
	lastRingGraceUnderruns uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config bundles the construction-time parameters New needs beyond the
// persisted settings store.
type Config struct {
	SampleRate      int
	Workers         int
	RingCapacity    uint64
	RingGracePeriod time.Duration
	BatchSize       int
}

// New constructs an idle Engine. Call Start to begin the producer and
// watchdog loops.
func New(store *config.Store, metricsReg *metrics.Registry, cfg Config) (*Engine, error) {
	settings, err := store.Settings()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: loading settings: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 512 // ≈11 ms at 44 100 Hz (§5 latency budget)
	}

	buffers := buffermanager.New(settings.MaxDecodeStreams, settings.MinimumPlaybackBufferMS, cfg.SampleRate)
	e := &Engine{
		cfg:        store,
		settings:   settings,
		sampleRate: cfg.SampleRate,
		batchSize:  batchSize,
		queue:      queue.New(),
		buffers:    buffers,
		pool:       decodepool.New(cfg.Workers, cfg.SampleRate, buffers),
		mixer:      mixer.New(cfg.SampleRate),
		ring:       ringbuffer.New(cfg.RingCapacity, cfg.RingGracePeriod),
		metrics:    metricsReg,
		bus:        events.New[Event](),
		mixEvents:  make(chan mixer.OutputEvent, 256),
		records:    make(map[string]*passageRecord),
		volume:     1.0,
		stopCh:     make(chan struct{}),
	}
	return e, nil
}

// RingBuffer exposes the producer-side ring buffer so cmd/wkmpd can bind it
// to the audio device (§6.3: "the core publishes a callback-style consumer
// on the ring buffer").
func (e *Engine) RingBuffer() *ringbuffer.RingBuffer { return e.ring }

// Subscribe returns a live subscription to externally-visible events
// (§6.2). Reconnecting subscribers should call InitialState first.
func (e *Engine) Subscribe(buffer int) *events.Subscription[Event] {
	return e.bus.Subscribe(buffer)
}

// InitialState returns the Event a freshly-subscribed client should receive
// immediately (§6.2: "InitialState (on subscription): queue snapshot +
// position + volume").
func (e *Engine) InitialState() Event {
	e.mu.Lock()
	volume := e.volume
	e.mu.Unlock()
	return Event{
		Kind:       EvInitialState,
		Timestamp:  time.Now(),
		QueueState: e.queue.Snapshot(),
		PositionMS: int64(e.mixer.GetPosition()) * 1000 / int64Max1(e.sampleRate),
		Volume:     volume,
	}
}

func int64Max1(n int) int64 {
	if n <= 0 {
		return 1
	}
	return int64(n)
}

func newQueueEntryID() string { return uuid.NewString() }

func (e *Engine) record(queueEntryID string) (*passageRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.records[queueEntryID]
	return r, ok
}

func (e *Engine) publish(ev Event) {
	ev.Timestamp = time.Now()
	e.bus.Publish(ev)
}

func (e *Engine) logError(op string, queueEntryID string, err error) {
	slog.Error("orchestrator: "+op, "queue_entry_id", queueEntryID, "error", err)
	e.publish(Event{Kind: EvPlaybackError, Message: fmt.Sprintf("%s: %v", op, err)})
}
