package orchestrator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/wkmp/audiocore/internal/buffermanager"
	"github.com/wkmp/audiocore/internal/decodepool"
	"github.com/wkmp/audiocore/internal/events"
	"github.com/wkmp/audiocore/internal/marker"
	"github.com/wkmp/audiocore/internal/mixer"
	"github.com/wkmp/audiocore/internal/queue"
	"github.com/wkmp/audiocore/internal/ringbuffer"
	"github.com/wkmp/audiocore/internal/tick"
)

// Start launches the producer, watchdog, and event-handling goroutines.
// Call Stop to shut them down.
func (e *Engine) Start() {
	e.wg.Add(6)
	go e.bufferEventLoop(e.buffers.SubscribeEvents(32))
	go e.failureLoop(e.pool.SubscribeFailures(32))
	go e.mixEventLoop()
	go e.producerLoop()
	go e.watchdogLoop()
	go e.progressLoop()
}

// Stop drains and stops playback (§5 "on shutdown: orchestrator sets
// audio_expected=false, cancels all decoders, releases buffers, and drains
// the ring buffer before exiting the audio callback binding").
func (e *Engine) Stop() {
	e.mu.Lock()
	e.audioExpected = false
	e.mu.Unlock()
	close(e.stopCh)
	e.wg.Wait()
	e.pool.Close()
	e.ring.Reset()
}

// producerLoop is the mixer task of §5: it mixes one batch per audio-device
// batch interval, applies volume, and pushes frames to the ring buffer for
// the realtime callback to consume. Mixer output events are handed off to
// mixEventLoop rather than processed inline, so a slow handler never delays
// the next Mix call (§4.9 "does not block mixer").
func (e *Engine) producerLoop() {
	defer e.wg.Done()

	interval := time.Second * time.Duration(e.batchSize) / time.Duration(maxInt(e.sampleRate, 1))
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			expected := e.audioExpected
			volume := e.volume
			e.mu.Unlock()
			if !expected {
				continue
			}

			frames, outEvents := e.mixer.Mix(e.batchSize)
			pushBatch(e.ring, frames, volume)

			for _, ev := range outEvents {
				select {
				case e.mixEvents <- ev:
				case <-e.stopCh:
					return
				}
			}
		}
	}
}

func pushBatch(ring *ringbuffer.RingBuffer, frames []ringbuffer.Frame, volume float64) {
	for _, f := range frames {
		f.Left = clipFloat(f.Left * float32(volume))
		f.Right = clipFloat(f.Right * float32(volume))
		if !ring.Push(f) {
			return // backpressure: drop the remainder of this batch (§4.1)
		}
	}
}

func clipFloat(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// mixEventLoop processes marker-driven mixer output events (§4.9 "Marker
// event handlers").
func (e *Engine) mixEventLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case ev := <-e.mixEvents:
			e.handleMixerEvent(ev)
		}
	}
}

func (e *Engine) handleMixerEvent(ev mixer.OutputEvent) {
	switch ev.Kind {
	case mixer.PositionUpdate:
		e.publish(Event{Kind: EvPositionUpdate, QueueEntryID: ev.QueueEntryID, PositionMS: ev.PositionMS})
	case mixer.SongBoundary:
		e.publish(Event{Kind: EvCurrentSongChanged, QueueEntryID: ev.QueueEntryID, SongID: ev.SongID})
	case mixer.PassageComplete:
		e.handlePassageComplete(ev.QueueEntryID)
	case mixer.CrossfadeStarted:
		e.publish(Event{Kind: EvCrossfadeStarted, FromQueueEntryID: ev.FromQueueEntryID, ToQueueEntryID: ev.ToQueueEntryID})
		// §8 scenario 2: PassageStarted(P2) fires here, concurrent with
		// CrossfadeStarted, not delayed until P1's PassageComplete —
		// P2's audio already begins mixing in at this point.
		e.announcePassageStarted(ev.ToQueueEntryID)
	case mixer.CrossfadeMissed:
		slog.Warn("orchestrator: crossfade missed, next buffer not ready", "from", ev.FromQueueEntryID, "to", ev.ToQueueEntryID)
		e.publish(Event{Kind: EvPlaybackError, Message: fmt.Sprintf("crossfade missed: %s -> %s buffer not ready", ev.FromQueueEntryID, ev.ToQueueEntryID)})
	}
}

// handlePassageComplete implements the "Queue advance" flow of §4.9: it
// captures next/queued-head identity before removal, removes the completed
// entry, and re-requests decode at a bumped priority for whichever entry
// was promoted.
func (e *Engine) handlePassageComplete(queueEntryID string) {
	before := e.queue.Snapshot()
	var nextID, queuedFirstID string
	if before.Next != nil {
		nextID = before.Next.QueueEntryID
	}
	if len(before.Queued) > 0 {
		queuedFirstID = before.Queued[0].QueueEntryID
	}

	e.queue.Remove(queueEntryID)
	e.pool.Cancel(queueEntryID)
	e.releaseRecord(queueEntryID)

	after := e.queue.Snapshot()
	if after.Current != nil && nextID != "" && after.Current.QueueEntryID == nextID {
		if rec, ok := e.record(nextID); ok {
			e.registerAndSubmit(nextID, rec.spec, decodepool.Immediate)
		}
	}
	if after.Next != nil && queuedFirstID != "" && after.Next.QueueEntryID == queuedFirstID {
		if rec, ok := e.record(queuedFirstID); ok {
			e.registerAndSubmit(queuedFirstID, rec.spec, decodepool.Next)
		}
	}
	e.pool.ForceReevaluation()

	e.publish(Event{Kind: EvPassageCompleted, QueueEntryID: queueEntryID})
	e.broadcastQueueState()

	if after.Current != nil {
		e.maybeStartPromotedCurrent(*after.Current)
	}
}

// maybeStartPromotedCurrent handles the queue's new current entry after a
// promotion. If the mixer already auto-promoted this passage internally
// (the ordinary crossfade-completion case), only the bookkeeping a fresh
// start_mixer_for_current would have done remains; otherwise (no crossfade
// was running) it is started the normal way once ready.
func (e *Engine) maybeStartPromotedCurrent(entry queue.Entry) {
	if e.mixer.GetState() != mixer.None {
		e.finishPromotionBookkeeping(entry)
		return
	}
	if buf, ok := e.buffers.Buffer(entry.QueueEntryID); ok && buf.IsReadyForStart() {
		e.startMixerForCurrent(entry)
	}
}

// finishPromotionBookkeeping handles what remains once the mixer has
// already auto-promoted entry to current via a completed crossfade:
// PassageStarted/CurrentSongChanged were already announced when the
// crossfade began (handleMixerEvent's CrossfadeStarted case), so only the
// next-next crossfade preparation is left to do here.
func (e *Engine) finishPromotionBookkeeping(entry queue.Entry) {
	rec, ok := e.record(entry.QueueEntryID)
	if !ok {
		return
	}
	if nxt := e.queue.Snapshot().Next; nxt != nil {
		e.prepareCrossfadeForNext(entry, rec, nxt.QueueEntryID)
	}
}

// announcePassageStarted publishes PassageStarted, and CurrentSongChanged
// for its first song if it has a timeline, for queueEntryID. Called once
// per passage: either when the mixer starts it fresh (startMixerForCurrent)
// or when a crossfade into it begins (handleMixerEvent's CrossfadeStarted
// case) — whichever happens first for that passage.
func (e *Engine) announcePassageStarted(queueEntryID string) {
	rec, ok := e.record(queueEntryID)
	if !ok {
		return
	}
	e.publish(Event{Kind: EvPassageStarted, QueueEntryID: queueEntryID, PassageID: rec.spec.PassageID})
	if len(rec.spec.SongTimeline) > 0 {
		e.publish(Event{Kind: EvCurrentSongChanged, QueueEntryID: queueEntryID, PassageID: rec.spec.PassageID, SongID: rec.spec.SongTimeline[0].SongID})
	}
}

// startMixerForCurrent is the shared code path of §4.9 ("shared code path
// with watchdog"): it loads timing/song-timeline state already captured at
// enqueue time, installs the marker set and fade-in, and hands the buffer
// to the mixer.
func (e *Engine) startMixerForCurrent(entry queue.Entry) bool {
	if e.mixer.GetState() != mixer.None {
		return false
	}
	rec, ok := e.record(entry.QueueEntryID)
	if !ok {
		return false
	}
	buf, ok := e.buffers.Buffer(entry.QueueEntryID)
	if !ok {
		return false
	}

	if settings, err := e.cfg.Settings(); err == nil {
		e.settings = settings // §6.4: "read at startup, and on passage start"
	}

	e.mixer.SetCurrentPassage(rec.spec.PassageID, entry.QueueEntryID, buf, 0)
	e.installFullMarkerSet(e.mixer.AddMarker, rec.spec.Timing, rec.spec.SongTimeline)

	fadeInFrames := frameOffset(rec.spec.Timing.FadeInPointTick, rec.spec.Timing.StartTick, e.sampleRate)
	if fadeInFrames > 0 {
		e.mixer.ApplyFadeIn(rec.spec.Timing.FadeInCurve, uint64(fadeInFrames))
	}

	if nxt := e.queue.Snapshot().Next; nxt != nil {
		e.prepareCrossfadeForNext(entry, rec, nxt.QueueEntryID)
	}

	e.mu.Lock()
	e.audioExpected = true
	e.mu.Unlock()

	e.announcePassageStarted(entry.QueueEntryID)
	return true
}

// prepareCrossfadeForNext installs the crossfade-start marker on the
// current passage and the full marker set on the pending next passage
// (§4.7 "the orchestrator installs the marker then"). A no-op if current
// has already passed its fade-out point (no crossfade is attempted — the
// passage plays to completion and the next one starts fresh) or if next's
// buffer is not registered yet.
func (e *Engine) prepareCrossfadeForNext(curEntry queue.Entry, curRec *passageRecord, nextQueueEntryID string) {
	nextRec, ok := e.record(nextQueueEntryID)
	if !ok {
		return
	}
	nextBuf, ok := e.buffers.Buffer(nextQueueEntryID)
	if !ok {
		return
	}

	curTiming := curRec.spec.Timing
	fadeOutFrameOffset := frameOffset(curTiming.FadeOutPointTick, curTiming.StartTick, e.sampleRate)
	if tick.Tick(e.mixer.GetPosition()) >= fadeOutFrameOffset {
		return
	}

	nextTiming := nextRec.spec.Timing
	crossfadeTicks := minTick(curTiming.EndTick-curTiming.FadeOutPointTick, nextTiming.FadeInPointTick-nextTiming.StartTick)
	if crossfadeTicks < 0 {
		crossfadeTicks = 0
	}
	crossfadeFrames := uint64(crossfadeTicks.FrameAt(e.sampleRate))

	e.mixer.PrepareNext(nextRec.spec.PassageID, nextQueueEntryID, nextBuf, crossfadeFrames, curTiming.FadeOutCurve, nextTiming.FadeInCurve)
	e.mixer.AddMarker(fadeOutFrameOffset, marker.Event{
		Kind:             marker.StartCrossfade,
		NextQueueEntryID: nextQueueEntryID,
		NextPassageID:    nextRec.spec.PassageID,
	})
	e.installFullMarkerSet(e.mixer.AddMarkerToNext, nextTiming, nextRec.spec.SongTimeline)
}

// installFullMarkerSet installs position-update, song-boundary (excluding
// the first, emitted synchronously at passage start instead), and
// passage-complete markers (§4.7) via addFn — either Mixer.AddMarker (for
// the passage about to become, or already, current) or
// Mixer.AddMarkerToNext (for the passage prepared as next).
func (e *Engine) installFullMarkerSet(addFn func(tick.Tick, marker.Event), timing PassageTiming, songTimeline []SongTimelineEntry) {
	interval := tick.FromMillis(e.settings.PositionUpdateIntervalMS)
	if interval > 0 {
		for t := timing.StartTick + interval; t <= timing.EndTick; t += interval {
			addFn(frameOffset(t, timing.StartTick, e.sampleRate), marker.Event{Kind: marker.PositionUpdate, PositionMS: t.Millis()})
		}
	}
	for i, s := range songTimeline {
		if i == 0 {
			continue
		}
		addFn(frameOffset(s.StartTick, timing.StartTick, e.sampleRate), marker.Event{Kind: marker.SongBoundary, SongID: s.SongID})
	}
	addFn(frameOffset(timing.EndTick, timing.StartTick, e.sampleRate), marker.Event{Kind: marker.PassageComplete})
}

// frameOffset converts an absolute tick to a frame offset relative to
// start, matching the frame-indexed position space the mixer's marker
// heaps are actually keyed on (Mixer.GetPosition/SetCurrentPassage operate
// in frames, not microsecond ticks).
func frameOffset(t, start tick.Tick, sampleRate int) tick.Tick {
	return tick.Tick(t.FrameAt(sampleRate) - start.FrameAt(sampleRate))
}

func minTick(a, b tick.Tick) tick.Tick {
	if a < b {
		return a
	}
	return b
}

// bufferEventLoop relays buffer-manager state transitions into orchestrator
// action (§4.9 "Buffer ReadyForStart").
func (e *Engine) bufferEventLoop(sub *events.Subscription[buffermanager.BufferEvent]) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			e.handleBufferEvent(ev)
		}
	}
}

func (e *Engine) handleBufferEvent(ev buffermanager.BufferEvent) {
	if ev.Kind != buffermanager.ReadyForStart {
		return
	}
	e.publish(Event{Kind: EvBufferReady, QueueEntryID: ev.QueueEntryID})

	snap := e.queue.Snapshot()
	if snap.Current != nil && snap.Current.QueueEntryID == ev.QueueEntryID && e.mixer.GetState() == mixer.None {
		e.startMixerForCurrent(*snap.Current)
		return
	}
	if snap.Next != nil && snap.Next.QueueEntryID == ev.QueueEntryID && snap.Current != nil && e.mixer.GetState() != mixer.None {
		if curRec, ok := e.record(snap.Current.QueueEntryID); ok {
			e.prepareCrossfadeForNext(*snap.Current, curRec, ev.QueueEntryID)
		}
	}
}

// failureLoop relays per-passage fatal decode failures (§7) out of the
// queue and into a PlaybackError broadcast.
func (e *Engine) failureLoop(sub *events.Subscription[decodepool.DecodeFailed]) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			e.handleDecodeFailure(ev)
		}
	}
}

func (e *Engine) handleDecodeFailure(ev decodepool.DecodeFailed) {
	slog.Error("orchestrator: passage decode failed, removing from queue", "queue_entry_id", ev.QueueEntryID, "kind", ev.Kind, "error", ev.Err)
	e.publish(Event{Kind: EvPlaybackError, QueueEntryID: ev.QueueEntryID, Message: fmt.Sprintf("decode failed: %v", ev.Err)})

	wasCurrent := e.queue.Locate(ev.QueueEntryID) == queue.Current
	e.queue.Remove(ev.QueueEntryID)
	e.releaseRecord(ev.QueueEntryID)
	e.broadcastQueueState()

	if wasCurrent && e.mixer.GetState() != mixer.None {
		e.mixer.Reset()
	}
	if newCur := e.queue.Snapshot().Current; newCur != nil {
		e.maybeStartPromotedCurrent(*newCur)
	}
}

// watchdogLoop is the detection-only safety net of §4.9, firing every
// watchdog_interval_ms while audio is expected to be playing.
func (e *Engine) watchdogLoop() {
	defer e.wg.Done()
	interval := time.Duration(e.settings.WatchdogIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			expected := e.audioExpected
			e.mu.Unlock()
			if !expected {
				continue
			}
			e.runWatchdogPass()
		}
	}
}

func (e *Engine) runWatchdogPass() {
	snap := e.queue.Snapshot()

	if snap.Current != nil && !e.buffers.IsManaged(snap.Current.QueueEntryID) {
		if rec, ok := e.record(snap.Current.QueueEntryID); ok {
			e.registerAndSubmit(snap.Current.QueueEntryID, rec.spec, decodepool.Immediate)
			e.noteIntervention("decode", true, snap.Current.QueueEntryID)
		}
	}

	if snap.Current != nil && e.mixer.GetState() == mixer.None {
		if buf, ok := e.buffers.Buffer(snap.Current.QueueEntryID); ok && buf.IsReadyForStart() {
			if e.startMixerForCurrent(*snap.Current) {
				e.noteIntervention("mixer", true, snap.Current.QueueEntryID)
			}
		}
	}

	if snap.Next != nil && !e.buffers.IsManaged(snap.Next.QueueEntryID) {
		if rec, ok := e.record(snap.Next.QueueEntryID); ok {
			e.registerAndSubmit(snap.Next.QueueEntryID, rec.spec, decodepool.Next)
			e.noteIntervention("decode", false, snap.Next.QueueEntryID)
		}
	}

	limit := e.settings.MaxDecodeStreams - 2
	for i, q := range snap.Queued {
		if i >= limit {
			break
		}
		if !e.buffers.IsManaged(q.QueueEntryID) {
			if rec, ok := e.record(q.QueueEntryID); ok {
				e.registerAndSubmit(q.QueueEntryID, rec.spec, decodepool.Prefetch)
				e.noteIntervention("decode", false, q.QueueEntryID)
			}
		}
	}

	e.pool.ForceReevaluation()
	e.updateGauges(snap)
}

func (e *Engine) updateGauges(snap queue.Snapshot) {
	if e.metrics == nil {
		return
	}
	depth := len(snap.Queued)
	if snap.Next != nil {
		depth++
	}
	if snap.Current != nil {
		depth++
	}
	e.metrics.QueueDepth.Set(float64(depth))
	e.metrics.ActiveDecodeStreams.Set(float64(e.buffers.ActiveChains()))

	queueEntryID := ""
	if snap.Current != nil {
		queueEntryID = snap.Current.QueueEntryID
	}
	underruns := e.ring.Underruns()
	graceUnderruns := e.ring.GraceUnderruns()
	if underruns > e.lastRingUnderruns {
		e.metrics.RingBufferUnderruns.WithLabelValues(queueEntryID).Add(float64(underruns - e.lastRingUnderruns))
	}
	if graceUnderruns > e.lastRingGraceUnderruns {
		e.metrics.RingBufferGraceUnderruns.WithLabelValues(queueEntryID).Add(float64(graceUnderruns - e.lastRingGraceUnderruns))
	}
	e.lastRingUnderruns = underruns
	e.lastRingGraceUnderruns = graceUnderruns
}

func (e *Engine) noteIntervention(kind string, warn bool, queueEntryID string) {
	total := e.interventions.Add(1)
	if e.metrics != nil {
		e.metrics.WatchdogInterventionsTotal.WithLabelValues(kind).Inc()
	}
	if warn {
		slog.Warn("orchestrator: watchdog intervention", "type", kind, "queue_entry_id", queueEntryID)
	} else {
		slog.Debug("orchestrator: watchdog intervention", "type", kind, "queue_entry_id", queueEntryID)
	}
	e.publish(Event{Kind: EvWatchdogIntervention, InterventionType: kind, InterventionsTotal: total})
}

// progressLoop broadcasts the coarse PlaybackProgress event at
// progress_event_interval_ms (§6.2, default 5 s).
func (e *Engine) progressLoop() {
	defer e.wg.Done()
	interval := time.Duration(e.settings.ProgressEventIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			snap := e.queue.Snapshot()
			if snap.Current == nil {
				continue
			}
			rec, ok := e.record(snap.Current.QueueEntryID)
			if !ok {
				continue
			}
			positionMS := int64(e.mixer.GetPosition()) * 1000 / int64Max1(e.sampleRate)
			durationMS := rec.spec.Timing.EndTick.Millis() - rec.spec.Timing.StartTick.Millis()
			e.publish(Event{
				Kind:         EvPlaybackProgress,
				QueueEntryID: snap.Current.QueueEntryID,
				PositionMS:   positionMS,
				DurationMS:   durationMS,
			})
		}
	}
}
