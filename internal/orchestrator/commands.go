package orchestrator

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/wkmp/audiocore/internal/decodepool"
	"github.com/wkmp/audiocore/internal/mixer"
	"github.com/wkmp/audiocore/internal/queue"
)

// Enqueue implements the Enqueue command (§6.1, §4.9 "Enqueue"): it places
// the passage in the first free slot, registers and submits its decode at
// the slot-derived priority, and — if it landed in next while a current
// passage is already playing — installs the crossfade-start marker and
// next's own marker set right away (§4.7 "if next arrives later... the
// orchestrator installs the marker then").
func (e *Engine) Enqueue(req EnqueueRequest) (string, error) {
	if err := req.Timing.Validate(); err != nil {
		return "", err
	}

	spec := req.PassageSpec
	if spec.PassageID == "" {
		spec.PassageID = uuid.NewString()
	}
	queueEntryID := newQueueEntryID()

	e.mu.Lock()
	e.records[queueEntryID] = &passageRecord{spec: spec, chainSlot: -1}
	e.mu.Unlock()

	slot := e.queue.Enqueue(queue.Entry{QueueEntryID: queueEntryID, PassageID: spec.PassageID})

	var priority decodepool.Priority
	switch slot {
	case queue.Current:
		priority = decodepool.Immediate
	case queue.Next:
		priority = decodepool.Next
	default:
		priority = decodepool.Prefetch
	}

	e.registerAndSubmit(queueEntryID, spec, priority)
	e.pool.ForceReevaluation()
	e.broadcastQueueState()

	if slot == queue.Next && e.mixer.GetState() != mixer.None {
		if cur := e.queue.Snapshot().Current; cur != nil {
			if curRec, ok := e.record(cur.QueueEntryID); ok {
				e.prepareCrossfadeForNext(*cur, curRec, queueEntryID)
			}
		}
	}

	return queueEntryID, nil
}

// Remove implements the Remove command (§6.1).
func (e *Engine) Remove(queueEntryID string) error {
	slot := e.queue.Remove(queueEntryID)
	if slot == queue.NoSlot {
		return ErrNotFound
	}
	e.pool.Cancel(queueEntryID)
	e.releaseRecord(queueEntryID)
	e.broadcastQueueState()
	return nil
}

// Reorder implements the Reorder command (§6.1). Only entries in the
// queued tail may be reordered; current/next are untouched (§4.8).
func (e *Engine) Reorder(queueEntryID string, newIndex int) error {
	if e.queue.Locate(queueEntryID) != queue.Queued {
		return ErrNotFound
	}
	snap := e.queue.Snapshot()
	if newIndex < 0 || newIndex >= len(snap.Queued) {
		return ErrIndexOutOfRange
	}
	e.queue.Reorder(queueEntryID, newIndex)
	e.broadcastQueueState()
	return nil
}

// Play implements the Play command: it sets audio_expected so the producer
// loop resumes pushing mixed frames. Starting the mixer's own state
// machine is event-driven (ReadyForStart / watchdog) and independent of
// this flag (§3: audio_expected is "true ⇔ playing, not paused, current
// passage set").
func (e *Engine) Play() error {
	e.mu.Lock()
	e.audioExpected = true
	e.mu.Unlock()
	return nil
}

// Pause implements the Pause command: it clears audio_expected so the
// producer loop stops pushing frames, without touching decoders or the
// mixer's internal state (§5: "a pause while decoding does not stop
// decoders").
func (e *Engine) Pause() error {
	e.mu.Lock()
	e.audioExpected = false
	e.mu.Unlock()
	return nil
}

// Skip implements the Skip command: stop the mixer, remove the current
// entry, and let queue promotion + event-driven flow start the new current
// (§4.9 "skip stops the mixer, removes the current entry, and relies on
// queue promotion + event-driven flow to start the new current").
func (e *Engine) Skip() error {
	snap := e.queue.Snapshot()
	if snap.Current == nil {
		return ErrQueueEmpty
	}
	id := snap.Current.QueueEntryID

	e.mixer.Reset()
	e.queue.Remove(id)
	e.pool.Cancel(id)
	e.releaseRecord(id)
	e.broadcastQueueState()

	if newCur := e.queue.Snapshot().Current; newCur != nil {
		e.maybeStartPromotedCurrent(*newCur)
	}
	return nil
}

// ClearQueued implements the Clear Queued command (§6.1): only the queued
// tail is emptied; current and next are unaffected (§4.8).
func (e *Engine) ClearQueued() error {
	for _, q := range e.queue.Snapshot().Queued {
		e.pool.Cancel(q.QueueEntryID)
		e.releaseRecord(q.QueueEntryID)
	}
	e.queue.ClearQueued()
	e.broadcastQueueState()
	return nil
}

// SetVolume implements the Set Volume command (§6.1): volume is applied by
// the producer loop to every mixed frame before it reaches the ring buffer.
func (e *Engine) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return ErrVolumeOutOfRange
	}
	e.mu.Lock()
	e.volume = volume
	e.mu.Unlock()
	e.publish(Event{Kind: EvVolumeChanged, Volume: volume})
	return nil
}

// WatchdogStatus implements the Get Watchdog Status command (§6.1): a
// non-zero count indicates an event-system bug (§4.9).
func (e *Engine) WatchdogStatus() uint64 {
	return e.interventions.Load()
}

func (e *Engine) releaseRecord(queueEntryID string) {
	e.buffers.Release(queueEntryID)
	e.mu.Lock()
	delete(e.records, queueEntryID)
	e.mu.Unlock()
}

// registerAndSubmit allocates a decode-chain slot and registers the buffer
// if this is the first time queueEntryID is seen (idempotent via
// buffermanager.IsManaged — §4.9 step "Register buffer + submit decode
// (idempotent)"). A failed allocation is logged and left for the watchdog
// to retry (§7 "NoChainAvailable on prefetch: silently deferred... on
// current/next: watchdog re-requests each tick").
func (e *Engine) registerAndSubmit(queueEntryID string, spec PassageSpec, priority decodepool.Priority) {
	slot := e.chainSlotOf(queueEntryID)
	if e.buffers.IsManaged(queueEntryID) {
		e.pool.Submit(decodepool.Work{
			QueueEntryID: queueEntryID,
			FileRef:      spec.FileRef,
			ChainSlot:    slot,
			Priority:     priority,
			StartTick:    spec.Timing.StartTick,
			EndTick:      spec.Timing.EndTick,
		})
		return
	}

	slot, err := e.buffers.Allocate(queueEntryID)
	if err != nil {
		if priority == decodepool.Prefetch {
			slog.Debug("orchestrator: prefetch deferred, no decode chain available", "queue_entry_id", queueEntryID)
		} else {
			slog.Warn("orchestrator: no decode chain available", "queue_entry_id", queueEntryID, "priority", priority)
		}
		return
	}

	e.mu.Lock()
	if rec, ok := e.records[queueEntryID]; ok {
		rec.chainSlot = slot
	}
	e.mu.Unlock()

	e.buffers.Register(queueEntryID, slot, spec.FileRef)
	e.pool.Submit(decodepool.Work{
		QueueEntryID: queueEntryID,
		FileRef:      spec.FileRef,
		ChainSlot:    slot,
		Priority:     priority,
		StartTick:    spec.Timing.StartTick,
		EndTick:      spec.Timing.EndTick,
	})
}

func (e *Engine) chainSlotOf(queueEntryID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.records[queueEntryID]; ok {
		return rec.chainSlot
	}
	return -1
}

func (e *Engine) broadcastQueueState() {
	e.publish(Event{Kind: EvQueueStateUpdate, QueueState: e.queue.Snapshot()})
}
