// Package decodepool drives source-to-buffer decoding under a priority
// schedule: Immediate work (the currently playing passage) always starves
// out Next (the up-next passage) and Prefetch (queued passages) work
// (§4.4).
//
// No teacher component schedules work; this is grounded on the general
// producer/consumer goroutine-pool idiom the teacher uses in
// pkg/audioplayer/player.go (named goroutines synchronised over channels
// and a sync.WaitGroup), scaled out from one producer/consumer pair to N
// interchangeable workers pulling from a single priority queue.
package decodepool

import (
	"container/heap"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/wkmp/audiocore/internal/buffermanager"
	"github.com/wkmp/audiocore/internal/events"
	"github.com/wkmp/audiocore/internal/ringbuffer"
	"github.com/wkmp/audiocore/internal/sourcedecoder"
	"github.com/wkmp/audiocore/internal/resample"
	"github.com/wkmp/audiocore/internal/tick"
)

// Priority orders pending decode work. Higher values run first.
type Priority int

const (
	Prefetch Priority = iota
	Next
	Immediate
)

func (p Priority) String() string {
	switch p {
	case Immediate:
		return "Immediate"
	case Next:
		return "Next"
	case Prefetch:
		return "Prefetch"
	default:
		return "Unknown"
	}
}

// Work describes one passage's decode request (§4.4 submit).
type Work struct {
	QueueEntryID string
	FileRef      string
	ChainSlot    int
	Priority     Priority

	// StartTick/EndTick bound the decoded range; zero EndTick means
	// decode to end-of-file.
	StartTick tick.Tick
	EndTick   tick.Tick
}

// FailureKind classifies a DecodeFailed event (§4.4).
type FailureKind int

const (
	FileNotFound FailureKind = iota
	UnsupportedFormat
	DecodeError
	ResampleError
)

// DecodeFailed is published when a decode cannot proceed (§4.4).
type DecodeFailed struct {
	QueueEntryID string
	Kind         FailureKind
	Err          error
}

const defaultChunkFrames = 8192

// Pool is a fixed-size priority-scheduled decoder worker pool.
type Pool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	items     workHeap
	pending   map[string]*workItem
	cancelled map[string]bool
	closed    bool

	buffers     *buffermanager.Manager
	targetRate  int
	chunkFrames int
	seqCounter  uint64

	failures *events.Bus[DecodeFailed]

	wg sync.WaitGroup
}

type workItem struct {
	work  Work
	seq   uint64
	index int
}

// New constructs a pool of the given worker count. targetRate is the
// mixer's sample rate (§1: "normalised stereo f32 at 44 100 Hz"); buffers
// is the manager the workers append decoded frames into and notify.
func New(workers int, targetRate int, buffers *buffermanager.Manager) *Pool {
	p := &Pool{
		pending:     make(map[string]*workItem),
		cancelled:   make(map[string]bool),
		buffers:     buffers,
		targetRate:  targetRate,
		chunkFrames: defaultChunkFrames,
		failures:    events.New[DecodeFailed](),
	}
	p.cond = sync.NewCond(&p.mu)
	heap.Init(&p.items)

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return p
}

// SubscribeFailures returns a live subscription to DecodeFailed events.
func (p *Pool) SubscribeFailures(buffer int) *events.Subscription[DecodeFailed] {
	return p.failures.Subscribe(buffer)
}

// Submit enqueues work. It is idempotent on QueueEntryID: resubmitting an
// item still pending updates its priority in place (§4.4: "used after
// priority-changing events, e.g. enqueue promotes a prefetch to
// immediate"); resubmitting an item already picked up by a worker, or
// already finished, is a no-op.
func (p *Pool) Submit(w Work) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.pending[w.QueueEntryID]; ok {
		existing.work = w
		heap.Fix(&p.items, existing.index)
		p.cond.Signal()
		return
	}

	p.seqCounter++
	item := &workItem{work: w, seq: p.seqCounter}
	p.pending[w.QueueEntryID] = item
	heap.Push(&p.items, item)
	p.cond.Signal()
}

// ForceReevaluation re-sorts pending work. Submit already keeps the heap
// invariant current on every priority change, so this is a defensive
// re-sort for callers that mutated priorities by some other path.
func (p *Pool) ForceReevaluation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	heap.Init(&p.items)
}

// Cancel cooperatively cancels queueEntryID's decode. Partially written
// samples are retained; the worker simply stops producing more (§4.4).
func (p *Pool) Cancel(queueEntryID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled[queueEntryID] = true
	if item, ok := p.pending[queueEntryID]; ok {
		p.removeLocked(item)
	}
}

func (p *Pool) removeLocked(item *workItem) {
	if item.index >= 0 && item.index < len(p.items) && p.items[item.index] == item {
		heap.Remove(&p.items, item.index)
	}
	delete(p.pending, item.work.QueueEntryID)
}

func (p *Pool) isCancelled(queueEntryID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled[queueEntryID]
}

// Close stops accepting new work and waits for in-flight decodes to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) popHighest() (Work, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.items) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed && len(p.items) == 0 {
		return Work{}, false
	}
	item := heap.Pop(&p.items).(*workItem)
	delete(p.pending, item.work.QueueEntryID)
	return item.work, true
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for {
		work, ok := p.popHighest()
		if !ok {
			return
		}
		p.decode(work)
	}
}

// decode runs one passage's full decode-and-skip pass (§4.4, §9:
// "decode-and-skip is preferred over seek"). The source is always decoded
// from its own frame 0 — never sought — but frames produced before
// w.StartTick are discarded, and decoding stops once w.EndTick is reached
// (a zero EndTick means decode to end-of-file). buf is finalised at that
// bounded position rather than at true EOF, so buf.IsExhausted becomes
// true exactly when the mixer should stop reading this passage.
func (p *Pool) decode(w Work) {
	buf := p.buffers.Register(w.QueueEntryID, w.ChainSlot, w.FileRef)

	dec, err := sourcedecoder.New(w.FileRef)
	if err != nil {
		p.reportFailure(w.QueueEntryID, classifyOpenError(err), err)
		buf.Finalise()
		return
	}
	defer dec.Close()

	srcRate, channels, bps := dec.GetFormat()
	conv, err := resample.New(srcRate, p.targetRate, channels)
	if err != nil {
		p.reportFailure(w.QueueEntryID, ResampleError, err)
		buf.Finalise()
		return
	}

	bytesPerFrame := channels * (bps / 8)
	raw := make([]byte, p.chunkFrames*bytesPerFrame)

	startFrame := w.StartTick.FrameAt(p.targetRate)
	hasEnd := w.EndTick > 0
	var endFrame int64
	if hasEnd {
		endFrame = w.EndTick.FrameAt(p.targetRate)
	}
	var produced int64

	appendTrimmed := func(frames []ringbuffer.Frame) bool {
		chunkStart := produced
		produced += int64(len(frames))
		lo, hi := trimFrameRange(chunkStart, int64(len(frames)), startFrame, endFrame, hasEnd)
		if hi <= lo {
			return true
		}
		kept := frames[lo:hi]
		if err := buf.Append(kept); err != nil {
			slog.Error("decodepool: append to finalised buffer", "queue_entry_id", w.QueueEntryID, "error", err)
			return false
		}
		p.buffers.NotifySamplesAppended(w.QueueEntryID, len(kept))
		return true
	}

	for {
		if p.isCancelled(w.QueueEntryID) {
			break
		}
		if hasEnd && produced >= endFrame {
			break
		}

		n, decErr := dec.DecodeSamples(p.chunkFrames, raw)
		if n > 0 {
			resampled, rsErr := conv.Write(raw[:n*bytesPerFrame])
			if rsErr != nil {
				p.reportFailure(w.QueueEntryID, ResampleError, rsErr)
				break
			}
			if !appendTrimmed(pcm16ToFrames(resampled, channels)) {
				break
			}
		}

		if decErr != nil {
			if !errors.Is(decErr, io.EOF) {
				p.reportFailure(w.QueueEntryID, DecodeError, decErr)
			}
			break
		}
		if n == 0 {
			break
		}
	}

	if tail, err := conv.Close(); err == nil && len(tail) > 0 {
		appendTrimmed(pcm16ToFrames(tail, channels))
	}

	p.buffers.Finalise(w.QueueEntryID)
}

// trimFrameRange returns the [lo, hi) slice bounds, relative to a chunk of
// chunkLen frames starting at the absolute (post-resample) frame index
// chunkStart, that fall inside [startFrame, endFrame) — endFrame is
// ignored when hasEnd is false. hi <= lo means nothing in this chunk
// should be kept.
func trimFrameRange(chunkStart, chunkLen, startFrame, endFrame int64, hasEnd bool) (lo, hi int64) {
	lo = startFrame - chunkStart
	if lo < 0 {
		lo = 0
	}
	hi = chunkLen
	if hasEnd {
		if endInChunk := endFrame - chunkStart; endInChunk < hi {
			hi = endInChunk
		}
	}
	if hi < 0 {
		hi = 0
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

func classifyOpenError(err error) FailureKind {
	if errors.Is(err, sourcedecoder.ErrUnsupportedFormat) {
		return UnsupportedFormat
	}
	return FileNotFound
}

func (p *Pool) reportFailure(queueEntryID string, kind FailureKind, err error) {
	slog.Warn("decodepool: decode failed", "queue_entry_id", queueEntryID, "kind", kind, "error", err)
	p.failures.Publish(DecodeFailed{QueueEntryID: queueEntryID, Kind: kind, Err: err})
}

// pcm16ToFrames converts interleaved 16-bit PCM into stereo float32 frames,
// upmixing mono sources by duplicating the single channel into both
// outputs (§1: "normalised stereo f32").
func pcm16ToFrames(pcm []byte, channels int) []ringbuffer.Frame {
	bytesPerFrame := channels * 2
	count := len(pcm) / bytesPerFrame
	out := make([]ringbuffer.Frame, count)
	for i := 0; i < count; i++ {
		base := i * bytesPerFrame
		left := int16(uint16(pcm[base]) | uint16(pcm[base+1])<<8)
		var right int16
		if channels >= 2 {
			right = int16(uint16(pcm[base+2]) | uint16(pcm[base+3])<<8)
		} else {
			right = left
		}
		out[i] = ringbuffer.Frame{
			Left:  float32(left) / 32768,
			Right: float32(right) / 32768,
		}
	}
	return out
}
