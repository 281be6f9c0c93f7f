package mixer

import (
	"testing"

	"github.com/wkmp/audiocore/internal/fadecurve"
	"github.com/wkmp/audiocore/internal/marker"
	"github.com/wkmp/audiocore/internal/passage"
	"github.com/wkmp/audiocore/internal/ringbuffer"
)

func frames(n int, fill float32) []ringbuffer.Frame {
	out := make([]ringbuffer.Frame, n)
	for i := range out {
		out[i] = ringbuffer.Frame{Left: fill, Right: fill}
	}
	return out
}

func TestMixSinglePassageProducesDecodedFrames(t *testing.T) {
	buf := passage.New()
	buf.Append(frames(100, 0.5))
	buf.Finalise()

	m := New(44100)
	m.SetCurrentPassage("p1", "q1", buf, 0)

	out, _ := m.Mix(10)
	if len(out) != 10 {
		t.Fatalf("Mix produced %d frames, want 10", len(out))
	}
	for i, f := range out {
		if f.Left != 0.5 || f.Right != 0.5 {
			t.Errorf("frame %d = %+v, want {0.5 0.5}", i, f)
		}
	}
	if got := m.GetPosition(); got != 10 {
		t.Errorf("GetPosition() = %d, want 10", got)
	}
}

func TestMixUnderrunProducesSilence(t *testing.T) {
	buf := passage.New()
	buf.Append(frames(5, 1))
	// Not finalised: reading past samples_written is a transient miss.

	m := New(44100)
	m.SetCurrentPassage("p1", "q1", buf, 0)

	out, _ := m.Mix(10)
	if len(out) != 10 {
		t.Fatalf("Mix produced %d frames, want 10 (gaps filled with silence)", len(out))
	}
	for i := 5; i < 10; i++ {
		if out[i].Left != 0 || out[i].Right != 0 {
			t.Errorf("frame %d = %+v, want silence", i, out[i])
		}
	}
}

func TestMixExhaustionTransitionsToNoneAndEmitsPassageComplete(t *testing.T) {
	buf := passage.New()
	buf.Append(frames(5, 1))
	buf.Finalise()

	m := New(44100)
	m.SetCurrentPassage("p1", "q1", buf, 0)

	out, events := m.Mix(10)
	if len(out) != 5 {
		t.Fatalf("Mix produced %d frames, want 5 (buffer exhausted)", len(out))
	}
	if m.GetState() != None {
		t.Errorf("GetState() = %v, want None after exhaustion", m.GetState())
	}

	var sawComplete bool
	for _, ev := range events {
		if ev.Kind == PassageComplete && ev.QueueEntryID == "q1" {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Errorf("events = %+v, want a PassageComplete for q1", events)
	}
}

func TestApplyFadeInRampsGain(t *testing.T) {
	buf := passage.New()
	buf.Append(frames(10, 1))
	buf.Finalise()

	m := New(44100)
	m.SetCurrentPassage("p1", "q1", buf, 0)
	m.ApplyFadeIn(fadecurve.Linear, 10)

	out, _ := m.Mix(10)
	if out[0].Left != 0 {
		t.Errorf("frame 0 during fade-in = %f, want ~0", out[0].Left)
	}
	if out[9].Left <= out[0].Left {
		t.Errorf("fade-in did not ramp up: frame0=%f frame9=%f", out[0].Left, out[9].Left)
	}
}

func TestPositionUpdateMarkerFires(t *testing.T) {
	buf := passage.New()
	buf.Append(frames(20, 1))
	buf.Finalise()

	m := New(44100)
	m.SetCurrentPassage("p1", "q1", buf, 0)
	m.AddMarker(10, marker.Event{Kind: marker.PositionUpdate, PositionMS: 227})

	_, events := m.Mix(15)
	var found bool
	for _, ev := range events {
		if ev.Kind == PositionUpdate && ev.PositionMS == 227 {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %+v, want a PositionUpdate(227)", events)
	}
}

func TestCrossfadeStartsWhenNextReady(t *testing.T) {
	curBuf := passage.New()
	curBuf.Append(frames(20, 1))
	curBuf.Finalise()

	nextBuf := passage.New()
	nextBuf.Append(frames(20, 1))
	nextBuf.Finalise()
	nextBuf.MarkReadyForStartEmitted() // mark next as ReadyForStart

	m := New(44100)
	m.SetCurrentPassage("p1", "q1", curBuf, 0)
	m.PrepareNext("p2", "q2", nextBuf, 10, fadecurve.Linear, fadecurve.Linear)
	m.AddMarker(5, marker.Event{Kind: marker.StartCrossfade, NextQueueEntryID: "q2", NextPassageID: "p2"})

	_, events := m.Mix(6)
	if m.GetState() != Crossfading {
		t.Fatalf("GetState() = %v, want Crossfading", m.GetState())
	}

	var sawStarted bool
	for _, ev := range events {
		if ev.Kind == CrossfadeStarted && ev.FromQueueEntryID == "q1" && ev.ToQueueEntryID == "q2" {
			sawStarted = true
		}
	}
	if !sawStarted {
		t.Errorf("events = %+v, want CrossfadeStarted(q1->q2)", events)
	}
}

func TestCrossfadeMissedWhenNextNotReady(t *testing.T) {
	curBuf := passage.New()
	curBuf.Append(frames(20, 1))
	curBuf.Finalise()

	nextBuf := passage.New() // never marked ready

	m := New(44100)
	m.SetCurrentPassage("p1", "q1", curBuf, 0)
	m.PrepareNext("p2", "q2", nextBuf, 10, fadecurve.Linear, fadecurve.Linear)
	m.AddMarker(5, marker.Event{Kind: marker.StartCrossfade, NextQueueEntryID: "q2", NextPassageID: "p2"})

	_, events := m.Mix(6)
	if m.GetState() != SinglePassage {
		t.Fatalf("GetState() = %v, want SinglePassage (missed crossfade stays single)", m.GetState())
	}

	var sawMissed bool
	for _, ev := range events {
		if ev.Kind == CrossfadeMissed && ev.FromQueueEntryID == "q1" {
			sawMissed = true
		}
	}
	if !sawMissed {
		t.Errorf("events = %+v, want CrossfadeMissed(q1)", events)
	}
}

func TestCrossfadeMixesWithEqualPowerGains(t *testing.T) {
	curBuf := passage.New()
	curBuf.Append(frames(100, 1))
	curBuf.Finalise()

	// next is silent so the mixed output is current's fade-out gain alone;
	// with both at 1.0 the output would stay 1.0, since gOut+gIn == 1.
	nextBuf := passage.New()
	nextBuf.Append(frames(100, 0))
	nextBuf.Finalise()
	nextBuf.MarkReadyForStartEmitted()

	m := New(44100)
	m.SetCurrentPassage("p1", "q1", curBuf, 0)
	m.PrepareNext("p2", "q2", nextBuf, 10, fadecurve.EqualPower, fadecurve.EqualPower)
	m.AddMarker(0, marker.Event{Kind: marker.StartCrossfade})

	_, _ = m.Mix(1) // single-passage frame that trips the StartCrossfade marker
	if m.GetState() != Crossfading {
		t.Fatalf("GetState() = %v, want Crossfading", m.GetState())
	}

	// First true crossfade frame: crossfadeElapsed is still 0 here (the
	// transition above advanced positions before installing the fade), so
	// gOut=FadeOutGain(EqualPower,0)=1 — current still dominates fully.
	out2, _ := m.Mix(1)
	if out2[0].Left < 0.99 {
		t.Errorf("first true crossfade frame Left = %f, want ~1 (gOut=1 at t=0)", out2[0].Left)
	}

	// Second crossfade frame: crossfadeElapsed is now 1 of 10, so gOut has
	// started falling below 1.
	out3, _ := m.Mix(1)
	if out3[0].Left >= out2[0].Left {
		t.Errorf("crossfade gain should be decreasing for current: frame0=%f frame1=%f", out2[0].Left, out3[0].Left)
	}
}

func TestPromoteNextToCurrentOnCrossfadeCompletion(t *testing.T) {
	curBuf := passage.New()
	curBuf.Append(frames(5, 1)) // short: exhausts mid-crossfade
	curBuf.Finalise()

	nextBuf := passage.New()
	nextBuf.Append(frames(50, 0.25))
	nextBuf.Finalise()
	nextBuf.MarkReadyForStartEmitted()

	m := New(44100)
	m.SetCurrentPassage("p1", "q1", curBuf, 0)
	m.PrepareNext("p2", "q2", nextBuf, 20, fadecurve.Linear, fadecurve.Linear)
	m.AddMarker(0, marker.Event{Kind: marker.StartCrossfade})

	_, events := m.Mix(1) // start crossfade
	_, events2 := m.Mix(10) // current (5 frames left) exhausts, should promote next

	var sawComplete bool
	for _, ev := range append(events, events2...) {
		if ev.Kind == PassageComplete && ev.QueueEntryID == "q1" {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Errorf("events = %+v, want PassageComplete for q1 on promotion", append(events, events2...))
	}
	if m.GetState() != SinglePassage {
		t.Errorf("GetState() after promotion = %v, want SinglePassage", m.GetState())
	}
}
