package ringbuffer

import (
	"testing"
	"time"
)

func TestNewRoundsToPowerOf2(t *testing.T) {
	tests := []struct {
		input, want uint64
	}{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {100, 128}, {1024, 1024},
	}
	for _, tt := range tests {
		rb := New(tt.input, 0)
		if rb.Capacity() != tt.want {
			t.Errorf("New(%d): capacity = %d, want %d", tt.input, rb.Capacity(), tt.want)
		}
	}
}

func TestPushPopOrderPreserved(t *testing.T) {
	rb := New(8, 0)
	for i := 0; i < 5; i++ {
		if ok := rb.Push(Frame{Left: float32(i), Right: float32(-i)}); !ok {
			t.Fatalf("Push(%d) failed unexpectedly", i)
		}
	}
	for i := 0; i < 5; i++ {
		f, ok := rb.Pop()
		if !ok {
			t.Fatalf("Pop() %d: underran unexpectedly", i)
		}
		if f.Left != float32(i) || f.Right != float32(-i) {
			t.Errorf("Pop() %d: got %+v, want {%d %d}", i, f, i, -i)
		}
	}
}

func TestPushFailsWhenFull(t *testing.T) {
	rb := New(4, 0)
	for i := 0; i < 4; i++ {
		if !rb.Push(Frame{}) {
			t.Fatalf("Push %d should have succeeded", i)
		}
	}
	if rb.Push(Frame{}) {
		t.Error("Push on full buffer should return false")
	}
}

func TestPopUnderrunReturnsFalse(t *testing.T) {
	rb := New(4, 0)
	_, ok := rb.Pop()
	if ok {
		t.Error("Pop on empty buffer should return false")
	}
	if rb.Underruns() != 1 {
		t.Errorf("Underruns() = %d, want 1", rb.Underruns())
	}
}

func TestGracePeriodUnderrunsCountedSeparately(t *testing.T) {
	rb := New(4, time.Hour)
	rb.Pop()
	rb.Pop()
	if rb.GraceUnderruns() != 2 {
		t.Errorf("GraceUnderruns() = %d, want 2", rb.GraceUnderruns())
	}
	if rb.Underruns() != 0 {
		t.Errorf("Underruns() = %d, want 0 (within grace period)", rb.Underruns())
	}
}

func TestWraparound(t *testing.T) {
	rb := New(4, 0)
	// Fill, drain, refill repeatedly to exercise the wrap.
	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			rb.Push(Frame{Left: float32(round*10 + i)})
		}
		for i := 0; i < 4; i++ {
			f, ok := rb.Pop()
			if !ok {
				t.Fatalf("round %d: unexpected underrun at %d", round, i)
			}
			if f.Left != float32(round*10+i) {
				t.Errorf("round %d index %d: got %f, want %f", round, i, f.Left, float32(round*10+i))
			}
		}
	}
}

func TestResetClearsPositions(t *testing.T) {
	rb := New(4, 0)
	rb.Push(Frame{Left: 1})
	rb.Push(Frame{Left: 2})
	rb.Reset()
	if rb.AvailableRead() != 0 {
		t.Errorf("AvailableRead() after Reset = %d, want 0", rb.AvailableRead())
	}
	if rb.AvailableWrite() != rb.Capacity() {
		t.Errorf("AvailableWrite() after Reset = %d, want %d", rb.AvailableWrite(), rb.Capacity())
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	rb := New(64, 0)
	const total = 10_000
	done := make(chan struct{})

	go func() {
		defer close(done)
		written := 0
		for written < total {
			if rb.Push(Frame{Left: float32(written)}) {
				written++
			}
		}
	}()

	received := 0
	var lastSeen float32 = -1
	for received < total {
		f, ok := rb.Pop()
		if !ok {
			continue
		}
		if f.Left <= lastSeen {
			t.Fatalf("frame out of order: got %f after %f", f.Left, lastSeen)
		}
		lastSeen = f.Left
		received++
	}
	<-done
}
