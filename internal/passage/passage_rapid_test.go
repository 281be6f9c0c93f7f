package passage

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/wkmp/audiocore/internal/ringbuffer"
)

// TestBufferInvariantsUnderRandomAppends drives random Append/Finalise/
// ReadRange sequences and checks the §4.2 invariants: ReadRange never
// returns more than what was actually written, IsExhausted is false until
// Finalise has run, and SamplesWritten only grows.
func TestBufferInvariantsUnderRandomAppends(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := New()
		var written uint64
		finalised := false

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 2).Draw(t, "op")
			switch op {
			case 0:
				n := rapid.IntRange(0, 50).Draw(t, "append_n")
				err := b.Append(make([]ringbuffer.Frame, n))
				if finalised {
					if err != ErrFinalised {
						t.Fatalf("Append after Finalise = %v, want ErrFinalised", err)
					}
				} else {
					if err != nil {
						t.Fatalf("Append: %v", err)
					}
					written += uint64(n)
				}
			case 1:
				b.Finalise()
				finalised = true
			case 2:
				offset := uint64(rapid.IntRange(0, 100).Draw(t, "read_offset"))
				length := uint64(rapid.IntRange(0, 100).Draw(t, "read_length"))
				got := b.ReadRange(offset, length)
				if uint64(len(got)) > length {
					t.Fatalf("ReadRange returned %d frames, more than requested %d", len(got), length)
				}
				if offset < written {
					maxAvailable := written - offset
					if uint64(len(got)) > maxAvailable {
						t.Fatalf("ReadRange returned %d frames, more than the %d actually written from offset %d", len(got), maxAvailable, offset)
					}
				} else if len(got) != 0 {
					t.Fatalf("ReadRange past the written frontier returned %d frames, want 0", len(got))
				}
			}

			if sw := b.SamplesWritten(); sw != written {
				t.Fatalf("SamplesWritten = %d, want %d", sw, written)
			}
			if !finalised && b.IsExhausted(written) {
				t.Fatal("IsExhausted true before Finalise")
			}
			if finalised && !b.IsExhausted(written) {
				t.Fatal("IsExhausted false at the finalised frontier")
			}
		}
	})
}
