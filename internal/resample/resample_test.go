package resample

import (
	"bytes"
	"testing"
)

func TestPassthroughWhenRatesMatch(t *testing.T) {
	c, err := New(44100, 44100, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := []byte{1, 2, 3, 4}
	out, err := c.Write(in)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("Write passthrough = %v, want %v", out, in)
	}
}

func TestPassthroughCloseIsHarmless(t *testing.T) {
	c, err := New(48000, 48000, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := c.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out != nil {
		t.Errorf("Close passthrough = %v, want nil", out)
	}
}
