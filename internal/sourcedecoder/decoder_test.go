package sourcedecoder

import (
	"errors"
	"testing"
)

func TestNewUnsupportedExtension(t *testing.T) {
	_, err := New("song.aiff")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("New(.aiff) err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNewMissingFileWrapsOpenError(t *testing.T) {
	_, err := New("/no/such/path/song.wav")
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestWavDecodeSamplesWithoutOpen(t *testing.T) {
	d := newWavDecoder()
	buf := make([]byte, 1024)
	if _, err := d.DecodeSamples(len(buf), buf); !errors.Is(err, ErrNotOpen) {
		t.Errorf("DecodeSamples without Open = %v, want ErrNotOpen", err)
	}
}

func TestFlacDecodeSamplesWithoutOpen(t *testing.T) {
	d := newFlacDecoder()
	buf := make([]byte, 1024)
	if _, err := d.DecodeSamples(len(buf), buf); !errors.Is(err, ErrNotOpen) {
		t.Errorf("DecodeSamples without Open = %v, want ErrNotOpen", err)
	}
}

func TestMP3DecodeSamplesWithoutOpen(t *testing.T) {
	d := newMP3Decoder()
	buf := make([]byte, 1024)
	if _, err := d.DecodeSamples(len(buf), buf); !errors.Is(err, ErrNotOpen) {
		t.Errorf("DecodeSamples without Open = %v, want ErrNotOpen", err)
	}
}

func TestVorbisDecodeSamplesWithoutOpen(t *testing.T) {
	d := newVorbisDecoder()
	buf := make([]byte, 1024)
	if _, err := d.DecodeSamples(len(buf), buf); !errors.Is(err, ErrNotOpen) {
		t.Errorf("DecodeSamples without Open = %v, want ErrNotOpen", err)
	}
}

func TestOpusDecodeSamplesWithoutOpen(t *testing.T) {
	d := newOpusDecoder()
	buf := make([]byte, 1024)
	if _, err := d.DecodeSamples(len(buf), buf); !errors.Is(err, ErrNotOpen) {
		t.Errorf("DecodeSamples without Open = %v, want ErrNotOpen", err)
	}
}

func TestCloseWithoutOpenIsSafe(t *testing.T) {
	decoders := []Decoder{
		newWavDecoder(), newFlacDecoder(), newMP3Decoder(), newVorbisDecoder(), newOpusDecoder(),
	}
	for _, d := range decoders {
		if err := d.Close(); err != nil {
			t.Errorf("%T: Close before Open returned %v, want nil", d, err)
		}
		if err := d.Close(); err != nil {
			t.Errorf("%T: second Close returned %v, want nil", d, err)
		}
	}
}
