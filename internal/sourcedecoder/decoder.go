// Package sourcedecoder adapts five source audio formats behind one
// interface the decoder worker pool drives identically regardless of the
// underlying codec (§4.4).
//
// The interface shape and the per-format-package-under-a-factory layout are
// carried over verbatim from the teacher's pkg/decoders (types.AudioDecoder
// plus factory.NewDecoder dispatching on file extension); only the package
// name and the set of supported extensions change.
package sourcedecoder

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotOpen is returned by DecodeSamples/GetFormat when called before Open
// has succeeded.
var ErrNotOpen = errors.New("sourcedecoder: decoder not initialized")

// ErrUnsupportedFormat is returned by New when the file extension does not
// map to a known decoder.
var ErrUnsupportedFormat = errors.New("sourcedecoder: unsupported file format")

// Decoder is the common interface every format adapter implements. Output
// is always interleaved PCM at the decoder's native rate/channel count/bit
// depth; resampling to the mixer's target rate is the caller's job
// (internal/resample), keeping each codec adapter ignorant of the engine's
// target format, same as the teacher's decoders.
type Decoder interface {
	// Open opens fileName for decoding.
	Open(fileName string) error
	// Close releases any resources held by the decoder.
	Close() error
	// GetFormat returns the native sample rate, channel count, and bits
	// per sample of the decoded stream.
	GetFormat() (rate, channels, bitsPerSample int)
	// DecodeSamples decodes up to samples frames into audio, returning the
	// number of frames actually decoded. It returns io.EOF (wrapped) once
	// the stream is exhausted.
	DecodeSamples(samples int, audio []byte) (int, error)
}

// New dispatches on fileName's extension to construct and open the
// appropriate decoder, mirroring the teacher's factory.NewDecoder.
func New(fileName string) (Decoder, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	var d Decoder
	switch ext {
	case ".wav":
		d = newWavDecoder()
	case ".flac", ".fla":
		d = newFlacDecoder()
	case ".mp3":
		d = newMP3Decoder()
	case ".ogg":
		d = newVorbisDecoder()
	case ".opus":
		d = newOpusDecoder()
	default:
		return nil, fmt.Errorf("%w: %s (supported: .wav, .flac, .fla, .mp3, .ogg, .opus)", ErrUnsupportedFormat, ext)
	}

	if err := d.Open(fileName); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fileName, err)
	}
	return d, nil
}
