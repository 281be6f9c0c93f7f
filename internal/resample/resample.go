// Package resample wraps github.com/zaf/resample (SoXR bindings) as a
// streaming sample-rate converter for the decoder worker pool (§4.4:
// "applies sample-rate conversion to 44 100 Hz... SRC library of choice").
//
// The teacher's own cmd/transform.go already drives zaf/resample for a
// one-shot whole-file conversion; this package generalises that exact call
// shape (soxr.New with an io.Writer sink, soxr.I16, soxr.HighQ) into a
// chunk-at-a-time converter the decoder pool can call once per decode
// chunk instead of once per file.
package resample

import (
	"bytes"
	"fmt"

	soxr "github.com/zaf/resample"
)

// Converter resamples interleaved 16-bit PCM from one rate to another. Not
// safe for concurrent use; each decode worker owns its own Converter for
// the duration of one passage's decode.
type Converter struct {
	passthrough bool

	sink       *bytes.Buffer
	resampler  *soxr.Resampler
}

// New constructs a converter from fromRate to toRate for the given channel
// count. If the rates already match, Write is a no-op passthrough — no SoXR
// instance is created, matching the teacher's own short-circuit in
// resampleAudio ("if fromRate == toRate { return audioData, nil }").
func New(fromRate, toRate, channels int) (*Converter, error) {
	if fromRate == toRate {
		return &Converter{passthrough: true}, nil
	}

	sink := &bytes.Buffer{}
	r, err := soxr.New(sink, float64(fromRate), float64(toRate), channels, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("resample: create soxr converter: %w", err)
	}
	return &Converter{sink: sink, resampler: r}, nil
}

// Write resamples one chunk of 16-bit interleaved PCM and returns the
// resampled bytes produced so far. SoXR buffers internally across calls, so
// the number of bytes returned is not proportional to len(pcm) on every
// call; callers should treat the return value as "whatever is ready now".
func (c *Converter) Write(pcm []byte) ([]byte, error) {
	if c.passthrough {
		return pcm, nil
	}
	if _, err := c.resampler.Write(pcm); err != nil {
		return nil, fmt.Errorf("resample: write: %w", err)
	}
	out := append([]byte(nil), c.sink.Bytes()...)
	c.sink.Reset()
	return out, nil
}

// Close flushes any samples SoXR is still holding internally and returns
// them. The Converter must not be used again afterward.
func (c *Converter) Close() ([]byte, error) {
	if c.passthrough {
		return nil, nil
	}
	if err := c.resampler.Close(); err != nil {
		return nil, fmt.Errorf("resample: close: %w", err)
	}
	out := append([]byte(nil), c.sink.Bytes()...)
	c.sink.Reset()
	return out, nil
}
