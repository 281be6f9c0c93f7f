package sourcedecoder

import (
	"fmt"

	goflac "github.com/drgolem/go-flac/flac"
)

// flacDecoder wraps drgolem/go-flac, carried over from the teacher's
// pkg/decoders/flac unchanged (same cgo-backed decoder, same 16-bit output
// default).
type flacDecoder struct {
	decoder  *goflac.FlacDecoder
	rate     int
	channels int
	bps      int
}

func newFlacDecoder() *flacDecoder { return &flacDecoder{} }

func (d *flacDecoder) Open(fileName string) error {
	decoder, err := goflac.NewFlacFrameDecoder(16)
	if err != nil {
		return fmt.Errorf("create flac decoder: %w", err)
	}
	if err := decoder.Open(fileName); err != nil {
		decoder.Delete()
		return fmt.Errorf("open flac file: %w", err)
	}

	rate, channels, bps := decoder.GetFormat()
	d.decoder = decoder
	d.rate = rate
	d.channels = channels
	d.bps = bps
	return nil
}

func (d *flacDecoder) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder.Delete()
		d.decoder = nil
	}
	return nil
}

func (d *flacDecoder) GetFormat() (int, int, int) {
	return d.rate, d.channels, d.bps
}

func (d *flacDecoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.decoder == nil {
		return 0, ErrNotOpen
	}
	return d.decoder.DecodeSamples(samples, audio)
}
