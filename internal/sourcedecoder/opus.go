package sourcedecoder

import (
	"fmt"

	goopus "github.com/drgolem/go-opus/opus"
)

// opusDecoder adds Opus support the teacher never had, supplementing
// dropped source-format scope (§4.4 of the task brief) with a dependency
// already present in the teacher's transitive graph. drgolem/go-opus is the
// same author and cgo-wrapper style as drgolem/go-flac (see flac.go), so
// this adapter follows that package's Open/GetFormat/DecodeSamples/Close
// shape rather than inventing a new one.
type opusDecoder struct {
	decoder  *goopus.OpusFileDecoder
	rate     int
	channels int
	bps      int
}

func newOpusDecoder() *opusDecoder { return &opusDecoder{} }

func (d *opusDecoder) Open(fileName string) error {
	decoder, err := goopus.NewOpusFileDecoder(16)
	if err != nil {
		return fmt.Errorf("create opus decoder: %w", err)
	}
	if err := decoder.Open(fileName); err != nil {
		decoder.Delete()
		return fmt.Errorf("open opus file: %w", err)
	}

	rate, channels, bps := decoder.GetFormat()
	d.decoder = decoder
	d.rate = rate
	d.channels = channels
	d.bps = bps
	return nil
}

func (d *opusDecoder) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder.Delete()
		d.decoder = nil
	}
	return nil
}

func (d *opusDecoder) GetFormat() (int, int, int) {
	return d.rate, d.channels, d.bps
}

func (d *opusDecoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.decoder == nil {
		return 0, ErrNotOpen
	}
	return d.decoder.DecodeSamples(samples, audio)
}
