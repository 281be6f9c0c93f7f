package sourcedecoder

import (
	"fmt"
	"io"
	"os"

	"github.com/imcarsen/go-mp3"
)

// mp3Decoder replaces the teacher's pkg/decoders/mp3, which imported an
// undeclared github.com/drgolem/go-mpg123/mpg123 (see DESIGN.md). This
// adapter wraps github.com/imcarsen/go-mp3 instead, a dependency the
// teacher's own go.mod already declares for this exact concern. go-mp3
// always decodes to signed 16-bit little-endian stereo, so channels/bps are
// fixed.
type mp3Decoder struct {
	file    *os.File
	decoder *mp3.Decoder
	rate    int
}

func newMP3Decoder() *mp3Decoder { return &mp3Decoder{} }

func (d *mp3Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("open mp3: %w", err)
	}

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("create mp3 decoder: %w", err)
	}

	d.file = file
	d.decoder = decoder
	d.rate = decoder.SampleRate()
	return nil
}

func (d *mp3Decoder) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

// GetFormat reports the fixed 16-bit stereo output go-mp3 always produces.
func (d *mp3Decoder) GetFormat() (int, int, int) {
	return d.rate, 2, 16
}

func (d *mp3Decoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.decoder == nil {
		return 0, ErrNotOpen
	}

	want := samples * 2 * 2 // frames * channels * bytesPerSample
	if want > len(audio) {
		want = len(audio) - (len(audio) % 4)
	}

	n, err := io.ReadFull(d.decoder, audio[:want])
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n / 4, err
}
