package sourcedecoder

import (
	"fmt"
	"os"

	"github.com/jfreymuth/oggvorbis"
)

// vorbisDecoder adds Ogg/Vorbis support the teacher never had, supplementing
// dropped source-format scope with a dependency already present in the
// teacher's transitive graph (jfreymuth/vorbis pulls this in). oggvorbis
// decodes directly to interleaved float32; this adapter quantises to the
// same 16-bit PCM shape every other format in this package produces so the
// decoder pool's downstream handling stays uniform.
type vorbisDecoder struct {
	file     *os.File
	reader   *oggvorbis.Reader
	rate     int
	channels int

	scratch []float32
}

func newVorbisDecoder() *vorbisDecoder { return &vorbisDecoder{} }

func (d *vorbisDecoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("open ogg vorbis: %w", err)
	}

	reader, err := oggvorbis.NewReader(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("create vorbis reader: %w", err)
	}

	d.file = file
	d.reader = reader
	d.rate = reader.SampleRate()
	d.channels = reader.Channels()
	return nil
}

func (d *vorbisDecoder) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

func (d *vorbisDecoder) GetFormat() (int, int, int) {
	return d.rate, d.channels, 16
}

func (d *vorbisDecoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.reader == nil {
		return 0, ErrNotOpen
	}

	need := samples * d.channels
	if cap(d.scratch) < need {
		d.scratch = make([]float32, need)
	}
	buf := d.scratch[:need]

	n, err := d.reader.Read(buf)
	frames := n / d.channels

	bytesPerSample := 2
	for i := 0; i < frames*d.channels; i++ {
		v := buf[i]
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s := int16(v * 32767)
		offset := i * bytesPerSample
		if offset+bytesPerSample > len(audio) {
			break
		}
		audio[offset] = byte(s)
		audio[offset+1] = byte(s >> 8)
	}
	return frames, err
}
