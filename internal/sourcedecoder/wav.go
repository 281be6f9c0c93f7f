package sourcedecoder

import (
	"fmt"
	"os"

	"github.com/youpy/go-wav"
)

// wavDecoder wraps youpy/go-wav, carried over from the teacher's
// pkg/decoders/wav almost unchanged — that adapter already matches this
// package's Decoder interface shape.
type wavDecoder struct {
	file     *os.File
	reader   *wav.Reader
	rate     int
	channels int
	bps      int
}

func newWavDecoder() *wavDecoder { return &wavDecoder{} }

func (d *wavDecoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("open wav: %w", err)
	}

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		file.Close()
		return fmt.Errorf("read wav format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		file.Close()
		return fmt.Errorf("unsupported wav format %d (only PCM supported)", format.AudioFormat)
	}

	d.file = file
	d.reader = reader
	d.rate = int(format.SampleRate)
	d.channels = int(format.NumChannels)
	d.bps = int(format.BitsPerSample)
	return nil
}

func (d *wavDecoder) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

func (d *wavDecoder) GetFormat() (int, int, int) {
	return d.rate, d.channels, d.bps
}

func (d *wavDecoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.reader == nil {
		return 0, ErrNotOpen
	}

	bytesPerSample := d.bps / 8
	decoded := 0
	for i := 0; i < samples; i++ {
		frame, err := d.reader.ReadSamples(1)
		if err != nil {
			return decoded, err
		}
		if len(frame) == 0 {
			return decoded, nil
		}

		for ch := 0; ch < d.channels; ch++ {
			if ch >= len(frame[0].Values) {
				break
			}
			value := frame[0].Values[ch]
			offset := (decoded*d.channels + ch) * bytesPerSample
			if offset+bytesPerSample > len(audio) {
				return decoded, nil
			}
			switch d.bps {
			case 8:
				audio[offset] = byte(value)
			case 16:
				audio[offset] = byte(value)
				audio[offset+1] = byte(value >> 8)
			case 24:
				audio[offset] = byte(value)
				audio[offset+1] = byte(value >> 8)
				audio[offset+2] = byte(value >> 16)
			case 32:
				audio[offset] = byte(value)
				audio[offset+1] = byte(value >> 8)
				audio[offset+2] = byte(value >> 16)
				audio[offset+3] = byte(value >> 24)
			default:
				return decoded, fmt.Errorf("unsupported bits per sample: %d", d.bps)
			}
		}
		decoded++
	}
	return decoded, nil
}
