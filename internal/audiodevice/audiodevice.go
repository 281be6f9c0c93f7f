// Package audiodevice binds the mixer's ring buffer to the OS audio
// device (§6.3). Grounded directly on the teacher's
// pkg/audioplayer/examples/play_callback callback-mode player: the same
// portaudio.PaStream/OpenCallback/StartStream sequence, but the callback
// here only ever calls RingBuffer.Pop — no decoding, no locking beyond the
// ring buffer's lock-free cursors, no logging — per §5's realtime
// constraint and §9's "no shared mutable state in the audio callback" rule.
package audiodevice

import (
	"encoding/binary"
	"fmt"

	"github.com/drgolem/go-portaudio/portaudio"

	"github.com/wkmp/audiocore/internal/ringbuffer"
)

const channels = 2 // the engine mixes stereo only (§1, §4.1)

// Device owns the PortAudio output stream and pops stereo frames from buf
// in its realtime callback.
type Device struct {
	stream *portaudio.PaStream
	buf    *ringbuffer.RingBuffer
}

// Open creates and starts a PortAudio output stream at sampleRate on
// deviceIndex, pulling framesPerBuffer frames per callback from buf.
func Open(buf *ringbuffer.RingBuffer, sampleRate, deviceIndex, framesPerBuffer int) (*Device, error) {
	d := &Device{buf: buf}

	d.stream = &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  deviceIndex,
			ChannelCount: channels,
			SampleFormat: portaudio.SampleFmtInt16,
		},
		SampleRate: float64(sampleRate),
	}

	if err := d.stream.OpenCallback(framesPerBuffer, d.callback); err != nil {
		return nil, fmt.Errorf("audiodevice: open stream: %w", err)
	}
	if err := d.stream.StartStream(); err != nil {
		return nil, fmt.Errorf("audiodevice: start stream: %w", err)
	}
	return d, nil
}

// callback runs on PortAudio's realtime thread. It must not allocate,
// lock, block, or log (§5, §9) — the only operation it performs is
// RingBuffer.Pop, which is lock-free and returns immediately on underrun.
func (d *Device) callback(
	input, output []byte,
	frameCount uint,
	timeInfo *portaudio.StreamCallbackTimeInfo,
	statusFlags portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {
	for i := uint(0); i < frameCount; i++ {
		f, ok := d.buf.Pop()
		if !ok {
			f = ringbuffer.Frame{}
		}
		off := int(i) * channels * 2
		binary.LittleEndian.PutUint16(output[off:], uint16(floatToInt16(f.Left)))
		binary.LittleEndian.PutUint16(output[off+2:], uint16(floatToInt16(f.Right)))
	}
	return portaudio.Continue
}

// floatToInt16 converts a hard-clipped [-1.0, 1.0] sample (§7) to a signed
// 16-bit PCM value.
func floatToInt16(v float32) int16 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

// Close stops and releases the output stream.
func (d *Device) Close() error {
	if d.stream == nil {
		return nil
	}
	if err := d.stream.StopStream(); err != nil {
		return fmt.Errorf("audiodevice: stop stream: %w", err)
	}
	return d.stream.CloseCallback()
}
