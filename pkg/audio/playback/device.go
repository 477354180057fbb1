package playback

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// Compile-time interface check.
var _ Sink = (*DeviceSink)(nil)

// DeviceSink is a [Sink] backed by the default hardware output device. It
// keeps a sample-accurate timeline buffer: ScheduleAt writes segments at
// absolute sample offsets, and the device callback consumes the timeline at
// the hardware rate, emitting silence wherever nothing is scheduled. The
// clock is the count of samples handed to the hardware.
type DeviceSink struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	rate   int

	mu     sync.Mutex
	buf    []float32 // timeline window starting at absolute index base
	base   int64
	cursor int64 // absolute index of the next sample handed to hardware

	closeOnce sync.Once
	closeErr  error
}

// NewDeviceSink opens the default output device at rate Hz mono and starts
// playback. The returned sink's clock begins at zero.
func NewDeviceSink(rate int) (*DeviceSink, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("playback: init context: %w", err)
	}

	s := &DeviceSink{ctx: mctx, rate: rate}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(rate)

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			s.fill(out, int(frameCount))
		},
	})
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("playback: init device: %w", err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("playback: start device: %w", err)
	}
	return s, nil
}

// Now returns the playback clock: the duration of audio handed to the
// hardware since the sink was created.
func (s *DeviceSink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.cursor) * time.Second / time.Duration(s.rate)
}

// ScheduleAt writes samples into the timeline at start. Offsets already
// consumed by the hardware are clamped forward to the cursor, so a segment
// scheduled marginally late begins immediately instead of being dropped.
func (s *DeviceSink) ScheduleAt(samples []float32, start time.Duration) {
	startIdx := int64(start) * int64(s.rate) / int64(time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()

	if startIdx < s.cursor {
		skip := s.cursor - startIdx
		if skip >= int64(len(samples)) {
			return
		}
		samples = samples[skip:]
		startIdx = s.cursor
	}

	off := startIdx - s.base
	end := off + int64(len(samples))
	if int64(len(s.buf)) < end {
		grown := make([]float32, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[off:end], samples)
}

// fill services one device callback: copy frameCount samples from the
// timeline (zeros where nothing is scheduled), advance the cursor, and
// release the consumed prefix.
func (s *DeviceSink) fill(out []byte, frameCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range frameCount {
		abs := s.cursor + int64(i)
		var v float32
		if idx := abs - s.base; idx >= 0 && idx < int64(len(s.buf)) {
			v = s.buf[idx]
		}
		bits := math.Float32bits(v)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	s.cursor += int64(frameCount)

	if drop := s.cursor - s.base; drop > 0 {
		if drop >= int64(len(s.buf)) {
			s.buf = s.buf[:0]
		} else {
			s.buf = append(s.buf[:0], s.buf[drop:]...)
		}
		s.base = s.cursor
	}
}

// Close stops the output device and releases the audio context. Scheduled
// audio not yet handed to the hardware is discarded. Idempotent.
func (s *DeviceSink) Close() error {
	s.closeOnce.Do(func() {
		s.device.Uninit()
		s.ctx.Uninit()
		s.ctx.Free()

		s.mu.Lock()
		s.buf = nil
		s.mu.Unlock()
	})
	return s.closeErr
}
