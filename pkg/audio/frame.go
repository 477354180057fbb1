// Package audio defines the frame type and PCM sample conversions used
// throughout the voice pipeline.
//
// Frames are the atomic unit of audio transport: produced by the capture
// encoder from microphone input, sent to the remote agent over the session
// transport, and received back for scheduled playback. All pipeline audio is
// signed 16-bit little-endian PCM, 16 kHz mono.
package audio

import (
	"fmt"
	"time"
)

// DefaultSampleRate is the pipeline-wide sample rate in Hz. Both the capture
// encoder and the agent protocol operate at this rate.
const DefaultSampleRate = 16000

// Frame is an immutable fixed-length buffer of signed 16-bit samples.
// Frames are passed by value between pipeline stages and must not be
// mutated after creation.
type Frame struct {
	// Samples holds mono PCM samples.
	Samples []int16

	// SampleRate in Hz. Zero means DefaultSampleRate.
	SampleRate int
}

// NewFrame creates a Frame over samples at rate. A rate of zero selects
// DefaultSampleRate. The slice is not copied; callers hand over ownership.
func NewFrame(samples []int16, rate int) Frame {
	if rate == 0 {
		rate = DefaultSampleRate
	}
	return Frame{Samples: samples, SampleRate: rate}
}

// Rate returns the effective sample rate of the frame.
func (f Frame) Rate() int {
	if f.SampleRate == 0 {
		return DefaultSampleRate
	}
	return f.SampleRate
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	rate := f.Rate()
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(rate)
}

// Bytes encodes the frame's samples as little-endian int16 PCM.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// FrameFromBytes decodes little-endian int16 PCM into a Frame at rate.
// Returns an error if the byte count is odd (misaligned PCM).
func FrameFromBytes(pcm []byte, rate int) (Frame, error) {
	if len(pcm)%2 != 0 {
		return Frame{}, fmt.Errorf("audio: odd byte count in PCM data (%d bytes)", len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return NewFrame(samples, rate), nil
}
