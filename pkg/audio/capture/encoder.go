package capture

import "github.com/stuartw843/flow-learning-hub/pkg/audio"

// Encoder turns raw capture quanta into [audio.Frame] values and hands each
// one to emit as soon as it is produced. The encoder holds no buffer:
// whatever block size the audio subsystem delivers becomes one frame.
//
// Emit is called from the capture device's data callback; it must not block.
type Encoder struct {
	rate int
	emit func(audio.Frame)
}

// NewEncoder creates an Encoder producing frames at rate Hz. A rate of zero
// selects [audio.DefaultSampleRate].
func NewEncoder(rate int, emit func(audio.Frame)) *Encoder {
	if rate == 0 {
		rate = audio.DefaultSampleRate
	}
	return &Encoder{rate: rate, emit: emit}
}

// Callback adapts the encoder to [DataCallback] for use with
// [Context.Open].
func (e *Encoder) Callback() DataCallback {
	return func(data []byte, _ uint32) {
		e.HandleFloat32(data)
	}
}

// HandleFloat32 encodes one quantum of little-endian float32 mono samples
// into a frame and emits it. Out-of-range samples saturate per
// [audio.EncodeFloat32]. Empty quanta are ignored.
func (e *Encoder) HandleFloat32(data []byte) {
	if len(data) < 4 {
		return
	}
	samples := audio.EncodeFloat32(audio.DecodeFloat32LE(data))
	e.emit(audio.NewFrame(samples, e.rate))
}
