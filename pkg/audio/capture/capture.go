// Package capture provides microphone access and the capture encoder of the
// voice pipeline: raw float samples from the audio subsystem are converted
// to signed 16-bit frames and handed to the session transport, one frame
// per processing quantum, with no buffering in between.
//
// The [Context] and [Device] interfaces isolate the hardware layer so the
// session controller can be tested without a sound card. The concrete
// implementation is backed by malgo (miniaudio).
package capture

// DataCallback receives one processing quantum of raw capture data. The
// block size is fixed by the host audio subsystem, not by this package;
// data is little-endian float32 mono at the configured sample rate.
type DataCallback func(data []byte, frameCount uint32)

// Config describes the requested capture stream format.
type Config struct {
	// SampleRate in Hz (the pipeline uses 16000).
	SampleRate int

	// OnStop, when non-nil, is invoked when the stream stops delivering
	// quanta for any reason, including an orderly Close. Callers that need
	// to distinguish device loss from their own teardown must do so
	// themselves. Must not block.
	OnStop func()
}

// DeviceInfo identifies a capture device for selection.
type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

// Context owns the platform audio subsystem handle. A single Context can
// enumerate devices and open capture streams; Close releases the subsystem.
type Context interface {
	// Devices lists the available capture devices.
	Devices() ([]DeviceInfo, error)

	// Open starts a capture stream on device (nil selects the default) and
	// delivers quanta to cb until the returned Device is closed. The stream
	// is running when Open returns.
	Open(device *DeviceInfo, cfg Config, cb DataCallback) (Device, error)

	// Close releases the audio subsystem. Open streams must be closed first.
	Close()
}

// Device is an open capture stream.
type Device interface {
	// Stop pauses capture without releasing the device.
	Stop()

	// Close stops capture and releases the device. Idempotent.
	Close()
}
