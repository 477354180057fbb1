// Package mock provides in-memory capture implementations for tests.
package mock

import (
	"fmt"
	"sync"

	"github.com/stuartw843/flow-learning-hub/pkg/audio/capture"
)

// Compile-time interface checks.
var (
	_ capture.Context = (*Context)(nil)
	_ capture.Device  = (*Device)(nil)
)

// Context is a fake [capture.Context]. Quanta are injected manually with
// [Device.Push]. Setting OpenErr makes Open fail, simulating a denied or
// missing microphone.
type Context struct {
	OpenErr error

	mu      sync.Mutex
	devices []*Device
	closed  bool
}

// Devices returns a single fake device entry.
func (c *Context) Devices() ([]capture.DeviceInfo, error) {
	return []capture.DeviceInfo{{ID: "00", Name: "Fake Microphone"}}, nil
}

// Open returns a new fake device wired to cb, or OpenErr if set.
func (c *Context) Open(_ *capture.DeviceInfo, cfg capture.Config, cb capture.DataCallback) (capture.Device, error) {
	if c.OpenErr != nil {
		return nil, fmt.Errorf("mock capture: %w", c.OpenErr)
	}
	d := &Device{cb: cb, onStop: cfg.OnStop}
	c.mu.Lock()
	c.devices = append(c.devices, d)
	c.mu.Unlock()
	return d, nil
}

// Close marks the context closed.
func (c *Context) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// OpenCount returns how many devices were opened.
func (c *Context) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices)
}

// Opened returns every device Open has produced, in order.
func (c *Context) Opened() []*Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// Device is a fake capture stream. Push delivers a quantum to the callback
// as the hardware would; pushes after Close are dropped.
type Device struct {
	cb     capture.DataCallback
	onStop func()

	mu      sync.Mutex
	stopped bool
	closed  bool
}

// TriggerStop simulates the stream stopping (device loss or teardown) by
// invoking the configured OnStop hook.
func (d *Device) TriggerStop() {
	if d.onStop != nil {
		d.onStop()
	}
}

// Push delivers one quantum of raw data to the registered callback.
func (d *Device) Push(data []byte) {
	d.mu.Lock()
	dead := d.closed || d.stopped
	cb := d.cb
	d.mu.Unlock()
	if dead || cb == nil {
		return
	}
	cb(data, uint32(len(data)/4))
}

// Stop pauses the fake stream.
func (d *Device) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

// Close marks the device closed. Idempotent.
func (d *Device) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
