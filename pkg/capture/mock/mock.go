// Package mock provides in-memory mock implementations of the
// [capture.Platform] and [capture.Device] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	dev := mock.NewDevice(48000)
//	platform := &mock.Platform{AcquireResult: dev}
//	got, err := platform.Acquire(ctx, "mic-0")
//	dev.Push(audio.Frame{Samples: samples, SampleRate: 48000})
package mock

import (
	"context"
	"sync"

	"github.com/aldervale/voicebridge/pkg/audio"
	"github.com/aldervale/voicebridge/pkg/capture"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [capture.Device]. Frames are injected by
// the test via [Device.Push] and delivered on the Frames channel.
type Device struct {
	mu sync.Mutex

	frames chan audio.Frame
	rate   int
	closed bool

	// CloseError is returned by the first call to [Device.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewDevice creates a mock device reporting the given sample rate, with a
// buffered frame channel large enough for typical test sequences.
func NewDevice(sampleRate int) *Device {
	return &Device{
		frames: make(chan audio.Frame, 256),
		rate:   sampleRate,
	}
}

// Push injects a frame as if the device captured it. Returns false when the
// device has been closed.
func (d *Device) Push(frame audio.Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.frames <- frame
	return true
}

// Frames implements [capture.Device].
func (d *Device) Frames() <-chan audio.Frame { return d.frames }

// SampleRate implements [capture.Device].
func (d *Device) SampleRate() int { return d.rate }

// Close implements [capture.Device]. Closes the frame channel on first call.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.frames)
	return d.CloseError
}

// Closed reports whether Close has been called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// AcquireCall records the arguments of one [Platform.Acquire] invocation.
type AcquireCall struct {
	DeviceID string
}

// Platform is a mock implementation of [capture.Platform].
type Platform struct {
	mu sync.Mutex

	// AcquireResult is returned by [Platform.Acquire] when AcquireError is nil.
	AcquireResult *Device

	// AcquireError, when non-nil, is returned by [Platform.Acquire].
	AcquireError error

	// AcquireCalls records the arguments of every Acquire invocation.
	AcquireCalls []AcquireCall
}

// Acquire implements [capture.Platform].
func (p *Platform) Acquire(_ context.Context, deviceID string) (capture.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AcquireCalls = append(p.AcquireCalls, AcquireCall{DeviceID: deviceID})
	if p.AcquireError != nil {
		return nil, p.AcquireError
	}
	return p.AcquireResult, nil
}
