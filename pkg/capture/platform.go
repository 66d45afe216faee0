// Package capture defines the interfaces for microphone capture devices.
//
// The two abstractions are:
//
//   - [Platform] — acquires a named capture device and returns a [Device].
//   - [Device] — an active capture handle delivering audio frames over a
//     channel until released.
//
// Implementations wrap platform-specific capture stacks (ALSA, CoreAudio,
// a browser media bridge, …). The bridge itself never touches device driver
// APIs; it consumes these interfaces. The package lives under pkg/ because
// host applications are expected to supply their own implementations.
package capture

import (
	"context"

	"github.com/aldervale/voicebridge/pkg/audio"
)

// Device is an acquired capture handle for a single microphone stream.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Frames returns the channel delivering captured audio frames at the
	// device's natural block cadence (typically ~20ms of samples per frame).
	// The channel is closed when the device is released or the underlying
	// stream ends.
	Frames() <-chan audio.Frame

	// SampleRate reports the native capture rate in Hz.
	SampleRate() int

	// Close releases the device. Safe to call more than once; subsequent
	// calls are no-ops and return nil.
	Close() error
}

// Platform is the entry point for a capture backend.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Acquire opens the capture device identified by deviceID. The supplied
	// ctx governs the acquisition attempt only; once acquired, the Device
	// remains open until [Device.Close] is called.
	//
	// Returns an error if the device is unavailable — callers must treat
	// that as fatal for session start, never as a partially started session.
	Acquire(ctx context.Context, deviceID string) (Device, error)
}
