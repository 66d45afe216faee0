package audio

import "time"

// Frame represents a single block of captured audio flowing through the
// bridge. Frames are the atomic unit of the microphone leg — delivered by the
// capture device at a fixed callback cadence, classified by the VAD, and
// either forwarded to the conversational provider or discarded.
type Frame struct {
	// Samples holds signed 16-bit PCM samples, mono.
	Samples []int16

	// SampleRate in Hz (e.g., 48000 for a typical capture device, 16000 for
	// the conversational provider's input format).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
