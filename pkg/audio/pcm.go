// Package audio provides the PCM primitives shared by both legs of the voice
// bridge: int16⇄float32 sample conversion, base64 payload framing, and
// sample-rate conversion.
//
// All functions are pure — they never mutate their input — so they can be
// called from any pipeline stage without coordination.
package audio

import (
	"encoding/base64"
	"math"
)

// DecodeError reports a malformed base64 audio payload. Callers must treat
// the fragment as dropped and keep the session alive; a corrupt payload is a
// per-fragment condition, not a transport failure.
type DecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string { return "audio: decode payload: " + e.Err.Error() }

// Unwrap returns the underlying base64 error.
func (e *DecodeError) Unwrap() error { return e.Err }

// Encode converts int16 PCM samples to a base64 string of little-endian
// bytes, the payload format both providers expect on the wire.
func Encode(samples []int16) string {
	return base64.StdEncoding.EncodeToString(BytesLE(samples))
}

// Decode converts a base64 payload back to int16 PCM samples. A trailing odd
// byte is dropped. Returns a [*DecodeError] when the payload is not valid
// base64.
func Decode(payload string) ([]int16, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return SamplesLE(data), nil
}

// BytesLE packs int16 samples into little-endian bytes.
func BytesLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// SamplesLE unpacks little-endian bytes into int16 samples. A trailing odd
// byte is ignored.
func SamplesLE(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out
}

// ToFloat32 converts int16 samples to float32 in [-1, 1), scaling by 1/32768.
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// ToInt16 converts float32 samples back to int16. Values are clamped to
// [-1, 1] and scaled asymmetrically (32767 for positive, 32768 for negative)
// so that a ToFloat32 round trip stays within ±1 LSB across the full range.
func ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		var scaled float64
		if v >= 0 {
			scaled = v * 32767
		} else {
			scaled = v * 32768
		}
		out[i] = int16(math.Round(scaled))
	}
	return out
}
