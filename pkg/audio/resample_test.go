package audio_test

import (
	"math"
	"testing"

	"github.com/aldervale/voicebridge/pkg/audio"
)

func TestResample_Identity(t *testing.T) {
	t.Parallel()

	in := []int16{1, 2, 3, -4, 5}
	for _, rate := range []int{8000, 16000, 24000, 48000} {
		out := audio.Resample(in, rate, rate)
		if len(out) != len(in) {
			t.Fatalf("rate %d: length changed: %d -> %d", rate, len(in), len(out))
		}
		for i := range in {
			if out[i] != in[i] {
				t.Errorf("rate %d: sample %d changed: %d -> %d", rate, i, in[i], out[i])
			}
		}
	}
}

func TestResample_Empty(t *testing.T) {
	t.Parallel()

	if out := audio.Resample(nil, 16000, 24000); len(out) != 0 {
		t.Errorf("Resample(nil) = %v, want empty", out)
	}
}

func TestResample_OutputLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples int
		in, out int
	}{
		{"upsample 16k->24k", 320, 16000, 24000},
		{"downsample 48k->16k", 960, 48000, 16000},
		{"upsample 16k->48k", 160, 16000, 48000},
		{"downsample 24k->16k", 100, 24000, 16000},
		{"odd ratio 44100->16k", 441, 44100, 16000},
		{"single sample", 1, 8000, 16000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			in := make([]int16, tt.samples)
			out := audio.Resample(in, tt.in, tt.out)

			want := math.Round(float64(tt.samples) * float64(tt.out) / float64(tt.in))
			if diff := math.Abs(float64(len(out)) - want); diff > 1 {
				t.Errorf("output length %d, want %.0f (±1)", len(out), want)
			}
			if len(out) < 1 {
				t.Error("non-empty input must yield at least one sample")
			}
		})
	}
}

func TestResample_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := []int16{100, -100, 2000, -2000}
	orig := append([]int16(nil), in...)
	_ = audio.Resample(in, 48000, 16000)
	for i := range in {
		if in[i] != orig[i] {
			t.Fatalf("input mutated at %d: %d -> %d", i, orig[i], in[i])
		}
	}
}

func TestResample_Interpolates(t *testing.T) {
	t.Parallel()

	// Doubling the rate of a ramp should put blended values between neighbours.
	out := audio.Resample([]int16{0, 100}, 8000, 16000)
	if len(out) != 4 {
		t.Fatalf("length = %d, want 4", len(out))
	}
	if out[0] != 0 {
		t.Errorf("out[0] = %d, want 0", out[0])
	}
	if out[1] != 50 {
		t.Errorf("out[1] = %d, want 50", out[1])
	}
	// Past the last source sample the clamped neighbour repeats.
	if out[3] != 100 {
		t.Errorf("out[3] = %d, want 100", out[3])
	}
}
