package audio

import "math"

// Resample converts mono int16 PCM from inRate to outRate using linear
// interpolation. The input slice is never mutated; when inRate == outRate or
// the input is empty, the input is returned unchanged (no allocation).
//
// No anti-aliasing filter is applied. The inputs are band-limited voice
// audio and the target use is low-latency conversational speech, where the
// quality loss of plain linear interpolation is inaudible in practice.
func Resample(samples []int16, inRate, outRate int) []int16 {
	if inRate == outRate || len(samples) == 0 {
		return samples
	}
	if inRate <= 0 || outRate <= 0 {
		return samples
	}

	n := int(math.Round(float64(len(samples)) * float64(outRate) / float64(inRate)))
	if n < 1 {
		n = 1
	}

	out := make([]int16, n)
	ratio := float64(inRate) / float64(outRate)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * ratio
		lo := int(pos)
		if lo > last {
			lo = last
		}
		hi := lo + 1
		if hi > last {
			hi = last
		}
		frac := pos - float64(lo)
		blended := float64(samples[lo])*(1-frac) + float64(samples[hi])*frac
		out[i] = int16(math.Round(blended))
	}
	return out
}
