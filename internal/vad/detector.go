// Package vad implements adaptive-threshold voice activity detection for the
// microphone leg of the bridge.
//
// The detector classifies fixed-cadence audio frames as speech or silence
// using the frame's RMS energy and peak magnitude against a dynamic
// threshold derived from an exponential moving noise floor. Asymmetric
// attack/release hysteresis keeps brief mid-sentence pauses from ending a
// turn while letting true silence end it reliably.
//
// Detection is synchronous: ProcessFrame returns immediately and never
// blocks, making it suitable for the per-frame capture callback path. A
// Detector is stateful and belongs to exactly one session; it must not be
// shared across goroutines.
package vad

import "math"

// Mode selects how speech boundaries are driven.
type Mode int

const (
	// ModeHandsFree starts and ends speech purely from frame classification
	// via the attack/release hysteresis.
	ModeHandsFree Mode = iota

	// ModePushToTalk starts speech on the first qualifying frame while the
	// talk control is held; end is driven by releasing the control, not by
	// silence detection.
	ModePushToTalk
)

// Event is the detection result for a single frame.
type Event int

const (
	// EventSilence indicates no speech activity.
	EventSilence Event = iota

	// EventSpeechStart indicates speech has just begun on this frame.
	EventSpeechStart

	// EventSpeechContinue indicates ongoing speech.
	EventSpeechContinue

	// EventSpeechEnd indicates speech has just ended on this frame.
	EventSpeechEnd
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventSilence:
		return "silence"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechContinue:
		return "speech_continue"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Config holds the detector's tuning parameters. All level values are in the
// normalized [0, 1] sample scale (int16 magnitude / 32768). The values here
// are deliberately configuration rather than constants: they are hand-tuned
// per deployment, not derived.
type Config struct {
	// Mode selects hands-free or push-to-talk boundary handling.
	Mode Mode

	// AbsoluteMin is the lower bound on the dynamic threshold, protecting
	// against a noise floor that has decayed to near zero. Default 0.01.
	AbsoluteMin float64

	// Multiplier scales the noise floor into the dynamic threshold.
	// Default 2.0.
	Multiplier float64

	// StrongMargin is the factor above the threshold a frame's RMS and peak
	// must both clear to count as strong voice. Default 1.2.
	StrongMargin float64

	// WeakRatio is the fraction of the threshold a frame must clear to count
	// as weak voice (enough to sustain speech but not to start it).
	// Default 0.8.
	WeakRatio float64

	// AttackFrames is the number of consecutive strong-voice frames required
	// to start speech in hands-free mode. Values below 1 are treated as 1 so
	// a misconfigured zero can never oscillate on a single frame. Default 3.
	AttackFrames int

	// ReleaseFrames is the number of consecutive non-qualifying frames
	// required to end speech in hands-free mode. Values below 1 are treated
	// as 1. Default 12.
	ReleaseFrames int

	// NoiseDecay is the EMA coefficient moving the noise floor toward the
	// frame RMS while not speaking. Default 0.05.
	NoiseDecay float64

	// LevelSmoothing is the EMA coefficient for the smoothed level estimate.
	// Default 0.3.
	LevelSmoothing float64
}

// DefaultConfig returns the detector defaults for hands-free operation.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeHandsFree,
		AbsoluteMin:    0.01,
		Multiplier:     2.0,
		StrongMargin:   1.2,
		WeakRatio:      0.8,
		AttackFrames:   3,
		ReleaseFrames:  12,
		NoiseDecay:     0.05,
		LevelSmoothing: 0.3,
	}
}

// withDefaults fills zero-valued fields and clamps the counters.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AbsoluteMin <= 0 {
		c.AbsoluteMin = d.AbsoluteMin
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.StrongMargin <= 0 {
		c.StrongMargin = d.StrongMargin
	}
	if c.WeakRatio <= 0 {
		c.WeakRatio = d.WeakRatio
	}
	if c.AttackFrames < 1 {
		c.AttackFrames = 1
	}
	if c.ReleaseFrames < 1 {
		c.ReleaseFrames = 1
	}
	if c.NoiseDecay <= 0 {
		c.NoiseDecay = d.NoiseDecay
	}
	if c.LevelSmoothing <= 0 {
		c.LevelSmoothing = d.LevelSmoothing
	}
	return c
}

// State is a snapshot of the detector's mutable per-session state.
type State struct {
	Speaking     bool
	NoiseFloor   float64
	EMALevel     float64
	AttackCount  int
	ReleaseCount int
}

// Detector segments a stream of audio frames into speech and silence.
type Detector struct {
	cfg Config

	speaking     bool
	noiseFloor   float64
	emaLevel     float64
	attackCount  int
	releaseCount int
	talkHeld     bool
}

// New creates a Detector. A zero AttackFrames or ReleaseFrames in cfg is
// treated as 1; other zero fields take their defaults.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Reset clears all detection state. Call on session start or when the audio
// stream is interrupted, so stale state from a previous segment cannot leak
// into the next.
func (d *Detector) Reset() {
	d.speaking = false
	d.noiseFloor = 0
	d.emaLevel = 0
	d.attackCount = 0
	d.releaseCount = 0
}

// State returns a snapshot of the current detection state.
func (d *Detector) State() State {
	return State{
		Speaking:     d.speaking,
		NoiseFloor:   d.noiseFloor,
		EMALevel:     d.emaLevel,
		AttackCount:  d.attackCount,
		ReleaseCount: d.releaseCount,
	}
}

// Speaking reports whether the detector is currently inside a speech segment.
func (d *Detector) Speaking() bool { return d.speaking }

// SetTalkHeld updates the push-to-talk control state. Releasing the control
// while speaking ends the segment immediately and returns EventSpeechEnd;
// all other transitions return EventSilence. Only meaningful in
// ModePushToTalk.
func (d *Detector) SetTalkHeld(held bool) Event {
	if d.cfg.Mode != ModePushToTalk {
		return EventSilence
	}
	d.talkHeld = held
	if !held && d.speaking {
		d.speaking = false
		d.attackCount = 0
		d.releaseCount = 0
		return EventSpeechEnd
	}
	return EventSilence
}

// ProcessFrame classifies one frame of int16 PCM and advances the hysteresis
// state machine. It never blocks.
func (d *Detector) ProcessFrame(samples []int16) Event {
	rms, peak := levels(samples)

	// The noise floor adapts only while not speaking; otherwise it would
	// climb toward the user's own voice and push the threshold above it.
	if !d.speaking {
		d.noiseFloor += d.cfg.NoiseDecay * (rms - d.noiseFloor)
	}
	d.emaLevel += d.cfg.LevelSmoothing * (rms - d.emaLevel)

	threshold := d.noiseFloor * d.cfg.Multiplier
	if threshold < d.cfg.AbsoluteMin {
		threshold = d.cfg.AbsoluteMin
	}

	strong := rms >= threshold*d.cfg.StrongMargin && peak >= threshold*d.cfg.StrongMargin
	weak := rms >= threshold*d.cfg.WeakRatio && peak >= threshold*d.cfg.WeakRatio

	if d.cfg.Mode == ModePushToTalk {
		return d.processPushToTalk(strong, weak)
	}
	return d.processHandsFree(strong, weak)
}

func (d *Detector) processHandsFree(strong, weak bool) Event {
	if !d.speaking {
		if strong {
			d.attackCount++
			d.releaseCount = 0
			if d.attackCount >= d.cfg.AttackFrames {
				d.speaking = true
				d.attackCount = 0
				return EventSpeechStart
			}
		} else {
			d.attackCount = 0
		}
		return EventSilence
	}

	if strong || weak {
		d.releaseCount = 0
		return EventSpeechContinue
	}

	d.releaseCount++
	d.attackCount = 0
	if d.releaseCount >= d.cfg.ReleaseFrames {
		d.speaking = false
		d.releaseCount = 0
		return EventSpeechEnd
	}
	return EventSpeechContinue
}

func (d *Detector) processPushToTalk(strong, weak bool) Event {
	if !d.talkHeld {
		return EventSilence
	}
	if !d.speaking {
		if strong || weak {
			d.speaking = true
			d.attackCount = 0
			d.releaseCount = 0
			return EventSpeechStart
		}
		return EventSilence
	}
	// End is driven by SetTalkHeld(false), never by silence.
	return EventSpeechContinue
}

// levels computes the normalized RMS and peak magnitude of a frame.
func levels(samples []int16) (rms, peak float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sumSq float64
	for _, s := range samples {
		v := float64(s) / 32768
		sumSq += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return math.Sqrt(sumSq / float64(len(samples))), peak
}
