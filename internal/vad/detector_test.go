package vad_test

import (
	"testing"

	"github.com/aldervale/voicebridge/internal/vad"
)

const frameLen = 320 // 20ms at 16kHz

func silentFrame() []int16 {
	return make([]int16, frameLen)
}

func loudFrame(amplitude int16) []int16 {
	f := make([]int16, frameLen)
	for i := range f {
		f[i] = amplitude
		if i%2 == 1 {
			f[i] = -amplitude
		}
	}
	return f
}

func TestDetector_Hysteresis(t *testing.T) {
	t.Parallel()

	cfg := vad.DefaultConfig()
	cfg.AttackFrames = 3
	cfg.ReleaseFrames = 12
	d := vad.New(cfg)

	var starts, ends int
	startFrame, endFrame := -1, -1
	frame := 0

	process := func(f []int16) {
		switch d.ProcessFrame(f) {
		case vad.EventSpeechStart:
			starts++
			startFrame = frame
		case vad.EventSpeechEnd:
			ends++
			endFrame = frame
		}
		frame++
	}

	// 20 silent frames, 30 loud frames at well over 3x threshold, 30 silent.
	for range 20 {
		process(silentFrame())
	}
	voiceBegins := frame
	for range 30 {
		process(loudFrame(2000))
	}
	voiceEnds := frame
	for range 30 {
		process(silentFrame())
	}

	if starts != 1 {
		t.Fatalf("speech starts = %d, want 1", starts)
	}
	if ends != 1 {
		t.Fatalf("speech ends = %d, want 1", ends)
	}
	if startFrame < voiceBegins+cfg.AttackFrames-1 {
		t.Errorf("speech start at frame %d, before the %dth loud frame", startFrame, cfg.AttackFrames)
	}
	if endFrame < voiceEnds+cfg.ReleaseFrames-1 {
		t.Errorf("speech end at frame %d, before the %dth silent frame", endFrame, cfg.ReleaseFrames)
	}
}

func TestDetector_AllSilenceNeverStarts(t *testing.T) {
	t.Parallel()

	d := vad.New(vad.DefaultConfig())
	for range 500 {
		if evt := d.ProcessFrame(silentFrame()); evt != vad.EventSilence {
			t.Fatalf("silent stream produced %v", evt)
		}
	}
	if d.Speaking() {
		t.Error("detector reports speaking after pure silence")
	}
}

func TestDetector_BriefPauseDoesNotEndTurn(t *testing.T) {
	t.Parallel()

	cfg := vad.DefaultConfig()
	cfg.ReleaseFrames = 12
	d := vad.New(cfg)

	for range 10 {
		d.ProcessFrame(loudFrame(2000))
	}
	if !d.Speaking() {
		t.Fatal("expected speaking after sustained voice")
	}

	// A pause shorter than the release window must not end the segment.
	for i := range 11 {
		if evt := d.ProcessFrame(silentFrame()); evt == vad.EventSpeechEnd {
			t.Fatalf("speech ended on pause frame %d, release window is 12", i)
		}
	}
	if evt := d.ProcessFrame(loudFrame(2000)); evt != vad.EventSpeechContinue {
		t.Errorf("voice after brief pause = %v, want speech_continue", evt)
	}
}

func TestDetector_ZeroCountsTreatedAsOne(t *testing.T) {
	t.Parallel()

	cfg := vad.DefaultConfig()
	cfg.AttackFrames = 0
	cfg.ReleaseFrames = 0
	d := vad.New(cfg)

	// A single loud frame may start speech, but one frame alone must not
	// produce both a start and an end (no single-frame oscillation).
	evt := d.ProcessFrame(loudFrame(2000))
	if evt != vad.EventSpeechStart {
		t.Fatalf("first loud frame = %v, want speech_start", evt)
	}
	if !d.Speaking() {
		t.Fatal("detector must remain speaking after the start frame")
	}
}

func TestDetector_NoiseFloorFrozenWhileSpeaking(t *testing.T) {
	t.Parallel()

	d := vad.New(vad.DefaultConfig())

	// Establish a floor from ambient noise.
	for range 50 {
		d.ProcessFrame(loudFrame(100))
	}
	// Drive into speaking.
	for range 10 {
		d.ProcessFrame(loudFrame(4000))
	}
	if !d.Speaking() {
		t.Fatal("expected speaking")
	}
	floorBefore := d.State().NoiseFloor

	for range 50 {
		d.ProcessFrame(loudFrame(4000))
	}
	if floorAfter := d.State().NoiseFloor; floorAfter != floorBefore {
		t.Errorf("noise floor adapted during speech: %v -> %v", floorBefore, floorAfter)
	}
}

func TestDetector_PushToTalk(t *testing.T) {
	t.Parallel()

	cfg := vad.DefaultConfig()
	cfg.Mode = vad.ModePushToTalk
	d := vad.New(cfg)

	// Loud frames without the control held do nothing.
	for range 10 {
		if evt := d.ProcessFrame(loudFrame(2000)); evt != vad.EventSilence {
			t.Fatalf("unheld loud frame = %v, want silence", evt)
		}
	}

	d.SetTalkHeld(true)
	if evt := d.ProcessFrame(loudFrame(2000)); evt != vad.EventSpeechStart {
		t.Fatalf("first held qualifying frame = %v, want speech_start", evt)
	}

	// Silence while held must not end the segment.
	for range 50 {
		if evt := d.ProcessFrame(silentFrame()); evt == vad.EventSpeechEnd {
			t.Fatal("silence ended a push-to-talk segment")
		}
	}

	if evt := d.SetTalkHeld(false); evt != vad.EventSpeechEnd {
		t.Fatalf("release = %v, want speech_end", evt)
	}
	if d.Speaking() {
		t.Error("still speaking after release")
	}
}

func TestDetector_Reset(t *testing.T) {
	t.Parallel()

	d := vad.New(vad.DefaultConfig())
	for range 10 {
		d.ProcessFrame(loudFrame(2000))
	}
	if !d.Speaking() {
		t.Fatal("expected speaking")
	}

	d.Reset()
	st := d.State()
	if st.Speaking || st.NoiseFloor != 0 || st.EMALevel != 0 || st.AttackCount != 0 || st.ReleaseCount != 0 {
		t.Errorf("state after Reset = %+v, want zero value", st)
	}
}
