package config

import (
	"testing"

	"github.com/aldervale/voicebridge/internal/vad"
)

func TestLogLevelIsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("%q reported invalid", l)
		}
	}
	if LogLevel("verbose").IsValid() {
		t.Error("unknown level reported valid")
	}
}

func TestVADModeConversion(t *testing.T) {
	t.Parallel()
	if got := VADPushToTalk.Mode(); got != vad.ModePushToTalk {
		t.Errorf("push_to_talk mode = %v", got)
	}
	if got := VADHandsFree.Mode(); got != vad.ModeHandsFree {
		t.Errorf("hands_free mode = %v", got)
	}
	// An unset mode falls back to hands-free.
	if got := VADMode("").Mode(); got != vad.ModeHandsFree {
		t.Errorf("empty mode = %v", got)
	}
}

func TestVADConfigDetector(t *testing.T) {
	t.Parallel()
	c := VADConfig{
		Mode:          VADPushToTalk,
		AbsoluteMin:   0.02,
		Multiplier:    3,
		AttackFrames:  5,
		ReleaseFrames: 20,
	}
	got := c.Detector()
	if got.Mode != vad.ModePushToTalk || got.AbsoluteMin != 0.02 || got.Multiplier != 3 ||
		got.AttackFrames != 5 || got.ReleaseFrames != 20 {
		t.Errorf("detector config = %+v", got)
	}
}
