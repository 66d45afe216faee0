package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"conversational": {"elevenlabs"},
	"avatar":         {"anam"},
	"capture":        {"portaudio", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("conversational", cfg.Providers.Conversational.Name)
	validateProviderName("avatar", cfg.Providers.Avatar.Name)
	validateProviderName("capture", cfg.Providers.Capture.Name)

	if len(cfg.Sessions) > 0 {
		if cfg.Providers.Conversational.Name == "" {
			errs = append(errs, errors.New("providers.conversational is required when sessions are configured"))
		}
		if cfg.Providers.Avatar.Name == "" {
			errs = append(errs, errors.New("providers.avatar is required when sessions are configured"))
		}
	}

	// VAD
	if cfg.VAD.Mode != "" && !cfg.VAD.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("vad.mode %q is invalid; valid values: hands_free, push_to_talk", cfg.VAD.Mode))
	}
	if cfg.VAD.WeakRatio != 0 && cfg.VAD.StrongMargin != 0 && cfg.VAD.WeakRatio > cfg.VAD.StrongMargin {
		slog.Warn("vad.weak_ratio exceeds vad.strong_margin; weak frames will qualify as strong")
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"vad.absolute_min", cfg.VAD.AbsoluteMin},
		{"vad.noise_decay", cfg.VAD.NoiseDecay},
		{"vad.level_smoothing", cfg.VAD.LevelSmoothing},
	} {
		if f.value < 0 || f.value > 1 {
			errs = append(errs, fmt.Errorf("%s %.3f is out of range [0, 1]", f.name, f.value))
		}
	}
	if cfg.VAD.AttackFrames < 0 {
		errs = append(errs, fmt.Errorf("vad.attack_frames %d must not be negative", cfg.VAD.AttackFrames))
	}
	if cfg.VAD.ReleaseFrames < 0 {
		errs = append(errs, fmt.Errorf("vad.release_frames %d must not be negative", cfg.VAD.ReleaseFrames))
	}

	// Audio
	for _, f := range []struct {
		name string
		rate int
	}{
		{"audio.provider_rate", cfg.Audio.ProviderRate},
		{"audio.synth_rate", cfg.Audio.SynthRate},
		{"audio.avatar_rate", cfg.Audio.AvatarRate},
	} {
		if f.rate < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.rate))
		}
	}
	if cfg.Audio.ChunkDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_duration %s must not be negative", cfg.Audio.ChunkDuration.Std()))
	}
	if cfg.Audio.FlushTimeout < 0 {
		errs = append(errs, fmt.Errorf("audio.flush_timeout %s must not be negative", cfg.Audio.FlushTimeout.Std()))
	}

	// Sessions
	residentSeen := make(map[string]int, len(cfg.Sessions))
	for i, sess := range cfg.Sessions {
		prefix := fmt.Sprintf("sessions[%d]", i)
		if sess.ResidentID == "" {
			errs = append(errs, fmt.Errorf("%s.resident_id is required", prefix))
		} else {
			if prev, ok := residentSeen[sess.ResidentID]; ok {
				errs = append(errs, fmt.Errorf("%s.resident_id %q is a duplicate of sessions[%d]", prefix, sess.ResidentID, prev))
			}
			residentSeen[sess.ResidentID] = i
		}
		if sess.AgentID == "" {
			errs = append(errs, fmt.Errorf("%s.agent_id is required", prefix))
		}
		if sess.DeviceID == "" {
			slog.Warn("session has no capture device configured; the platform default will be used",
				"resident", sess.ResidentID)
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
