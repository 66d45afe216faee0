// Package config provides the configuration schema, loader, and provider
// registry for the voicebridge server.
package config

import "github.com/aldervale/voicebridge/internal/vad"

// LogLevel controls log verbosity for the voicebridge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VADMode selects how speech boundaries are driven.
type VADMode string

const (
	VADHandsFree  VADMode = "hands_free"
	VADPushToTalk VADMode = "push_to_talk"
)

// IsValid reports whether m is a recognised VAD mode.
func (m VADMode) IsValid() bool {
	return m == VADHandsFree || m == VADPushToTalk
}

// Mode converts the configured mode string to the detector's enum.
func (m VADMode) Mode() vad.Mode {
	if m == VADPushToTalk {
		return vad.ModePushToTalk
	}
	return vad.ModeHandsFree
}

// Config is the root configuration structure for voicebridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Publisher PublisherConfig `yaml:"publisher"`
	Sessions  []SessionConfig `yaml:"sessions"`
}

// ServerConfig holds network and logging settings for the voicebridge server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP surface listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// external leg. Each entry selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	Conversational ProviderEntry `yaml:"conversational"`
	Avatar         ProviderEntry `yaml:"avatar"`
	Capture        ProviderEntry `yaml:"capture"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig holds the sample rates and chunking parameters of the relay.
type AudioConfig struct {
	// ProviderRate is the sample rate (Hz) sent to the conversational
	// provider. Zero means the bridge default (16000).
	ProviderRate int `yaml:"provider_rate"`

	// SynthRate is the assumed rate of inbound synthesized audio when an
	// event carries no hint. Zero means the bridge default (16000).
	SynthRate int `yaml:"synth_rate"`

	// AvatarRate is the sample rate consumed by the avatar provider.
	// Zero means the bridge default (24000).
	AvatarRate int `yaml:"avatar_rate"`

	// ChunkDuration is the nominal length of one avatar chunk.
	ChunkDuration Duration `yaml:"chunk_duration"`

	// FlushTimeout is the inbound-fragment debounce that closes a turn.
	FlushTimeout Duration `yaml:"flush_timeout"`
}

// VADConfig exposes the speech detector tunables. All level values are in
// the normalized [0, 1] sample scale. Zero fields take the detector defaults.
type VADConfig struct {
	Mode           VADMode `yaml:"mode"`
	AbsoluteMin    float64 `yaml:"absolute_min"`
	Multiplier     float64 `yaml:"multiplier"`
	StrongMargin   float64 `yaml:"strong_margin"`
	WeakRatio      float64 `yaml:"weak_ratio"`
	AttackFrames   int     `yaml:"attack_frames"`
	ReleaseFrames  int     `yaml:"release_frames"`
	NoiseDecay     float64 `yaml:"noise_decay"`
	LevelSmoothing float64 `yaml:"level_smoothing"`
}

// Detector converts the configured tunables to a [vad.Config].
func (c VADConfig) Detector() vad.Config {
	return vad.Config{
		Mode:           c.Mode.Mode(),
		AbsoluteMin:    c.AbsoluteMin,
		Multiplier:     c.Multiplier,
		StrongMargin:   c.StrongMargin,
		WeakRatio:      c.WeakRatio,
		AttackFrames:   c.AttackFrames,
		ReleaseFrames:  c.ReleaseFrames,
		NoiseDecay:     c.NoiseDecay,
		LevelSmoothing: c.LevelSmoothing,
	}
}

// BridgeConfig holds session-level timing parameters.
type BridgeConfig struct {
	// KeepaliveInterval paces no-op keepalives on the avatar leg.
	KeepaliveInterval Duration `yaml:"keepalive_interval"`

	// WatchdogTimeout bounds the wait for a response to a text turn.
	WatchdogTimeout Duration `yaml:"watchdog_timeout"`

	// RecoveryDelay is the pause before a provider-error recovery resend.
	RecoveryDelay Duration `yaml:"recovery_delay"`
}

// PublisherConfig holds the context-state publisher settings.
type PublisherConfig struct {
	// Throttle is the minimum interval between ordinary context flushes.
	Throttle Duration `yaml:"throttle"`
}

// SessionConfig describes one resident's bridge session.
type SessionConfig struct {
	// ResidentID uniquely identifies the resident this session serves.
	ResidentID string `yaml:"resident_id"`

	// DeviceID names the capture device to acquire.
	DeviceID string `yaml:"device_id"`

	// AgentID selects the conversational agent persona.
	AgentID string `yaml:"agent_id"`

	// AvatarToken authenticates the avatar rendering session.
	AvatarToken string `yaml:"avatar_token"`

	// InitialContext is sent to the agent on connect (care notes, profile).
	InitialContext string `yaml:"initial_context"`
}
