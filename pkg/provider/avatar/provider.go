// Package avatar defines the Provider interface for avatar rendering
// backends.
//
// An avatar provider consumes chunked PCM speech and renders it as an
// animated talking avatar. The protocol is chunk-oriented: each turn of
// agent speech is a sequence of agent.speak messages sharing a turn id,
// closed by an explicit agent.speak_end marker, or cut short by
// agent.interrupt when the user barges in.
//
// Implementations wrap a provider-specific wire protocol (see the anam
// subpackage).
package avatar

import "context"

// EventType enumerates the inbound events an avatar session emits.
type EventType int

const (
	// EventStateUpdated reports a change of the avatar's session state
	// (e.g., "idle", "listening", "speaking").
	EventStateUpdated EventType = iota
)

// Event is a single inbound message from the avatar provider.
type Event struct {
	Type EventType

	// SessionState is the avatar's reported state for EventStateUpdated.
	SessionState string
}

// SessionConfig holds the parameters for one avatar session.
type SessionConfig struct {
	// SessionToken authenticates the rendering session. Obtained by the host
	// application's bootstrap exchange; opaque to the bridge.
	SessionToken string

	// OnEvent receives every inbound event. May be nil when the caller does
	// not track avatar state.
	OnEvent func(Event)

	// OnClose is invoked once when the session terminates, with a nil error
	// for a clean local close and the transport error otherwise. May be nil.
	OnClose func(error)
}

// SessionHandle represents an open avatar rendering session. Methods may be
// called from any goroutine; implementations serialize writes internally.
type SessionHandle interface {
	// Speak delivers one base64-encoded PCM16 chunk of agent speech. All
	// chunks of one turn carry the same turn id as their event id so the
	// renderer can group them.
	Speak(audio, turnID string) error

	// SpeakEnd marks the end of the turn identified by turnID.
	SpeakEnd(turnID string) error

	// StartListening switches the avatar into its listening pose.
	StartListening() error

	// StopListening returns the avatar to its idle pose.
	StopListening() error

	// Interrupt aborts in-progress speech immediately. The renderer treats
	// the interrupt itself as the end of the turn; no SpeakEnd follows.
	Interrupt() error

	// KeepAlive sends a no-op liveness message.
	KeepAlive() error

	// Close tears down the session. Safe to call more than once.
	Close() error
}

// Provider is the factory for avatar rendering sessions.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a rendering session. The supplied ctx governs the
	// connection attempt only.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
