// Package convai defines the Provider interface for conversational speech
// backends.
//
// A conversational provider performs speech-to-text, dialogue, and
// text-to-speech behind a single bidirectional message channel. The bridge
// streams the user's microphone audio up and receives synthesized speech,
// transcripts, tool calls, and control events back.
//
// Implementations wrap a provider-specific wire protocol (see the elevenlabs
// subpackage) and surface every inbound message as an [Event] through the
// session's OnEvent callback. Events for one session are delivered
// sequentially from a single goroutine, so callers may treat the callback as
// a serialized inbox.
package convai

import "context"

// SessionConfig holds the parameters for one conversational session.
type SessionConfig struct {
	// AgentID selects the remote agent persona to converse with.
	AgentID string

	// InitialContext, when non-empty, is sent as a contextual update
	// immediately after the connection handshake.
	InitialContext string

	// OnEvent receives every inbound event. Must be non-nil. The callback is
	// invoked from the session's receive goroutine and must not block.
	OnEvent func(Event)

	// OnClose is invoked once when the session terminates, with a nil error
	// for a clean local close and the transport error otherwise. May be nil.
	OnClose func(error)
}

// SessionHandle represents an open conversational session. Methods may be
// called from any goroutine; implementations serialize writes internally.
//
// All Send methods return an error when the session is closed or the
// transport write fails.
type SessionHandle interface {
	// SendAudioChunk streams one base64-encoded PCM16 chunk of user audio.
	// An empty payload is valid and acts as an end-of-utterance hint.
	SendAudioChunk(payload string) error

	// SendText submits a typed user message.
	SendText(text string) error

	// SendContextualUpdate delivers out-of-band state text the agent should
	// incorporate without treating it as a user turn.
	SendContextualUpdate(text string) error

	// Pong answers a provider ping carrying the same event id.
	Pong(eventID string) error

	// SendToolResult returns the result of a client tool call.
	SendToolResult(toolCallID, result string, isError bool) error

	// Close tears down the session. Safe to call more than once.
	Close() error
}

// Provider is the factory for conversational sessions.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// connected simultaneously.
type Provider interface {
	// Connect establishes a session and sends the protocol handshake. The
	// supplied ctx governs the connection attempt only.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
