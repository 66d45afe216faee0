package convai

// EventType enumerates the inbound events a conversational session emits.
type EventType int

const (
	// EventPing is a liveness probe; answer with [SessionHandle.Pong].
	EventPing EventType = iota

	// EventAudio carries one base64 fragment of synthesized agent speech.
	EventAudio

	// EventInterruption signals that the provider cut the current agent
	// response short (e.g., server-side barge-in detection).
	EventInterruption

	// EventToolCall asks the client application to execute a tool.
	EventToolCall

	// EventUserTranscript is the transcription of the user's speech.
	EventUserTranscript

	// EventAgentResponse is the text of the agent's spoken response.
	EventAgentResponse

	// EventError is a structured error reported by the provider.
	EventError
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventPing:
		return "ping"
	case EventAudio:
		return "audio"
	case EventInterruption:
		return "interruption"
	case EventToolCall:
		return "tool_call"
	case EventUserTranscript:
		return "user_transcript"
	case EventAgentResponse:
		return "agent_response"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single inbound message from the conversational provider. Only
// the fields relevant to Type are populated.
type Event struct {
	Type EventType

	// EventID accompanies ping events and must be echoed in the pong.
	EventID string

	// Audio is the base64-encoded PCM16 payload of an audio event. Decoding
	// is left to the consumer so that a malformed payload can be dropped
	// without killing the receive loop.
	Audio string

	// SampleRateHint is the sample rate of the audio payload in Hz, or 0
	// when the provider did not specify one.
	SampleRateHint int

	// Text carries transcript and response text.
	Text string

	// ToolCallID and ToolParams describe a client tool call. ToolParams is
	// the raw JSON parameter object.
	ToolCallID string
	ToolParams string

	// ErrTitle and ErrDetail describe a structured provider error.
	ErrTitle  string
	ErrDetail string
}
