package bridge

import "github.com/aldervale/voicebridge/pkg/provider/convai"

// Inbound-event constructors shared by the session tests.

func convaiAudio(payload string) convai.Event {
	return convai.Event{Type: convai.EventAudio, Audio: payload}
}

func convaiInterruption() convai.Event {
	return convai.Event{Type: convai.EventInterruption}
}

func convaiPing(eventID string) convai.Event {
	return convai.Event{Type: convai.EventPing, EventID: eventID}
}

func convaiToolCall(toolCallID, params string) convai.Event {
	return convai.Event{Type: convai.EventToolCall, ToolCallID: toolCallID, ToolParams: params}
}

func convaiTranscript(text string) convai.Event {
	return convai.Event{Type: convai.EventUserTranscript, Text: text}
}

func convaiAgentResponse(text string) convai.Event {
	return convai.Event{Type: convai.EventAgentResponse, Text: text}
}

func convaiError(title, detail string) convai.Event {
	return convai.Event{Type: convai.EventError, ErrTitle: title, ErrDetail: detail}
}
