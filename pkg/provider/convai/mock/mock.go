// Package mock provides in-memory mock implementations of the
// [convai.Provider] and [convai.SessionHandle] interfaces for use in unit
// tests.
//
// The mock session records every outbound message so tests can assert on
// ordering and contents, and exposes [Session.Emit] to inject inbound events
// as if they arrived from the provider.
package mock

import (
	"context"
	"sync"

	"github.com/aldervale/voicebridge/pkg/provider/convai"
)

// SentMessage records one outbound message written to the mock session.
type SentMessage struct {
	// Kind is the outbound message type: "user_audio_chunk", "user_message",
	// "contextual_update", "pong", or "client_tool_result".
	Kind string

	// Payload holds the audio payload, message text, or pong event id.
	Payload string

	// ToolCallID, Result and IsError are set for client_tool_result messages.
	ToolCallID string
	Result     string
	IsError    bool
}

// Session is a mock implementation of [convai.SessionHandle].
type Session struct {
	mu sync.Mutex

	// SendError, when non-nil, is returned by every Send method.
	SendError error

	// Sent records every outbound message in order.
	Sent []SentMessage

	// CallCountClose records how many times Close was called.
	CallCountClose int

	onEvent func(convai.Event)
	onClose func(error)
	closed  bool
}

// Emit injects an inbound event, invoking the session's OnEvent callback.
func (s *Session) Emit(evt convai.Event) {
	s.mu.Lock()
	cb := s.onEvent
	s.mu.Unlock()
	if cb != nil {
		cb(evt)
	}
}

// EmitClose invokes the session's OnClose callback, simulating a
// provider-initiated disconnect when err is non-nil.
func (s *Session) EmitClose(err error) {
	s.mu.Lock()
	cb := s.onClose
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Messages returns a copy of all recorded outbound messages.
func (s *Session) Messages() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.Sent))
	copy(out, s.Sent)
	return out
}

// MessagesOfKind returns the recorded messages matching kind, in order.
func (s *Session) MessagesOfKind(kind string) []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SentMessage
	for _, m := range s.Sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) record(m SentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendError != nil {
		return s.SendError
	}
	s.Sent = append(s.Sent, m)
	return nil
}

// SendAudioChunk implements [convai.SessionHandle].
func (s *Session) SendAudioChunk(payload string) error {
	return s.record(SentMessage{Kind: "user_audio_chunk", Payload: payload})
}

// SendText implements [convai.SessionHandle].
func (s *Session) SendText(text string) error {
	return s.record(SentMessage{Kind: "user_message", Payload: text})
}

// SendContextualUpdate implements [convai.SessionHandle].
func (s *Session) SendContextualUpdate(text string) error {
	return s.record(SentMessage{Kind: "contextual_update", Payload: text})
}

// Pong implements [convai.SessionHandle].
func (s *Session) Pong(eventID string) error {
	return s.record(SentMessage{Kind: "pong", Payload: eventID})
}

// SendToolResult implements [convai.SessionHandle].
func (s *Session) SendToolResult(toolCallID, result string, isError bool) error {
	return s.record(SentMessage{
		Kind:       "client_tool_result",
		ToolCallID: toolCallID,
		Result:     result,
		IsError:    isError,
	})
}

// Close implements [convai.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return nil
}

// Provider is a mock implementation of [convai.Provider].
type Provider struct {
	mu sync.Mutex

	// ConnectError, when non-nil, is returned by [Provider.Connect].
	ConnectError error

	// ConnectHold, when non-nil, makes Connect block until the channel is
	// closed. Lets tests exercise behavior while a dial is in flight.
	ConnectHold chan struct{}

	// ConnectCalls records the session configs of every Connect invocation.
	ConnectCalls []convai.SessionConfig

	// Sessions holds the mock sessions created by Connect, in order.
	Sessions []*Session
}

// Connect implements [convai.Provider]. It returns a fresh [Session] wired
// to the config's callbacks.
func (p *Provider) Connect(_ context.Context, cfg convai.SessionConfig) (convai.SessionHandle, error) {
	p.mu.Lock()
	hold := p.ConnectHold
	p.mu.Unlock()
	if hold != nil {
		<-hold
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, cfg)
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	sess := &Session{onEvent: cfg.OnEvent, onClose: cfg.OnClose}
	p.Sessions = append(p.Sessions, sess)
	return sess, nil
}

// LastSession returns the most recently created mock session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}
