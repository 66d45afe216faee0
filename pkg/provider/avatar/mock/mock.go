// Package mock provides in-memory mock implementations of the
// [avatar.Provider] and [avatar.SessionHandle] interfaces for use in unit
// tests.
//
// The mock session records every outbound message so tests can assert on
// ordering (e.g., that an interrupt is never followed by a speak_end), and
// exposes [Session.EmitState] to inject engine state updates.
package mock

import (
	"context"
	"sync"

	"github.com/aldervale/voicebridge/pkg/provider/avatar"
)

// SentMessage records one outbound message written to the mock session.
type SentMessage struct {
	// Kind is the message type: "agent.speak", "agent.speak_end",
	// "agent.start_listening", "agent.stop_listening", "agent.interrupt",
	// or "session.keep_alive".
	Kind string

	// Audio is the base64 payload of an agent.speak message.
	Audio string

	// TurnID is the turn (event) id of speak and speak_end messages.
	TurnID string
}

// Session is a mock implementation of [avatar.SessionHandle].
type Session struct {
	mu sync.Mutex

	// SendError, when non-nil, is returned by every outbound method.
	SendError error

	// Sent records every outbound message in order.
	Sent []SentMessage

	// CallCountClose records how many times Close was called.
	CallCountClose int

	onEvent func(avatar.Event)
	onClose func(error)
	closed  bool
}

// EmitState injects a session.state_updated event.
func (s *Session) EmitState(state string) {
	s.mu.Lock()
	cb := s.onEvent
	s.mu.Unlock()
	if cb != nil {
		cb(avatar.Event{Type: avatar.EventStateUpdated, SessionState: state})
	}
}

// EmitClose invokes the session's OnClose callback.
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

// Speak implements [avatar.SessionHandle].
func (s *Session) Speak(audio, turnID string) error {
	return s.record(SentMessage{Kind: "agent.speak", Audio: audio, TurnID: turnID})
}

// SpeakEnd implements [avatar.SessionHandle].
func (s *Session) SpeakEnd(turnID string) error {
	return s.record(SentMessage{Kind: "agent.speak_end", TurnID: turnID})
}

// StartListening implements [avatar.SessionHandle].
func (s *Session) StartListening() error {
	return s.record(SentMessage{Kind: "agent.start_listening"})
}

// StopListening implements [avatar.SessionHandle].
func (s *Session) StopListening() error {
	return s.record(SentMessage{Kind: "agent.stop_listening"})
}

// Interrupt implements [avatar.SessionHandle].
func (s *Session) Interrupt() error {
	return s.record(SentMessage{Kind: "agent.interrupt"})
}

// KeepAlive implements [avatar.SessionHandle].
func (s *Session) KeepAlive() error {
	return s.record(SentMessage{Kind: "session.keep_alive"})
}

// Close implements [avatar.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return nil
}

// Provider is a mock implementation of [avatar.Provider].
type Provider struct {
	mu sync.Mutex

	// ConnectError, when non-nil, is returned by [Provider.Connect].
	ConnectError error

	// ConnectCalls records the session configs of every Connect invocation.
	ConnectCalls []avatar.SessionConfig

	// Sessions holds the mock sessions created by Connect, in order.
	Sessions []*Session
}

// Connect implements [avatar.Provider].
func (p *Provider) Connect(_ context.Context, cfg avatar.SessionConfig) (avatar.SessionHandle, error) {
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
