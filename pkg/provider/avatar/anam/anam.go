// Package anam implements the avatar.Provider interface for the Anam
// rendering engine's websocket protocol.
//
// Agent speech is streamed as agent.speak messages carrying base64 PCM16
// chunks; turn boundaries are signalled with agent.speak_end and
// agent.interrupt. The engine reports its own state back via
// session.state_updated events.
package anam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/aldervale/voicebridge/pkg/provider/avatar"
)

// Compile-time assertions that Provider and session satisfy the avatar interfaces.
var _ avatar.Provider = (*Provider)(nil)
var _ avatar.SessionHandle = (*session)(nil)

const defaultBaseURL = "wss://api.anam.ai/v1/engine"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements avatar.Provider for the Anam engine.
type Provider struct {
	baseURL string
}

// New creates a Provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{baseURL: defaultBaseURL}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new rendering session authenticated by the config's
// session token.
func (p *Provider) Connect(ctx context.Context, cfg avatar.SessionConfig) (avatar.SessionHandle, error) {
	conn, _, err := websocket.Dial(ctx, p.baseURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + cfg.SessionToken},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anam: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:    conn,
		onEvent: cfg.OnEvent,
		onClose: cfg.OnClose,
		ctx:     sessCtx,
		cancel:  sessCancel,
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types ─────────────────────────────────────────────────────

type outboundMessage struct {
	Type    string `json:"type"`
	Audio   string `json:"audio,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

type serverEvent struct {
	Type         string `json:"type"`
	SessionState string `json:"session_state,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn    *websocket.Conn
	onEvent func(avatar.Event)
	onClose func(error)

	mu     sync.Mutex
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *session) writeJSON(v any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("anam: session closed")
	}
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("anam: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads engine events until the connection closes.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				s.notifyClose(nil)
				return
			}
			s.notifyClose(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		if evt.Type == "session.state_updated" && s.onEvent != nil {
			s.onEvent(avatar.Event{
				Type:         avatar.EventStateUpdated,
				SessionState: evt.SessionState,
			})
		}
	}
}

func (s *session) notifyClose(err error) {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose(err)
		}
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// Speak implements [avatar.SessionHandle].
func (s *session) Speak(audio, turnID string) error {
	return s.writeJSON(outboundMessage{Type: "agent.speak", Audio: audio, EventID: turnID})
}

// SpeakEnd implements [avatar.SessionHandle].
func (s *session) SpeakEnd(turnID string) error {
	return s.writeJSON(outboundMessage{Type: "agent.speak_end", EventID: turnID})
}

// StartListening implements [avatar.SessionHandle].
func (s *session) StartListening() error {
	return s.writeJSON(outboundMessage{Type: "agent.start_listening", EventID: uuid.NewString()})
}

// StopListening implements [avatar.SessionHandle].
func (s *session) StopListening() error {
	return s.writeJSON(outboundMessage{Type: "agent.stop_listening", EventID: uuid.NewString()})
}

// Interrupt implements [avatar.SessionHandle].
func (s *session) Interrupt() error {
	return s.writeJSON(outboundMessage{Type: "agent.interrupt"})
}

// KeepAlive implements [avatar.SessionHandle].
func (s *session) KeepAlive() error {
	return s.writeJSON(outboundMessage{Type: "session.keep_alive", EventID: uuid.NewString()})
}

// Close implements [avatar.SessionHandle]. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.conn.Close(websocket.StatusNormalClosure, "session closed")
	s.notifyClose(nil)
	if err != nil {
		return fmt.Errorf("anam: close: %w", err)
	}
	return nil
}
