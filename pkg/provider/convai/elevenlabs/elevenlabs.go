// Package elevenlabs implements the convai.Provider interface for the
// ElevenLabs Conversational AI websocket protocol.
//
// It establishes a bidirectional WebSocket connection per session and
// exchanges JSON events: user audio goes up as base64 PCM16 chunks, and
// synthesized speech, transcripts, tool calls, and control events come back.
// Every inbound message is surfaced as a [convai.Event] via the session's
// OnEvent callback.
package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/aldervale/voicebridge/pkg/provider/convai"
)

// Compile-time assertions that Provider and session satisfy the convai interfaces.
var _ convai.Provider = (*Provider)(nil)
var _ convai.SessionHandle = (*session)(nil)

const defaultBaseURL = "wss://api.elevenlabs.io/v1/convai/conversation"

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements convai.Provider for ElevenLabs Conversational AI.
type Provider struct {
	apiKey  string
	baseURL string
}

// New creates a Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new conversational session. The returned handle is
// ready to accept audio immediately after the handshake message is sent.
func (p *Provider) Connect(ctx context.Context, cfg convai.SessionConfig) (convai.SessionHandle, error) {
	if cfg.OnEvent == nil {
		return nil, fmt.Errorf("elevenlabs: SessionConfig.OnEvent must not be nil")
	}

	wsURL := fmt.Sprintf("%s?agent_id=%s", p.baseURL, cfg.AgentID)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"xi-api-key": []string{p.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:    conn,
		onEvent: cfg.OnEvent,
		onClose: cfg.OnClose,
		ctx:     sessCtx,
		cancel:  sessCancel,
	}

	if err := sess.sendInit(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "init failed")
		return nil, fmt.Errorf("elevenlabs: handshake: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type initMessage struct {
	Type           string `json:"type"`
	AgentID        string `json:"agent_id"`
	InitialContext string `json:"initial_context,omitempty"`
}

type audioChunkMessage struct {
	Type    string `json:"type"`
	Payload string `json:"payload"` // base64-encoded PCM16
}

type userMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type contextualUpdateMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

type toolResultMessage struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type errorDetails struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type serverEvent struct {
	Type string `json:"type"`

	// ping
	EventID string `json:"event_id,omitempty"`

	// audio
	Payload        string `json:"payload,omitempty"`
	SampleRateHint int    `json:"sampleRateHint,omitempty"`

	// user_transcript / agent_response
	Text string `json:"text,omitempty"`

	// client_tool_call
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// error
	Details *errorDetails `json:"details,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn    *websocket.Conn
	onEvent func(convai.Event)
	onClose func(error)

	mu     sync.Mutex
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendInit sends the conversation initiation message.
func (s *session) sendInit(cfg convai.SessionConfig) error {
	return s.writeJSON(initMessage{
		Type:           "conversation_initiation",
		AgentID:        cfg.AgentID,
		InitialContext: cfg.InitialContext,
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("elevenlabs: session closed")
	}
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them through
// the OnEvent callback until the connection closes.
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
		s.dispatch(&evt)
	}
}

func (s *session) dispatch(evt *serverEvent) {
	switch evt.Type {
	case "ping":
		s.onEvent(convai.Event{Type: convai.EventPing, EventID: evt.EventID})

	case "audio":
		if evt.Payload == "" {
			return
		}
		s.onEvent(convai.Event{
			Type:           convai.EventAudio,
			Audio:          evt.Payload,
			SampleRateHint: evt.SampleRateHint,
		})

	case "interruption":
		s.onEvent(convai.Event{Type: convai.EventInterruption})

	case "client_tool_call":
		s.onEvent(convai.Event{
			Type:       convai.EventToolCall,
			ToolCallID: evt.ToolCallID,
			ToolParams: string(evt.Parameters),
		})

	case "user_transcript":
		if evt.Text == "" {
			return
		}
		s.onEvent(convai.Event{Type: convai.EventUserTranscript, Text: evt.Text})

	case "agent_response":
		if evt.Text == "" {
			return
		}
		s.onEvent(convai.Event{Type: convai.EventAgentResponse, Text: evt.Text})

	case "error":
		e := convai.Event{Type: convai.EventError}
		if evt.Details != nil {
			e.ErrTitle = evt.Details.Title
			e.ErrDetail = evt.Details.Detail
		}
		s.onEvent(e)
	}
}

// notifyClose invokes the OnClose callback exactly once.
func (s *session) notifyClose(err error) {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose(err)
		}
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudioChunk implements [convai.SessionHandle].
func (s *session) SendAudioChunk(payload string) error {
	return s.writeJSON(audioChunkMessage{Type: "user_audio_chunk", Payload: payload})
}

// SendText implements [convai.SessionHandle].
func (s *session) SendText(text string) error {
	return s.writeJSON(userMessage{Type: "user_message", Text: text})
}

// SendContextualUpdate implements [convai.SessionHandle].
func (s *session) SendContextualUpdate(text string) error {
	return s.writeJSON(contextualUpdateMessage{Type: "contextual_update", Text: text})
}

// Pong implements [convai.SessionHandle].
func (s *session) Pong(eventID string) error {
	return s.writeJSON(pongMessage{Type: "pong", EventID: eventID})
}

// SendToolResult implements [convai.SessionHandle].
func (s *session) SendToolResult(toolCallID, result string, isError bool) error {
	return s.writeJSON(toolResultMessage{
		Type:       "client_tool_result",
		ToolCallID: toolCallID,
		Result:     result,
		IsError:    isError,
	})
}

// Close implements [convai.SessionHandle]. Safe to call more than once.
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
		return fmt.Errorf("elevenlabs: close: %w", err)
	}
	return nil
}
