// Package bridge implements the duplex session orchestrator at the heart of
// the voice coach: a real-time relay between the user's microphone, the
// conversational speech provider, and the avatar rendering provider.
//
// One [Session] owns both provider connections, the capture device, and all
// timers; everything is released together on teardown. All per-session state
// (VAD, turn buffer, retry machines) is mutated from a single event-loop
// goroutine — capture frames, provider events, and timer fires serialize
// onto one channel, so no handler ever runs concurrently with another for
// the same session. Independent sessions share nothing.
package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/aldervale/voicebridge/internal/observe"
	"github.com/aldervale/voicebridge/internal/vad"
	"github.com/aldervale/voicebridge/pkg/audio"
	"github.com/aldervale/voicebridge/pkg/capture"
	"github.com/aldervale/voicebridge/pkg/provider/avatar"
	"github.com/aldervale/voicebridge/pkg/provider/convai"
)

// State is the lifecycle state of a [Session].
type State int

const (
	// StateIdle is the initial state before Start.
	StateIdle State = iota

	// StateConnecting covers device acquisition and the dial of both legs.
	StateConnecting

	// StateConnected means both legs are open and the handshake was sent.
	StateConnected

	// StateDisconnected is reached on explicit stop or a provider-initiated
	// close. The session does not restart itself.
	StateDisconnected

	// StateError is reached on an unrecoverable setup failure. The caller
	// must create a fresh session to try again; there is no auto-retry.
	StateError
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Defaults for zero-valued [Config] fields.
const (
	defaultProviderRate      = 16000
	defaultSynthRate         = 16000
	defaultAvatarRate        = 24000
	defaultChunkDuration     = 1 * time.Second
	defaultFlushTimeout      = 500 * time.Millisecond
	defaultKeepaliveInterval = 45 * time.Second
	defaultWatchdogTimeout   = 6 * time.Second
	defaultRecoveryDelay     = 1 * time.Second
)

// Config holds the dependencies and tuning for one [Session].
type Config struct {
	// Convai, Avatar and Capture are the three external legs. All required.
	Convai  convai.Provider
	Avatar  avatar.Provider
	Capture capture.Platform

	// AgentID selects the conversational agent persona.
	AgentID string

	// AvatarToken authenticates the rendering session. Obtained by the host
	// application's bootstrap exchange.
	AvatarToken string

	// DeviceID names the capture device to acquire.
	DeviceID string

	// InitialContext is sent to the conversational agent on connect.
	InitialContext string

	// VAD configures the speech detector for this session.
	VAD vad.Config

	// ProviderRate is the sample rate the conversational provider expects
	// for user audio. Default 16000.
	ProviderRate int

	// SynthRate is the assumed sample rate of inbound synthesized audio
	// when an event carries no hint. Default 16000.
	SynthRate int

	// AvatarRate is the sample rate the avatar provider consumes.
	// Default 24000.
	AvatarRate int

	// ChunkDuration is the nominal length of one avatar chunk. Default 1s.
	ChunkDuration time.Duration

	// FlushTimeout is the inbound-fragment debounce that closes a turn.
	// Default 500ms.
	FlushTimeout time.Duration

	// KeepaliveInterval paces no-op keepalives on the avatar leg. Default 45s.
	KeepaliveInterval time.Duration

	// WatchdogTimeout bounds the wait for a response to a text turn.
	// Default 6s.
	WatchdogTimeout time.Duration

	// RecoveryDelay is the pause before a provider-error recovery resend.
	// Default 1s.
	RecoveryDelay time.Duration

	// OnToolCall handles a client tool call and returns its result. May be
	// nil, in which case tool calls are answered with an error result.
	OnToolCall func(toolCallID, params string) (string, error)

	// OnTranscript receives transcript text as it arrives; speaker is
	// "user" or "agent". May be nil.
	OnTranscript func(speaker, text string)

	// OnStateChange is invoked on every lifecycle transition. May be nil.
	OnStateChange func(State)

	// OnError receives surfaced session errors (transport failures, stalled
	// turns, unrecovered provider errors). May be nil.
	OnError func(error)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// withDefaults fills zero-valued tuning fields.
func (c Config) withDefaults() Config {
	if c.ProviderRate <= 0 {
		c.ProviderRate = defaultProviderRate
	}
	if c.SynthRate <= 0 {
		c.SynthRate = defaultSynthRate
	}
	if c.AvatarRate <= 0 {
		c.AvatarRate = defaultAvatarRate
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = defaultChunkDuration
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = defaultFlushTimeout
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = defaultKeepaliveInterval
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = defaultWatchdogTimeout
	}
	if c.RecoveryDelay <= 0 {
		c.RecoveryDelay = defaultRecoveryDelay
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// ── internal events ────────────────────────────────────────────────────────────

type eventKind int

const (
	evConvai eventKind = iota
	evAvatar
	evUserText
	evContextUpdate
	evTalkHeld
	evFlushTimeout
	evWatchdogTimeout
	evRecoveryResend
	evLegClosed
)

type event struct {
	kind eventKind
	conv convai.Event
	av   avatar.Event
	text string
	held bool
	gen  uint64
	leg  string
	err  error
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one live bridge between a resident's microphone, the
// conversational provider, and the avatar renderer.
type Session struct {
	cfg Config
	id  string
	log *slog.Logger

	mu    sync.Mutex
	state State

	events   chan event
	done     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	// startResolved is closed when an in-flight Start returns; started is
	// true once the event loop has been launched. Both guarded by mu.
	startResolved chan struct{}
	started       bool

	// Handles, owned exclusively by this session and released together.
	conv convai.SessionHandle
	av   avatar.SessionHandle
	dev  capture.Device

	// Event-loop-owned state. Never touched outside the loop.
	det           *vad.Detector
	turns         *turnBuffer
	watchdog      textWatchdog
	recovery      *errorRecovery
	flushTimer    *time.Timer
	flushGen      uint64
	watchdogTimer *time.Timer
	watchdogGen   uint64
	avatarState   string
	framesInTurn  int
	lastUserText  string
	turnStarted   time.Time
}

// NewSession creates a Session in the idle state.
func NewSession(cfg Config) *Session {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	chunkBytes := int(float64(cfg.AvatarRate) * cfg.ChunkDuration.Seconds() * 2)
	return &Session{
		cfg:      cfg,
		id:       id,
		log:      slog.With("session_id", id),
		state:    StateIdle,
		events:   make(chan event, 256),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		det:      vad.New(cfg.VAD),
		turns:    newTurnBuffer(chunkBytes),
		recovery: newErrorRecovery(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Info("session state changed", "from", prev.String(), "to", st.String())
		if s.cfg.OnStateChange != nil {
			s.cfg.OnStateChange(st)
		}
	}
}

// Start acquires the capture device, dials both provider legs concurrently,
// and launches the event loop. On any failure every handle acquired so far
// is released and the session lands in StateError — a session never starts
// partially. A Stop that lands while the dial is in flight wins: the
// resolved handles are released and the session lands disconnected. The
// supplied ctx governs the connection attempt only; cancel it to abort a
// start in flight.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return fmt.Errorf("bridge: session stopped")
	default:
	}
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("bridge: start from state %s", st)
	}
	s.state = StateConnecting
	resolved := make(chan struct{})
	s.startResolved = resolved
	s.mu.Unlock()
	defer close(resolved)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(StateConnecting)
	}

	dev, err := s.cfg.Capture.Acquire(ctx, s.cfg.DeviceID)
	if err != nil {
		s.setState(StateError)
		return &DeviceError{Err: err}
	}

	var conv convai.SessionHandle
	var av avatar.SessionHandle

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := s.cfg.Convai.Connect(gctx, convai.SessionConfig{
			AgentID:        s.cfg.AgentID,
			InitialContext: s.cfg.InitialContext,
			OnEvent:        func(e convai.Event) { s.post(event{kind: evConvai, conv: e}) },
			OnClose:        func(err error) { s.post(event{kind: evLegClosed, leg: "conversational", err: err}) },
		})
		if err != nil {
			return &TransportError{Leg: "conversational", Err: err}
		}
		conv = h
		return nil
	})
	g.Go(func() error {
		h, err := s.cfg.Avatar.Connect(gctx, avatar.SessionConfig{
			SessionToken: s.cfg.AvatarToken,
			OnEvent:      func(e avatar.Event) { s.post(event{kind: evAvatar, av: e}) },
			OnClose:      func(err error) { s.post(event{kind: evLegClosed, leg: "avatar", err: err}) },
		})
		if err != nil {
			return &TransportError{Leg: "avatar", Err: err}
		}
		av = h
		return nil
	})

	if err := g.Wait(); err != nil {
		if conv != nil {
			_ = conv.Close()
		}
		if av != nil {
			_ = av.Close()
		}
		_ = dev.Close()
		s.setState(StateError)
		return err
	}

	// A stop that arrived while the dial was in flight wins: release
	// everything the connect produced and land disconnected instead of
	// going live with nothing left to tear it down.
	select {
	case <-s.done:
		_ = conv.Close()
		_ = av.Close()
		_ = dev.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("bridge: session stopped during connect")
	default:
	}

	s.conv, s.av, s.dev = conv, av, dev
	s.det.Reset()
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.setState(StateConnected)
	s.cfg.Metrics.ActiveSessions.Add(context.Background(), 1)

	go s.run()
	return nil
}

// Stop tears the session down in order: timers, open turn, provider
// connections, capture device. Every step runs even when an earlier one
// fails; the joined error is returned. A stop that lands while Start is
// still dialing blocks until the connect resolves, then releases whatever
// it produced. Safe to call more than once.
func (s *Session) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		resolved := s.startResolved
		s.mu.Unlock()
		if resolved != nil {
			// An in-flight Start observes the closed done channel once the
			// dial resolves and releases its handles itself.
			<-resolved
		}

		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			return
		}

		<-s.loopDone
		err = s.teardown()
		s.setState(StateDisconnected)
		s.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	})
	return err
}

// teardown runs after the event loop has exited, so the loop-owned timers
// and buffers are safe to touch here.
func (s *Session) teardown() error {
	// 1. Timers.
	s.cancelFlushTimer()
	s.cancelWatchdogTimer()

	// 2. Close the open turn without emitting further chunks.
	s.turns.discard()

	// 3. Provider connections, then 4. the capture device — best effort,
	// every step runs regardless of earlier failures.
	var errs []error
	if s.conv != nil {
		if err := s.conv.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.av != nil {
		if err := s.av.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("session teardown finished with errors", "err", err)
		return err
	}
	return nil
}

// post delivers an event to the loop, dropping it when the session is
// stopping. Provider callbacks and timer fires call this from their own
// goroutines; the loop is the only consumer.
func (s *Session) post(e event) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

// SendUserText submits typed user text to the conversational provider and
// arms the stalled-turn watchdog.
func (s *Session) SendUserText(text string) error {
	if s.State() != StateConnected {
		return fmt.Errorf("bridge: session not connected")
	}
	s.post(event{kind: evUserText, text: text})
	return nil
}

// SendContextualUpdate forwards out-of-band context text to the
// conversational provider. Used as the context publisher's sink.
func (s *Session) SendContextualUpdate(text string) error {
	if s.State() != StateConnected {
		return fmt.Errorf("bridge: session not connected")
	}
	s.post(event{kind: evContextUpdate, text: text})
	return nil
}

// SetTalkHeld updates the push-to-talk control state.
func (s *Session) SetTalkHeld(held bool) {
	s.post(event{kind: evTalkHeld, held: held})
}

// ── event loop ─────────────────────────────────────────────────────────────────

func (s *Session) run() {
	defer close(s.loopDone)

	frames := s.dev.Frames()
	keepalive := time.NewTicker(s.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-s.done:
			return
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			s.handleFrame(f)
		case <-keepalive.C:
			if err := s.av.KeepAlive(); err != nil {
				s.log.Warn("keepalive failed", "err", err)
			}
		case e := <-s.events:
			if exit := s.handleEvent(e); exit {
				return
			}
		}
	}
}

func (s *Session) handleEvent(e event) (exit bool) {
	switch e.kind {
	case evConvai:
		s.handleConvaiEvent(e.conv)
	case evAvatar:
		if e.av.Type == avatar.EventStateUpdated {
			s.avatarState = e.av.SessionState
		}
	case evUserText:
		s.sendText(e.text)
	case evContextUpdate:
		if err := s.conv.SendContextualUpdate(e.text); err != nil {
			s.log.Warn("contextual update send failed", "err", err)
		}
	case evTalkHeld:
		s.handleTalkHeld(e.held)
	case evFlushTimeout:
		if e.gen == s.flushGen {
			s.endTurn()
		}
	case evWatchdogTimeout:
		if e.gen == s.watchdogGen {
			s.handleWatchdogTimeout()
		}
	case evRecoveryResend:
		s.log.Info("resending last user text after provider error")
		s.sendText(e.text)
	case evLegClosed:
		s.handleLegClosed(e.leg, e.err)
		return true
	}
	return false
}

// ── microphone leg ─────────────────────────────────────────────────────────────

func (s *Session) handleFrame(f audio.Frame) {
	ctx := context.Background()
	switch s.det.ProcessFrame(f.Samples) {
	case vad.EventSpeechStart:
		s.cfg.Metrics.FramesProcessed.Add(ctx, 1, speechAttr)
		s.onSpeechStart()
		s.forwardFrame(f)
	case vad.EventSpeechContinue:
		s.cfg.Metrics.FramesProcessed.Add(ctx, 1, speechAttr)
		s.forwardFrame(f)
	case vad.EventSpeechEnd:
		s.cfg.Metrics.FramesProcessed.Add(ctx, 1, silenceAttr)
		s.onSpeechEnd()
	default:
		s.cfg.Metrics.FramesProcessed.Add(ctx, 1, silenceAttr)
	}
}

func (s *Session) handleTalkHeld(held bool) {
	if s.det.SetTalkHeld(held) == vad.EventSpeechEnd {
		s.onSpeechEnd()
	}
}

func (s *Session) onSpeechStart() {
	s.cfg.Metrics.SpeechTurns.Add(context.Background(), 1)
	// Interrupt in-progress avatar speech before signalling the new turn,
	// otherwise stale audio keeps playing over the user.
	if s.turns.open() || s.avatarState == "speaking" {
		s.bargeIn()
	}
	if err := s.av.StartListening(); err != nil {
		s.log.Warn("start_listening failed", "err", err)
	}
	s.framesInTurn = 0
}

func (s *Session) onSpeechEnd() {
	if err := s.av.StopListening(); err != nil {
		s.log.Warn("stop_listening failed", "err", err)
	}
	if s.framesInTurn > 0 {
		// An empty terminal fragment helps the provider finalize its own
		// end-of-utterance detection promptly.
		if err := s.conv.SendAudioChunk(""); err != nil {
			s.log.Warn("terminal audio fragment failed", "err", err)
		}
	}
	s.framesInTurn = 0
}

func (s *Session) forwardFrame(f audio.Frame) {
	resampled := audio.Resample(f.Samples, f.SampleRate, s.cfg.ProviderRate)
	if err := s.conv.SendAudioChunk(audio.Encode(resampled)); err != nil {
		s.log.Warn("audio chunk send failed", "err", err)
		return
	}
	s.framesInTurn++
}

// bargeIn interrupts in-progress avatar speech. The ordering is load-bearing:
// the interrupt goes out first, then the pending flush timer is cancelled,
// then buffered-but-unsent audio is discarded. No speak_end marker is sent —
// the interrupt itself is the end signal for the renderer's turn bookkeeping.
func (s *Session) bargeIn() {
	s.cfg.Metrics.BargeIns.Add(context.Background(), 1)
	if err := s.av.Interrupt(); err != nil {
		s.log.Warn("interrupt failed", "err", err)
	}
	s.cancelFlushTimer()
	s.turns.discard()
	s.avatarState = ""
}

// ── conversational leg ─────────────────────────────────────────────────────────

func (s *Session) handleConvaiEvent(e convai.Event) {
	switch e.Type {
	case convai.EventPing:
		if err := s.conv.Pong(e.EventID); err != nil {
			s.log.Warn("pong failed", "err", err)
		}

	case convai.EventAudio:
		s.handleSynthAudio(e)

	case convai.EventInterruption:
		// Provider-side interruption closes the turn through the normal
		// flush path: remaining audio, then the speak_end marker.
		s.endTurn()

	case convai.EventToolCall:
		s.handleToolCall(e)

	case convai.EventUserTranscript:
		if s.cfg.OnTranscript != nil {
			s.cfg.OnTranscript("user", e.Text)
		}

	case convai.EventAgentResponse:
		s.watchdogResponded()
		if s.cfg.OnTranscript != nil {
			s.cfg.OnTranscript("agent", e.Text)
		}

	case convai.EventError:
		s.handleProviderError(e)
	}
}

func (s *Session) handleSynthAudio(e convai.Event) {
	s.watchdogResponded()

	samples, err := audio.Decode(e.Audio)
	if err != nil {
		// A malformed fragment is dropped; the session continues.
		s.cfg.Metrics.DroppedFragments.Add(context.Background(), 1)
		s.log.Warn("dropping malformed audio fragment", "err", err)
		return
	}
	if len(samples) == 0 {
		return
	}

	rate := e.SampleRateHint
	if rate <= 0 {
		rate = s.cfg.SynthRate
	}
	data := audio.BytesLE(audio.Resample(samples, rate, s.cfg.AvatarRate))

	wasOpen := s.turns.open()
	chunks, turnID := s.turns.append(data, time.Now())
	if !wasOpen {
		s.turnStarted = time.Now()
	}
	for _, chunk := range chunks {
		if err := s.av.Speak(base64.StdEncoding.EncodeToString(chunk), turnID); err != nil {
			s.log.Warn("speak chunk failed", "err", err)
			break
		}
		s.cfg.Metrics.ChunksForwarded.Add(context.Background(), 1, fullChunkAttr)
	}
	s.resetFlushTimer()
}

// endTurn flushes the remaining partial chunk and closes the turn with an
// explicit speak_end marker.
func (s *Session) endTurn() {
	s.cancelFlushTimer()
	partial, turnID, ok := s.turns.finalFlush(time.Now())
	if !ok {
		return
	}
	if len(partial) > 0 {
		if err := s.av.Speak(base64.StdEncoding.EncodeToString(partial), turnID); err != nil {
			s.log.Warn("final chunk failed", "err", err)
		}
		s.cfg.Metrics.ChunksForwarded.Add(context.Background(), 1, finalChunkAttr)
	}
	if err := s.av.SpeakEnd(turnID); err != nil {
		s.log.Warn("speak_end failed", "err", err)
	}
	if !s.turnStarted.IsZero() {
		s.cfg.Metrics.TurnDuration.Record(context.Background(), time.Since(s.turnStarted).Seconds())
		s.turnStarted = time.Time{}
	}
}

func (s *Session) handleToolCall(e convai.Event) {
	if s.cfg.OnToolCall == nil {
		_ = s.conv.SendToolResult(e.ToolCallID, `{"error":"no tool handler registered"}`, true)
		return
	}
	result, err := s.cfg.OnToolCall(e.ToolCallID, e.ToolParams)
	if err != nil {
		result = fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	if sendErr := s.conv.SendToolResult(e.ToolCallID, result, err != nil); sendErr != nil {
		s.log.Warn("tool result send failed", "err", sendErr)
	}
}

func (s *Session) handleProviderError(e convai.Event) {
	perr := &ProviderReportedError{Title: e.ErrTitle, Detail: e.ErrDetail}
	s.cfg.Metrics.RecordProviderError(context.Background(), "conversational", "reported")

	if s.lastUserText != "" && s.recovery.tryAttempt(e.ErrTitle, e.ErrDetail) {
		s.log.Warn("provider error, scheduling one recovery attempt",
			"title", e.ErrTitle, "detail", e.ErrDetail)
		text := s.lastUserText
		time.AfterFunc(s.cfg.RecoveryDelay, func() {
			s.post(event{kind: evRecoveryResend, text: text})
		})
		return
	}

	s.log.Error("provider error surfaced", "title", e.ErrTitle, "detail", e.ErrDetail)
	if s.cfg.OnError != nil {
		s.cfg.OnError(perr)
	}
}

// ── text turns ─────────────────────────────────────────────────────────────────

func (s *Session) sendText(text string) {
	s.lastUserText = text
	if err := s.conv.SendText(text); err != nil {
		s.log.Warn("text send failed", "err", err)
		return
	}
	s.watchdog.sent(text)
	s.resetWatchdogTimer()
}

func (s *Session) handleWatchdogTimeout() {
	text, retry, stalled := s.watchdog.timeout()
	switch {
	case retry:
		s.cfg.Metrics.TextRetries.Add(context.Background(), 1, retriedAttr)
		s.log.Warn("text turn timed out, retrying once", "text", text)
		if err := s.conv.SendText(text); err != nil {
			s.log.Warn("text retry send failed", "err", err)
		}
		s.resetWatchdogTimer()
	case stalled:
		s.cfg.Metrics.TextRetries.Add(context.Background(), 1, stalledAttr)
		err := &StalledTurnError{Text: text}
		s.log.Error("text turn stalled, giving up", "text", text)
		if s.cfg.OnError != nil {
			s.cfg.OnError(err)
		}
	}
}

func (s *Session) watchdogResponded() {
	if s.watchdog.waiting() {
		s.watchdog.responded()
		s.cancelWatchdogTimer()
	}
}

// ── timers ─────────────────────────────────────────────────────────────────────

func (s *Session) resetFlushTimer() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushGen++
	gen := s.flushGen
	s.flushTimer = time.AfterFunc(s.cfg.FlushTimeout, func() {
		s.post(event{kind: evFlushTimeout, gen: gen})
	})
}

func (s *Session) cancelFlushTimer() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.flushGen++
}

func (s *Session) resetWatchdogTimer() {
	if s.watchdogTimer != nil {
		s.watchdogTimer.Stop()
	}
	s.watchdogGen++
	gen := s.watchdogGen
	s.watchdogTimer = time.AfterFunc(s.cfg.WatchdogTimeout, func() {
		s.post(event{kind: evWatchdogTimeout, gen: gen})
	})
}

func (s *Session) cancelWatchdogTimer() {
	if s.watchdogTimer != nil {
		s.watchdogTimer.Stop()
		s.watchdogTimer = nil
	}
	s.watchdogGen++
}

// ── transport closure ──────────────────────────────────────────────────────────

func (s *Session) handleLegClosed(leg string, err error) {
	if err != nil {
		s.cfg.Metrics.RecordProviderError(context.Background(), leg, "transport")
		s.log.Error("provider leg closed", "leg", leg, "err", err)
		if s.cfg.OnError != nil {
			s.cfg.OnError(&TransportError{Leg: leg, Err: err})
		}
	} else {
		s.log.Info("provider leg closed", "leg", leg)
	}
	s.setState(StateDisconnected)
	// Finish teardown off the loop goroutine; Stop waits for loop exit.
	go func() { _ = s.Stop() }()
}

// ── metric attributes ──────────────────────────────────────────────────────────

func metricAttr(key, value string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(key, value))
}

var (
	speechAttr     = metricAttr("result", "speech")
	silenceAttr    = metricAttr("result", "silence")
	fullChunkAttr  = metricAttr("kind", "full")
	finalChunkAttr = metricAttr("kind", "final")
	retriedAttr    = metricAttr("outcome", "retried")
	stalledAttr    = metricAttr("outcome", "stalled")
)
