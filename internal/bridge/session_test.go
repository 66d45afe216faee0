package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/aldervale/voicebridge/internal/vad"
	"github.com/aldervale/voicebridge/pkg/audio"
	capmock "github.com/aldervale/voicebridge/pkg/capture/mock"
	avmock "github.com/aldervale/voicebridge/pkg/provider/avatar/mock"
	convmock "github.com/aldervale/voicebridge/pkg/provider/convai/mock"
)

const testRate = 16000

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func loudFrame() audio.Frame {
	samples := make([]int16, 320)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 16000
		} else {
			samples[i] = -16000
		}
	}
	return audio.Frame{Samples: samples, SampleRate: testRate}
}

func silentFrame() audio.Frame {
	return audio.Frame{Samples: make([]int16, 320), SampleRate: testRate}
}

// synthPayload builds a base64 audio payload of n distinct samples.
func synthPayload(n int) string {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i + 1)
	}
	return audio.Encode(samples)
}

type fixture struct {
	sess  *Session
	convP *convmock.Provider
	avP   *avmock.Provider
	plat  *capmock.Platform
	dev   *capmock.Device
	conv  *convmock.Session
	av    *avmock.Session
	errs  chan error
}

// startSession builds and starts a session against fresh mocks. The default
// tuning uses equal sample rates everywhere (no resampling in assertions), a
// 16-sample avatar chunk, a trigger-happy VAD, and generous timeouts that
// individual tests override via mut.
func startSession(t *testing.T, mut func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		convP: &convmock.Provider{},
		avP:   &avmock.Provider{},
		dev:   capmock.NewDevice(testRate),
		errs:  make(chan error, 8),
	}
	f.plat = &capmock.Platform{AcquireResult: f.dev}

	cfg := Config{
		Convai:            f.convP,
		Avatar:            f.avP,
		Capture:           f.plat,
		AgentID:           "agent-1",
		AvatarToken:       "tok",
		DeviceID:          "mic-0",
		ProviderRate:      testRate,
		SynthRate:         testRate,
		AvatarRate:        testRate,
		ChunkDuration:     time.Millisecond, // 16 samples, 32 bytes
		FlushTimeout:      time.Minute,
		KeepaliveInterval: time.Minute,
		WatchdogTimeout:   time.Minute,
		RecoveryDelay:     10 * time.Millisecond,
		VAD: vad.Config{
			AttackFrames:  1,
			ReleaseFrames: 2,
		},
		OnError: func(err error) { f.errs <- err },
	}
	if mut != nil {
		mut(&cfg)
	}

	f.sess = NewSession(cfg)
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.sess.Stop() })

	f.conv = f.convP.LastSession()
	f.av = f.avP.LastSession()
	return f
}

func TestSessionStartConnectsBothLegs(t *testing.T) {
	t.Parallel()
	f := startSession(t, func(c *Config) { c.InitialContext = "resident profile" })

	if got := f.sess.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
	if len(f.convP.ConnectCalls) != 1 {
		t.Fatalf("conversational Connect called %d times", len(f.convP.ConnectCalls))
	}
	if got := f.convP.ConnectCalls[0].AgentID; got != "agent-1" {
		t.Errorf("agent id = %q", got)
	}
	if got := f.convP.ConnectCalls[0].InitialContext; got != "resident profile" {
		t.Errorf("initial context = %q", got)
	}
	if len(f.avP.ConnectCalls) != 1 {
		t.Fatalf("avatar Connect called %d times", len(f.avP.ConnectCalls))
	}
	if got := f.avP.ConnectCalls[0].SessionToken; got != "tok" {
		t.Errorf("session token = %q", got)
	}
	if len(f.plat.AcquireCalls) != 1 || f.plat.AcquireCalls[0].DeviceID != "mic-0" {
		t.Errorf("acquire calls = %+v", f.plat.AcquireCalls)
	}
}

func TestSessionStartDeviceFailure(t *testing.T) {
	t.Parallel()
	plat := &capmock.Platform{AcquireError: errors.New("device busy")}
	sess := NewSession(Config{
		Convai:  &convmock.Provider{},
		Avatar:  &avmock.Provider{},
		Capture: plat,
	})

	err := sess.Start(context.Background())
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Start error = %v, want DeviceError", err)
	}
	if got := sess.State(); got != StateError {
		t.Errorf("state = %s, want error", got)
	}
}

func TestSessionStartProviderFailureReleasesEverything(t *testing.T) {
	t.Parallel()
	convP := &convmock.Provider{ConnectError: errors.New("refused")}
	avP := &avmock.Provider{}
	dev := capmock.NewDevice(testRate)
	sess := NewSession(Config{
		Convai:  convP,
		Avatar:  avP,
		Capture: &capmock.Platform{AcquireResult: dev},
	})

	err := sess.Start(context.Background())
	var trErr *TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("Start error = %v, want TransportError", err)
	}
	if trErr.Leg != "conversational" {
		t.Errorf("failed leg = %q", trErr.Leg)
	}
	if got := sess.State(); got != StateError {
		t.Errorf("state = %s, want error", got)
	}
	if !dev.Closed() {
		t.Error("capture device not released after failed start")
	}
	if av := avP.LastSession(); av != nil && !av.Closed() {
		t.Error("avatar leg left open after failed start")
	}
}

func TestSessionStartTwice(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)
	if err := f.sess.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestSessionSpeechForwardsAudio(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	f.dev.Push(loudFrame())
	waitFor(t, "start_listening", func() bool {
		return len(f.av.MessagesOfKind("agent.start_listening")) == 1
	})
	waitFor(t, "forwarded audio chunk", func() bool {
		return len(f.conv.MessagesOfKind("user_audio_chunk")) == 1
	})
	if got := f.conv.MessagesOfKind("user_audio_chunk")[0].Payload; got == "" {
		t.Error("forwarded chunk is empty")
	}
}

func TestSessionSpeechEndSendsTerminalChunk(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	f.dev.Push(loudFrame())
	f.dev.Push(silentFrame())
	f.dev.Push(silentFrame())

	waitFor(t, "stop_listening", func() bool {
		return len(f.av.MessagesOfKind("agent.stop_listening")) == 1
	})
	waitFor(t, "terminal empty chunk", func() bool {
		chunks := f.conv.MessagesOfKind("user_audio_chunk")
		return len(chunks) >= 2 && chunks[len(chunks)-1].Payload == ""
	})
}

func TestSessionSynthAudioChunking(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	// 40 samples against a 16-sample chunk: two full chunks, 8 buffered.
	f.conv.Emit(convaiAudio(synthPayload(40)))
	waitFor(t, "two full chunks", func() bool {
		return len(f.av.MessagesOfKind("agent.speak")) == 2
	})

	f.conv.Emit(convaiInterruption())
	waitFor(t, "speak_end", func() bool {
		return len(f.av.MessagesOfKind("agent.speak_end")) == 1
	})

	speaks := f.av.MessagesOfKind("agent.speak")
	if len(speaks) != 3 {
		t.Fatalf("got %d speak messages, want 3 (two full + one final partial)", len(speaks))
	}
	turnID := speaks[0].TurnID
	for i, m := range speaks {
		if m.TurnID != turnID {
			t.Errorf("speak %d turn id %q != %q", i, m.TurnID, turnID)
		}
	}
	if got := f.av.MessagesOfKind("agent.speak_end")[0].TurnID; got != turnID {
		t.Errorf("speak_end turn id %q != %q", got, turnID)
	}

	for i, m := range speaks[:2] {
		raw, err := base64.StdEncoding.DecodeString(m.Audio)
		if err != nil {
			t.Fatalf("chunk %d not base64: %v", i, err)
		}
		if len(raw) != 32 {
			t.Errorf("chunk %d has %d bytes, want 32", i, len(raw))
		}
	}
	final, err := base64.StdEncoding.DecodeString(speaks[2].Audio)
	if err != nil {
		t.Fatalf("final chunk not base64: %v", err)
	}
	if len(final) != 16 {
		t.Errorf("final partial has %d bytes, want 16", len(final))
	}
}

func TestSessionFlushTimeoutClosesTurn(t *testing.T) {
	t.Parallel()
	f := startSession(t, func(c *Config) { c.FlushTimeout = 30 * time.Millisecond })

	f.conv.Emit(convaiAudio(synthPayload(8)))
	waitFor(t, "flush-driven speak_end", func() bool {
		return len(f.av.MessagesOfKind("agent.speak_end")) == 1
	})
	if got := len(f.av.MessagesOfKind("agent.speak")); got != 1 {
		t.Errorf("got %d speak messages, want 1 partial", got)
	}
}

func TestSessionBargeIn(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	// Open a turn: 24 samples yield one full 16-sample chunk with 8 samples
	// left buffered.
	f.conv.Emit(convaiAudio(synthPayload(24)))
	waitFor(t, "first chunk", func() bool {
		return len(f.av.MessagesOfKind("agent.speak")) == 1
	})

	f.dev.Push(loudFrame())
	waitFor(t, "interrupt", func() bool {
		return len(f.av.MessagesOfKind("agent.interrupt")) == 1
	})
	waitFor(t, "start_listening", func() bool {
		return len(f.av.MessagesOfKind("agent.start_listening")) == 1
	})

	// The interrupt must precede the listening signal, and no speak_end may
	// ever follow a barge-in.
	msgs := f.av.Messages()
	interruptAt, listenAt := -1, -1
	for i, m := range msgs {
		switch m.Kind {
		case "agent.interrupt":
			interruptAt = i
		case "agent.start_listening":
			listenAt = i
		case "agent.speak_end":
			t.Error("speak_end sent after barge-in")
		}
	}
	if interruptAt > listenAt {
		t.Errorf("interrupt at index %d after start_listening at %d", interruptAt, listenAt)
	}

	// The discarded bytes must not leak into the next turn.
	f.conv.Emit(convaiAudio(synthPayload(8)))
	f.conv.Emit(convaiInterruption())
	waitFor(t, "next turn speak", func() bool {
		return len(f.av.MessagesOfKind("agent.speak")) == 2
	})
	speaks := f.av.MessagesOfKind("agent.speak")
	raw, err := base64.StdEncoding.DecodeString(speaks[1].Audio)
	if err != nil {
		t.Fatalf("speak payload not base64: %v", err)
	}
	if len(raw) != 16 {
		t.Errorf("next turn chunk has %d bytes, want 16 (stale audio leaked)", len(raw))
	}
	if speaks[1].TurnID == speaks[0].TurnID {
		t.Error("turn id reused across a barge-in")
	}
}

func TestSessionBargeInCancelsPendingFlush(t *testing.T) {
	t.Parallel()
	f := startSession(t, func(c *Config) { c.FlushTimeout = 100 * time.Millisecond })

	// Open a turn and leave the flush timer armed.
	f.conv.Emit(convaiAudio(synthPayload(24)))
	waitFor(t, "first chunk", func() bool {
		return len(f.av.MessagesOfKind("agent.speak")) == 1
	})

	f.dev.Push(loudFrame())
	waitFor(t, "interrupt", func() bool {
		return len(f.av.MessagesOfKind("agent.interrupt")) == 1
	})

	// The pending flush must have been canceled with the barge-in: even well
	// past the timeout, no speak_end may close the discarded turn.
	time.Sleep(300 * time.Millisecond)
	if got := len(f.av.MessagesOfKind("agent.speak_end")); got != 0 {
		t.Errorf("got %d speak_end messages after barge-in, want 0", got)
	}
}

func TestSessionPingPong(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	f.conv.Emit(convaiPing("ev-42"))
	waitFor(t, "pong", func() bool {
		return len(f.conv.MessagesOfKind("pong")) == 1
	})
	if got := f.conv.MessagesOfKind("pong")[0].Payload; got != "ev-42" {
		t.Errorf("pong event id = %q, want ev-42", got)
	}
}

func TestSessionToolCall(t *testing.T) {
	t.Parallel()
	f := startSession(t, func(c *Config) {
		c.OnToolCall = func(toolCallID, params string) (string, error) {
			if toolCallID != "tc-1" || params != `{"q":"steps"}` {
				t.Errorf("tool call = (%q, %q)", toolCallID, params)
			}
			return `{"steps":1200}`, nil
		}
	})

	f.conv.Emit(convaiToolCall("tc-1", `{"q":"steps"}`))
	waitFor(t, "tool result", func() bool {
		return len(f.conv.MessagesOfKind("client_tool_result")) == 1
	})
	res := f.conv.MessagesOfKind("client_tool_result")[0]
	if res.ToolCallID != "tc-1" || res.Result != `{"steps":1200}` || res.IsError {
		t.Errorf("tool result = %+v", res)
	}
}

func TestSessionToolCallWithoutHandler(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	f.conv.Emit(convaiToolCall("tc-2", "{}"))
	waitFor(t, "tool error result", func() bool {
		return len(f.conv.MessagesOfKind("client_tool_result")) == 1
	})
	if res := f.conv.MessagesOfKind("client_tool_result")[0]; !res.IsError {
		t.Errorf("unhandled tool call answered without error flag: %+v", res)
	}
}

func TestSessionTranscripts(t *testing.T) {
	t.Parallel()
	type entry struct{ speaker, text string }
	got := make(chan entry, 4)
	f := startSession(t, func(c *Config) {
		c.OnTranscript = func(speaker, text string) { got <- entry{speaker, text} }
	})

	f.conv.Emit(convaiTranscript("good morning"))
	f.conv.Emit(convaiAgentResponse("hello there"))

	want := []entry{{"user", "good morning"}, {"agent", "hello there"}}
	for _, w := range want {
		select {
		case e := <-got:
			if e != w {
				t.Errorf("transcript = %+v, want %+v", e, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for transcript %+v", w)
		}
	}
}

func TestSessionMalformedAudioDropped(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	f.conv.Emit(convaiAudio("%%% not base64 %%%"))
	f.conv.Emit(convaiAudio(synthPayload(16)))

	waitFor(t, "valid chunk after dropped fragment", func() bool {
		return len(f.av.MessagesOfKind("agent.speak")) == 1
	})
	raw, _ := base64.StdEncoding.DecodeString(f.av.MessagesOfKind("agent.speak")[0].Audio)
	if len(raw) != 32 {
		t.Errorf("chunk has %d bytes, want 32", len(raw))
	}
	select {
	case err := <-f.errs:
		t.Errorf("malformed fragment surfaced an error: %v", err)
	default:
	}
}

func TestSessionTextWatchdogRetriesThenStalls(t *testing.T) {
	t.Parallel()
	f := startSession(t, func(c *Config) { c.WatchdogTimeout = 25 * time.Millisecond })

	if err := f.sess.SendUserText("are you there"); err != nil {
		t.Fatalf("SendUserText: %v", err)
	}
	waitFor(t, "retry send", func() bool {
		return len(f.conv.MessagesOfKind("user_message")) == 2
	})

	select {
	case err := <-f.errs:
		var stalled *StalledTurnError
		if !errors.As(err, &stalled) {
			t.Fatalf("surfaced error = %v, want StalledTurnError", err)
		}
		if stalled.Text != "are you there" {
			t.Errorf("stalled text = %q", stalled.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stalled-turn error")
	}

	if got := len(f.conv.MessagesOfKind("user_message")); got != 2 {
		t.Errorf("sent %d user messages, want exactly 2 (original + one retry)", got)
	}
}

func TestSessionTextWatchdogClearedByResponse(t *testing.T) {
	t.Parallel()
	f := startSession(t, func(c *Config) { c.WatchdogTimeout = 50 * time.Millisecond })

	if err := f.sess.SendUserText("hello"); err != nil {
		t.Fatalf("SendUserText: %v", err)
	}
	waitFor(t, "user message", func() bool {
		return len(f.conv.MessagesOfKind("user_message")) == 1
	})
	f.conv.Emit(convaiAgentResponse("hi!"))

	time.Sleep(150 * time.Millisecond)
	if got := len(f.conv.MessagesOfKind("user_message")); got != 1 {
		t.Errorf("sent %d user messages, want 1 (no retry after response)", got)
	}
	select {
	case err := <-f.errs:
		t.Errorf("unexpected surfaced error: %v", err)
	default:
	}
}

func TestSessionProviderErrorRecovery(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	if err := f.sess.SendUserText("how did I sleep"); err != nil {
		t.Fatalf("SendUserText: %v", err)
	}
	waitFor(t, "user message", func() bool {
		return len(f.conv.MessagesOfKind("user_message")) == 1
	})
	f.conv.Emit(convaiAgentResponse("checking"))

	f.conv.Emit(convaiError("internal_error", "transient"))
	waitFor(t, "recovery resend", func() bool {
		msgs := f.conv.MessagesOfKind("user_message")
		return len(msgs) == 2 && msgs[1].Payload == "how did I sleep"
	})
	f.conv.Emit(convaiAgentResponse("recovered"))

	// The same signature gets no second attempt; the error surfaces instead.
	f.conv.Emit(convaiError("internal_error", "transient"))
	select {
	case err := <-f.errs:
		var perr *ProviderReportedError
		if !errors.As(err, &perr) {
			t.Fatalf("surfaced error = %v, want ProviderReportedError", err)
		}
		if perr.Title != "internal_error" || perr.Detail != "transient" {
			t.Errorf("surfaced error = %+v", perr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for surfaced provider error")
	}
	if got := len(f.conv.MessagesOfKind("user_message")); got != 2 {
		t.Errorf("sent %d user messages, want 2", got)
	}
}

func TestSessionProviderErrorWithoutPriorText(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	f.conv.Emit(convaiError("quota_exceeded", "limit reached"))
	select {
	case err := <-f.errs:
		var perr *ProviderReportedError
		if !errors.As(err, &perr) {
			t.Fatalf("surfaced error = %v, want ProviderReportedError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for surfaced provider error")
	}
}

func TestSessionContextualUpdate(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	if err := f.sess.SendContextualUpdate("walker speed dropped"); err != nil {
		t.Fatalf("SendContextualUpdate: %v", err)
	}
	waitFor(t, "contextual update", func() bool {
		return len(f.conv.MessagesOfKind("contextual_update")) == 1
	})
	if got := f.conv.MessagesOfKind("contextual_update")[0].Payload; got != "walker speed dropped" {
		t.Errorf("contextual update payload = %q", got)
	}
}

func TestSessionKeepalive(t *testing.T) {
	t.Parallel()
	f := startSession(t, func(c *Config) { c.KeepaliveInterval = 15 * time.Millisecond })

	waitFor(t, "keepalives", func() bool {
		return len(f.av.MessagesOfKind("session.keep_alive")) >= 2
	})
}

func TestSessionStopTeardown(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	if err := f.sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.sess.State(); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
	if !f.conv.Closed() {
		t.Error("conversational leg not closed")
	}
	if !f.av.Closed() {
		t.Error("avatar leg not closed")
	}
	if !f.dev.Closed() {
		t.Error("capture device not released")
	}
	if err := f.sess.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSessionStopDuringConnect(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	convP := &convmock.Provider{ConnectHold: hold}
	avP := &avmock.Provider{}
	dev := capmock.NewDevice(testRate)
	sess := NewSession(Config{
		Convai:  convP,
		Avatar:  avP,
		Capture: &capmock.Platform{AcquireResult: dev},
	})

	startErr := make(chan error, 1)
	go func() { startErr <- sess.Start(context.Background()) }()
	waitFor(t, "dial in flight", func() bool {
		return sess.State() == StateConnecting
	})

	stopErr := make(chan error, 1)
	go func() { stopErr <- sess.Stop() }()
	waitFor(t, "stop pending", func() bool {
		select {
		case <-sess.done:
			return true
		default:
			return false
		}
	})

	// Release the dial; the resolved connect must be torn down, not go live.
	close(hold)

	if err := <-startErr; err == nil {
		t.Error("Start succeeded despite a stop landing mid-connect")
	}
	if err := <-stopErr; err != nil {
		t.Errorf("Stop: %v", err)
	}
	if got := sess.State(); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
	if conv := convP.LastSession(); conv == nil || !conv.Closed() {
		t.Error("conversational leg left open after stop-mid-connect")
	}
	if av := avP.LastSession(); av == nil || !av.Closed() {
		t.Error("avatar leg left open after stop-mid-connect")
	}
	if !dev.Closed() {
		t.Error("capture device left open after stop-mid-connect")
	}
	if err := sess.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if err := sess.Start(context.Background()); err == nil {
		t.Error("Start after stop succeeded")
	}
}

func TestSessionProviderDisconnect(t *testing.T) {
	t.Parallel()
	f := startSession(t, nil)

	f.conv.EmitClose(errors.New("connection reset"))

	select {
	case err := <-f.errs:
		var trErr *TransportError
		if !errors.As(err, &trErr) {
			t.Fatalf("surfaced error = %v, want TransportError", err)
		}
		if trErr.Leg != "conversational" {
			t.Errorf("failed leg = %q", trErr.Leg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport error")
	}

	waitFor(t, "teardown after disconnect", func() bool {
		return f.sess.State() == StateDisconnected && f.av.Closed() && f.dev.Closed()
	})
}

func TestSessionSendWhileNotConnected(t *testing.T) {
	t.Parallel()
	sess := NewSession(Config{
		Convai:  &convmock.Provider{},
		Avatar:  &avmock.Provider{},
		Capture: &capmock.Platform{AcquireResult: capmock.NewDevice(testRate)},
	})
	if err := sess.SendUserText("hi"); err == nil {
		t.Error("SendUserText on idle session succeeded")
	}
	if err := sess.SendContextualUpdate("x"); err == nil {
		t.Error("SendContextualUpdate on idle session succeeded")
	}
}
