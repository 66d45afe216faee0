package app_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aldervale/voicebridge/internal/app"
	"github.com/aldervale/voicebridge/internal/bridge"
	"github.com/aldervale/voicebridge/internal/config"
	capmock "github.com/aldervale/voicebridge/pkg/capture/mock"
	avmock "github.com/aldervale/voicebridge/pkg/provider/avatar/mock"
	convmock "github.com/aldervale/voicebridge/pkg/provider/convai/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":0",
			LogLevel:   config.LogInfo,
		},
		Publisher: config.PublisherConfig{
			Throttle: config.Duration(10 * time.Millisecond),
		},
	}
}

func testSessionEntry(residentID string) config.SessionConfig {
	return config.SessionConfig{
		ResidentID:     residentID,
		DeviceID:       "mic-" + residentID,
		AgentID:        "agent-eldercare",
		AvatarToken:    "tok",
		InitialContext: "resident profile",
	}
}

func newManager(t *testing.T) (*app.SessionManager, *convmock.Provider, *avmock.Provider) {
	t.Helper()
	convP := &convmock.Provider{}
	avP := &avmock.Provider{}
	sm := app.NewSessionManager(app.SessionManagerConfig{
		Config: testConfig(),
		Providers: &app.Providers{
			Conversational: convP,
			Avatar:         avP,
			Capture:        &capmock.Platform{AcquireResult: capmock.NewDevice(48000)},
		},
	})
	t.Cleanup(func() { _ = sm.StopAll() })
	return sm, convP, avP
}

func TestSessionManagerStartStop(t *testing.T) {
	t.Parallel()
	sm, convP, avP := newManager(t)

	if err := sm.Start(context.Background(), testSessionEntry("ruth-7")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := sm.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}

	sess, ok := sm.Session("ruth-7")
	if !ok {
		t.Fatal("Session lookup failed")
	}
	if got := sess.State(); got != bridge.StateConnected {
		t.Errorf("state = %s, want connected", got)
	}
	if got := convP.ConnectCalls[0].InitialContext; got != "resident profile" {
		t.Errorf("initial context = %q", got)
	}

	if err := sm.Stop("ruth-7"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := sm.Count(); got != 0 {
		t.Errorf("Count after stop = %d", got)
	}
	if !convP.LastSession().Closed() || !avP.LastSession().Closed() {
		t.Error("provider legs left open after Stop")
	}
}

func TestSessionManagerDuplicateResident(t *testing.T) {
	t.Parallel()
	sm, _, _ := newManager(t)

	if err := sm.Start(context.Background(), testSessionEntry("ruth-7")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := sm.Start(context.Background(), testSessionEntry("ruth-7"))
	if err == nil {
		t.Fatal("duplicate resident session accepted")
	}
	if !strings.Contains(err.Error(), "ruth-7") {
		t.Errorf("error does not name the resident: %v", err)
	}
}

func TestSessionManagerPublisherFeedsSession(t *testing.T) {
	t.Parallel()
	sm, convP, _ := newManager(t)

	if err := sm.Start(context.Background(), testSessionEntry("ruth-7")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pub, ok := sm.Publisher("ruth-7")
	if !ok {
		t.Fatal("Publisher lookup failed")
	}

	pub.UpdateMetrics(map[string]any{"cadence": 91.0})

	conv := convP.LastSession()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(conv.MessagesOfKind("contextual_update")) >= 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	updates := conv.MessagesOfKind("contextual_update")
	if len(updates) == 0 {
		t.Fatal("publisher flush never reached the conversational leg")
	}
	if !strings.Contains(updates[0].Payload, "cadence") {
		t.Errorf("update payload missing metric:\n%s", updates[0].Payload)
	}
}

func TestSessionManagerSlowConnectDoesNotBlock(t *testing.T) {
	t.Parallel()
	sm, convP, _ := newManager(t)
	hold := make(chan struct{})
	convP.ConnectHold = hold

	startErr := make(chan error, 1)
	go func() { startErr <- sm.Start(context.Background(), testSessionEntry("ruth-7")) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sm.Count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if got := sm.Count(); got != 1 {
		t.Fatalf("Count while connecting = %d, want 1", got)
	}

	// Every other manager operation must return while the dial is in flight.
	opsDone := make(chan struct{})
	go func() {
		defer close(opsDone)
		if infos := sm.List(); len(infos) != 1 || infos[0].State != bridge.StateConnecting {
			t.Errorf("List while connecting = %+v", infos)
		}
		if err := sm.Stop("nobody"); err == nil {
			t.Error("Stop for unknown resident succeeded")
		}
		if err := sm.Start(context.Background(), testSessionEntry("ruth-7")); err == nil {
			t.Error("duplicate Start accepted while first is connecting")
		}
	}()
	select {
	case <-opsDone:
	case <-time.After(time.Second):
		t.Fatal("manager blocked behind an in-flight connect")
	}

	close(hold)
	if err := <-startErr; err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess, ok := sm.Session("ruth-7")
	if !ok {
		t.Fatal("Session lookup failed after connect resolved")
	}
	if got := sess.State(); got != bridge.StateConnected {
		t.Errorf("state = %s, want connected", got)
	}
}

func TestSessionManagerStopUnknownResident(t *testing.T) {
	t.Parallel()
	sm, _, _ := newManager(t)
	if err := sm.Stop("nobody"); err == nil {
		t.Error("Stop for unknown resident succeeded")
	}
}

func TestSessionManagerList(t *testing.T) {
	t.Parallel()
	sm, _, _ := newManager(t)

	for _, id := range []string{"zoe-2", "al-1"} {
		if err := sm.Start(context.Background(), testSessionEntry(id)); err != nil {
			t.Fatalf("Start %s: %v", id, err)
		}
	}
	infos := sm.List()
	if len(infos) != 2 {
		t.Fatalf("List returned %d entries", len(infos))
	}
	if infos[0].ResidentID != "al-1" || infos[1].ResidentID != "zoe-2" {
		t.Errorf("List not sorted: %+v", infos)
	}
	for _, info := range infos {
		if info.SessionID == "" || info.StartedAt.IsZero() {
			t.Errorf("incomplete info: %+v", info)
		}
	}
}

func TestSessionManagerStopAll(t *testing.T) {
	t.Parallel()
	sm, _, _ := newManager(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := sm.Start(context.Background(), testSessionEntry(id)); err != nil {
			t.Fatalf("Start %s: %v", id, err)
		}
	}
	if err := sm.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if got := sm.Count(); got != 0 {
		t.Errorf("Count after StopAll = %d", got)
	}
}
