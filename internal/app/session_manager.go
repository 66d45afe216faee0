package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aldervale/voicebridge/internal/bridge"
	"github.com/aldervale/voicebridge/internal/config"
	"github.com/aldervale/voicebridge/internal/contextfeed"
	"github.com/aldervale/voicebridge/internal/observe"
)

// SessionInfo holds metadata about one resident's active session.
type SessionInfo struct {
	// ResidentID identifies the resident this session serves.
	ResidentID string

	// SessionID is the bridge session's unique identifier.
	SessionID string

	// State is the session's lifecycle state at the time of the snapshot.
	State bridge.State

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// resident bundles the per-resident subsystems torn down together.
type resident struct {
	session   *bridge.Session
	publisher *contextfeed.Publisher
	startedAt time.Time
}

// SessionManager manages the lifecycle of bridge sessions, at most one per
// resident. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu        sync.Mutex
	residents map[string]*resident

	// Dependencies injected at construction.
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config    *config.Config
	Providers *Providers

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		residents: make(map[string]*resident),
		cfg:       cfg.Config,
		providers: cfg.Providers,
		metrics:   m,
	}
}

// Start begins a bridge session for one resident and attaches a context
// publisher whose sink feeds the session's contextual-update channel.
//
// Returns an error if a session is already active for the resident or the
// session fails to connect.
func (sm *SessionManager) Start(ctx context.Context, sc config.SessionConfig) error {
	log := slog.With("resident", sc.ResidentID)
	sess := bridge.NewSession(sm.bridgeConfig(sc, log))
	r := &resident{session: sess, startedAt: time.Now()}

	// Reserve the resident under the lock, then connect outside it so one
	// slow dial cannot block the manager for every other resident.
	sm.mu.Lock()
	if _, exists := sm.residents[sc.ResidentID]; exists {
		sm.mu.Unlock()
		return fmt.Errorf("app: session already active for resident %q", sc.ResidentID)
	}
	sm.residents[sc.ResidentID] = r
	sm.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		sm.mu.Lock()
		if sm.residents[sc.ResidentID] == r {
			delete(sm.residents, sc.ResidentID)
		}
		sm.mu.Unlock()
		return fmt.Errorf("app: start session for resident %q: %w", sc.ResidentID, err)
	}

	pub := contextfeed.NewPublisher(contextfeed.Config{
		Sink:     sess.SendContextualUpdate,
		Throttle: sm.cfg.Publisher.Throttle.Std(),
		Metrics:  sm.metrics,
	})

	sm.mu.Lock()
	if sm.residents[sc.ResidentID] != r {
		// A concurrent Stop removed the reservation while the connect was
		// resolving; it already stopped the session.
		sm.mu.Unlock()
		pub.Close()
		_ = sess.Stop()
		return fmt.Errorf("app: session for resident %q stopped during start", sc.ResidentID)
	}
	r.publisher = pub
	sm.mu.Unlock()

	log.Info("session started", "session_id", sess.ID())
	return nil
}

// bridgeConfig assembles a session config from the application config and
// one resident entry.
func (sm *SessionManager) bridgeConfig(sc config.SessionConfig, log *slog.Logger) bridge.Config {
	return bridge.Config{
		Convai:  sm.providers.Conversational,
		Avatar:  sm.providers.Avatar,
		Capture: sm.providers.Capture,

		AgentID:        sc.AgentID,
		AvatarToken:    sc.AvatarToken,
		DeviceID:       sc.DeviceID,
		InitialContext: sc.InitialContext,

		VAD:          sm.cfg.VAD.Detector(),
		ProviderRate: sm.cfg.Audio.ProviderRate,
		SynthRate:    sm.cfg.Audio.SynthRate,
		AvatarRate:   sm.cfg.Audio.AvatarRate,

		ChunkDuration:     sm.cfg.Audio.ChunkDuration.Std(),
		FlushTimeout:      sm.cfg.Audio.FlushTimeout.Std(),
		KeepaliveInterval: sm.cfg.Bridge.KeepaliveInterval.Std(),
		WatchdogTimeout:   sm.cfg.Bridge.WatchdogTimeout.Std(),
		RecoveryDelay:     sm.cfg.Bridge.RecoveryDelay.Std(),

		Metrics: sm.metrics,

		OnTranscript: func(speaker, text string) {
			log.Debug("transcript", "speaker", speaker, "text", text)
		},
		OnStateChange: func(st bridge.State) {
			log.Info("session state", "state", st.String())
		},
		OnError: func(err error) {
			log.Error("session error", "err", err)
		},
	}
}

// Stop tears down one resident's session and publisher. The publisher goes
// first so no context flush races the closing transport.
func (sm *SessionManager) Stop(residentID string) error {
	sm.mu.Lock()
	r, ok := sm.residents[residentID]
	if ok {
		delete(sm.residents, residentID)
	}
	sm.mu.Unlock()

	if !ok {
		return fmt.Errorf("app: no active session for resident %q", residentID)
	}
	// The publisher is nil while the session is still connecting.
	if r.publisher != nil {
		r.publisher.Close()
	}
	if err := r.session.Stop(); err != nil {
		return fmt.Errorf("app: stop session for resident %q: %w", residentID, err)
	}
	return nil
}

// StopAll tears down every active session, collecting all errors.
func (sm *SessionManager) StopAll() error {
	sm.mu.Lock()
	ids := make([]string, 0, len(sm.residents))
	for id := range sm.residents {
		ids = append(ids, id)
	}
	sm.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := sm.Stop(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Session returns the bridge session for a resident, if one is active.
func (sm *SessionManager) Session(residentID string) (*bridge.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	r, ok := sm.residents[residentID]
	if !ok {
		return nil, false
	}
	return r.session, true
}

// Publisher returns the context publisher for a resident, if one is active.
// The host application pushes state mutations (sensor readings, UI changes,
// goals) through it.
func (sm *SessionManager) Publisher(residentID string) (*contextfeed.Publisher, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	r, ok := sm.residents[residentID]
	if !ok || r.publisher == nil {
		return nil, false
	}
	return r.publisher, true
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.residents)
}

// List returns a snapshot of all active sessions, sorted by resident id.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.residents))
	for id, r := range sm.residents {
		out = append(out, SessionInfo{
			ResidentID: id,
			SessionID:  r.session.ID(),
			State:      r.session.State(),
			StartedAt:  r.startedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResidentID < out[j].ResidentID })
	return out
}
