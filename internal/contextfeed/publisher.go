package contextfeed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aldervale/voicebridge/internal/observe"
)

var (
	sentAttr       = metric.WithAttributes(attribute.String("outcome", "sent"))
	suppressedAttr = metric.WithAttributes(attribute.String("outcome", "suppressed"))
)

const defaultThrottle = 2 * time.Second

// Config holds the dependencies and tuning for one [Publisher].
type Config struct {
	// Sink delivers one composed update to the conversational agent.
	// Required. Typically a bridge session's SendContextualUpdate.
	Sink func(text string) error

	// Throttle is the minimum interval between ordinary flushes.
	// Default 2s.
	Throttle time.Duration

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Publisher maintains the live snapshot and emits throttled textual deltas.
//
// The host application mutates state from a single goroutine, but the flush
// timer fires on its own, so all state is guarded by a mutex regardless.
type Publisher struct {
	cfg Config
	log *slog.Logger

	mu         sync.Mutex
	live       *Snapshot
	lastSent   *Snapshot
	lastDigest uint64
	hasDigest  bool
	timer      *time.Timer
	pending    bool
	lastFlush  time.Time
	closed     bool
}

// NewPublisher creates a Publisher delivering updates through cfg.Sink.
func NewPublisher(cfg Config) *Publisher {
	if cfg.Throttle <= 0 {
		cfg.Throttle = defaultThrottle
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Publisher{
		cfg:  cfg,
		log:  slog.With("component", "contextfeed"),
		live: &Snapshot{},
	}
}

// Close cancels any scheduled flush. Pending unsent changes are dropped.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.pending = false
}

// SetPatientProfile merges partial profile fields and schedules a flush.
func (p *Publisher) SetPatientProfile(fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live.PatientProfile = mergeSection(p.live.PatientProfile, fields)
	p.scheduleLocked()
}

// SetDeviceState merges partial device-state fields and schedules a flush.
func (p *Publisher) SetDeviceState(fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live.DeviceState = mergeSection(p.live.DeviceState, fields)
	p.scheduleLocked()
}

// SetGoals merges partial goal fields and schedules a flush.
func (p *Publisher) SetGoals(fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live.Goals = mergeSection(p.live.Goals, fields)
	p.scheduleLocked()
}

// UpdateUIState merges partial UI-state fields and schedules a flush.
func (p *Publisher) UpdateUIState(fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live.UIState = mergeSection(p.live.UIState, fields)
	p.scheduleLocked()
}

// UpdateMetrics merges partial walker metrics. A warning flag transitioning
// false to true, or a risk level becoming "high", flushes immediately
// instead of waiting for the throttle; other changes schedule normally.
func (p *Publisher) UpdateMetrics(fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	critical := false
	for k, v := range fields {
		if isCriticalTransition(k, p.live.WalkerMetrics[k], v) {
			critical = true
			break
		}
	}
	p.live.WalkerMetrics = mergeSection(p.live.WalkerMetrics, fields)

	if critical {
		p.flushLocked()
		return
	}
	p.scheduleLocked()
}

// EmitCriticalEvent sends a named event immediately, bypassing both the
// throttle and digest suppression, and folds in any pending state delta.
func (p *Publisher) EmitCriticalEvent(name, details string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Critical event: %s", name)
	if details != "" {
		fmt.Fprintf(&b, " (%s)", details)
	}
	b.WriteString("\n")
	if delta := p.composeLocked(); delta != "" {
		b.WriteString(delta)
	}
	p.sendLocked(b.String(), true)
}

// isCriticalTransition reports whether one metric change must not wait
// behind the throttle.
func isCriticalTransition(key string, oldVal, newVal any) bool {
	if strings.Contains(key, "warning") || strings.Contains(key, "alert") {
		oldFlag, _ := oldVal.(bool)
		newFlag, _ := newVal.(bool)
		return !oldFlag && newFlag
	}
	if key == "risk_level" {
		level, _ := newVal.(string)
		return level == "high" && fmt.Sprint(oldVal) != level
	}
	return false
}

// scheduleLocked arms the flush timer unless one is already pending. The
// first flush after a quiet period runs immediately; subsequent ones wait
// out the remainder of the throttle interval.
func (p *Publisher) scheduleLocked() {
	if p.pending || p.closed {
		return
	}
	delay := p.cfg.Throttle - time.Since(p.lastFlush)
	if delay < 0 {
		delay = 0
	}
	p.pending = true
	p.timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.pending = false
		if p.closed {
			return
		}
		p.flushLocked()
	})
}

// composeLocked renders the current delta (or the full state when nothing
// was ever sent). Returns "" when nothing changed.
func (p *Publisher) composeLocked() string {
	if p.lastSent == nil {
		return composeFull(p.live)
	}
	return composeDelta(p.lastSent, p.live)
}

func (p *Publisher) flushLocked() {
	text := p.composeLocked()
	if text == "" {
		p.cfg.Metrics.ContextUpdates.Add(context.Background(), 1, suppressedAttr)
		return
	}
	p.sendLocked(text, false)
}

// sendLocked delivers one composed update. Digest suppression applies to
// ordinary flushes only; a critical event always goes out.
func (p *Publisher) sendLocked(text string, bypassDigest bool) {
	digest := xxhash.Sum64String(text)
	if !bypassDigest && p.hasDigest && digest == p.lastDigest {
		p.cfg.Metrics.ContextUpdates.Add(context.Background(), 1, suppressedAttr)
		return
	}

	if err := p.cfg.Sink(text); err != nil {
		p.log.Warn("context update send failed", "err", err)
		return
	}
	p.lastSent = p.live.clone()
	p.lastDigest = digest
	p.hasDigest = true
	p.lastFlush = time.Now()
	p.cfg.Metrics.ContextUpdates.Add(context.Background(), 1, sentAttr)
}
