// Package observe provides application-wide observability primitives for
// voicebridge: OpenTelemetry metrics, tracing helpers, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicebridge metrics.
const meterName = "github.com/aldervale/voicebridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// FramesProcessed counts microphone frames run through the VAD. Use with
	// attribute: attribute.String("result", "silence"|"speech")
	FramesProcessed metric.Int64Counter

	// SpeechTurns counts detected user speech segments.
	SpeechTurns metric.Int64Counter

	// BargeIns counts user interruptions of in-progress avatar speech.
	BargeIns metric.Int64Counter

	// ChunksForwarded counts synthesized-audio chunks sent to the avatar leg.
	// Use with attribute: attribute.String("kind", "full"|"final")
	ChunksForwarded metric.Int64Counter

	// ContextUpdates counts context-state publisher flushes. Use with
	// attribute: attribute.String("outcome", "sent"|"suppressed")
	ContextUpdates metric.Int64Counter

	// DroppedFragments counts inbound audio payloads discarded as malformed.
	DroppedFragments metric.Int64Counter

	// TextRetries counts text-turn watchdog retries. Use with attribute:
	// attribute.String("outcome", "retried"|"stalled")
	TextRetries metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("leg", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live bridge sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Histograms ---

	// TurnDuration tracks the wall-clock length of synthesized speech turns.
	TurnDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational turn lengths.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("voicebridge.frames.processed",
		metric.WithDescription("Total microphone frames processed by the VAD, by result."),
	); err != nil {
		return nil, err
	}
	if met.SpeechTurns, err = m.Int64Counter("voicebridge.speech.turns",
		metric.WithDescription("Total detected user speech segments."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voicebridge.barge_ins",
		metric.WithDescription("Total user barge-ins interrupting avatar speech."),
	); err != nil {
		return nil, err
	}
	if met.ChunksForwarded, err = m.Int64Counter("voicebridge.chunks.forwarded",
		metric.WithDescription("Total audio chunks forwarded to the avatar leg, by kind."),
	); err != nil {
		return nil, err
	}
	if met.ContextUpdates, err = m.Int64Counter("voicebridge.context.updates",
		metric.WithDescription("Total context-state flushes by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFragments, err = m.Int64Counter("voicebridge.fragments.dropped",
		metric.WithDescription("Total malformed inbound audio payloads dropped."),
	); err != nil {
		return nil, err
	}
	if met.TextRetries, err = m.Int64Counter("voicebridge.text.retries",
		metric.WithDescription("Total text-turn watchdog expiries by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voicebridge.provider.errors",
		metric.WithDescription("Total provider errors by leg and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicebridge.active_sessions",
		metric.WithDescription("Number of live bridge sessions."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("voicebridge.turn.duration",
		metric.WithDescription("Wall-clock duration of synthesized speech turns."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicebridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderError records a provider error counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderError(ctx context.Context, leg, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("leg", leg),
			attribute.String("kind", kind),
		),
	)
}
