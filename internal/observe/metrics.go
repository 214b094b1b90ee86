// Package observe provides application-wide observability primitives for
// Versecast: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Versecast metrics.
const meterName = "github.com/versecast/versecast"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscribeDuration tracks speech-to-text transcription latency.
	TranscribeDuration metric.Float64Histogram

	// ExtractDuration tracks reference-extraction latency.
	ExtractDuration metric.Float64Histogram

	// LookupDuration tracks verse store lookup latency.
	LookupDuration metric.Float64Histogram

	// CycleDuration tracks end-to-end flush-cycle latency (drain to emit).
	CycleDuration metric.Float64Histogram

	// --- Counters ---

	// Cycles counts completed flush cycles. Use with attribute:
	//   attribute.String("outcome", ...) — one of "verse", "no_speech",
	//   "no_reference", "no_match", "skipped", "error".
	Cycles metric.Int64Counter

	// VersesDelivered counts verse payloads pushed to clients. Use with
	// attribute: attribute.String("version", ...)
	VersesDelivered metric.Int64Counter

	// AudioBytesReceived counts raw audio bytes accepted into stream buffers.
	AudioBytesReceived metric.Int64Counter

	// AudioBytesDropped counts audio bytes discarded by buffer overflow.
	// Use with attribute: attribute.String("policy", ...)
	AudioBytesDropped metric.Int64Counter

	// --- Error counters ---

	// StageErrors counts pipeline stage failures. Use with attribute:
	//   attribute.String("stage", ...) — "transcribe", "extract", or "lookup".
	StageErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live streaming connections.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// a pipeline whose cycles fire every second and whose stages call remote APIs.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("versecast.transcribe.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractDuration, err = m.Float64Histogram("versecast.extract.duration",
		metric.WithDescription("Latency of reference extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LookupDuration, err = m.Float64Histogram("versecast.lookup.duration",
		metric.WithDescription("Latency of verse store lookups."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CycleDuration, err = m.Float64Histogram("versecast.cycle.duration",
		metric.WithDescription("End-to-end flush-cycle latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Cycles, err = m.Int64Counter("versecast.cycles",
		metric.WithDescription("Total flush cycles by outcome."),
	); err != nil {
		return nil, err
	}
	if met.VersesDelivered, err = m.Int64Counter("versecast.verses.delivered",
		metric.WithDescription("Total verse payloads delivered to clients by version."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesReceived, err = m.Int64Counter("versecast.audio.bytes.received",
		metric.WithDescription("Total raw audio bytes accepted into stream buffers."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesDropped, err = m.Int64Counter("versecast.audio.bytes.dropped",
		metric.WithDescription("Total audio bytes discarded by buffer overflow, by policy."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.StageErrors, err = m.Int64Counter("versecast.stage.errors",
		metric.WithDescription("Total pipeline stage failures by stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("versecast.active_sessions",
		metric.WithDescription("Number of live streaming connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("versecast.http.request.duration",
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

// RecordCycle records a completed flush cycle with its outcome.
func (m *Metrics) RecordCycle(ctx context.Context, outcome string) {
	m.Cycles.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordVerseDelivered records a verse payload pushed to a client.
func (m *Metrics) RecordVerseDelivered(ctx context.Context, version string) {
	m.VersesDelivered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("version", version)),
	)
}

// RecordStageError records a pipeline stage failure.
func (m *Metrics) RecordStageError(ctx context.Context, stage string) {
	m.StageErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
