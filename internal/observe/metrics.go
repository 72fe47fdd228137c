// Package observe provides application-wide observability primitives for
// troupe: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware for the metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all troupe metrics.
const meterName = "github.com/MrWong99/troupe"

// Voice message outcomes recorded on [Metrics.VoiceMessages].
const (
	OutcomePlayed    = "played"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// AgentDuration tracks how long an agent takes to produce a reply.
	// Attribute: agent.
	AgentDuration metric.Float64Histogram

	// RenderDuration tracks how long a voice actor takes to return a
	// rendering. Attribute: actor.
	RenderDuration metric.Float64Histogram

	// PlaybackDuration tracks wall-clock playback time per message.
	// Attribute: actor.
	PlaybackDuration metric.Float64Histogram

	// TranscribeDuration tracks speech-to-text latency.
	TranscribeDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Attributes: provider,
	// kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// VoiceMessages counts messages that reached a terminal voice state.
	// Attributes: actor, outcome.
	VoiceMessages metric.Int64Counter

	// --- Gauges ---

	// VoiceQueueDepth tracks messages enqueued for voicing that have not yet
	// reached a terminal state.
	VoiceQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks operational endpoint latency. Attributes:
	// route (the mux pattern), status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Renders and agent
// replies routinely take several seconds, hence the long tail.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.AgentDuration, "troupe.agent.duration", "Latency of agent replies."},
		{&met.RenderDuration, "troupe.render.duration", "Latency of voice actor renders."},
		{&met.PlaybackDuration, "troupe.playback.duration", "Wall-clock playback time per message."},
		{&met.TranscribeDuration, "troupe.transcribe.duration", "Latency of speech-to-text transcription."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.ProviderRequests, err = m.Int64Counter("troupe.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("troupe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.VoiceMessages, err = m.Int64Counter("troupe.voice.messages",
		metric.WithDescription("Messages that reached a terminal voice state, by actor and outcome."),
	); err != nil {
		return nil, err
	}
	if met.VoiceQueueDepth, err = m.Int64UpDownCounter("troupe.voice.queue_depth",
		metric.WithDescription("Messages waiting to be rendered or played."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("troupe.http.request.duration",
		metric.WithDescription("Operational HTTP request latency by route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordVoiceMessage counts one message reaching a terminal voice state.
func (m *Metrics) RecordVoiceMessage(ctx context.Context, actor, outcome string) {
	m.VoiceMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("actor", actor),
			attribute.String("outcome", outcome),
		),
	)
}

// ObserveSince records the time elapsed since start on h.
func ObserveSince(ctx context.Context, h metric.Float64Histogram, start time.Time, attrs ...attribute.KeyValue) {
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}
