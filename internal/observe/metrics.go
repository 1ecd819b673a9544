// Package observe provides the server's observability primitives:
// OpenTelemetry metrics and tracing, trace-aware logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter bridge set up by [InitProvider].
// [DefaultMetrics] returns a package-level instance bound to the global meter
// provider; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/apex"

// Metrics holds every OpenTelemetry instrument the server records. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency ---

	// LLMDuration tracks text model latency. Attributes: operation
	// (chat|advisor|regenerate), status.
	LLMDuration metric.Float64Histogram

	// LiveSessionDuration tracks how long voice sessions stay open.
	LiveSessionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks request latency. Attributes: method, route.
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// CaptureFrames counts microphone frames forwarded to voice sessions.
	CaptureFrames metric.Int64Counter

	// PlaybackChunks counts inbound audio chunks scheduled for playback.
	PlaybackChunks metric.Int64Counter

	// PlaybackInterruptions counts barge-in events that flushed playback.
	PlaybackInterruptions metric.Int64Counter

	// --- Gauges ---

	// ActiveLiveSessions tracks open voice sessions.
	ActiveLiveSessions metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries in seconds, spanning fast text
// replies to multi-minute voice sessions.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.LLMDuration, "apex.llm.duration", "Latency of text model requests."},
		{&met.LiveSessionDuration, "apex.live.session.duration", "Lifetime of voice concierge sessions."},
		{&met.HTTPRequestDuration, "apex.http.request.duration", "HTTP request latency by method and route."},
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

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "apex.provider.requests", "Provider API requests by provider, kind and status."},
		{&met.ProviderErrors, "apex.provider.errors", "Provider errors by provider and kind."},
		{&met.CaptureFrames, "apex.capture.frames", "Microphone frames sent to voice sessions."},
		{&met.PlaybackChunks, "apex.playback.chunks", "Inbound audio chunks scheduled for playback."},
		{&met.PlaybackInterruptions, "apex.playback.interruptions", "Barge-in interruptions that flushed playback."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveLiveSessions, err = m.Int64UpDownCounter("apex.live.active_sessions",
		metric.WithDescription("Number of open voice concierge sessions."),
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
// first call from [otel.GetMeterProvider]. It panics if instrument creation
// fails, which does not happen with a working global provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordLLM records one text model call: its latency, the request counter
// and, on failure, the error counter.
func (m *Metrics) RecordLLM(ctx context.Context, operation, provider string, d time.Duration, err error) {
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		Attr("operation", operation),
		Attr("status", status(err)),
	))
	m.RecordProviderRequest(ctx, provider, operation, status(err))
	if err != nil {
		m.RecordProviderError(ctx, provider, operation)
	}
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}

// LiveSessionOpened marks a voice session as open.
func (m *Metrics) LiveSessionOpened(ctx context.Context) {
	m.ActiveLiveSessions.Add(ctx, 1)
}

// LiveSessionClosed marks a voice session as closed after lasting d.
func (m *Metrics) LiveSessionClosed(ctx context.Context, d time.Duration) {
	m.ActiveLiveSessions.Add(ctx, -1)
	m.LiveSessionDuration.Record(ctx, d.Seconds())
}
