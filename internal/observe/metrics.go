// Package observe provides application-wide observability primitives for
// the learning hub: OpenTelemetry metrics, tracing helpers, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all hub metrics.
const meterName = "github.com/stuartw843/flow-learning-hub"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ConnectDuration tracks time from session start to Active (credential
	// fetch plus session handshake).
	ConnectDuration metric.Float64Histogram

	// SessionDuration tracks the total lifetime of completed voice sessions.
	SessionDuration metric.Float64Histogram

	// FramesSent counts capture frames delivered to the session transport.
	FramesSent metric.Int64Counter

	// FramesReceived counts agent audio frames handed to the playback
	// scheduler.
	FramesReceived metric.Int64Counter

	// TranscriptsFinal counts finalized transcript events appended to
	// module context.
	TranscriptsFinal metric.Int64Counter

	// SessionErrors counts surfaced session errors. Use with attribute:
	//   attribute.String("stage", "credential"|"connect"|"capture"|"transport")
	SessionErrors metric.Int64Counter

	// TokenRequests counts credential issuance calls proxied by the server.
	// Use with attribute: attribute.String("status", ...)
	TokenRequests metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// session setup and HTTP latencies.
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
	if met.ConnectDuration, err = m.Float64Histogram("flowhub.session.connect.duration",
		metric.WithDescription("Time from session start to Active."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("flowhub.session.duration",
		metric.WithDescription("Total lifetime of completed voice sessions."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("flowhub.audio.frames.sent",
		metric.WithDescription("Capture frames delivered to the session transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("flowhub.audio.frames.received",
		metric.WithDescription("Agent audio frames handed to the playback scheduler."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptsFinal, err = m.Int64Counter("flowhub.transcripts.final",
		metric.WithDescription("Finalized transcript events appended to module context."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("flowhub.session.errors",
		metric.WithDescription("Surfaced session errors by stage."),
	); err != nil {
		return nil, err
	}
	if met.TokenRequests, err = m.Int64Counter("flowhub.token.requests",
		metric.WithDescription("Credential issuance calls proxied by the server, by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("flowhub.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("flowhub.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordSessionError is a convenience method that records a surfaced
// session error for the given pipeline stage.
func (m *Metrics) RecordSessionError(ctx context.Context, stage string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordTokenRequest is a convenience method that records one credential
// issuance call with its outcome.
func (m *Metrics) RecordTokenRequest(ctx context.Context, status string) {
	m.TokenRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
