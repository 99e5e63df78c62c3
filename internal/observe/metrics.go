// Package observe provides application-wide observability primitives for
// perch: OpenTelemetry metrics, tracing, structured logging helpers, an
// instrumented HTTP transport, and the local status server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the status server's /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all perch metrics.
const meterName = "github.com/perchkit/perch"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// APIRequestDuration tracks detection-server request latency. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...), attribute.String("status", ...)
	APIRequestDuration metric.Float64Histogram

	// ClipFetchDuration tracks audio clip download latency.
	ClipFetchDuration metric.Float64Histogram

	// --- Counters ---

	// PlaybackStarts counts clips that began playing.
	PlaybackStarts metric.Int64Counter

	// PlaybackErrors counts playback failures. Use with attribute:
	//   attribute.String("code", ...)
	PlaybackErrors metric.Int64Counter

	// FeedPages counts detection pages fetched into the feed window.
	FeedPages metric.Int64Counter

	// SettingsSaves counts settings writes. Use with attributes:
	//   attribute.String("domain", ...), attribute.String("status", ...)
	SettingsSaves metric.Int64Counter

	// LiveEvents counts notifications received over the live stream. Use
	// with attribute: attribute.String("type", ...)
	LiveEvents metric.Int64Counter

	// StreamReconnects counts live stream reconnection attempts.
	StreamReconnects metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of open live stream connections.
	ActiveStreams metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LAN round trips to the detection server.
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
	if met.APIRequestDuration, err = m.Float64Histogram("perch.api.request.duration",
		metric.WithDescription("Latency of detection-server API requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClipFetchDuration, err = m.Float64Histogram("perch.clip.fetch.duration",
		metric.WithDescription("Latency of audio clip downloads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PlaybackStarts, err = m.Int64Counter("perch.playback.starts",
		metric.WithDescription("Total clips that began playing."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackErrors, err = m.Int64Counter("perch.playback.errors",
		metric.WithDescription("Total playback failures by error code."),
	); err != nil {
		return nil, err
	}
	if met.FeedPages, err = m.Int64Counter("perch.feed.pages",
		metric.WithDescription("Total detection pages fetched into the feed window."),
	); err != nil {
		return nil, err
	}
	if met.SettingsSaves, err = m.Int64Counter("perch.settings.saves",
		metric.WithDescription("Total settings writes by domain and status."),
	); err != nil {
		return nil, err
	}
	if met.LiveEvents, err = m.Int64Counter("perch.live.events",
		metric.WithDescription("Total live stream notifications by type."),
	); err != nil {
		return nil, err
	}
	if met.StreamReconnects, err = m.Int64Counter("perch.stream.reconnects",
		metric.WithDescription("Total live stream reconnection attempts."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("perch.active_streams",
		metric.WithDescription("Number of open live stream connections."),
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

// RecordPlaybackError records a playback failure with its error code.
func (m *Metrics) RecordPlaybackError(ctx context.Context, code string) {
	m.PlaybackErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("code", code)),
	)
}

// RecordSettingsSave records a settings write outcome.
func (m *Metrics) RecordSettingsSave(ctx context.Context, domain, status string) {
	m.SettingsSaves.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("status", status),
		),
	)
}

// RecordLiveEvent records one received live notification.
func (m *Metrics) RecordLiveEvent(ctx context.Context, eventType string) {
	m.LiveEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}
