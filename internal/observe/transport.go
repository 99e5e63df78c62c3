package observe

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Transport is an [http.RoundTripper] that instruments outgoing requests to
// the detection server:
//
//  1. Starts a client span for the request and injects W3C Trace Context
//     into the outgoing headers.
//  2. Records request duration to [Metrics.APIRequestDuration] with method,
//     path, and status attributes.
//  3. Logs request completion at debug level with trace info.
type Transport struct {
	base    http.RoundTripper
	metrics *Metrics
	prop    propagation.TextMapPropagator
}

// NewTransport wraps base with instrumentation. A nil base uses
// [http.DefaultTransport].
func NewTransport(base http.RoundTripper, m *Metrics) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:    base,
		metrics: m,
		prop:    propagation.TraceContext{},
	}
}

// RoundTrip implements [http.RoundTripper].
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	ctx, span := StartSpan(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLPath(req.URL.Path),
		),
	)
	defer span.End()

	// Clone before mutating headers; the caller may retry with the same
	// request value.
	req = req.Clone(ctx)
	t.prop.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.base.RoundTrip(req)

	duration := time.Since(start)
	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
		span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	} else {
		span.RecordError(err)
	}

	t.metrics.APIRequestDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			Attr("method", req.Method),
			Attr("path", req.URL.Path),
			Attr("status", status),
		),
	)

	Logger(ctx).Debug("api request completed",
		"method", req.Method,
		"path", req.URL.Path,
		"status", status,
		"duration", duration,
	)

	return resp, err
}
