// Package observe provides application-wide observability primitives: OpenTelemetry
// metrics, distributed tracing, and structured logging helpers.
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

// meterName is the instrumentation scope name used for all gateway metrics.
const meterName = "github.com/CannonWest/CannonAI-sub001"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency ---

	// RequestDuration tracks the wall time of one worker run, from Started
	// to its terminal event. Use with attributes:
	//   attribute.String("provider", ...), attribute.Bool("streaming", ...)
	RequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// StreamChunks counts streaming chunk events delivered to subscribers.
	// Use with attribute: attribute.String("provider", ...)
	StreamChunks metric.Int64Counter

	// PromptTokens and CompletionTokens accumulate token usage reported by
	// Done/Usage events. Use with attribute: attribute.String("provider", ...)
	PromptTokens     metric.Int64Counter
	CompletionTokens metric.Int64Counter

	// Retries counts graph.Retry invocations.
	Retries metric.Int64Counter

	// Cancellations counts worker runs that ended in EventCancelled.
	Cancellations metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveWorkers tracks the number of in-flight orchestrator workers.
	ActiveWorkers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, for
	// deployments that front the gateway with an HTTP transport. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider call latency, from a fast non-streaming round trip to a long
// streaming generation.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RequestDuration, err = m.Float64Histogram("cannonai.request.duration",
		metric.WithDescription("Wall time of one provider call, from Started to its terminal event."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("cannonai.provider.requests",
		metric.WithDescription("Total provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.StreamChunks, err = m.Int64Counter("cannonai.stream.chunks",
		metric.WithDescription("Total streaming chunk events delivered to subscribers."),
	); err != nil {
		return nil, err
	}
	if met.PromptTokens, err = m.Int64Counter("cannonai.tokens.prompt",
		metric.WithDescription("Total prompt tokens reported by provider usage."),
	); err != nil {
		return nil, err
	}
	if met.CompletionTokens, err = m.Int64Counter("cannonai.tokens.completion",
		metric.WithDescription("Total completion tokens reported by provider usage."),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("cannonai.retries",
		metric.WithDescription("Total retry operations on existing assistant turns."),
	); err != nil {
		return nil, err
	}
	if met.Cancellations, err = m.Int64Counter("cannonai.cancellations",
		metric.WithDescription("Total worker runs that ended cancelled."),
	); err != nil {
		return nil, err
	}

	if met.ProviderErrors, err = m.Int64Counter("cannonai.provider.errors",
		metric.WithDescription("Total provider errors by provider and error kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveWorkers, err = m.Int64UpDownCounter("cannonai.active_workers",
		metric.WithDescription("Number of in-flight orchestrator workers."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("cannonai.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUsage is a convenience method that records prompt and completion
// token counts for one finalised worker run.
func (m *Metrics) RecordUsage(ctx context.Context, provider string, promptTokens, completionTokens int) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	m.PromptTokens.Add(ctx, int64(promptTokens), attrs)
	m.CompletionTokens.Add(ctx, int64(completionTokens), attrs)
}
