// Package observability provides metrics, tracing and health checks for the
// legal assistant. Prometheus backs metrics, OpenTelemetry (OTLP) backs
// tracing, and both have no-op and in-memory variants for tests.
package observability

import (
	"context"
	"time"
)

// Metric names recorded by the assistant pipeline.
const (
	MetricQuestions     = "counsel_questions_total"
	MetricCacheLookups  = "counsel_cache_lookups_total"
	MetricStageDuration = "counsel_stage_duration_seconds"
	MetricErrors        = "counsel_errors_total"
	MetricTokens        = "counsel_tokens_total"
	MetricDuplicates    = "counsel_duplicate_messages_total"
	MetricDegradations  = "counsel_degradations_total"
	MetricSessionsSwept = "counsel_sessions_swept_total"
)

// MetricsProvider collects counters, gauges and histograms.
//
// Every call with the same name must use the same label keys.
type MetricsProvider interface {
	// Counter increments a cumulative counter.
	Counter(ctx context.Context, name string, value int64, labels map[string]string)

	// Gauge adds value to a gauge. Pass negative values to decrease.
	Gauge(ctx context.Context, name string, value float64, labels map[string]string)

	// Histogram records an observation.
	Histogram(ctx context.Context, name string, value float64, labels map[string]string)

	// RecordDuration records a duration in seconds.
	RecordDuration(ctx context.Context, name string, duration time.Duration, labels map[string]string)
}

// TracerProvider starts spans.
//
// Example:
//
//	ctx, span := tracer.StartSpan(ctx, "retrieve", observability.WithSpanKind(observability.SpanKindClient))
//	defer func() { span.End(err) }()
type TracerProvider interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
	// Shutdown flushes pending spans. Call it before the process exits.
	Shutdown(ctx context.Context) error
}

// Span is a single traced operation. End must be called exactly once.
type Span interface {
	// End finishes the span; a non-nil err marks it failed.
	End(err error)
	SetAttribute(key string, value any)
	AddEvent(name string, attrs map[string]any)
	SetStatus(code SpanStatus, description string)
	SpanContext() SpanContext
}

// SpanContext carries the identifiers used to correlate logs with traces.
type SpanContext struct {
	TraceID string
	SpanID  string
}

// SpanStatus represents the status of a span
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// SpanOption configures span creation
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind       SpanKind
	attributes map[string]any
}

func newSpanConfig(opts []SpanOption) *spanConfig {
	cfg := &spanConfig{kind: SpanKindInternal, attributes: make(map[string]any)}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// SpanKind describes the relationship between the Span, its parents, and its children
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// WithSpanKind sets the kind of span
func WithSpanKind(kind SpanKind) SpanOption {
	return func(cfg *spanConfig) {
		cfg.kind = kind
	}
}

// WithAttributes sets initial attributes on the span
func WithAttributes(attrs map[string]any) SpanOption {
	return func(cfg *spanConfig) {
		for k, v := range attrs {
			cfg.attributes[k] = v
		}
	}
}

// HealthChecker verifies one dependency: the key-value store, the vector
// index, or a provider endpoint.
type HealthChecker interface {
	Name() string
	// Check returns nil when healthy. It must respect ctx cancellation.
	Check(ctx context.Context) error
	// Timeout bounds the check. Zero selects the registry default.
	Timeout() time.Duration
}

// HealthStatus represents the overall health status of the system.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	// HealthStatusDegraded means only optional dependencies failed; questions
	// can still be answered, without caching or memory.
	HealthStatusDegraded HealthStatus = "degraded"
)

// HealthCheckResult represents the result of a single health check.
type HealthCheckResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`
	Optional bool          `json:"optional,omitempty"`
}

// HealthReport represents the complete health report.
type HealthReport struct {
	Status    HealthStatus                 `json:"status"`
	Checks    map[string]HealthCheckResult `json:"checks"`
	Uptime    time.Duration                `json:"uptime"`
	Timestamp time.Time                    `json:"timestamp"`
}
