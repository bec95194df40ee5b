package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/calque-ai/go-counsel/pkg/counsel"
)

// OTLPConfig configures NewOTLPTracerProvider.
type OTLPConfig struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the collector address, "localhost:4317" for gRPC or
	// "localhost:4318" for HTTP.
	Endpoint string
	UseHTTP  bool
	Insecure bool
	Headers  map[string]string
	// SampleRate in [0,1] applies to root spans; children follow their parent.
	SampleRate   float64
	BatchTimeout time.Duration
}

// OTLPOption configures the OTLP tracer provider.
type OTLPOption func(*OTLPConfig)

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(version string) OTLPOption {
	return func(cfg *OTLPConfig) { cfg.ServiceVersion = version }
}

// WithHTTPExporter exports over OTLP/HTTP instead of gRPC.
func WithHTTPExporter() OTLPOption {
	return func(cfg *OTLPConfig) { cfg.UseHTTP = true }
}

// WithSecure enables TLS to the collector.
func WithSecure() OTLPOption {
	return func(cfg *OTLPConfig) { cfg.Insecure = false }
}

// WithSampleRate sets the root span sampling ratio.
func WithSampleRate(rate float64) OTLPOption {
	return func(cfg *OTLPConfig) { cfg.SampleRate = rate }
}

// WithHeaders adds headers to every export, e.g. a collector API key.
func WithHeaders(headers map[string]string) OTLPOption {
	return func(cfg *OTLPConfig) { cfg.Headers = headers }
}

// OTLPTracerProvider implements TracerProvider with an OTLP exporter.
type OTLPTracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOTLPTracerProvider creates the provider and installs it as the global
// OpenTelemetry tracer provider. Call Shutdown before exiting to flush spans.
//
//	tracer, err := observability.NewOTLPTracerProvider(ctx, "go-counsel", "localhost:4317")
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
func NewOTLPTracerProvider(ctx context.Context, serviceName, endpoint string, opts ...OTLPOption) (*OTLPTracerProvider, error) {
	cfg := OTLPConfig{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Endpoint:       endpoint,
		Insecure:       true,
		SampleRate:     1,
		BatchTimeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Endpoint == "" {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "tracing endpoint is required")
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, counsel.WrapErr(ctx, err, "create otlp exporter")
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, counsel.WrapErr(ctx, err, "build otel resource")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	counsel.LogInfo(ctx, "exporting traces", "endpoint", cfg.Endpoint, "http", cfg.UseHTTP, "sample_rate", cfg.SampleRate)
	return &OTLPTracerProvider{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}, nil
}

func newExporter(ctx context.Context, cfg OTLPConfig) (*otlptrace.Exporter, error) {
	if cfg.UseHTTP {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithHeaders(cfg.Headers)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithHeaders(cfg.Headers)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// StartSpan starts a span and stores its trace id in the returned context
// with counsel.WithTraceID. The request id, when present, is recorded as the
// request_id attribute.
func (p *OTLPTracerProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := newSpanConfig(opts)
	if id := counsel.RequestID(ctx); id != "" {
		cfg.attributes["request_id"] = id
	}

	attrs := make([]attribute.KeyValue, 0, len(cfg.attributes))
	for k, v := range cfg.attributes {
		attrs = append(attrs, toAttribute(k, v))
	}
	ctx, span := p.tracer.Start(ctx, name, trace.WithSpanKind(otelKind(cfg.kind)), trace.WithAttributes(attrs...))
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = counsel.WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, &otlpSpan{span: span}
}

// Shutdown flushes pending spans and stops the exporter.
func (p *OTLPTracerProvider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

func otelKind(kind SpanKind) trace.SpanKind {
	switch kind {
	case SpanKindServer:
		return trace.SpanKindServer
	case SpanKindClient:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}

type otlpSpan struct {
	span trace.Span
}

// End records err with its kind before ending the span.
func (s *otlpSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, counsel.KindOf(err).String())
		s.span.SetAttributes(attribute.String("error.kind", counsel.KindOf(err).String()))
	}
	s.span.End()
}

func (s *otlpSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *otlpSpan) AddEvent(name string, attrs map[string]any) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, toAttribute(k, v))
	}
	s.span.AddEvent(name, trace.WithAttributes(kvs...))
}

func (s *otlpSpan) SetStatus(code SpanStatus, description string) {
	switch code {
	case SpanStatusOK:
		s.span.SetStatus(codes.Ok, description)
	case SpanStatusError:
		s.span.SetStatus(codes.Error, description)
	default:
		s.span.SetStatus(codes.Unset, description)
	}
}

func (s *otlpSpan) SpanContext() SpanContext {
	sc := s.span.SpanContext()
	return SpanContext{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}
}

// toAttribute converts the value types the pipeline records; anything else
// is rendered with fmt.
func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float32:
		return attribute.Float64(key, float64(v))
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case time.Duration:
		return attribute.Float64(key, v.Seconds())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
