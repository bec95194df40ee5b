package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/calque-ai/go-counsel/pkg/counsel"
)

func newTestOTLP() (*OTLPTracerProvider, *tracetest.InMemoryExporter) {
	exp := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	return &OTLPTracerProvider{provider: provider, tracer: provider.Tracer("test")}, exp
}

func TestOTLPSpanCarriesTraceAndRequestID(t *testing.T) {
	t.Parallel()
	p, exp := newTestOTLP()
	ctx := counsel.WithRequestID(context.Background(), "msg-42")

	ctx, span := p.StartSpan(ctx, "assistant.ask", WithSpanKind(SpanKindServer), WithAttributes(map[string]any{"user_id": "u1"}))
	if got := counsel.TraceID(ctx); got == "" || got != span.SpanContext().TraceID {
		t.Errorf("context trace id = %q, span = %q", got, span.SpanContext().TraceID)
	}
	_, child := p.StartSpan(ctx, "assistant.retrieve")
	child.End(nil)
	span.End(counsel.KindErr(ctx, counsel.KindIndexUnavailable, nil, "down"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	root := spans[1]
	if spans[0].Parent.SpanID() != root.SpanContext.SpanID() {
		t.Error("child span not parented to root")
	}
	if root.Status.Code != codes.Error || root.Status.Description != "index_unavailable" {
		t.Errorf("status = %+v", root.Status)
	}
	want := map[attribute.Key]string{"request_id": "msg-42", "user_id": "u1", "error.kind": "index_unavailable"}
	for _, kv := range root.Attributes {
		if w, ok := want[kv.Key]; ok {
			if kv.Value.AsString() != w {
				t.Errorf("%s = %q, want %q", kv.Key, kv.Value.AsString(), w)
			}
			delete(want, kv.Key)
		}
	}
	if len(want) != 0 {
		t.Errorf("missing attributes %v", want)
	}
}

func TestNewOTLPTracerProviderRequiresEndpoint(t *testing.T) {
	t.Parallel()
	_, err := NewOTLPTracerProvider(context.Background(), "go-counsel", "")
	if !errors.Is(err, counsel.ErrInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestToAttribute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   any
		want attribute.Value
	}{
		{"common", attribute.StringValue("common")},
		{true, attribute.BoolValue(true)},
		{15, attribute.IntValue(15)},
		{int64(7), attribute.Int64Value(7)},
		{float32(0.5), attribute.Float64Value(0.5)},
		{1500 * time.Millisecond, attribute.Float64Value(1.5)},
		{[]string{"a", "b"}, attribute.StringSliceValue([]string{"a", "b"})},
		{struct{ N int }{3}, attribute.StringValue("{3}")},
	}
	for _, tt := range tests {
		if got := toAttribute("k", tt.in).Value; got != tt.want {
			t.Errorf("toAttribute(%v) = %v, want %v", tt.in, got.Emit(), tt.want.Emit())
		}
	}
}
