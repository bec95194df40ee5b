package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/calque-ai/go-counsel/pkg/counsel"
)

// series holds every value recorded under one name and label set.
type series struct {
	count   int64
	gauge   float64
	samples []float64
}

// InMemoryMetricsProvider keeps metrics in memory so tests can assert on
// them. Label order does not matter.
//
//	metrics := observability.NewInMemoryMetricsProvider()
//	// ... run the assistant ...
//	hits := metrics.GetCounter(observability.MetricCacheLookups, map[string]string{"cache": "response", "result": "hit"})
type InMemoryMetricsProvider struct {
	mu     sync.Mutex
	series map[string]*series
}

func NewInMemoryMetricsProvider() *InMemoryMetricsProvider {
	return &InMemoryMetricsProvider{series: make(map[string]*series)}
}

func (p *InMemoryMetricsProvider) Counter(_ context.Context, name string, value int64, labels map[string]string) {
	p.update(name, labels, func(s *series) { s.count += value })
}

func (p *InMemoryMetricsProvider) Gauge(_ context.Context, name string, value float64, labels map[string]string) {
	p.update(name, labels, func(s *series) { s.gauge += value })
}

func (p *InMemoryMetricsProvider) Histogram(_ context.Context, name string, value float64, labels map[string]string) {
	p.update(name, labels, func(s *series) { s.samples = append(s.samples, value) })
}

func (p *InMemoryMetricsProvider) RecordDuration(ctx context.Context, name string, duration time.Duration, labels map[string]string) {
	p.Histogram(ctx, name, duration.Seconds(), labels)
}

// GetCounter returns the counter total, zero when never incremented.
func (p *InMemoryMetricsProvider) GetCounter(name string, labels map[string]string) int64 {
	var total int64
	p.read(name, labels, func(s *series) { total = s.count })
	return total
}

// GetHistogram returns a copy of the recorded samples.
func (p *InMemoryMetricsProvider) GetHistogram(name string, labels map[string]string) []float64 {
	var samples []float64
	p.read(name, labels, func(s *series) { samples = slices.Clone(s.samples) })
	return samples
}

func (p *InMemoryMetricsProvider) update(name string, labels map[string]string, fn func(*series)) {
	key := seriesKey(name, labels)
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.series[key]
	if !ok {
		s = &series{}
		p.series[key] = s
	}
	fn(s)
}

func (p *InMemoryMetricsProvider) read(name string, labels map[string]string, fn func(*series)) {
	key := seriesKey(name, labels)
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.series[key]; ok {
		fn(s)
	}
}

// seriesKey renders name{k=v,...} with labels sorted by name.
func seriesKey(name string, labels map[string]string) string {
	pairs := make([]string, 0, len(labels))
	for _, k := range labelNames(labels) {
		pairs = append(pairs, k+"="+labels[k])
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// InMemoryTracerProvider records finished spans for inspection in tests.
//
// A span started under a context that already carries a trace id joins that
// trace, and the new id is stored back with counsel.WithTraceID so child
// spans and log lines share it.
type InMemoryTracerProvider struct {
	mu    sync.Mutex
	spans []*RecordedSpan
}

// RecordedSpan is a finished span.
type RecordedSpan struct {
	Name       string
	Kind       SpanKind
	TraceID    string
	SpanID     string
	ParentID   string
	Attributes map[string]any
	Events     []RecordedEvent
	Status     SpanStatus
	StatusDesc string
	Error      error
	StartTime  time.Time
	EndTime    time.Time
}

// RecordedEvent is an event added to a span.
type RecordedEvent struct {
	Name       string
	Attributes map[string]any
}

type spanIDKey struct{}

func NewInMemoryTracerProvider() *InMemoryTracerProvider {
	return &InMemoryTracerProvider{}
}

func (p *InMemoryTracerProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := newSpanConfig(opts)
	traceID := counsel.TraceID(ctx)
	if traceID == "" {
		traceID = randomHex(16)
	}
	parent, _ := ctx.Value(spanIDKey{}).(string)

	rec := &RecordedSpan{
		Name:       name,
		Kind:       cfg.kind,
		TraceID:    traceID,
		SpanID:     randomHex(8),
		ParentID:   parent,
		Attributes: cfg.attributes,
		StartTime:  time.Now(),
	}
	ctx = counsel.WithTraceID(ctx, traceID)
	ctx = context.WithValue(ctx, spanIDKey{}, rec.SpanID)
	return ctx, &inMemorySpan{provider: p, rec: rec}
}

func (p *InMemoryTracerProvider) Shutdown(context.Context) error { return nil }

// GetSpans returns finished spans in the order they ended.
func (p *InMemoryTracerProvider) GetSpans() []*RecordedSpan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.spans)
}

// SpanNames returns the sorted names of finished spans.
func (p *InMemoryTracerProvider) SpanNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.spans))
	for i, s := range p.spans {
		names[i] = s.Name
	}
	slices.Sort(names)
	return names
}

type inMemorySpan struct {
	mu       sync.Mutex
	provider *InMemoryTracerProvider
	rec      *RecordedSpan
	ended    bool
}

func (s *inMemorySpan) End(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.rec.EndTime = time.Now()
	s.rec.Error = err
	if err != nil && s.rec.Status == SpanStatusUnset {
		s.rec.Status = SpanStatusError
		s.rec.StatusDesc = err.Error()
	}
	s.mu.Unlock()

	s.provider.mu.Lock()
	s.provider.spans = append(s.provider.spans, s.rec)
	s.provider.mu.Unlock()
}

func (s *inMemorySpan) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Attributes[key] = value
}

func (s *inMemorySpan) AddEvent(name string, attrs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Events = append(s.rec.Events, RecordedEvent{Name: name, Attributes: attrs})
}

func (s *inMemorySpan) SetStatus(code SpanStatus, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Status, s.rec.StatusDesc = code, description
}

func (s *inMemorySpan) SpanContext() SpanContext {
	return SpanContext{TraceID: s.rec.TraceID, SpanID: s.rec.SpanID}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
