package observability

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calque-ai/go-counsel/pkg/counsel"
)

// metricHelp documents the metrics the pipeline records.
var metricHelp = map[string]string{
	MetricQuestions:     "Questions handled, by result (answered, cached, error).",
	MetricCacheLookups:  "Embedding and response cache lookups, by cache and result.",
	MetricStageDuration: "Latency of pipeline stages in seconds.",
	MetricErrors:        "Failed questions, by error kind.",
	MetricTokens:        "Completion tokens consumed, by direction.",
	MetricDuplicates:    "Inbound messages dropped as duplicates.",
	MetricDegradations:  "Cache or session failures the pipeline continued through.",
	MetricSessionsSwept: "Sessions deleted by the sweeper.",
}

// PrometheusProvider implements MetricsProvider on a Prometheus registry.
//
// Vectors are registered on first use with the label names of that call.
// Later calls with a different label set are dropped and logged rather than
// panicking.
type PrometheusProvider struct {
	registry        *prometheus.Registry
	durationBuckets []float64

	mu   sync.Mutex
	vecs map[string]any
}

// PrometheusOption configures the Prometheus provider.
type PrometheusOption func(*PrometheusProvider)

// WithDurationBuckets replaces the histogram buckets.
func WithDurationBuckets(buckets []float64) PrometheusOption {
	return func(p *PrometheusProvider) { p.durationBuckets = buckets }
}

// WithPrometheusRegistry registers into registry instead of a private one.
func WithPrometheusRegistry(registry *prometheus.Registry) PrometheusOption {
	return func(p *PrometheusProvider) { p.registry = registry }
}

// NewPrometheusProvider creates a provider with Go runtime and process collectors.
//
// The default buckets span embedding lookups (milliseconds) up to long
// completions (a minute).
func NewPrometheusProvider(opts ...PrometheusOption) *PrometheusProvider {
	p := &PrometheusProvider{
		registry:        prometheus.NewRegistry(),
		durationBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		vecs:            make(map[string]any),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *PrometheusProvider) Counter(ctx context.Context, name string, value int64, labels map[string]string) {
	vec := vecFor(p, name, labels, func(opts prometheus.Opts, names []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts(opts), names)
	})
	if c, err := vec.GetMetricWith(labels); err == nil {
		c.Add(float64(value))
	} else {
		dropped(ctx, name, err)
	}
}

func (p *PrometheusProvider) Gauge(ctx context.Context, name string, value float64, labels map[string]string) {
	vec := vecFor(p, name, labels, func(opts prometheus.Opts, names []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), names)
	})
	if g, err := vec.GetMetricWith(labels); err == nil {
		g.Add(value)
	} else {
		dropped(ctx, name, err)
	}
}

func (p *PrometheusProvider) Histogram(ctx context.Context, name string, value float64, labels map[string]string) {
	vec := vecFor(p, name, labels, func(opts prometheus.Opts, names []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    opts.Name,
			Help:    opts.Help,
			Buckets: p.durationBuckets,
		}, names)
	})
	if h, err := vec.GetMetricWith(labels); err == nil {
		h.Observe(value)
	} else {
		dropped(ctx, name, err)
	}
}

func (p *PrometheusProvider) RecordDuration(ctx context.Context, name string, duration time.Duration, labels map[string]string) {
	p.Histogram(ctx, name, duration.Seconds(), labels)
}

// Handler serves the registry for scraping.
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusProvider) Registry() *prometheus.Registry {
	return p.registry
}

// vecFor returns the vector registered under name, building it on first use.
// A name reused for a different metric type yields a fresh unregistered
// vector so the call is still safe.
func vecFor[V prometheus.Collector](p *PrometheusProvider, name string, labels map[string]string, build func(prometheus.Opts, []string) V) V {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.vecs[name].(V); ok {
		return existing
	}
	help := metricHelp[name]
	if help == "" {
		help = name
	}
	vec := build(prometheus.Opts{Name: name, Help: help}, labelNames(labels))
	if _, taken := p.vecs[name]; !taken {
		p.registry.MustRegister(vec)
		p.vecs[name] = vec
	}
	return vec
}

func dropped(ctx context.Context, name string, err error) {
	counsel.LogDebug(ctx, "dropping metric with mismatched labels", "metric", name, "error", err)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
