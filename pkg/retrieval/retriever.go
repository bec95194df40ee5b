package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/observability"
)

// DefaultTopK bounds search results when Options.TopK is zero.
const DefaultTopK = 15

// Options tune a single retrieval.
type Options struct {
	TopK   int
	Filter Filter
}

// Config holds Retriever settings.
type Config struct {
	TopK      int
	Timeout   time.Duration
	Assembler AssemblerConfig
	Metrics   observability.MetricsProvider
}

// Option configures a Retriever.
type Option func(*Config)

// WithTopK sets the default result bound.
func WithTopK(k int) Option {
	return func(c *Config) { c.TopK = k }
}

// WithSearchTimeout bounds each index query.
func WithSearchTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithAssembler replaces the assembly settings.
func WithAssembler(ac AssemblerConfig) Option {
	return func(c *Config) { c.Assembler = ac }
}

// WithMetrics records search latency.
func WithMetrics(m observability.MetricsProvider) Option {
	return func(c *Config) { c.Metrics = m }
}

// Retriever answers "which passages are relevant to this question".
type Retriever struct {
	embedder  Embedder
	searcher  Searcher
	assembler *Assembler
	config    Config
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder Embedder, searcher Searcher, opts ...Option) *Retriever {
	config := Config{
		TopK:      DefaultTopK,
		Timeout:   10 * time.Second,
		Assembler: DefaultAssemblerConfig(),
		Metrics:   observability.NoopMetricsProvider{},
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetricsProvider{}
	}
	return &Retriever{
		embedder:  embedder,
		searcher:  searcher,
		assembler: NewAssembler(config.Assembler),
		config:    config,
	}
}

// Retrieve embeds query, searches the index and assembles the hits.
//
// Zero hits yield NoResultsText and a mixed legal context, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) (*RetrievedContext, error) {
	if strings.TrimSpace(query) == "" {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "query is empty")
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, counsel.WrapErr(ctx, err, "failed to embed query")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = r.config.TopK
	}
	results, err := r.search(ctx, vector, topK, opts.Filter)
	if err != nil {
		return nil, err
	}

	rc := r.assembler.Assemble(results)
	counsel.LogDebug(ctx, "retrieved context",
		"results", len(results),
		"buckets", rc.Buckets,
		"citations", len(rc.Citations),
		"legal_context", rc.LegalContext)
	return rc, nil
}

func (r *Retriever) search(ctx context.Context, vector counsel.Vector, topK int, filter Filter) ([]SearchResult, error) {
	searchCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	results, err := r.searcher.Search(searchCtx, vector, topK, filter)
	r.config.Metrics.RecordDuration(ctx, observability.MetricStageDuration, time.Since(start),
		map[string]string{"stage": "search"})
	if err != nil {
		if counsel.KindOf(err) == counsel.KindUnknown || errors.Is(err, context.DeadlineExceeded) {
			return nil, counsel.KindErr(ctx, counsel.KindIndexUnavailable, err, "vector search failed").
				Tag(slog.Int("top_k", topK))
		}
		return nil, counsel.WrapErr(ctx, err, "vector search failed")
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
