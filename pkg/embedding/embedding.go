// Package embedding turns text into dense vectors through a pluggable
// provider, caching every result so each distinct text is embedded once.
//
// Two cache layers sit in front of the provider: an in-process LRU and a
// durable kv.Store entry keyed by the SHA-256 of the text.
//
// Example:
//
//	provider, _ := openai.New("text-embedding-3-large", openai.WithDimensions(1536))
//	client, _ := embedding.New(provider, store)
//	vec, err := client.Embed(ctx, "What is due process?")
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/kv"
	"github.com/calque-ai/go-counsel/pkg/observability"
)

// KeyPrefix namespaces embedding cache entries in the key-value store.
const KeyPrefix = "embedding:"

// Provider computes embeddings for a batch of texts.
//
// Implementations return one vector per input, in input order, and do not
// cache. Errors should be returned as-is; the Client classifies them.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([]counsel.Vector, error)
}

// Config holds Client settings.
type Config struct {
	// TTL of durable cache entries. Zero disables expiry.
	TTL time.Duration
	// Timeout bounds a single provider call.
	Timeout time.Duration
	// LRUSize is the number of vectors held in process. Zero disables the LRU.
	LRUSize int
	Metrics observability.MetricsProvider
}

// Option configures a Client.
type Option interface {
	Apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) Apply(c *Config) { f(c) }

// WithTTL sets how long embeddings stay in the durable cache.
func WithTTL(ttl time.Duration) Option {
	return optionFunc(func(c *Config) { c.TTL = ttl })
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.Timeout = d })
}

// WithLRUSize sets the in-process cache size.
func WithLRUSize(n int) Option {
	return optionFunc(func(c *Config) { c.LRUSize = n })
}

// WithMetrics records cache hits and misses.
func WithMetrics(m observability.MetricsProvider) Option {
	return optionFunc(func(c *Config) { c.Metrics = m })
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		TTL:     7 * 24 * time.Hour,
		Timeout: 10 * time.Second,
		LRUSize: 1024,
		Metrics: observability.NoopMetricsProvider{},
	}
}

// Client embeds text through a Provider with caching.
type Client struct {
	provider Provider
	store    kv.Store
	lru      *lru.Cache[string, counsel.Vector]
	config   *Config
}

// New creates a Client. store may be nil, in which case only the LRU caches.
func New(provider Provider, store kv.Store, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, errors.New("embedding provider is required")
	}
	config := DefaultConfig()
	for _, opt := range opts {
		opt.Apply(config)
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetricsProvider{}
	}

	c := &Client{provider: provider, store: store, config: config}
	if config.LRUSize > 0 {
		cache, err := lru.New[string, counsel.Vector](config.LRUSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding LRU: %w", err)
		}
		c.lru = cache
	}
	return c, nil
}

// Embed returns the vector for text.
func (c *Client) Embed(ctx context.Context, text string) (counsel.Vector, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in order. Cached texts are served
// from cache; the rest go to the provider in a single call. Each returned
// vector is a fresh copy the caller may modify.
//
// Every text must be non-empty; otherwise no external call is made.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]counsel.Vector, error) {
	if len(texts) == 0 {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "no texts to embed")
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "text is empty").
				Tag(slog.Int("index", i))
		}
	}

	out := make([]counsel.Vector, len(texts))
	// distinct uncached texts, first-seen order, mapped to their positions
	pending := make(map[string][]int)
	var order []string
	for i, text := range texts {
		key := CacheKey(text)
		if vec, ok := c.lookup(ctx, key); ok {
			out[i] = slices.Clone(vec)
			continue
		}
		if _, seen := pending[text]; !seen {
			order = append(order, text)
		}
		pending[text] = append(pending[text], i)
	}

	c.record(ctx, len(texts)-countPositions(pending), countPositions(pending))
	if len(order) == 0 {
		return out, nil
	}

	vecs, err := c.callProvider(ctx, order)
	if err != nil {
		return nil, err
	}
	for i, text := range order {
		vec := vecs[i]
		for _, pos := range pending[text] {
			out[pos] = slices.Clone(vec)
		}
		c.remember(ctx, CacheKey(text), vec)
	}
	return out, nil
}

func (c *Client) callProvider(ctx context.Context, texts []string) ([]counsel.Vector, error) {
	callCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	vecs, err := c.provider.Embed(callCtx, texts)
	c.config.Metrics.RecordDuration(ctx, observability.MetricStageDuration, time.Since(start),
		map[string]string{"stage": "embed"})
	if err != nil {
		return nil, counsel.KindErr(ctx, counsel.KindEmbeddingService, err, "embedding request failed").
			Tag(slog.Int("texts", len(texts)))
	}
	if len(vecs) != len(texts) {
		return nil, counsel.KindErr(ctx, counsel.KindEmbeddingService, nil,
			fmt.Sprintf("provider returned %d embeddings for %d texts", len(vecs), len(texts)))
	}
	for i, vec := range vecs {
		if len(vec) == 0 || vec.IsZero() {
			return nil, counsel.KindErr(ctx, counsel.KindEmbeddingService, nil, "provider returned a zero vector").
				Tag(slog.Int("index", i))
		}
	}
	return vecs, nil
}

func (c *Client) lookup(ctx context.Context, key string) (counsel.Vector, bool) {
	if c.lru != nil {
		if vec, ok := c.lru.Get(key); ok {
			return vec, true
		}
	}
	if c.store == nil {
		return nil, false
	}

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			counsel.LogWarn(ctx, "embedding cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	vec, err := decodeVector(data)
	if err != nil {
		counsel.LogWarn(ctx, "discarding corrupt embedding cache entry", "key", key, "error", err)
		return nil, false
	}
	if c.lru != nil {
		c.lru.Add(key, vec)
	}
	return vec, true
}

func (c *Client) remember(ctx context.Context, key string, vec counsel.Vector) {
	if c.lru != nil {
		c.lru.Add(key, vec)
	}
	if c.store == nil {
		return
	}
	if err := c.store.Set(ctx, key, encodeVector(vec), c.config.TTL); err != nil {
		counsel.LogWarn(ctx, "embedding cache write failed", "key", key, "error", err)
	}
}

func (c *Client) record(ctx context.Context, hits, misses int) {
	if hits > 0 {
		c.config.Metrics.Counter(ctx, observability.MetricCacheLookups, int64(hits),
			map[string]string{"cache": "embedding", "result": "hit"})
	}
	if misses > 0 {
		c.config.Metrics.Counter(ctx, observability.MetricCacheLookups, int64(misses),
			map[string]string{"cache": "embedding", "result": "miss"})
	}
}

func countPositions(pending map[string][]int) int {
	n := 0
	for _, positions := range pending {
		n += len(positions)
	}
	return n
}

// CacheKey returns the durable cache key for text.
func CacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(vec counsel.Vector) []byte {
	buf := make([]byte, 4*len(vec))
	for i, x := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(data []byte) (counsel.Vector, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid encoded vector length %d", len(data))
	}
	vec := make(counsel.Vector, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}
