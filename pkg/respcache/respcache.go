// Package respcache serves previously generated answers for questions whose
// embeddings are nearly identical to an earlier one.
//
// Every lookup compares the query vector against all live entries with full
// cosine similarity; the storage key only namespaces entries. Entries are
// written once and never modified, only replaced or expired.
//
// Example:
//
//	cache := respcache.New(store)
//	if resp, ok, _ := cache.Get(ctx, vec, question); ok {
//		return resp, nil
//	}
//	...
//	_ = cache.Set(ctx, vec, question, resp, 0) // TTL from the classifier
package respcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/helpers"
	"github.com/calque-ai/go-counsel/pkg/kv"
	"github.com/calque-ai/go-counsel/pkg/observability"
)

// KeyPrefix namespaces response cache entries in the key-value store.
const KeyPrefix = "cache:query:"

// DefaultThreshold is the minimum cosine similarity for a hit.
const DefaultThreshold = 0.98

// keyDims is how many leading dimensions feed the storage key.
const keyDims = 10

// Entry is the stored form of a cached response.
type Entry struct {
	Embedding  counsel.Vector   `json:"embedding"`
	QueryText  string           `json:"queryText"`
	Response   counsel.Response `json:"response"`
	Timestamp  time.Time        `json:"timestamp"`
	TTLSeconds int64            `json:"ttlSeconds"`
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries int
	// Oldest and Newest are zero when no entry could be read.
	Oldest time.Time
	Newest time.Time
}

// Config holds Cache settings.
type Config struct {
	Threshold  float64
	Classifier Classifier
	Metrics    observability.MetricsProvider
	// Now stamps new entries.
	Now func() time.Time
}

// Option configures a Cache.
type Option interface {
	Apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) Apply(c *Config) { f(c) }

// WithThreshold sets the similarity required for a hit.
func WithThreshold(threshold float64) Option {
	return optionFunc(func(c *Config) { c.Threshold = threshold })
}

// WithClassifier replaces the default lexical TTL classifier.
func WithClassifier(classifier Classifier) Option {
	return optionFunc(func(c *Config) { c.Classifier = classifier })
}

// WithMetrics records hits and misses.
func WithMetrics(m observability.MetricsProvider) Option {
	return optionFunc(func(c *Config) { c.Metrics = m })
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *Config) { c.Now = now })
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Threshold:  DefaultThreshold,
		Classifier: DefaultClassifier(),
		Metrics:    observability.NoopMetricsProvider{},
		Now:        time.Now,
	}
}

// Cache is a semantic response cache on top of a kv.Store.
type Cache struct {
	store  kv.Store
	config *Config
}

// New creates a Cache.
func New(store kv.Store, opts ...Option) *Cache {
	config := DefaultConfig()
	for _, opt := range opts {
		opt.Apply(config)
	}
	if config.Classifier == nil {
		config.Classifier = DefaultClassifier()
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetricsProvider{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Cache{store: store, config: config}
}

// Get returns the stored response most similar to vector when that
// similarity reaches the threshold. Unreadable entries are skipped.
func (c *Cache) Get(ctx context.Context, vector counsel.Vector, queryText string) (*counsel.Response, bool, error) {
	if len(vector) == 0 || vector.IsZero() {
		return nil, false, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "query vector is empty or zero")
	}

	keys, err := c.store.Keys(ctx, KeyPrefix+"*")
	if err != nil {
		return nil, false, counsel.WrapErr(ctx, err, "failed to list response cache entries")
	}

	var (
		best      *Entry
		bestScore float64
	)
	for _, key := range keys {
		entry, err := c.read(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if entry == nil {
			continue
		}
		if score := counsel.Cosine(vector, entry.Embedding); score > bestScore {
			best, bestScore = entry, score
		}
	}

	if best == nil || bestScore < c.config.Threshold {
		c.record(ctx, "miss")
		counsel.LogDebug(ctx, "response cache miss",
			"best_similarity", bestScore, "entries", len(keys), "query", helpers.Truncate(queryText, 50))
		return nil, false, nil
	}

	c.record(ctx, "hit")
	counsel.LogDebug(ctx, "response cache hit",
		"similarity", bestScore, "query", helpers.Truncate(queryText, 50), "matched", helpers.Truncate(best.QueryText, 50))
	resp := best.Response
	resp.Cached = true
	return &resp, true, nil
}

// read loads one entry. Missing and corrupt entries yield nil without error.
func (c *Cache) read(ctx context.Context, key string) (*Entry, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, counsel.WrapErr(ctx, err, "failed to read response cache entry").Tag(slog.String("key", key))
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		counsel.LogWarn(ctx, "skipping corrupt response cache entry", "key", key, "error", err)
		return nil, nil
	}
	return &entry, nil
}

// Set stores resp under a key derived from vector. A zero ttl asks the
// classifier.
func (c *Cache) Set(ctx context.Context, vector counsel.Vector, queryText string, resp *counsel.Response, ttl time.Duration) error {
	if len(vector) == 0 || vector.IsZero() {
		return counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "query vector is empty or zero")
	}
	if resp == nil {
		return counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "response is required")
	}
	if ttl <= 0 {
		ttl = c.config.Classifier.TTL(queryText, resp)
	}

	stored := *resp
	stored.Cached = false
	entry := Entry{
		Embedding:  vector,
		QueryText:  queryText,
		Response:   stored,
		Timestamp:  c.config.Now().UTC(),
		TTLSeconds: int64(ttl / time.Second),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return counsel.KindErr(ctx, counsel.KindInvalidInput, err, "failed to encode response cache entry")
	}

	key := Key(vector)
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		return counsel.WrapErr(ctx, err, "failed to write response cache entry").Tag(slog.String("key", key))
	}
	counsel.LogDebug(ctx, "cached response", "key", key, "ttl", ttl, "query", helpers.Truncate(queryText, 50))
	return nil
}

// Invalidate deletes entries whose key matches the glob pattern and returns
// how many were removed. Patterns are scoped to KeyPrefix; an empty pattern
// clears the cache.
func (c *Cache) Invalidate(ctx context.Context, pattern string) (int, error) {
	if !strings.HasPrefix(pattern, KeyPrefix) {
		pattern = KeyPrefix + pattern
	}
	if pattern == KeyPrefix {
		pattern += "*"
	}

	keys, err := c.store.Keys(ctx, pattern)
	if err != nil {
		return 0, counsel.WrapErr(ctx, err, "failed to list response cache entries")
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		return 0, counsel.WrapErr(ctx, err, "failed to delete response cache entries")
	}
	counsel.LogInfo(ctx, "invalidated response cache entries", "pattern", pattern, "count", len(keys))
	return len(keys), nil
}

// Stats counts live entries and reports the oldest and newest timestamps.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.store.Keys(ctx, KeyPrefix+"*")
	if err != nil {
		return Stats{}, counsel.WrapErr(ctx, err, "failed to list response cache entries")
	}

	stats := Stats{Entries: len(keys)}
	for _, key := range keys {
		entry, err := c.read(ctx, key)
		if err != nil {
			return Stats{}, err
		}
		if entry == nil {
			continue
		}
		if stats.Oldest.IsZero() || entry.Timestamp.Before(stats.Oldest) {
			stats.Oldest = entry.Timestamp
		}
		if entry.Timestamp.After(stats.Newest) {
			stats.Newest = entry.Timestamp
		}
	}
	return stats, nil
}

func (c *Cache) record(ctx context.Context, result string) {
	c.config.Metrics.Counter(ctx, observability.MetricCacheLookups, 1,
		map[string]string{"cache": "response", "result": result})
}

// Key derives the storage key from the leading dimensions of vector.
func Key(vector counsel.Vector) string {
	n := min(len(vector), keyDims)
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%.6f", vector[i])
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.Join(parts, ",")))
	return KeyPrefix + strconv.FormatUint(uint64(h.Sum32()), 36)
}
