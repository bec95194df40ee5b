package embedding

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/kv"
	"github.com/calque-ai/go-counsel/pkg/observability"
)

// countingProvider returns a deterministic vector per text and counts calls.
type countingProvider struct {
	mu    sync.Mutex
	calls int
	texts []string
	err   error
	zero  bool
	short bool
	delay time.Duration
}

func (p *countingProvider) Embed(ctx context.Context, texts []string) ([]counsel.Vector, error) {
	p.mu.Lock()
	p.calls++
	p.texts = append(p.texts, texts...)
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	out := make([]counsel.Vector, 0, len(texts))
	for _, text := range texts {
		if p.zero {
			out = append(out, counsel.Vector{0, 0, 0})
			continue
		}
		out = append(out, counsel.Vector{float32(len(text)), 1, float32(text[0])})
	}
	if p.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (p *countingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// brokenStore fails every read and write.
type brokenStore struct {
	kv.Store
}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, counsel.ErrStoreUnavailable
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return counsel.ErrStoreUnavailable
}

func TestEmbedCachesPerDistinctText(t *testing.T) {
	t.Parallel()

	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	provider := &countingProvider{}
	client, err := New(provider, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	first, err := client.Embed(ctx, "due process")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for range 5 {
		again, err := client.Embed(ctx, "due process")
		if err != nil {
			t.Fatalf("Embed() error = %v", err)
		}
		if !slices.Equal(first, again) {
			t.Errorf("Embed() = %v, want %v", again, first)
		}
	}
	if got := provider.callCount(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}

	if _, err := client.Embed(ctx, "habeas corpus"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got := provider.callCount(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestReturnedVectorsAreCopies(t *testing.T) {
	t.Parallel()

	client, err := New(&countingProvider{}, kv.NewMemoryStore())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	batch, err := client.EmbedBatch(ctx, []string{"due process", "due process"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	want := slices.Clone(batch[1])
	batch[0][0] = -99
	if !slices.Equal(batch[1], want) {
		t.Errorf("duplicate positions share a slice: %v", batch[1])
	}

	first, _ := client.Embed(ctx, "due process")
	first[0] = -99
	again, _ := client.Embed(ctx, "due process")
	if !slices.Equal(again, want) {
		t.Errorf("cached vector changed by caller: %v, want %v", again, want)
	}
}

func TestEmbedDurableCacheSurvivesNewClient(t *testing.T) {
	t.Parallel()

	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	warm, _ := New(&countingProvider{}, store)
	want, err := warm.Embed(ctx, "stare decisis")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	provider := &countingProvider{}
	cold, _ := New(provider, store, WithLRUSize(0))
	got, err := cold.Embed(ctx, "stare decisis")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if !slices.Equal(got, want) {
		t.Errorf("Embed() = %v, want %v", got, want)
	}
	if provider.callCount() != 0 {
		t.Errorf("provider called %d times, want cache hit", provider.callCount())
	}

	ok, _ := store.Exists(ctx, CacheKey("stare decisis"))
	if !ok {
		t.Errorf("cache key %q missing", CacheKey("stare decisis"))
	}
}

func TestEmbedBatch(t *testing.T) {
	t.Parallel()

	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	provider := &countingProvider{}
	metrics := observability.NewInMemoryMetricsProvider()
	client, _ := New(provider, store, WithMetrics(metrics))
	ctx := context.Background()

	if _, err := client.Embed(ctx, "tort"); err != nil {
		t.Fatal(err)
	}

	vecs, err := client.EmbedBatch(ctx, []string{"tort", "contract", "contract", "equity"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vecs) != 4 {
		t.Fatalf("EmbedBatch() returned %d vectors, want 4", len(vecs))
	}
	if !slices.Equal(vecs[1], vecs[2]) {
		t.Errorf("duplicate texts produced different vectors: %v vs %v", vecs[1], vecs[2])
	}
	if vecs[0][0] != 4 || vecs[3][0] != 6 {
		t.Errorf("vectors out of order: %v", vecs)
	}
	// one call for "tort", one batched call for contract+equity
	if provider.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.callCount())
	}
	if !slices.Equal(provider.texts, []string{"tort", "contract", "equity"}) {
		t.Errorf("provider texts = %v", provider.texts)
	}

	hits := metrics.GetCounter(observability.MetricCacheLookups, map[string]string{"cache": "embedding", "result": "hit"})
	misses := metrics.GetCounter(observability.MetricCacheLookups, map[string]string{"cache": "embedding", "result": "miss"})
	if hits != 1 || misses != 4 {
		t.Errorf("hits=%d misses=%d, want 1 and 4", hits, misses)
	}
}

func TestEmbedErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider *countingProvider
		texts    []string
		wantKind counsel.Kind
		wantCall bool
	}{
		{"empty text", &countingProvider{}, []string{""}, counsel.KindInvalidInput, false},
		{"whitespace text", &countingProvider{}, []string{"ok", "  \n\t"}, counsel.KindInvalidInput, false},
		{"no texts", &countingProvider{}, nil, counsel.KindInvalidInput, false},
		{"provider failure", &countingProvider{err: errors.New("503")}, []string{"x"}, counsel.KindEmbeddingService, true},
		{"zero vector", &countingProvider{zero: true}, []string{"x"}, counsel.KindEmbeddingService, true},
		{"short response", &countingProvider{short: true}, []string{"x", "y"}, counsel.KindEmbeddingService, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, _ := New(tt.provider, nil)
			_, err := client.EmbedBatch(context.Background(), tt.texts)
			if err == nil {
				t.Fatal("EmbedBatch() error = nil")
			}
			if got := counsel.KindOf(err); got != tt.wantKind {
				t.Errorf("kind = %v, want %v", got, tt.wantKind)
			}
			if called := tt.provider.callCount() > 0; called != tt.wantCall {
				t.Errorf("provider called = %v, want %v", called, tt.wantCall)
			}
		})
	}
}

func TestEmbedTimeout(t *testing.T) {
	t.Parallel()

	client, _ := New(&countingProvider{delay: time.Second}, nil, WithTimeout(20*time.Millisecond))
	_, err := client.Embed(context.Background(), "slow")
	if !errors.Is(err, counsel.ErrEmbeddingService) {
		t.Fatalf("error = %v, want embedding service error", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded in chain", err)
	}
}

func TestEmbedDegradesWhenStoreFails(t *testing.T) {
	t.Parallel()

	provider := &countingProvider{}
	client, _ := New(provider, brokenStore{}, WithLRUSize(0))
	for range 2 {
		if _, err := client.Embed(context.Background(), "lien"); err != nil {
			t.Fatalf("Embed() error = %v", err)
		}
	}
	if provider.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2 with a broken store", provider.callCount())
	}
}

func TestCorruptCacheEntryIsRecomputed(t *testing.T) {
	t.Parallel()

	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	_ = store.Set(ctx, CacheKey("bail"), []byte{1, 2, 3}, 0)

	provider := &countingProvider{}
	client, _ := New(provider, store)
	vec, err := client.Embed(ctx, "bail")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if provider.callCount() != 1 || len(vec) != 3 {
		t.Errorf("calls=%d vec=%v", provider.callCount(), vec)
	}
}

func TestVectorEncoding(t *testing.T) {
	t.Parallel()

	in := counsel.Vector{0.25, -1.5, 3.1415927, 0}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decodeVector() error = %v", err)
	}
	if !slices.Equal(in, out) {
		t.Errorf("decodeVector() = %v, want %v", out, in)
	}
	if _, err := decodeVector(nil); err == nil {
		t.Error("decodeVector(nil) error = nil")
	}
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	key := CacheKey("due process")
	if len(key) != len(KeyPrefix)+64 {
		t.Errorf("CacheKey() = %q, want prefix plus 64 hex chars", key)
	}
	if key == CacheKey("due process ") {
		t.Error("CacheKey() ignores trailing whitespace")
	}
}

func TestNewRequiresProvider(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, nil); err == nil {
		t.Error("New(nil) error = nil")
	}
}
