package retrieval

import (
	"context"
	"slices"
	"sync"

	"github.com/calque-ai/go-counsel/pkg/counsel"
)

// MemorySearcher is an exact, in-process Searcher for tests and small corpora.
type MemorySearcher struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

var _ Searcher = (*MemorySearcher)(nil)

// NewMemorySearcher creates an empty MemorySearcher.
func NewMemorySearcher() *MemorySearcher {
	return &MemorySearcher{records: make(map[string]Record)}
}

// Search ranks every stored record by cosine similarity.
func (s *MemorySearcher) Search(_ context.Context, vector counsel.Vector, topK int, filter Filter) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions := filter.Conditions()
	results := make([]SearchResult, 0, len(s.records))
	for _, id := range s.order {
		rec := s.records[id]
		if !matches(rec.Metadata, conditions) {
			continue
		}
		score := max(counsel.Cosine(vector, rec.Vector), 0)
		results = append(results, SearchResult{Chunk: rec.Chunk, Score: score})
	}

	// stable so equal scores keep insertion order
	slices.SortStableFunc(results, func(a, b SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func matches(m Metadata, conditions map[string]string) bool {
	for field, want := range conditions {
		if m.Get(field) != want {
			return false
		}
	}
	return true
}

// Upsert stores records, replacing any with the same ID.
func (s *MemorySearcher) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if _, exists := s.records[rec.ID]; !exists {
			s.order = append(s.order, rec.ID)
		}
		rec.Vector = slices.Clone(rec.Vector)
		s.records[rec.ID] = rec
	}
	return nil
}

// Health always succeeds.
func (s *MemorySearcher) Health(context.Context) error { return nil }

// Close is a no-op.
func (s *MemorySearcher) Close() error { return nil }
