package retrieval

import (
	"context"
	"testing"

	"github.com/calque-ai/go-counsel/pkg/counsel"
)

func TestMemorySearcher(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemorySearcher()
	records := []Record{
		{Chunk: Chunk{ID: "a", Text: "alpha", Metadata: Metadata{DocumentType: DocTypeDefinition, Term: "alpha"}}, Vector: counsel.Vector{1, 0}},
		{Chunk: Chunk{ID: "b", Text: "beta", Metadata: Metadata{DocumentType: DocTypeConstitutional}}, Vector: counsel.Vector{0.7, 0.7}},
		{Chunk: Chunk{ID: "c", Text: "gamma", Metadata: Metadata{DocumentType: DocTypeDefinition}}, Vector: counsel.Vector{0, 1}},
	}
	if err := s.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	results, err := s.Search(ctx, counsel.Vector{1, 0}, 10, Filter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 || results[0].ID != "a" || results[1].ID != "b" || results[2].ID != "c" {
		t.Errorf("Search() order = %v", ids(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("scores not descending: %v", results)
		}
	}

	results, _ = s.Search(ctx, counsel.Vector{1, 0}, 1, Filter{})
	if len(results) != 1 {
		t.Errorf("topK ignored: %d results", len(results))
	}

	results, _ = s.Search(ctx, counsel.Vector{0, 1}, 10, Filter{DocumentType: DocTypeDefinition})
	if got := ids(results); len(got) != 2 || got[0] != "c" {
		t.Errorf("filtered Search() = %v", got)
	}

	results, _ = s.Search(ctx, counsel.Vector{0, 1}, 10, Filter{DocumentType: DocTypeDefinition, Term: "alpha"})
	if got := ids(results); len(got) != 1 || got[0] != "a" {
		t.Errorf("two-field filter Search() = %v", got)
	}

	// replace keeps a single copy
	_ = s.Upsert(ctx, []Record{{Chunk: Chunk{ID: "a", Text: "alpha v2"}, Vector: counsel.Vector{1, 0}}})
	results, _ = s.Search(ctx, counsel.Vector{1, 0}, 10, Filter{})
	if len(results) != 3 || results[0].Text != "alpha v2" {
		t.Errorf("after replace = %v", results)
	}
}

func ids(results []SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestFilterConditions(t *testing.T) {
	t.Parallel()

	if !(Filter{}).IsZero() {
		t.Error("zero Filter.IsZero() = false")
	}
	got := Filter{DocumentType: "definition", Author: "Story"}.Conditions()
	if len(got) != 2 || got[FieldDocumentType] != "definition" || got[FieldAuthor] != "Story" {
		t.Errorf("Conditions() = %v", got)
	}
}

func TestMetadataMapRoundTrip(t *testing.T) {
	t.Parallel()

	m := Metadata{Source: "s", DocumentType: "d", Amendment: "5th Amendment"}
	var back Metadata
	for k, v := range m.Map() {
		back.Set(k, v)
	}
	if back != m {
		t.Errorf("round trip = %+v, want %+v", back, m)
	}
	if len(m.Map()) != 3 {
		t.Errorf("Map() = %v, want only set fields", m.Map())
	}
}

func TestStableUUID(t *testing.T) {
	t.Parallel()

	const valid = "0b6c8f62-5b0a-5d8e-9b5e-7d1c4a1e2f30"
	if got := StableUUID(valid); got != valid {
		t.Errorf("StableUUID(uuid) = %q, want unchanged", got)
	}
	if StableUUID("chunk-1") != StableUUID("chunk-1") {
		t.Error("StableUUID not deterministic")
	}
	if StableUUID("chunk-1") == StableUUID("chunk-2") {
		t.Error("StableUUID collides for different ids")
	}
}
