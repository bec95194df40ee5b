package weaviate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/retrieval"
)

func TestBuildWeaviateFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      retrieval.Filter
		expectNil  bool
		validateFn func(t *testing.T, result *filters.WhereBuilder)
	}{
		{name: "empty filter returns nil", expectNil: true},
		{
			name:  "single field is a plain Equal",
			input: retrieval.Filter{DocumentType: "definition"},
			validateFn: func(t *testing.T, result *filters.WhereBuilder) {
				where := result.Build()
				if where.Operator != string(filters.Equal) {
					t.Errorf("operator = %q, want Equal", where.Operator)
				}
				if len(where.Path) != 1 || where.Path[0] != "documentType" {
					t.Errorf("path = %v", where.Path)
				}
				if where.ValueText == nil || *where.ValueText != "definition" {
					t.Errorf("valueText = %v", where.ValueText)
				}
			},
		},
		{
			name:  "several fields are joined with And",
			input: retrieval.Filter{Term: "lien", Author: "Story"},
			validateFn: func(t *testing.T, result *filters.WhereBuilder) {
				where := result.Build()
				if where.Operator != string(filters.And) {
					t.Errorf("operator = %q, want And", where.Operator)
				}
				if len(where.Operands) != 2 {
					t.Fatalf("operands = %d, want 2", len(where.Operands))
				}
				if where.Operands[0].Path[0] != "author" || where.Operands[1].Path[0] != "term" {
					t.Errorf("operands not sorted by path: %v, %v", where.Operands[0].Path, where.Operands[1].Path)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := buildWeaviateFilter(tt.input)
			if tt.expectNil {
				if result != nil {
					t.Errorf("Expected nil result, got non-nil")
				}
				return
			}
			if result == nil {
				t.Fatal("Expected non-nil result")
			}
			tt.validateFn(t, result)
		})
	}
}

func TestParseWeaviateDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input map[string]any
		want  retrieval.SearchResult
	}{
		{name: "empty document", input: map[string]any{}},
		{
			name: "full document",
			input: map[string]any{
				"chunkId":      "blacks-due-process",
				"text":         "Due process of law.",
				"tokenCount":   4.0,
				"documentType": "definition",
				"term":         "due process",
				"edition":      nil,
				"_additional":  map[string]any{"id": "0b6c8f62-5b0a-5d8e-9b5e-7d1c4a1e2f30", "distance": 0.25},
			},
			want: retrieval.SearchResult{
				Chunk: retrieval.Chunk{
					ID: "blacks-due-process", Text: "Due process of law.", TokenCount: 4,
					Metadata: retrieval.Metadata{DocumentType: "definition", Term: "due process"},
				},
				Score: 0.75,
			},
		},
		{
			name: "object id used without chunk id",
			input: map[string]any{
				"_additional": map[string]any{"id": "0b6c8f62-5b0a-5d8e-9b5e-7d1c4a1e2f30", "distance": 1.5},
			},
			want: retrieval.SearchResult{Chunk: retrieval.Chunk{ID: "0b6c8f62-5b0a-5d8e-9b5e-7d1c4a1e2f30"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := parseWeaviateDocument(tt.input); got != tt.want {
				t.Errorf("parseWeaviateDocument() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBuildWeaviateObject(t *testing.T) {
	t.Parallel()

	rec := retrieval.Record{
		Chunk: retrieval.Chunk{
			ID: "amend-14", Text: "Equal protection.", TokenCount: 2,
			Metadata: retrieval.Metadata{DocumentType: "constitutional", Amendment: "14th Amendment"},
		},
		Vector: counsel.Vector{0.1, 0.2},
	}
	obj := buildWeaviateObject("LegalChunk", rec)

	if obj.Class != "LegalChunk" || obj.ID.String() != retrieval.StableUUID("amend-14") {
		t.Errorf("object = %+v", obj)
	}
	props, ok := obj.Properties.(map[string]any)
	if !ok {
		t.Fatalf("properties type = %T", obj.Properties)
	}
	if props["chunkId"] != "amend-14" || props["amendment"] != "14th Amendment" || props["tokenCount"] != 2 {
		t.Errorf("properties = %v", props)
	}
	if _, ok := props["author"]; ok {
		t.Error("empty metadata must be omitted")
	}
	if len(obj.Vector) != 2 {
		t.Errorf("vector = %v", obj.Vector)
	}
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for _, cfg := range []*Config{nil, {}, {URL: "http://"}} {
		if _, err := New(ctx, cfg); counsel.KindOf(err) != counsel.KindInvalidInput {
			t.Errorf("New(%+v) error = %v, want invalid input", cfg, err)
		}
	}

	client, err := New(ctx, &Config{URL: "localhost:8080", APIKey: "test-api-key"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if client.className != "LegalChunk" || client.apiKey != "test-api-key" {
		t.Errorf("client = %+v", client)
	}
}

// mockWeaviate answers the REST and GraphQL endpoints the client uses.
type mockWeaviate struct {
	mu       sync.Mutex
	queries  []string
	batches  int
	notReady bool
}

func (m *mockWeaviate) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/v1/meta":
			_, _ = io.WriteString(w, `{"hostname":"http://[::]:8080","version":"1.25.0","modules":{}}`)
		case r.URL.Path == "/v1/.well-known/ready":
			if m.notReady {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		case r.URL.Path == "/v1/graphql":
			body, _ := io.ReadAll(r.Body)
			var req struct {
				Query string `json:"query"`
			}
			_ = json.Unmarshal(body, &req)
			m.queries = append(m.queries, req.Query)
			_, _ = io.WriteString(w, `{"data":{"Get":{"LegalChunk":[
				{"chunkId":"def-1","text":"Due process","documentType":"definition","_additional":{"id":"0b6c8f62-5b0a-5d8e-9b5e-7d1c4a1e2f30","distance":0.1}},
				{"chunkId":"amend-5","text":"Fifth Amendment","documentType":"constitutional","_additional":{"id":"1b6c8f62-5b0a-5d8e-9b5e-7d1c4a1e2f30","distance":0.4}}
			]}}}`)
		case strings.HasPrefix(r.URL.Path, "/v1/schema"):
			if r.Method == http.MethodGet && r.URL.Path == "/v1/schema" {
				_, _ = io.WriteString(w, `{"classes":[{"class":"LegalChunk"}]}`)
				return
			}
			_, _ = io.WriteString(w, `{"class":"LegalChunk"}`)
		case r.URL.Path == "/v1/batch/objects":
			m.batches++
			var req struct {
				Objects []map[string]any `json:"objects"`
			}
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &req); err != nil {
				t.Errorf("batch body: %v", err)
			}
			out := make([]map[string]any, 0, len(req.Objects))
			for _, obj := range req.Objects {
				out = append(out, map[string]any{"class": obj["class"], "id": obj["id"], "result": map[string]any{"status": "SUCCESS"}})
			}
			_ = json.NewEncoder(w).Encode(out)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestClient(t *testing.T, mock *mockWeaviate) *Client {
	t.Helper()
	srv := httptest.NewServer(mock.handler(t))
	t.Cleanup(srv.Close)

	client, err := New(context.Background(), &Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestSearch(t *testing.T) {
	t.Parallel()

	mock := &mockWeaviate{}
	client := newTestClient(t, mock)

	results, err := client.Search(context.Background(), counsel.Vector{1, 0}, 5, retrieval.Filter{DocumentType: "definition"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 || results[0].ID != "def-1" || results[1].ID != "amend-5" {
		t.Fatalf("Search() = %+v", results)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not descending: %v, %v", results[0].Score, results[1].Score)
	}

	query := mock.queries[0]
	for _, want := range []string{"LegalChunk", "nearVector", "limit", "documentType", "_additional"} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}
}

func TestUpsertAndHealth(t *testing.T) {
	t.Parallel()

	mock := &mockWeaviate{}
	client := newTestClient(t, mock)
	ctx := context.Background()

	err := client.Upsert(ctx, []retrieval.Record{
		{Chunk: retrieval.Chunk{ID: "a", Text: "alpha"}, Vector: counsel.Vector{1, 0}},
		{Chunk: retrieval.Chunk{ID: "b", Text: "beta"}, Vector: counsel.Vector{0, 1}},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if mock.batches != 1 {
		t.Errorf("batches = %d, want 1", mock.batches)
	}

	err = client.Upsert(ctx, []retrieval.Record{{Chunk: retrieval.Chunk{ID: "c"}}})
	if counsel.KindOf(err) != counsel.KindInvalidInput {
		t.Errorf("Upsert(no vector) error = %v", err)
	}

	if err := client.Health(ctx); err != nil {
		t.Errorf("Health() error = %v", err)
	}
	mock.mu.Lock()
	mock.notReady = true
	mock.mu.Unlock()
	if err := client.Health(ctx); counsel.KindOf(err) != counsel.KindIndexUnavailable {
		t.Errorf("Health() when not ready = %v", err)
	}
}

func TestSearchUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := New(context.Background(), &Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = client.Search(context.Background(), counsel.Vector{1}, 3, retrieval.Filter{})
	if counsel.KindOf(err) != counsel.KindIndexUnavailable {
		t.Errorf("Search() error = %v, want index unavailable", err)
	}
}
