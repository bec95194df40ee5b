package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

// newMockServer answers /v1/embeddings with vectors whose first component
// is the input length, returned in reverse order.
func newMockServer(t *testing.T, requests *[]embeddingRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*requests = append(*requests, req)

		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(req.Input[i])), 0.5},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := New(""); err == nil {
		t.Error("New() without API key error = nil")
	}

	p, err := New("", WithConfig(&Config{APIKey: "k"}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
	if p.config.Dimensions != 1536 || p.config.BatchSize != 256 {
		t.Errorf("config = %+v, want defaults kept", p.config)
	}

	if _, err := New("", WithConfig(&Config{APIKey: "k", BatchSize: -1})); err == nil {
		t.Error("New() with negative batch size error = nil")
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	var requests []embeddingRequest
	srv := newMockServer(t, &requests)
	p, err := New("text-embedding-3-large",
		WithConfig(&Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/", BatchSize: 2}),
		WithDimensions(2))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	vecs, err := p.Embed(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("Embed() returned %d vectors, want 3", len(vecs))
	}
	for i, want := range []float32{1, 2, 3} {
		if vecs[i][0] != want {
			t.Errorf("vecs[%d][0] = %v, want %v", i, vecs[i][0], want)
		}
	}
	if len(requests) != 2 {
		t.Fatalf("requests = %d, want 2 batches", len(requests))
	}
	if requests[0].Dimensions != 2 || requests[0].Model != "text-embedding-3-large" {
		t.Errorf("request = %+v", requests[0])
	}
}

func TestEmbedUnauthorized(t *testing.T) {
	t.Parallel()

	var requests []embeddingRequest
	srv := newMockServer(t, &requests)
	p, _ := New("", WithConfig(&Config{APIKey: "wrong", BaseURL: srv.URL + "/v1/"}))
	if _, err := p.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("Embed() error = nil, want unauthorized")
	}
}
