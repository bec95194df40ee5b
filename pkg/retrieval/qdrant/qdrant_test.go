package qdrant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	qd "github.com/qdrant/go-client/qdrant"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/retrieval"
)

func TestBuildQdrantPayload(t *testing.T) {
	t.Parallel()

	chunk := retrieval.Chunk{
		ID:         "blacks-4th-due-process",
		Text:       "Due process of law implies the right to be heard.",
		TokenCount: 11,
		Metadata: retrieval.Metadata{
			Source:       "Black's Law Dictionary",
			DocumentType: retrieval.DocTypeDefinition,
			Term:         "due process",
		},
	}
	payload := buildQdrantPayload(chunk)

	wantStrings := map[string]string{
		retrieval.FieldChunkID:      "blacks-4th-due-process",
		retrieval.FieldText:         chunk.Text,
		retrieval.FieldSource:       "Black's Law Dictionary",
		retrieval.FieldDocumentType: retrieval.DocTypeDefinition,
		retrieval.FieldTerm:         "due process",
	}
	for key, want := range wantStrings {
		if got := payload[key].GetStringValue(); got != want {
			t.Errorf("payload[%s] = %q, want %q", key, got, want)
		}
	}
	if got := payload[retrieval.FieldTokenCount].GetIntegerValue(); got != 11 {
		t.Errorf("payload[tokenCount] = %d, want 11", got)
	}
	if _, ok := payload[retrieval.FieldAuthor]; ok {
		t.Error("empty metadata fields must be omitted")
	}
	if len(payload) != len(wantStrings)+1 {
		t.Errorf("payload has %d keys, want %d", len(payload), len(wantStrings)+1)
	}
}

func TestBuildQdrantFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    retrieval.Filter
		wantKeys []string
		wantVals []string
	}{
		{name: "empty filter returns nil"},
		{
			name:     "single field",
			input:    retrieval.Filter{DocumentType: "constitutional"},
			wantKeys: []string{"documentType"},
			wantVals: []string{"constitutional"},
		},
		{
			name:     "all fields sorted by key",
			input:    retrieval.Filter{DocumentType: "definition", LegalContext: "common", Term: "lien", Author: "Story"},
			wantKeys: []string{"author", "documentType", "legalContext", "term"},
			wantVals: []string{"Story", "definition", "common", "lien"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := buildQdrantFilter(tt.input)
			if tt.wantKeys == nil {
				if result != nil {
					t.Errorf("Expected nil filter, got %v", result)
				}
				return
			}
			if result == nil || len(result.Must) != len(tt.wantKeys) {
				t.Fatalf("Expected %d conditions, got %v", len(tt.wantKeys), result)
			}
			for i, cond := range result.Must {
				field := cond.GetField()
				if field.GetKey() != tt.wantKeys[i] {
					t.Errorf("Must[%d] key = %q, want %q", i, field.GetKey(), tt.wantKeys[i])
				}
				if got := field.GetMatch().GetKeyword(); got != tt.wantVals[i] {
					t.Errorf("Must[%d] value = %q, want %q", i, got, tt.wantVals[i])
				}
			}
		})
	}
}

func TestConvertQdrantPoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		point *qd.ScoredPoint
		want  retrieval.SearchResult
	}{
		{
			name: "full payload",
			point: &qd.ScoredPoint{
				Id:    &qd.PointId{PointIdOptions: &qd.PointId_Uuid{Uuid: "0b6c8f62-5b0a-5d8e-9b5e-7d1c4a1e2f30"}},
				Score: 0.75,
				Payload: map[string]*qd.Value{
					retrieval.FieldChunkID:      qd.NewValueString("amend-5"),
					retrieval.FieldText:         qd.NewValueString("No person shall be held to answer."),
					retrieval.FieldTokenCount:   qd.NewValueInt(7),
					retrieval.FieldDocumentType: qd.NewValueString("constitutional"),
					retrieval.FieldAmendment:    qd.NewValueString("5th Amendment"),
					"ingestedBy":                qd.NewValueString("etl"),
				},
			},
			want: retrieval.SearchResult{
				Chunk: retrieval.Chunk{
					ID:         "amend-5",
					Text:       "No person shall be held to answer.",
					TokenCount: 7,
					Metadata:   retrieval.Metadata{DocumentType: "constitutional", Amendment: "5th Amendment"},
				},
				Score: 0.75,
			},
		},
		{
			name: "uuid id without chunk id",
			point: &qd.ScoredPoint{
				Id:      &qd.PointId{PointIdOptions: &qd.PointId_Uuid{Uuid: "0b6c8f62-5b0a-5d8e-9b5e-7d1c4a1e2f30"}},
				Score:   0.5,
				Payload: map[string]*qd.Value{retrieval.FieldText: qd.NewValueString("t")},
			},
			want: retrieval.SearchResult{
				Chunk: retrieval.Chunk{ID: "0b6c8f62-5b0a-5d8e-9b5e-7d1c4a1e2f30", Text: "t"},
				Score: 0.5,
			},
		},
		{
			name:  "numeric id and no payload",
			point: &qd.ScoredPoint{Id: &qd.PointId{PointIdOptions: &qd.PointId_Num{Num: 42}}, Score: 0.25},
			want:  retrieval.SearchResult{Chunk: retrieval.Chunk{ID: "42"}, Score: 0.25},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := convertQdrantPoint(tt.point); got != tt.want {
				t.Errorf("convertQdrantPoint() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	chunk := retrieval.Chunk{
		ID:   "federalist-78",
		Text: "The judiciary is beyond comparison the weakest of the three departments.",
		Metadata: retrieval.Metadata{
			DocumentType: retrieval.DocTypeFounding, Author: "Alexander Hamilton", LegalContext: "constitutional",
		},
	}
	point := &qd.ScoredPoint{Id: pointID(chunk.ID), Payload: buildQdrantPayload(chunk), Score: 1}
	got := convertQdrantPoint(point)
	if got.Chunk != chunk {
		t.Errorf("round trip = %+v, want %+v", got.Chunk, chunk)
	}
}

func TestPointID(t *testing.T) {
	t.Parallel()

	valid := "0b6c8f62-5b0a-5d8e-9b5e-7d1c4a1e2f30"
	if got := pointID(valid).GetUuid(); got != valid {
		t.Errorf("pointID(uuid) = %q, want unchanged", got)
	}

	a, b := pointID("chunk-1").GetUuid(), pointID("chunk-1").GetUuid()
	if a != b {
		t.Errorf("pointID not deterministic: %q vs %q", a, b)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("pointID(%q) = %q is not a uuid", "chunk-1", a)
	}
	if a == pointID("chunk-2").GetUuid() {
		t.Error("different chunk ids map to the same point")
	}
}

func TestParseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw      string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{"http://localhost:6334", "localhost", 6334, false, false},
		{"http://localhost", "localhost", 6334, false, false},
		{"https://cluster.example.com:7000", "cluster.example.com", 7000, true, false},
		{"localhost:6334", "", 0, false, true},
		{"http://:6334", "", 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			host, port, useTLS, err := parseURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if host != tt.wantHost || port != tt.wantPort || useTLS != tt.wantTLS {
				t.Errorf("parseURL() = %q, %d, %v", host, port, useTLS)
			}
		})
	}
}

func TestQdrantConfigValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for _, cfg := range []*Config{nil, {}, {URL: "not a url"}} {
		if _, err := New(ctx, cfg); counsel.KindOf(err) != counsel.KindInvalidInput {
			t.Errorf("New(%+v) error = %v, want invalid input", cfg, err)
		}
	}
}
