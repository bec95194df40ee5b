// Package retrieval finds corpus passages relevant to a question and
// assembles them into a prompt-ready context block with citations.
//
// A Retriever composes an Embedder, a Searcher (pgvector, qdrant or
// weaviate sub-packages) and an Assembler:
//
//	r := retrieval.NewRetriever(embedder, searcher)
//	rc, err := r.Retrieve(ctx, "What is due process?", retrieval.Options{})
//	fmt.Println(rc.Text)
package retrieval

import (
	"context"

	"github.com/google/uuid"

	"github.com/calque-ai/go-counsel/pkg/counsel"
)

// Document types with a fixed position in the assembled context.
const (
	DocTypeDefinition     = "definition"
	DocTypeConstitutional = "constitutional"
	DocTypeFounding       = "founding"
	// DocTypeOther buckets chunks that carry no document type.
	DocTypeOther = "other"
)

// Metadata describes where a chunk comes from. Every field is optional.
type Metadata struct {
	Source       string `json:"source,omitempty"`
	DocumentType string `json:"documentType,omitempty"`
	LegalContext string `json:"legalContext,omitempty"`
	Term         string `json:"term,omitempty"`
	Edition      string `json:"edition,omitempty"`
	Author       string `json:"author,omitempty"`
	Citation     string `json:"citation,omitempty"`
	Article      string `json:"article,omitempty"`
	Amendment    string `json:"amendment,omitempty"`
}

// Metadata field names as stored in vector index payloads.
const (
	FieldSource       = "source"
	FieldDocumentType = "documentType"
	FieldLegalContext = "legalContext"
	FieldTerm         = "term"
	FieldEdition      = "edition"
	FieldAuthor       = "author"
	FieldCitation     = "citation"
	FieldArticle      = "article"
	FieldAmendment    = "amendment"
	// FieldText and FieldTokenCount hold the chunk body alongside metadata.
	FieldText       = "text"
	FieldTokenCount = "tokenCount"
	FieldChunkID    = "chunkId"
)

// MetadataFields lists every metadata payload key in a stable order.
var MetadataFields = []string{
	FieldSource, FieldDocumentType, FieldLegalContext, FieldTerm, FieldEdition,
	FieldAuthor, FieldCitation, FieldArticle, FieldAmendment,
}

// Map returns the non-empty fields keyed by payload name.
func (m Metadata) Map() map[string]string {
	out := make(map[string]string, len(MetadataFields))
	for _, name := range MetadataFields {
		if v := m.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}

// Get returns the field stored under a payload name.
func (m Metadata) Get(field string) string {
	switch field {
	case FieldSource:
		return m.Source
	case FieldDocumentType:
		return m.DocumentType
	case FieldLegalContext:
		return m.LegalContext
	case FieldTerm:
		return m.Term
	case FieldEdition:
		return m.Edition
	case FieldAuthor:
		return m.Author
	case FieldCitation:
		return m.Citation
	case FieldArticle:
		return m.Article
	case FieldAmendment:
		return m.Amendment
	}
	return ""
}

// Set stores value under a payload name. Unknown names are ignored.
func (m *Metadata) Set(field, value string) {
	switch field {
	case FieldSource:
		m.Source = value
	case FieldDocumentType:
		m.DocumentType = value
	case FieldLegalContext:
		m.LegalContext = value
	case FieldTerm:
		m.Term = value
	case FieldEdition:
		m.Edition = value
	case FieldAuthor:
		m.Author = value
	case FieldCitation:
		m.Citation = value
	case FieldArticle:
		m.Article = value
	case FieldAmendment:
		m.Amendment = value
	}
}

// Chunk is one indexed passage. Chunks are written only by ingestion.
type Chunk struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	TokenCount int      `json:"tokenCount,omitempty"`
	Metadata   Metadata `json:"metadata"`
}

// SearchResult is a chunk matched by a query, with similarity in [0, 1].
type SearchResult struct {
	Chunk
	Score float64 `json:"score"`
}

// Record is a chunk plus its vector, as written by Searcher.Upsert.
type Record struct {
	Chunk
	Vector counsel.Vector `json:"vector"`
}

// Filter restricts a search to exact metadata matches. Empty fields are
// unrestricted, so the zero Filter matches everything.
type Filter struct {
	DocumentType string `json:"documentType,omitempty"`
	LegalContext string `json:"legalContext,omitempty"`
	Term         string `json:"term,omitempty"`
	Author       string `json:"author,omitempty"`
}

// IsZero reports whether the filter restricts nothing.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Conditions returns the set fields keyed by payload name.
func (f Filter) Conditions() map[string]string {
	out := make(map[string]string, 4)
	for name, value := range map[string]string{
		FieldDocumentType: f.DocumentType,
		FieldLegalContext: f.LegalContext,
		FieldTerm:         f.Term,
		FieldAuthor:       f.Author,
	} {
		if value != "" {
			out[name] = value
		}
	}
	return out
}

// Searcher queries a vector similarity index.
//
// Search returns at most topK results ordered by descending score. An empty
// result is valid. Implementations report an unreachable index as
// counsel.KindIndexUnavailable.
type Searcher interface {
	Search(ctx context.Context, vector counsel.Vector, topK int, filter Filter) ([]SearchResult, error)
	// Upsert writes records; used by offline ingestion only.
	Upsert(ctx context.Context, records []Record) error
	Health(ctx context.Context) error
	Close() error
}

// Embedder turns text into a vector. *embedding.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) (counsel.Vector, error)
}

// RetrievedContext is the outcome of one retrieval.
type RetrievedContext struct {
	// Results in search order.
	Results []SearchResult
	// Text is the rendered context block, never empty.
	Text string
	// Citations deduplicated, in first-seen order.
	Citations []string
	// LegalContext is the dominant legal context tag, or "mixed".
	LegalContext string
	// Buckets lists the document types rendered, in output order.
	Buckets []string
}

// StableUUID returns id if it already is a UUID, otherwise a name-based UUID
// derived from it. Indexes that only accept UUID keys store chunks under it.
func StableUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}
