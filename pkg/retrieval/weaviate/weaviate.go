// Package weaviate implements retrieval.Searcher on a Weaviate class using
// GraphQL nearVector queries.
package weaviate

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/helpers"
	"github.com/calque-ai/go-counsel/pkg/retrieval"
)

// Client implements retrieval.Searcher for Weaviate.
type Client struct {
	client    *weaviate.Client
	url       string
	className string
	apiKey    string

	schemaMu      sync.Mutex
	schemaEnsured bool
}

var _ retrieval.Searcher = (*Client)(nil)

// Config holds Weaviate client configuration.
type Config struct {
	URL       string // Weaviate instance URL, scheme defaults to http
	ClassName string // class holding chunks, "LegalChunk" by default
	APIKey    string // optional API key
}

// New creates a Weaviate client.
//
// Example:
//
//	client, err := weaviate.New(ctx, &weaviate.Config{
//	    URL:       "http://localhost:8080",
//	    ClassName: "LegalChunk",
//	})
func New(ctx context.Context, config *Config) (*Client, error) {
	if config == nil || config.URL == "" {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "weaviate URL is required")
	}
	className := helpers.DefaultString(config.ClassName, "LegalChunk")

	raw := config.URL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, err, "invalid weaviate URL").
			Tag(slog.String("url", config.URL))
	}

	cfg := weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme}
	if config.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: config.APIKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, unavailable(ctx, err, "failed to create weaviate client")
	}

	return &Client{
		client:    client,
		url:       config.URL,
		className: className,
		apiKey:    config.APIKey,
	}, nil
}

func unavailable(ctx context.Context, err error, msg string) *counsel.Error {
	return counsel.KindErr(ctx, counsel.KindIndexUnavailable, err, msg).Tag(slog.String("backend", "weaviate"))
}

// searchFields lists the properties read back from a query.
func searchFields() []graphql.Field {
	fields := []graphql.Field{
		{Name: retrieval.FieldChunkID},
		{Name: retrieval.FieldText},
		{Name: retrieval.FieldTokenCount},
	}
	for _, name := range retrieval.MetadataFields {
		fields = append(fields, graphql.Field{Name: name})
	}
	return append(fields, graphql.Field{
		Name:   "_additional",
		Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}},
	})
}

// Search runs a nearVector query.
func (c *Client) Search(ctx context.Context, vector counsel.Vector, topK int, filter retrieval.Filter) ([]retrieval.SearchResult, error) {
	if len(vector) == 0 {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "query vector is required")
	}
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}

	nearVector := c.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	query := c.client.GraphQL().Get().
		WithClassName(c.className).
		WithFields(searchFields()...).
		WithNearVector(nearVector).
		WithLimit(topK)
	if where := buildWeaviateFilter(filter); where != nil {
		query = query.WithWhere(where)
	}

	resp, err := query.Do(ctx)
	if err != nil {
		return nil, unavailable(ctx, err, "weaviate search failed").Tag(slog.String("class", c.className))
	}
	if len(resp.Errors) > 0 {
		return nil, unavailable(ctx, fmt.Errorf("graphql: %s", resp.Errors[0].Message), "weaviate search failed").
			Tag(slog.String("class", c.className))
	}

	objects := extractObjects(resp.Data, c.className)
	results := make([]retrieval.SearchResult, 0, len(objects))
	for _, obj := range objects {
		results = append(results, parseWeaviateDocument(obj))
	}
	return results, nil
}

// extractObjects digs the class result list out of data.Get.<class>.
func extractObjects(data map[string]models.JSONObject, className string) []map[string]any {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	list, ok := get[className].([]any)
	if !ok {
		return nil
	}
	objects := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			objects = append(objects, obj)
		}
	}
	return objects
}

// buildWeaviateFilter turns a filter into an Equal clause per field, joined
// with And when there is more than one. It returns nil for an empty filter.
func buildWeaviateFilter(filter retrieval.Filter) *filters.WhereBuilder {
	conditions := filter.Conditions()
	if len(conditions) == 0 {
		return nil
	}

	keys := make([]string, 0, len(conditions))
	for key := range conditions {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, key := range keys {
		operands = append(operands, filters.Where().
			WithPath([]string{key}).
			WithOperator(filters.Equal).
			WithValueText(conditions[key]))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

// parseWeaviateDocument converts one GraphQL object to a search result.
// Score is 1 - cosine distance, clamped to [0, 1].
func parseWeaviateDocument(obj map[string]any) retrieval.SearchResult {
	var result retrieval.SearchResult
	for key, value := range obj {
		switch key {
		case "_additional":
			additional, _ := value.(map[string]any)
			if id, ok := additional["id"].(string); ok && result.ID == "" {
				result.ID = id
			}
			if distance, ok := additional["distance"].(float64); ok {
				result.Score = min(max(1-distance, 0), 1)
			}
		case retrieval.FieldChunkID:
			if id, ok := value.(string); ok && id != "" {
				result.ID = id
			}
		case retrieval.FieldText:
			result.Text, _ = value.(string)
		case retrieval.FieldTokenCount:
			if n, ok := value.(float64); ok {
				result.TokenCount = int(n)
			}
		default:
			if s, ok := value.(string); ok {
				result.Metadata.Set(key, s)
			}
		}
	}
	return result
}

// Upsert writes records through the batch endpoint, creating the class on
// first use. Object ids are StableUUID(chunk id).
func (c *Client) Upsert(ctx context.Context, records []retrieval.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.ensureClass(ctx); err != nil {
		return err
	}

	objects := make([]*models.Object, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" || len(rec.Vector) == 0 {
			return counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "record needs an id and a vector").
				Tag(slog.String("chunk_id", rec.ID))
		}
		objects = append(objects, buildWeaviateObject(c.className, rec))
	}

	responses, err := c.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return unavailable(ctx, err, "weaviate batch upsert failed").Tag(slog.String("class", c.className))
	}
	for _, resp := range responses {
		if resp.Result != nil && resp.Result.Errors != nil && len(resp.Result.Errors.Error) > 0 {
			return unavailable(ctx, fmt.Errorf("%s", resp.Result.Errors.Error[0].Message), "weaviate rejected object").
				Tag(slog.String("object_id", resp.ID.String()))
		}
	}
	return nil
}

func buildWeaviateObject(className string, rec retrieval.Record) *models.Object {
	properties := map[string]any{
		retrieval.FieldChunkID: rec.ID,
		retrieval.FieldText:    rec.Text,
	}
	if rec.TokenCount > 0 {
		properties[retrieval.FieldTokenCount] = rec.TokenCount
	}
	for key, value := range rec.Metadata.Map() {
		properties[key] = value
	}
	return &models.Object{
		Class:      className,
		ID:         strfmt.UUID(retrieval.StableUUID(rec.ID)),
		Properties: properties,
		Vector:     models.C11yVector(rec.Vector),
	}
}

func (c *Client) ensureClass(ctx context.Context) error {
	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()
	if c.schemaEnsured {
		return nil
	}

	exists, err := c.client.Schema().ClassExistenceChecker().WithClassName(c.className).Do(ctx)
	if err != nil {
		return unavailable(ctx, err, "failed to check weaviate class")
	}
	if !exists {
		if err := c.client.Schema().ClassCreator().WithClass(chunkClass(c.className)).Do(ctx); err != nil {
			return unavailable(ctx, err, "failed to create weaviate class").Tag(slog.String("class", c.className))
		}
	}
	c.schemaEnsured = true
	return nil
}

// chunkClass describes the class schema. Filterable metadata uses field
// tokenization so Equal matches whole values.
func chunkClass(name string) *models.Class {
	properties := []*models.Property{
		{Name: retrieval.FieldChunkID, DataType: []string{"text"}, Tokenization: "field"},
		{Name: retrieval.FieldText, DataType: []string{"text"}},
		{Name: retrieval.FieldTokenCount, DataType: []string{"int"}},
	}
	for _, field := range retrieval.MetadataFields {
		properties = append(properties, &models.Property{Name: field, DataType: []string{"text"}, Tokenization: "field"})
	}
	return &models.Class{
		Class:             name,
		Vectorizer:        "none",
		VectorIndexConfig: map[string]any{"distance": "cosine"},
		Properties:        properties,
	}
}

// Health checks the readiness endpoint.
func (c *Client) Health(ctx context.Context) error {
	ready, err := c.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return unavailable(ctx, err, "weaviate readiness check failed")
	}
	if !ready {
		return unavailable(ctx, nil, "weaviate is not ready")
	}
	return nil
}

// Close is a no-op; the REST client holds no connections of its own.
func (c *Client) Close() error {
	return nil
}
