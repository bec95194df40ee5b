// Package qdrant implements retrieval.Searcher on a Qdrant collection.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"sync"

	qd "github.com/qdrant/go-client/qdrant"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/helpers"
	"github.com/calque-ai/go-counsel/pkg/retrieval"
)

// Client implements retrieval.Searcher for Qdrant.
type Client struct {
	client         *qd.Client
	collectionName string
	dimension      uint64

	collectionMu      sync.Mutex
	collectionEnsured bool
}

var _ retrieval.Searcher = (*Client)(nil)

// Config holds Qdrant client configuration.
type Config struct {
	// Qdrant gRPC URL
	// Example: "http://localhost:6334" or "https://your-qdrant-cluster.com:6334"
	URL string

	// Collection name, "legal_chunks" by default
	CollectionName string

	// Optional API key for authentication
	APIKey string

	// Vector size used when the collection is created, 1536 by default
	VectorDimension int
}

// New creates a Qdrant client. The connection is established lazily by the
// underlying gRPC client.
//
// Example:
//
//	client, err := qdrant.New(ctx, &qdrant.Config{
//	    URL:            "http://localhost:6334",
//	    CollectionName: "legal_chunks",
//	})
func New(ctx context.Context, config *Config) (*Client, error) {
	if config == nil || config.URL == "" {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "qdrant URL is required")
	}
	collection := helpers.DefaultString(config.CollectionName, "legal_chunks")
	dimension := config.VectorDimension
	if dimension <= 0 {
		dimension = 1536
	}

	host, port, useTLS, err := parseURL(config.URL)
	if err != nil {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, err, "invalid qdrant URL").
			Tag(slog.String("url", config.URL))
	}

	qdrantClient, err := qd.NewClient(&qd.Config{
		Host:   host,
		Port:   port,
		APIKey: config.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, unavailable(ctx, err, "failed to create qdrant client")
	}

	return &Client{
		client:         qdrantClient,
		collectionName: collection,
		dimension:      uint64(dimension),
	}, nil
}

// parseURL splits a Qdrant URL into host, gRPC port and TLS flag.
func parseURL(raw string) (string, int, bool, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}
	if parsed.Hostname() == "" {
		return "", 0, false, fmt.Errorf("missing host in %q", raw)
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}
	return parsed.Hostname(), port, parsed.Scheme == "https", nil
}

func unavailable(ctx context.Context, err error, msg string) *counsel.Error {
	return counsel.KindErr(ctx, counsel.KindIndexUnavailable, err, msg).Tag(slog.String("backend", "qdrant"))
}

// Search performs similarity search against the collection.
func (c *Client) Search(ctx context.Context, vector counsel.Vector, topK int, filter retrieval.Filter) ([]retrieval.SearchResult, error) {
	if len(vector) == 0 {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "query vector is required")
	}
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}

	limit := uint64(topK)
	points, err := c.client.Query(ctx, &qd.QueryPoints{
		CollectionName: c.collectionName,
		Query:          qd.NewQuery(vector...),
		WithPayload:    qd.NewWithPayload(true),
		Limit:          &limit,
		Filter:         buildQdrantFilter(filter),
	})
	if err != nil {
		return nil, unavailable(ctx, err, "qdrant search failed").Tag(slog.String("collection", c.collectionName))
	}

	results := make([]retrieval.SearchResult, 0, len(points))
	for _, point := range points {
		results = append(results, convertQdrantPoint(point))
	}
	return results, nil
}

// Upsert writes records in batches, creating the collection on first use.
func (c *Client) Upsert(ctx context.Context, records []retrieval.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx); err != nil {
		return err
	}

	const batchSize = 100
	for batch := range slices.Chunk(records, batchSize) {
		points := make([]*qd.PointStruct, 0, len(batch))
		for _, rec := range batch {
			if rec.ID == "" || len(rec.Vector) == 0 {
				return counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "record needs an id and a vector").
					Tag(slog.String("chunk_id", rec.ID))
			}
			points = append(points, &qd.PointStruct{
				Id:      pointID(rec.ID),
				Vectors: &qd.Vectors{VectorsOptions: &qd.Vectors_Vector{Vector: &qd.Vector{Data: rec.Vector}}},
				Payload: buildQdrantPayload(rec.Chunk),
			})
		}

		wait := true
		if _, err := c.client.Upsert(ctx, &qd.UpsertPoints{
			CollectionName: c.collectionName,
			Points:         points,
			Wait:           &wait,
		}); err != nil {
			return unavailable(ctx, err, "failed to upsert points").Tag(slog.String("collection", c.collectionName))
		}
	}
	return nil
}

// Health checks that the server answers.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.client.HealthCheck(ctx); err != nil {
		return unavailable(ctx, err, "qdrant health check failed")
	}
	return nil
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close qdrant: %w", err)
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context) error {
	c.collectionMu.Lock()
	defer c.collectionMu.Unlock()
	if c.collectionEnsured {
		return nil
	}

	exists, err := c.client.CollectionExists(ctx, c.collectionName)
	if err != nil {
		return unavailable(ctx, err, "failed to check collection")
	}
	if !exists {
		err = c.client.CreateCollection(ctx, &qd.CreateCollection{
			CollectionName: c.collectionName,
			VectorsConfig: qd.NewVectorsConfig(&qd.VectorParams{
				Size:     c.dimension,
				Distance: qd.Distance_Cosine,
			}),
		})
		if err != nil {
			return unavailable(ctx, err, "failed to create collection").Tag(slog.String("collection", c.collectionName))
		}
	}
	c.collectionEnsured = true
	return nil
}

// pointID maps a chunk id to a Qdrant point id. The original id is kept in
// the payload.
func pointID(chunkID string) *qd.PointId {
	return &qd.PointId{PointIdOptions: &qd.PointId_Uuid{Uuid: retrieval.StableUUID(chunkID)}}
}

// buildQdrantPayload converts a chunk to payload values.
func buildQdrantPayload(chunk retrieval.Chunk) map[string]*qd.Value {
	payload := map[string]*qd.Value{
		retrieval.FieldChunkID: qd.NewValueString(chunk.ID),
		retrieval.FieldText:    qd.NewValueString(chunk.Text),
	}
	if chunk.TokenCount > 0 {
		payload[retrieval.FieldTokenCount] = qd.NewValueInt(int64(chunk.TokenCount))
	}
	for key, value := range chunk.Metadata.Map() {
		payload[key] = qd.NewValueString(value)
	}
	return payload
}

// buildQdrantFilter converts a filter to Must match conditions, or nil when
// the filter is empty.
func buildQdrantFilter(filter retrieval.Filter) *qd.Filter {
	conditions := filter.Conditions()
	if len(conditions) == 0 {
		return nil
	}

	keys := make([]string, 0, len(conditions))
	for key := range conditions {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	must := make([]*qd.Condition, 0, len(keys))
	for _, key := range keys {
		must = append(must, qd.NewMatch(key, conditions[key]))
	}
	return &qd.Filter{Must: must}
}

// convertQdrantPoint converts a scored point to a search result.
func convertQdrantPoint(point *qd.ScoredPoint) retrieval.SearchResult {
	result := retrieval.SearchResult{Score: float64(point.GetScore())}
	if id := point.GetId(); id != nil {
		if u := id.GetUuid(); u != "" {
			result.ID = u
		} else {
			result.ID = strconv.FormatUint(id.GetNum(), 10)
		}
	}

	for key, value := range point.GetPayload() {
		switch key {
		case retrieval.FieldChunkID:
			if s := value.GetStringValue(); s != "" {
				result.ID = s
			}
		case retrieval.FieldText:
			result.Text = value.GetStringValue()
		case retrieval.FieldTokenCount:
			result.TokenCount = int(value.GetIntegerValue())
		default:
			result.Metadata.Set(key, value.GetStringValue())
		}
	}
	return result
}
