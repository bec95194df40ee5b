//go:build integration

package pgvector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/retrieval"
)

// pgvectorContainer holds the testcontainer for PostgreSQL with pgvector
type pgvectorContainer struct {
	Container testcontainers.Container
	ConnStr   string
}

func setupPGVectorContainer(ctx context.Context) (*pgvectorContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	connStr := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	return &pgvectorContainer{Container: container, ConnStr: connStr}, nil
}

func (pc *pgvectorContainer) teardown(ctx context.Context) error {
	if pc.Container != nil {
		return pc.Container.Terminate(ctx)
	}
	return nil
}

// chunkID derives a stable id from a name, as ingestion does.
func chunkID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func TestSearchAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	pc, err := setupPGVectorContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to setup PostgreSQL container: %v", err)
	}
	defer pc.teardown(ctx)

	client, err := New(ctx, &Config{ConnectionString: pc.ConnStr, TableName: "chunks_it", VectorDimension: 3})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer client.Close()

	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	records := []retrieval.Record{
		{
			Chunk: retrieval.Chunk{ID: chunkID("due-process"), Text: "Due process definition", TokenCount: 3, Metadata: retrieval.Metadata{
				DocumentType: retrieval.DocTypeDefinition, LegalContext: "common", Term: "due process", Edition: "4th",
			}},
			Vector: counsel.Vector{1, 0, 0},
		},
		{
			Chunk: retrieval.Chunk{ID: chunkID("fifth"), Text: "Fifth Amendment", Metadata: retrieval.Metadata{
				DocumentType: retrieval.DocTypeConstitutional, LegalContext: "constitutional", Amendment: "5th Amendment",
			}},
			Vector: counsel.Vector{0.8, 0.6, 0},
		},
		{
			Chunk: retrieval.Chunk{ID: chunkID("federalist"), Text: "Federalist No. 78", Metadata: retrieval.Metadata{
				DocumentType: retrieval.DocTypeFounding, Author: "Alexander Hamilton",
			}},
			Vector: counsel.Vector{0, 0, 1},
		},
	}
	if err := client.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	// idempotent
	if err := client.Upsert(ctx, records[:1]); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	tests := []struct {
		name    string
		filter  retrieval.Filter
		topK    int
		wantIDs []string
	}{
		{"unfiltered", retrieval.Filter{}, 10, []string{chunkID("due-process"), chunkID("fifth"), chunkID("federalist")}},
		{"top one", retrieval.Filter{}, 1, []string{chunkID("due-process")}},
		{"document type", retrieval.Filter{DocumentType: retrieval.DocTypeConstitutional}, 10, []string{chunkID("fifth")}},
		{"author", retrieval.Filter{Author: "Alexander Hamilton"}, 10, []string{chunkID("federalist")}},
		{"no match", retrieval.Filter{Term: "tort"}, 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := client.Search(ctx, counsel.Vector{1, 0, 0}, tt.topK, tt.filter)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(results) != len(tt.wantIDs) {
				t.Fatalf("Search() returned %d results, want %d", len(results), len(tt.wantIDs))
			}
			for i, r := range results {
				if r.ID != tt.wantIDs[i] {
					t.Errorf("results[%d].ID = %s, want %s", i, r.ID, tt.wantIDs[i])
				}
				if i > 0 && r.Score > results[i-1].Score {
					t.Errorf("scores not descending")
				}
			}
		})
	}

	results, _ := client.Search(ctx, counsel.Vector{1, 0, 0}, 1, retrieval.Filter{})
	if got := results[0]; got.TokenCount != 3 || got.Metadata.Edition != "4th" || got.Score < 0.99 {
		t.Errorf("top result = %+v", got)
	}
}
