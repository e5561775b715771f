package port

import (
	"context"

	"mnemo/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns the embedding of a single non-empty text. The vector
	// length equals Dimension().
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorIndex is a (usually remote) vector database. Every operation is
// scoped to a namespace; the empty namespace is the index default.
type VectorIndex interface {
	// Upsert adds or overwrites records by ID.
	Upsert(ctx context.Context, namespace string, records []IndexRecord) error

	// Query returns at most req.TopK matches ordered by descending score.
	// An empty index yields an empty slice and no error.
	Query(ctx context.Context, namespace string, req QueryRequest) ([]IndexMatch, error)

	// DeleteByIDs removes records. Unknown IDs are ignored.
	DeleteByIDs(ctx context.Context, namespace string, ids []string) error

	// FetchByIDs returns the stored records that exist, keyed by ID.
	FetchByIDs(ctx context.Context, namespace string, ids []string) (map[string]IndexRecord, error)

	// DescribeStats reports index-wide statistics.
	DescribeStats(ctx context.Context) (domain.IndexStats, error)
}

// IndexRecord is a record to store. When Vector is empty the index embeds
// Text itself and keeps it under its configured text field.
type IndexRecord struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]any
}

type QueryRequest struct {
	Vector          []float32
	TopK            int
	Filter          map[string]any
	IncludeMetadata bool
}

type IndexMatch struct {
	ID       string
	Score    float64
	Metadata map[string]any
}
