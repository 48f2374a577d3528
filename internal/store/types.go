// Package store provides the passage persistence layer: the SQLite passage
// store, the bleve lexical index, and the HNSW vector index client.
package store

import (
	"context"
	"fmt"
	"time"
)

// Well-known metadata keys on passages. The ingestion pipeline writes these;
// the engine only reads them.
const (
	MetaKeyTitle     = "title"
	MetaKeyClassName = "class_name"
	MetaKeyFame      = "fame"
	MetaKeyViews     = "views"
	MetaKeyLikes     = "likes"
)

// State keys in the passage store's key-value table.
const (
	// StateKeyCorpusVersion is bumped by the ingestion pipeline whenever the
	// passage set changes. It keys the lexical index cache scope.
	StateKeyCorpusVersion = "corpus_version"

	// StateKeyEmbeddingModel records the model that produced the persisted
	// embeddings, for mismatch detection against the live embedder.
	StateKeyEmbeddingModel = "embedding_model"

	// StateKeyEmbeddingDim records the dimension of persisted embeddings.
	StateKeyEmbeddingDim = "embedding_dimension"
)

// Passage is an immutable unit of retrievable guide text. The engine never
// mutates passages; only the external ingestion pipeline writes them.
type Passage struct {
	ID          string            // unique within the store
	Text        string            // chunked guide text
	Source      string            // origin channel: official, dc, arca, youtube, ...
	URL         string            // optional link back to the source page
	PublishedAt time.Time         // zero if the source carries no date
	Metadata    map[string]string // title, class_name, fame, views, likes, ...
}

// PassageStore is the read contract the retrieval engine depends on.
// Write methods live on the concrete SQLite store and are used only by the
// indexing CLI.
type PassageStore interface {
	// FetchByID returns the passage with the given ID, or ErrPassageNotFound.
	FetchByID(ctx context.Context, id string) (*Passage, error)

	// FetchByIDs returns the passages for the given IDs in one query.
	// Missing IDs are silently skipped.
	FetchByIDs(ctx context.Context, ids []string) ([]*Passage, error)

	// IterateAll streams every passage to fn in stable ID order.
	// Iteration stops on the first error fn returns.
	IterateAll(ctx context.Context, fn func(*Passage) error) error

	// Count returns the number of passages in the store.
	Count(ctx context.Context) (int, error)

	// CorpusVersion returns the ingestion pipeline's version marker.
	// An empty corpus reports version "empty".
	CorpusVersion(ctx context.Context) (string, error)

	// Close releases the underlying database handle.
	Close() error
}

// Filter restricts retrieval to passages matching structured attributes.
// Zero values mean "no restriction".
type Filter struct {
	// ClassName restricts to passages tagged with this character class.
	ClassName string

	// Source restricts to one origin channel.
	Source string
}

// IsZero reports whether the filter restricts nothing.
func (f Filter) IsZero() bool {
	return f.ClassName == "" && f.Source == ""
}

// LexicalResult is a single keyword-ranked hit. Scores are BM25 and only
// comparable to other lexical scores for the same query.
type LexicalResult struct {
	PassageID    string
	Score        float64
	MatchedTerms []string
}

// VectorResult is a single similarity-ranked hit. Scores are normalized
// cosine similarity and only comparable within the vector origin.
type VectorResult struct {
	PassageID string
	Distance  float32 // 0-2 for cosine, lower is closer
	Score     float32 // 0-1, higher is closer
}

// LexicalIndex provides keyword search over the passage corpus.
type LexicalIndex interface {
	// Search returns up to limit passages ranked by BM25 score.
	// An empty corpus yields an empty result, not an error.
	Search(ctx context.Context, query string, filter Filter, limit int) ([]LexicalResult, error)

	// Count returns the number of indexed passages.
	Count() int

	// Close releases index resources.
	Close() error
}

// VectorIndex provides similarity search over persisted passage embeddings.
type VectorIndex interface {
	// Add inserts vectors with their passage IDs. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbours of the query embedding.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Count returns the number of stored vectors.
	Count() int

	// Save/Load persist the index to disk.
	Save(path string) error
	Load(path string) error

	Close() error
}

// VectorIndexConfig configures the HNSW vector index.
type VectorIndexConfig struct {
	// Dimensions is the embedding dimension (must match the embedder).
	Dimensions int

	// Metric is "cos" (default) or "l2".
	Metric string

	// M is the HNSW max connections per layer (default 16).
	M int

	// EfSearch is the query-time search width (default 20).
	EfSearch int
}

// DefaultVectorIndexConfig returns sensible HNSW defaults for the given
// embedding dimension.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// ErrDimensionMismatch indicates the query or stored vector dimension does
// not match the index configuration.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: index expects %d, got %d (rebuild with 'specup index')", e.Expected, e.Got)
}
