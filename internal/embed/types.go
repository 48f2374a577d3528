// Package embed generates vector embeddings for queries and passages.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MaxBatchSize caps one embedding request to bound memory and latency.
	MaxBatchSize = 256

	// DefaultBatchSize is the default chunk size for batch requests.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding HTTP request.
	DefaultTimeout = 30 * time.Second

	// DefaultDimensions matches the bge-m3 family used for Korean guide text.
	DefaultDimensions = 1024
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in request order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector returns v scaled to unit length. Zero vectors pass
// through unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
