// Package rerank scores query-passage pairs with a cross-encoder model.
package rerank

import (
	"context"

	"github.com/specup-ai/specup/internal/errors"
)

// Reranker scores documents against a query. Scores share one scale across
// every document in a call, which is what makes cross-origin candidate
// ordering meaningful.
type Reranker interface {
	// Rerank returns one relevance score per document, in document order.
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)

	// Available checks if the reranker is ready to score.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// NoOpReranker stands in when reranking is disabled so the pipeline always
// has a non-nil reranker. Rerank reports ErrRerankUnavailable so callers
// take the same raw-score fallback as a failed cross-encoder; returning
// fabricated scores here would silently flatten every final score to zero.
type NoOpReranker struct{}

var _ Reranker = (*NoOpReranker)(nil)

func (NoOpReranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	return nil, errors.ErrRerankUnavailable
}

func (NoOpReranker) Available(ctx context.Context) bool { return false }

func (NoOpReranker) Close() error { return nil }
