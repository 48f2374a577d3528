package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/specup-ai/specup/internal/errors"
)

const (
	// DefaultBatchSize chunks documents per scoring request. Cross-encoder
	// hosts degrade sharply past a few dozen pairs.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single scoring request.
	DefaultTimeout = 10 * time.Second
)

// HTTPConfig configures the HTTP reranker client.
type HTTPConfig struct {
	// BaseURL is the reranker service root, e.g. "http://localhost:8002".
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Model is the cross-encoder model identifier.
	Model string

	// BatchSize chunks documents per request. Defaults to DefaultBatchSize.
	BatchSize int

	// Timeout bounds a single HTTP request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxFailures trips the circuit breaker. Defaults to 5.
	MaxFailures int
}

// HTTPReranker calls a cross-encoder /rerank endpoint. A single-slot
// semaphore serializes scoring: the model host handles one batch at a time,
// and interleaved requests only add queueing on its side.
type HTTPReranker struct {
	config  HTTPConfig
	client  *http.Client
	slot    chan struct{}
	breaker *errors.CircuitBreaker
	logger  *slog.Logger
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker validates the config and returns a ready client.
func NewHTTPReranker(cfg HTTPConfig, logger *slog.Logger) (*HTTPReranker, error) {
	if cfg.BaseURL == "" {
		return nil, errors.ConfigError("reranker base URL is required", nil)
	}
	if cfg.Model == "" {
		return nil, errors.ConfigError("reranker model is required", nil)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPReranker{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		slot:    make(chan struct{}, 1),
		breaker: errors.NewCircuitBreaker("rerank", errors.WithMaxFailures(cfg.MaxFailures)),
		logger:  logger,
	}, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores documents against the query, chunked by BatchSize. Failures
// wrap ErrRerankUnavailable so callers can fall back to raw-score ordering.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	select {
	case r.slot <- struct{}{}:
		defer func() { <-r.slot }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	started := time.Now()
	scores := make([]float64, 0, len(documents))

	for start := 0; start < len(documents); start += r.config.BatchSize {
		end := start + r.config.BatchSize
		if end > len(documents) {
			end = len(documents)
		}

		chunk, err := errors.CircuitExecute(r.breaker, func() ([]float64, error) {
			return r.doRerank(ctx, query, documents[start:end])
		})
		if err != nil {
			return nil, fmt.Errorf("rerank batch %d-%d: %w: %w", start, end, errors.ErrRerankUnavailable, err)
		}
		scores = append(scores, chunk...)
	}

	r.logger.Debug("rerank_scored",
		"documents", len(documents),
		"duration_ms", time.Since(started).Milliseconds())
	return scores, nil
}

func (r *HTTPReranker) doRerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Model: r.config.Model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("reranker returned %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Results) != len(documents) {
		return nil, fmt.Errorf("rerank count mismatch: sent %d documents, got %d scores", len(documents), len(parsed.Results))
	}

	scores := make([]float64, len(documents))
	seen := make([]bool, len(documents))
	for _, item := range parsed.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			return nil, fmt.Errorf("rerank index %d out of range", item.Index)
		}
		scores[item.Index] = item.RelevanceScore
		seen[item.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank score missing for document %d", i)
		}
	}

	return scores, nil
}

// Available probes the service with a minimal scoring request. It also
// warms the model on hosts that lazily load it.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.doRerank(probeCtx, "ping", []string{"pong"})
	if err != nil {
		r.logger.Debug("reranker_unavailable", "error", err)
		return false
	}
	return true
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
