package embed

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

// HTTPConfig configures the HTTP embedding client.
type HTTPConfig struct {
	// BaseURL is the embedding service root, e.g. "http://localhost:8001/v1".
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Model is the embedding model identifier.
	Model string

	// Dimensions is the expected embedding dimension.
	Dimensions int

	// BatchSize chunks large batch requests. Defaults to DefaultBatchSize.
	BatchSize int

	// Timeout bounds a single HTTP request. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint. Query
// embeddings must come from the same model that embedded the corpus, so the
// factory checks Model against the store's recorded embedding model.
type HTTPEmbedder struct {
	config HTTPConfig
	client *http.Client
	logger *slog.Logger
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder validates the config and returns a ready client.
func NewHTTPEmbedder(cfg HTTPConfig, logger *slog.Logger) (*HTTPEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, errors.ConfigError("embedding base URL is required", nil)
	}
	if cfg.Model == "" {
		return nil, errors.ConfigError("embedding model is required", nil)
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPEmbedder{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates a normalized embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in request order, chunked by BatchSize.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		chunk, err := errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() ([][]float32, error) {
			return e.doEmbed(ctx, texts[start:end])
		})
		if err != nil {
			return nil, err
		}
		results = append(results, chunk...)
	}

	return results, nil
}

func (e *HTTPEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "embedding request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding service returned %d: %s", resp.StatusCode, string(snippet)), nil)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "decode embedding response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(parsed.Data)), nil)
	}

	// The API may return entries out of order; index is authoritative.
	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, errors.New(errors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedding index %d out of range", item.Index), nil)
		}
		if len(item.Embedding) != e.config.Dimensions {
			return nil, errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.config.Dimensions, len(item.Embedding)), nil)
		}
		vectors[item.Index] = normalizeVector(item.Embedding)
	}
	for i, v := range vectors {
		if v == nil {
			return nil, errors.New(errors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedding missing for input %d", i), nil)
		}
	}

	return vectors, nil
}

// Dimensions returns the configured embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *HTTPEmbedder) ModelName() string {
	return e.config.Model
}

// Available probes the service with a minimal embedding request.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := e.doEmbed(probeCtx, []string{"ping"})
	if err != nil {
		e.logger.Debug("embedder_unavailable", "error", err)
		return false
	}
	return true
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
