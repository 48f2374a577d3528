package search

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/specup-ai/specup/internal/cache"
	"github.com/specup-ai/specup/internal/config"
	"github.com/specup-ai/specup/internal/embed"
	"github.com/specup-ai/specup/internal/errors"
	"github.com/specup-ai/specup/internal/rerank"
	"github.com/specup-ai/specup/internal/store"
	"github.com/specup-ai/specup/internal/websearch"
)

// embedderCacheSize bounds memoized query embeddings.
const embedderCacheSize = 1024

// Engine owns the full retrieval stack built from one validated config.
type Engine struct {
	cfg      *config.Config
	pipeline *Pipeline
	passages *store.SQLitePassageStore
	vectors  store.VectorIndex
	embedder embed.Embedder
	reranker rerank.Reranker
	web      websearch.Searcher
	caches   *cache.Manager
	logger   *slog.Logger
}

// NewEngine builds the engine. Construction is fail-fast: an invalid
// config or unreadable store returns an error here rather than degrading
// at query time. Unreachable upstream services do NOT fail construction;
// they surface later as degraded flags.
func NewEngine(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	passages, err := store.OpenSQLitePassageStore(cfg.Paths.PassageDB, logger)
	if err != nil {
		return nil, err
	}

	vectors, err := loadVectorIndex(cfg, logger)
	if err != nil {
		passages.Close()
		return nil, err
	}

	httpEmbedder, err := embed.NewHTTPEmbedder(embed.HTTPConfig{
		BaseURL:    cfg.Embeddings.BaseURL,
		APIKey:     cfg.Embeddings.APIKey,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		Timeout:    cfg.Embeddings.Timeout.Std(),
	}, logger)
	if err != nil {
		passages.Close()
		return nil, err
	}
	embedder := embed.NewCachedEmbedder(httpEmbedder, embedderCacheSize)

	var web websearch.Searcher
	if cfg.WebSearch.Enabled {
		client, err := websearch.NewClient(websearch.Config{
			BaseURL:     cfg.WebSearch.BaseURL,
			APIKey:      cfg.WebSearch.APIKey,
			Model:       cfg.WebSearch.Model,
			Timeout:     cfg.WebSearch.Timeout.Std(),
			MaxSnippets: cfg.WebSearch.MaxSnippets,
		}, logger)
		if err != nil {
			passages.Close()
			return nil, err
		}
		web = client
	}

	caches := cache.NewManager(logger)
	// One built index per corpus version is enough; older versions are
	// only kept briefly to serve in-flight queries.
	caches.Register(cache.ScopeLexicalIndex, 2, cfg.Search.IndexCacheTTL.Std())
	caches.Register(cache.ScopeReranker, 1, 0)
	caches.Register(cache.ScopeQueryResult, cfg.Search.QueryCacheSize, cfg.Search.QueryCacheTTL.Std())

	// The cross-encoder warms lazily on first use and the warmed handle
	// lives in the reranker scope for the process lifetime.
	var reranker rerank.Reranker = rerank.NoOpReranker{}
	if cfg.Rerank.Enabled {
		rerankCfg := rerank.HTTPConfig{
			BaseURL:   cfg.Rerank.BaseURL,
			APIKey:    cfg.Rerank.APIKey,
			Model:     cfg.Rerank.Model,
			BatchSize: cfg.Rerank.BatchSize,
			Timeout:   cfg.Rerank.Timeout.Std(),
		}
		reranker = newLazyReranker(rerankCfg, caches, logger)
	}

	fuser := NewFuser(cfg.Search, reranker, logger)
	pipeline := NewPipeline(cfg.Search, passages, vectors, embedder, web, fuser, caches, logger)

	return &Engine{
		cfg:      cfg,
		pipeline: pipeline,
		passages: passages,
		vectors:  vectors,
		embedder: embedder,
		reranker: reranker,
		web:      web,
		caches:   caches,
		logger:   logger,
	}, nil
}

// loadVectorIndex loads the persisted HNSW index. A missing index file is
// not an error; the vector origin starts empty and fills after indexing.
func loadVectorIndex(cfg *config.Config, logger *slog.Logger) (store.VectorIndex, error) {
	path := cfg.Paths.VectorIndex
	if _, err := os.Stat(path); os.IsNotExist(err) {
		index, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(cfg.Embeddings.Dimensions))
		if err != nil {
			return nil, err
		}
		logger.Debug("vector_index_absent", "path", path)
		return index, nil
	}

	dims, err := store.ReadHNSWIndexDimensions(path)
	if err != nil {
		return nil, errors.StoreError("reading vector index", err)
	}
	if dims != cfg.Embeddings.Dimensions {
		return nil, errors.New(errors.ErrCodeDimensionMismatch,
			"persisted vector index does not match the configured embedding dimension", nil).
			WithDetail("index_dimensions", strconv.Itoa(dims)).
			WithDetail("configured_dimensions", strconv.Itoa(cfg.Embeddings.Dimensions)).
			WithSuggestion("rebuild the index with 'specup index'")
	}

	index, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(dims))
	if err != nil {
		return nil, err
	}
	if err := index.Load(path); err != nil {
		return nil, errors.StoreError("loading vector index", err)
	}
	logger.Info("vector_index_loaded", "path", path, "vectors", index.Count())
	return index, nil
}

// Search runs one query through the pipeline.
func (e *Engine) Search(ctx context.Context, query string, filters Filters) (*EvidenceSet, error) {
	return e.pipeline.Retrieve(ctx, query, filters)
}

// InvalidateCorpusCaches drops corpus-derived caches after the passage
// store changes on disk. The watcher calls this on ingestion events.
func (e *Engine) InvalidateCorpusCaches() {
	e.caches.InvalidateScope(cache.ScopeLexicalIndex)
	e.caches.InvalidateScope(cache.ScopeQueryResult)
	e.logger.Info("corpus_caches_invalidated")
}

// Caches exposes the cache manager for the daemon's watcher wiring.
func (e *Engine) Caches() *cache.Manager {
	return e.caches
}

// Close releases every engine resource.
func (e *Engine) Close() error {
	var first error
	if e.web != nil {
		if err := e.web.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := e.reranker.Close(); err != nil && first == nil {
		first = err
	}
	if err := e.embedder.Close(); err != nil && first == nil {
		first = err
	}
	if err := e.vectors.Close(); err != nil && first == nil {
		first = err
	}
	if err := e.passages.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
