package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/specup-ai/specup/internal/cache"
	"github.com/specup-ai/specup/internal/rerank"
)

// rerankerCacheKey is the single slot in the reranker scope.
const rerankerCacheKey = "cross-encoder"

// lazyReranker defers cross-encoder construction and warmup to first use.
// The warmed handle is cached in the reranker scope for the process
// lifetime; concurrent first calls share one warmup via singleflight.
type lazyReranker struct {
	cfg    rerank.HTTPConfig
	caches *cache.Manager
	logger *slog.Logger
}

var _ rerank.Reranker = (*lazyReranker)(nil)

func newLazyReranker(cfg rerank.HTTPConfig, caches *cache.Manager, logger *slog.Logger) *lazyReranker {
	return &lazyReranker{cfg: cfg, caches: caches, logger: logger}
}

// resolve returns the warmed reranker, building it on first call. Warmup
// failures are not cached so the next query retries.
func (l *lazyReranker) resolve(ctx context.Context) (rerank.Reranker, error) {
	value, err := l.caches.GetOrBuild(ctx, cache.ScopeReranker, rerankerCacheKey, func(buildCtx context.Context) (any, error) {
		r, err := rerank.NewHTTPReranker(l.cfg, l.logger)
		if err != nil {
			return nil, err
		}
		if !r.Available(buildCtx) {
			r.Close()
			return nil, fmt.Errorf("reranker %s not reachable at %s", l.cfg.Model, l.cfg.BaseURL)
		}
		l.logger.Info("reranker_warmed", "model", l.cfg.Model)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	r, ok := value.(rerank.Reranker)
	if !ok {
		return nil, fmt.Errorf("unexpected reranker cache entry %T", value)
	}
	return r, nil
}

func (l *lazyReranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	r, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return r.Rerank(ctx, query, documents)
}

func (l *lazyReranker) Available(ctx context.Context) bool {
	r, err := l.resolve(ctx)
	return err == nil && r.Available(ctx)
}

// Close releases the warmed handle if one was ever built.
func (l *lazyReranker) Close() error {
	if value, ok := l.caches.Get(cache.ScopeReranker, rerankerCacheKey); ok {
		if r, ok := value.(rerank.Reranker); ok {
			l.caches.Invalidate(cache.ScopeReranker, rerankerCacheKey)
			return r.Close()
		}
	}
	return nil
}
