package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/specup-ai/specup/internal/cache"
	"github.com/specup-ai/specup/internal/config"
	"github.com/specup-ai/specup/internal/embed"
	"github.com/specup-ai/specup/internal/errors"
	"github.com/specup-ai/specup/internal/store"
	"github.com/specup-ai/specup/internal/websearch"
)

// MaxQueryLength bounds user input before it reaches any origin.
const MaxQueryLength = 512

// vectorOversample widens the HNSW k so metadata post-filtering still
// fills VectorLimit.
const vectorOversample = 2

// lexicalBuilder builds a lexical index over the passage store. Injected
// for tests; production uses store.BuildLexicalIndex.
type lexicalBuilder func(ctx context.Context, ps store.PassageStore, logger *slog.Logger) (store.LexicalIndex, error)

// Pipeline runs the three retrieval origins in parallel and fuses their
// candidates into one evidence set. Origin failures degrade the result
// instead of failing the query.
type Pipeline struct {
	cfg          config.SearchConfig
	passages     store.PassageStore
	vectors      store.VectorIndex
	embedder     embed.Embedder
	web          websearch.Searcher
	fuser        *Fuser
	caches       *cache.Manager
	buildLexical lexicalBuilder
	logger       *slog.Logger
}

// NewPipeline wires a pipeline. vectors, embedder, and web may be nil;
// the corresponding origin is then permanently degraded (vectors,
// embedder) or simply absent (web, when augmentation is disabled).
func NewPipeline(cfg config.SearchConfig, passages store.PassageStore, vectors store.VectorIndex, embedder embed.Embedder, web websearch.Searcher, fuser *Fuser, caches *cache.Manager, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:          cfg,
		passages:     passages,
		vectors:      vectors,
		embedder:     embedder,
		web:          web,
		fuser:        fuser,
		caches:       caches,
		buildLexical: defaultLexicalBuilder,
		logger:       logger,
	}
}

func defaultLexicalBuilder(ctx context.Context, ps store.PassageStore, logger *slog.Logger) (store.LexicalIndex, error) {
	return store.BuildLexicalIndex(ctx, ps, logger)
}

// Retrieve answers a query. An error return means the query never ran
// (input validation, passage store failure); every origin or reranker
// failure is absorbed into the Degraded flags instead.
func (p *Pipeline) Retrieve(ctx context.Context, query string, filters Filters) (*EvidenceSet, error) {
	normalized := NormalizeQuery(query)
	if normalized == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if len([]rune(normalized)) > MaxQueryLength {
		return nil, errors.New(errors.ErrCodeQueryTooLong,
			fmt.Sprintf("query exceeds %d characters", MaxQueryLength), nil)
	}

	cacheKey := normalized + "\x00" + filters.Fingerprint()
	if cached, ok := p.caches.Get(cache.ScopeQueryResult, cacheKey); ok {
		if set, ok := cached.(*EvidenceSet); ok {
			p.logger.Debug("query_cache_hit", "query", normalized)
			return set, nil
		}
	}

	// An empty corpus is a valid pre-ingestion state, not a failure; the
	// internal origins are simply skipped and the result stays healthy.
	corpusCount, err := p.passages.Count(ctx)
	if err != nil {
		return nil, errors.StoreError("counting corpus", err)
	}

	start := time.Now()
	retrievalQuery := enhanceQuery(normalized, filters)

	// Each origin goroutine owns its own result and error slot; the
	// degraded flags are assembled only after Wait.
	var (
		lexical, vector, webHits      []Candidate
		lexicalErr, vectorErr, webErr error
		flags                         DegradedFlags
	)

	g, gctx := errgroup.WithContext(ctx)
	if corpusCount > 0 {
		g.Go(func() error {
			lexical, lexicalErr = p.searchLexical(gctx, retrievalQuery, filters)
			return nil
		})
		g.Go(func() error {
			vector, vectorErr = p.searchVector(gctx, retrievalQuery, filters)
			return nil
		})
	}
	if p.web != nil {
		g.Go(func() error {
			webHits, webErr = p.searchWeb(gctx, normalized, filters, cacheKey)
			return nil
		})
	}
	_ = g.Wait() // origin goroutines absorb their own errors

	if lexicalErr != nil {
		p.logger.Warn("lexical_degraded", "error", lexicalErr)
		flags.LexicalUnavailable = true
	}
	if vectorErr != nil {
		p.logger.Warn("vector_degraded", "error", vectorErr)
		flags.VectorUnavailable = true
	}
	if webErr != nil {
		if stderrors.Is(webErr, errors.ErrAugmentationTimeout) {
			p.logger.Warn("augmentation_timeout", "error", webErr)
			flags.AugmentationTimeout = true
		} else {
			p.logger.Warn("web_degraded", "error", webErr)
			flags.WebUnavailable = true
		}
	}

	pooled := make([]Candidate, 0, len(lexical)+len(vector)+len(webHits))
	pooled = append(pooled, lexical...)
	pooled = append(pooled, vector...)
	pooled = append(pooled, webHits...)

	evidence, unreranked, err := p.fuser.Fuse(ctx, normalized, pooled, filters)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFusionFailed, "fusing candidates", err)
	}
	flags.Unreranked = unreranked

	set := &EvidenceSet{Entries: evidence, Degraded: flags}

	p.logger.Info("search_completed",
		"query", normalized,
		"lexical", len(lexical),
		"vector", len(vector),
		"web", len(webHits),
		"evidence", len(evidence),
		"degraded", flags.Any(),
		"duration_ms", time.Since(start).Milliseconds())

	// Degraded sets are never memoized so the next query retries the
	// failed origins.
	if !flags.Any() {
		if err := p.caches.Put(cache.ScopeQueryResult, cacheKey, set); err != nil {
			p.logger.Warn("query_cache_put_failed", "error", err)
		}
	}
	return set, nil
}

// enhanceQuery prefixes the character class so lexical and vector
// retrieval favor class-specific passages. Fame stays out of the
// retrieval text; it only parameterizes web augmentation.
func enhanceQuery(query string, filters Filters) string {
	if filters.ClassName == "" {
		return query
	}
	if strings.Contains(query, filters.ClassName) {
		return query
	}
	return filters.ClassName + " " + query
}

// searchLexical resolves the corpus-version-keyed index from the cache,
// building it at most once per version, and runs the keyword search.
func (p *Pipeline) searchLexical(ctx context.Context, query string, filters Filters) ([]Candidate, error) {
	version, err := p.passages.CorpusVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrRetrievalUnavailable, err)
	}

	value, err := p.caches.GetOrBuild(ctx, cache.ScopeLexicalIndex, version, func(buildCtx context.Context) (any, error) {
		return p.buildLexical(buildCtx, p.passages, p.logger)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: building lexical index: %w", errors.ErrRetrievalUnavailable, err)
	}
	index, ok := value.(store.LexicalIndex)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lexical cache entry %T", errors.ErrRetrievalUnavailable, value)
	}

	results, err := index.Search(ctx, query, store.Filter{ClassName: filters.ClassName, Source: filters.Source}, p.cfg.LexicalLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrRetrievalUnavailable, err)
	}
	return p.hydrate(ctx, OriginLexical, results, nil)
}

// searchVector embeds the query and runs HNSW search with oversampling so
// metadata post-filtering can still fill the per-origin limit.
func (p *Pipeline) searchVector(ctx context.Context, query string, filters Filters) ([]Candidate, error) {
	if p.vectors == nil || p.embedder == nil {
		return nil, fmt.Errorf("%w: vector origin not configured", errors.ErrRetrievalUnavailable)
	}
	if p.vectors.Count() == 0 {
		return nil, nil
	}

	embedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", errors.ErrRetrievalUnavailable, err)
	}

	k := p.cfg.VectorLimit
	if !filters.IsZero() {
		k *= vectorOversample
	}
	hits, err := p.vectors.Search(ctx, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrRetrievalUnavailable, err)
	}

	results := make([]store.LexicalResult, 0, len(hits))
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		results = append(results, store.LexicalResult{PassageID: h.PassageID})
		scores[h.PassageID] = float64(h.Score)
	}

	candidates, err := p.hydrate(ctx, OriginVector, results, scores)
	if err != nil {
		return nil, err
	}

	// Post-filter on passage metadata; the HNSW graph itself carries none.
	if !filters.IsZero() {
		filtered := candidates[:0]
		for _, c := range candidates {
			if filters.ClassName != "" && c.Meta[store.MetaKeyClassName] != filters.ClassName {
				continue
			}
			if filters.Source != "" && c.Source != filters.Source {
				continue
			}
			filtered = append(filtered, c)
		}
		candidates = filtered
	}
	if len(candidates) > p.cfg.VectorLimit {
		candidates = candidates[:p.cfg.VectorLimit]
	}
	return candidates, nil
}

// hydrate fetches the passages behind retrieval hits and converts them to
// candidates. Hits whose passage vanished between index build and fetch
// are dropped.
func (p *Pipeline) hydrate(ctx context.Context, origin Origin, results []store.LexicalResult, vectorScores map[string]float64) ([]Candidate, error) {
	if len(results) == 0 {
		return nil, nil
	}
	ids := make([]string, len(results))
	byID := make(map[string]store.LexicalResult, len(results))
	for i, r := range results {
		ids[i] = r.PassageID
		byID[r.PassageID] = r
	}

	passages, err := p.passages.FetchByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching passages: %w", errors.ErrRetrievalUnavailable, err)
	}

	candidates := make([]Candidate, 0, len(passages))
	for _, passage := range passages {
		r := byID[passage.ID]
		score := r.Score
		if vectorScores != nil {
			score = vectorScores[passage.ID]
		}
		candidates = append(candidates, candidateFromPassage(passage, origin, score, r.MatchedTerms))
	}
	return candidates, nil
}

// searchWeb runs the augmentation call. Snippet order is the provider's
// relevance order; positional raw scores preserve it through fusion.
// Snippets are memoized under their own sub-key so a query degraded by an
// internal origin still reuses its paid web call on retry.
func (p *Pipeline) searchWeb(ctx context.Context, query string, filters Filters, cacheKey string) ([]Candidate, error) {
	webKey := "web\x00" + cacheKey
	if cached, ok := p.caches.Get(cache.ScopeQueryResult, webKey); ok {
		if candidates, ok := cached.([]Candidate); ok {
			return candidates, nil
		}
	}

	snippets, err := p.web.Search(ctx, query, websearch.QueryContext{
		ClassName: filters.ClassName,
		Fame:      filters.Fame,
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(snippets))
	for i, s := range snippets {
		rawScore := 1.0 - float64(i)/float64(len(snippets)+1)
		candidates = append(candidates, candidateFromSnippet(s, rawScore))
	}
	if len(candidates) > 0 {
		if err := p.caches.Put(cache.ScopeQueryResult, webKey, candidates); err != nil {
			p.logger.Warn("web_cache_put_failed", "error", err)
		}
	}
	return candidates, nil
}
