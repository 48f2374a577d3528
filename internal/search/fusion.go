package search

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"github.com/specup-ai/specup/internal/config"
	"github.com/specup-ai/specup/internal/errors"
	"github.com/specup-ai/specup/internal/rerank"
	"github.com/specup-ai/specup/internal/store"
	"github.com/specup-ai/specup/internal/websearch"
)

// Fuser merges per-origin candidates into one reranked, weighted, capped
// evidence list.
type Fuser struct {
	cfg      config.SearchConfig
	reranker rerank.Reranker
	logger   *slog.Logger
}

// NewFuser creates a fuser. A nil reranker disables reranking and every
// fused result carries the Unreranked flag.
func NewFuser(cfg config.SearchConfig, reranker rerank.Reranker, logger *slog.Logger) *Fuser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fuser{cfg: cfg, reranker: reranker, logger: logger}
}

// candidateFromPassage builds an internal-origin candidate. The dedupe key
// is the passage ID so lexical and vector hits of the same passage merge.
func candidateFromPassage(p *store.Passage, origin Origin, rawScore float64, matched []string) Candidate {
	return Candidate{
		Key:          p.ID,
		PassageID:    p.ID,
		Text:         p.Text,
		Title:        p.Metadata[store.MetaKeyTitle],
		URL:          p.URL,
		Source:       p.Source,
		Meta:         p.Metadata,
		Origin:       origin,
		Origins:      []Origin{origin},
		RawScore:     rawScore,
		MatchedTerms: matched,
	}
}

// candidateFromSnippet builds a web-origin candidate. Snippets with a URL
// dedupe on the normalized URL; URL-less snippets dedupe on a prefix hash
// of their text.
func candidateFromSnippet(s websearch.Snippet, rawScore float64) Candidate {
	key := s.ID
	if key == "" {
		if s.URL != "" {
			key = websearch.NormalizeURL(s.URL)
		} else {
			key = textPrefixHash(s.Text)
		}
	}
	return Candidate{
		Key:      key,
		Text:     s.Text,
		Title:    s.Title,
		URL:      s.URL,
		Source:   "web",
		Origin:   OriginWeb,
		Origins:  []Origin{OriginWeb},
		RawScore: rawScore,
	}
}

// Fuse dedupes the pooled candidates, reranks them against the query, and
// returns the blended evidence list capped at MaxEvidence. The returned
// flag reports whether reranking was skipped or failed; raw scores then
// stand in and ordering is approximate.
func (f *Fuser) Fuse(ctx context.Context, query string, candidates []Candidate, filters Filters) ([]Evidence, bool, error) {
	merged := dedupe(candidates)
	if len(merged) == 0 {
		return nil, false, nil
	}

	unreranked := !f.rerankCandidates(ctx, query, merged)

	for i := range merged {
		merged[i].FinalScore = f.blend(&merged[i], filters, unreranked)
	}

	sortCandidates(merged)

	limit := f.cfg.MaxEvidence
	if limit <= 0 {
		limit = len(merged)
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}

	evidence := make([]Evidence, len(merged))
	for i, c := range merged {
		evidence[i] = Evidence{
			Key:       c.Key,
			PassageID: c.PassageID,
			Text:      c.Text,
			Title:     c.Title,
			URL:       c.URL,
			Source:    c.Source,
			Origins:   c.Origins,
			Score:     c.FinalScore,
			Meta:      c.Meta,
		}
	}
	return evidence, unreranked, nil
}

// dedupe merges candidates sharing a key. The survivor keeps the text and
// metadata of its highest-precedence origin and the max raw score seen per
// origin collapses into one raw score on that origin's scale.
func dedupe(candidates []Candidate) []Candidate {
	byKey := make(map[string]int, len(candidates))
	merged := make([]Candidate, 0, len(candidates))

	for _, c := range candidates {
		idx, seen := byKey[c.Key]
		if !seen {
			byKey[c.Key] = len(merged)
			merged = append(merged, c)
			continue
		}

		existing := &merged[idx]
		existing.Origins = appendOrigin(existing.Origins, c.Origin)
		existing.MatchedTerms = append(existing.MatchedTerms, c.MatchedTerms...)
		if c.Origin.precedence() < existing.Origin.precedence() {
			existing.Origin = c.Origin
			existing.RawScore = c.RawScore
			if c.Text != "" {
				existing.Text = c.Text
			}
			if c.Meta != nil {
				existing.Meta = c.Meta
			}
		}
	}
	return merged
}

func appendOrigin(origins []Origin, o Origin) []Origin {
	for _, existing := range origins {
		if existing == o {
			return origins
		}
	}
	origins = append(origins, o)
	sort.Slice(origins, func(i, j int) bool {
		return origins[i].precedence() < origins[j].precedence()
	})
	return origins
}

// rerankCandidates scores every candidate against the query on the shared
// cross-encoder scale. Returns false when reranking is unavailable; the
// candidates then keep zero rerank scores and blending falls back to raw
// scores.
func (f *Fuser) rerankCandidates(ctx context.Context, query string, candidates []Candidate) bool {
	if f.reranker == nil {
		return false
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Text
	}

	scores, err := f.reranker.Rerank(ctx, query, documents)
	if err != nil || len(scores) != len(candidates) {
		f.logger.Warn("rerank_degraded",
			"candidates", len(candidates),
			"error", err,
			"retryable", errors.IsRetryable(err))
		return false
	}

	for i := range candidates {
		candidates[i].RerankScore = scores[i]
	}
	return true
}

// blend applies origin weighting and boosts. Reranked scores share one
// scale so cross-origin multiplication is meaningful; unreranked raw
// scores get the same treatment as a best-effort ordering.
func (f *Fuser) blend(c *Candidate, filters Filters, unreranked bool) float64 {
	base := c.RerankScore
	if unreranked {
		base = c.RawScore
	}

	weight := f.cfg.InternalWeight
	if len(c.Origins) == 1 && c.Origins[0] == OriginWeb {
		weight = f.cfg.WebWeight
	}
	score := base * weight

	if filters.ClassName != "" && c.Meta[store.MetaKeyClassName] == filters.ClassName {
		score *= f.cfg.ClassMatchBoost
	}
	if f.isPopular(c.Meta) {
		score *= f.cfg.PopularityBoost
	}
	return score
}

// isPopular reports whether either engagement counter clears its threshold.
func (f *Fuser) isPopular(meta map[string]string) bool {
	if meta == nil {
		return false
	}
	if views, err := strconv.Atoi(meta[store.MetaKeyViews]); err == nil && views >= f.cfg.ViewsThreshold {
		return true
	}
	if likes, err := strconv.Atoi(meta[store.MetaKeyLikes]); err == nil && likes >= f.cfg.LikesThreshold {
		return true
	}
	return false
}

// sortCandidates orders by final score, then origin precedence, then key.
// The full ordering is total so equal inputs always produce equal output.
func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.Origin.precedence() != b.Origin.precedence() {
			return a.Origin.precedence() < b.Origin.precedence()
		}
		return a.Key < b.Key
	})
}
