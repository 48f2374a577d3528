// Package search implements hybrid retrieval: lexical, vector, and web
// origins fused into one reranked evidence set.
package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Origin identifies which retrieval path produced a candidate. Raw scores
// are only comparable within one origin; cross-origin ordering exists only
// after reranking and blending.
type Origin string

const (
	OriginLexical Origin = "lexical"
	OriginVector  Origin = "vector"
	OriginWeb     Origin = "web"
)

// precedence orders origins for deterministic tie-breaking: vector beats
// lexical beats web.
func (o Origin) precedence() int {
	switch o {
	case OriginVector:
		return 0
	case OriginLexical:
		return 1
	default:
		return 2
	}
}

// Candidate is one retrieval hit moving through fusion. Key is the dedupe
// identity: passage ID for internal origins, normalized URL or text-prefix
// hash for web snippets.
type Candidate struct {
	Key       string
	PassageID string
	Text      string
	Title     string
	URL       string
	Source    string
	Meta      map[string]string

	// Origin is the highest-precedence origin that produced this
	// candidate; Origins lists all of them after dedupe.
	Origin  Origin
	Origins []Origin

	// RawScore is origin-local. RerankScore is the shared cross-encoder
	// scale. FinalScore is RerankScore (or RawScore when unreranked)
	// after origin weighting and boosts.
	RawScore    float64
	RerankScore float64
	FinalScore  float64

	MatchedTerms []string
}

// Evidence is one entry of the final answer-ready set.
type Evidence struct {
	Key        string            `json:"key"`
	PassageID  string            `json:"passage_id,omitempty"`
	Text       string            `json:"text"`
	Title      string            `json:"title,omitempty"`
	URL        string            `json:"url,omitempty"`
	Source     string            `json:"source,omitempty"`
	Origins    []Origin          `json:"origins"`
	Score      float64           `json:"score"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// DegradedFlags records which parts of the pipeline could not contribute.
// Degradation is state on the result, never an error to the caller.
type DegradedFlags struct {
	LexicalUnavailable  bool `json:"lexical_unavailable,omitempty"`
	VectorUnavailable   bool `json:"vector_unavailable,omitempty"`
	WebUnavailable      bool `json:"web_unavailable,omitempty"`
	AugmentationTimeout bool `json:"augmentation_timeout,omitempty"`
	Unreranked          bool `json:"unreranked,omitempty"`
}

// Any reports whether any degradation occurred.
func (d DegradedFlags) Any() bool {
	return d.LexicalUnavailable || d.VectorUnavailable || d.WebUnavailable ||
		d.AugmentationTimeout || d.Unreranked
}

// EvidenceSet is the pipeline's result: ordered evidence plus degradation
// state.
type EvidenceSet struct {
	Entries  []Evidence    `json:"entries"`
	Degraded DegradedFlags `json:"degraded"`
}

// Filters restricts retrieval and parameterizes query enhancement.
type Filters struct {
	// ClassName is the asking character's class.
	ClassName string

	// Fame is the character's fame score; 0 means unknown.
	Fame int

	// Source restricts internal passages to one origin channel.
	Source string
}

// IsZero reports whether the filters restrict nothing.
func (f Filters) IsZero() bool {
	return f.ClassName == "" && f.Fame == 0 && f.Source == ""
}

// Fingerprint returns a stable digest for cache keys. Field order is fixed
// so equal filters always collide.
func (f Filters) Fingerprint() string {
	if f.IsZero() {
		return "none"
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("class=%s|fame=%d|source=%s", f.ClassName, f.Fame, f.Source)))
	return hex.EncodeToString(h[:8])
}

// NormalizeQuery collapses whitespace and lowercases latin text so cache
// keys ignore cosmetic differences.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// textPrefixHash identifies a web snippet that has no URL: SHA-256 of the
// first 200 normalized runes.
func textPrefixHash(text string) string {
	normalized := []rune(NormalizeQuery(text))
	if len(normalized) > 200 {
		normalized = normalized[:200]
	}
	sum := sha256.Sum256([]byte(string(normalized)))
	return hex.EncodeToString(sum[:16])
}
