package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"

	"github.com/specup-ai/specup/internal/errors"
)

const (
	// GuideTokenizerName is the registry name of the guide-text tokenizer.
	GuideTokenizerName = "guide_tokenizer"

	// GuideStopFilterName is the registry name of the stop word filter.
	GuideStopFilterName = "guide_stop"

	// GuideAnalyzerName is the registry name of the guide-text analyzer.
	GuideAnalyzerName = "guide_analyzer"

	indexBatchSize = 512
)

func init() {
	_ = registry.RegisterTokenizer(GuideTokenizerName, guideTokenizerConstructor)
	_ = registry.RegisterTokenFilter(GuideStopFilterName, guideStopFilterConstructor)
}

// BleveLexicalIndex is an in-memory BM25 index over the passage corpus.
// Instances are built from a PassageStore snapshot and cached per corpus
// version, so the index itself never mutates after Build returns.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	count  int
	closed bool
	logger *slog.Logger
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// lexicalDocument is the shape bleve indexes for each passage.
// class_name and source are keyword fields so filters match exact values.
type lexicalDocument struct {
	Text      string `json:"text"`
	Title     string `json:"title"`
	ClassName string `json:"class_name"`
	Source    string `json:"source"`
}

// BuildLexicalIndex indexes every passage in the store into a fresh
// in-memory bleve index. An empty corpus yields a working index with zero
// documents, not an error.
func BuildLexicalIndex(ctx context.Context, ps PassageStore, logger *slog.Logger) (*BleveLexicalIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	indexMapping, err := createLexicalMapping()
	if err != nil {
		return nil, errors.StoreError("create lexical index mapping", err)
	}

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, errors.StoreError("create lexical index", err)
	}

	started := time.Now()
	count := 0
	batch := idx.NewBatch()

	err = ps.IterateAll(ctx, func(p *Passage) error {
		doc := lexicalDocument{
			Text:      p.Text,
			Title:     p.Metadata[MetaKeyTitle],
			ClassName: p.Metadata[MetaKeyClassName],
			Source:    p.Source,
		}
		if err := batch.Index(p.ID, doc); err != nil {
			return fmt.Errorf("index passage %s: %w", p.ID, err)
		}
		count++
		if batch.Size() >= indexBatchSize {
			if err := idx.Batch(batch); err != nil {
				return fmt.Errorf("flush index batch: %w", err)
			}
			batch = idx.NewBatch()
		}
		return nil
	})
	if err != nil {
		idx.Close()
		return nil, errors.StoreError("build lexical index", err)
	}

	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			idx.Close()
			return nil, errors.StoreError("flush lexical index", err)
		}
	}

	logger.Info("lexical_index_built",
		"passages", count,
		"duration_ms", time.Since(started).Milliseconds())

	return &BleveLexicalIndex{index: idx, count: count, logger: logger}, nil
}

func createLexicalMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(GuideAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": GuideTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			GuideStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add guide analyzer: %w", err)
	}

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = GuideAnalyzerName

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("text", textField)
	docMapping.AddFieldMappingsAt("title", textField)
	docMapping.AddFieldMappingsAt("class_name", keywordField)
	docMapping.AddFieldMappingsAt("source", keywordField)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = GuideAnalyzerName

	return indexMapping, nil
}

// Search runs a BM25 match query over passage text, constrained by filter.
// Scores are bleve's raw BM25 values and are only comparable to other
// lexical scores.
func (b *BleveLexicalIndex) Search(ctx context.Context, query string, filter Filter, limit int) ([]LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("text")

	var searchQuery = bleve.NewConjunctionQuery(matchQuery)
	if filter.ClassName != "" {
		tq := bleve.NewTermQuery(filter.ClassName)
		tq.SetField("class_name")
		searchQuery.AddQuery(tq)
	}
	if filter.Source != "" {
		tq := bleve.NewTermQuery(filter.Source)
		tq.SetField("source")
		searchQuery.AddQuery(tq)
	}

	req := bleve.NewSearchRequest(searchQuery)
	req.Size = limit
	req.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "lexical search failed", err)
	}

	results := make([]LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, LexicalResult{
			PassageID:    hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}
	return results, nil
}

// Count returns the number of indexed passages.
func (b *BleveLexicalIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Close releases the index. Safe to call more than once.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// extractMatchedTerms collects the analyzed terms that matched in the
// text field of a hit.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "text" {
			continue
		}
		for term := range locations {
			terms[term] = struct{}{}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

func guideTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &guideTokenizer{}, nil
}

// guideTokenizer adapts Tokenize to bleve's analysis interface.
type guideTokenizer struct{}

func (t *guideTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}

func guideStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &guideStopFilter{stopWords: BuildStopWordMap(DefaultStopWords)}, nil
}

type guideStopFilter struct {
	stopWords map[string]struct{}
}

func (f *guideStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
