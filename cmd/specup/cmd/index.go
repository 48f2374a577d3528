package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/specup-ai/specup/internal/config"
	"github.com/specup-ai/specup/internal/embed"
	"github.com/specup-ai/specup/internal/errors"
	"github.com/specup-ai/specup/internal/output"
	"github.com/specup-ai/specup/internal/store"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	importPath string
	batchSize  int
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed the passage corpus and rebuild the vector index",
		Long: `Embed the passage corpus and rebuild the vector index.

Reads every passage from the store, generates embeddings through the
configured embedding service, and writes a fresh HNSW index to disk.
With --import, JSON Lines passage dumps from the ingestion pipeline are
loaded into the store first.

Examples:
  specup index
  specup index --import passages.jsonl`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.importPath, "import", "", "JSON Lines passage file to load before indexing")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Embedding batch size (default from config)")

	return cmd
}

// importedPassage is the JSON Lines row shape the ingestion pipeline emits.
type importedPassage struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Source      string            `json:"source"`
	URL         string            `json:"url,omitempty"`
	PublishedAt time.Time         `json:"published_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.batchSize > 0 {
		cfg.Embeddings.BatchSize = opts.batchSize
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return errors.ConfigError(fmt.Sprintf("create data dir %s", cfg.Paths.DataDir), err)
	}

	s, err := store.OpenSQLitePassageStore(cfg.Paths.PassageDB, slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.importPath != "" {
		n, err := importPassages(ctx, s, opts.importPath)
		if err != nil {
			return err
		}
		out.Successf("imported %d passages from %s", n, opts.importPath)
	}

	count, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		out.Warning("passage store is empty; nothing to index")
		return nil
	}

	embedder, err := embed.NewHTTPEmbedder(embed.HTTPConfig{
		BaseURL:    cfg.Embeddings.BaseURL,
		APIKey:     cfg.Embeddings.APIKey,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		Timeout:    cfg.Embeddings.Timeout.Std(),
	}, slog.Default())
	if err != nil {
		return err
	}
	defer embedder.Close()

	if !embedder.Available(ctx) {
		return errors.UpstreamError(
			fmt.Sprintf("embedding service %s is not reachable", cfg.Embeddings.BaseURL), nil).
			WithSuggestion("start the embedding service or adjust embeddings.base_url")
	}

	out.Statusf("🧮", "embedding %d passages with %s", count, embedder.ModelName())
	if err := embedCorpus(ctx, s, embedder, cfg, count, out); err != nil {
		return err
	}

	out.Status("🕸️", "building vector index")
	index, vectors, err := buildVectorIndex(ctx, s, cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	if err := index.Save(cfg.Paths.VectorIndex); err != nil {
		return errors.StoreError(fmt.Sprintf("save vector index %s", cfg.Paths.VectorIndex), err)
	}

	if err := s.SetState(ctx, store.StateKeyEmbeddingModel, embedder.ModelName()); err != nil {
		return err
	}
	if err := s.SetState(ctx, store.StateKeyEmbeddingDim, fmt.Sprintf("%d", embedder.Dimensions())); err != nil {
		return err
	}

	out.Successf("indexed %d passages (%d vectors) -> %s", count, vectors, cfg.Paths.VectorIndex)
	return nil
}

// importPassages loads a JSON Lines dump into the store. The whole file is
// parsed before anything is written so a malformed line aborts cleanly.
func importPassages(ctx context.Context, s *store.SQLitePassageStore, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.ValidationError(fmt.Sprintf("open import file %s", path), err)
	}
	defer f.Close()

	var passages []*store.Passage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var row importedPassage
		if err := json.Unmarshal(raw, &row); err != nil {
			return 0, errors.ValidationError(fmt.Sprintf("%s line %d", filepath.Base(path), line), err)
		}
		if row.ID == "" || row.Text == "" {
			return 0, errors.ValidationError(
				fmt.Sprintf("%s line %d: id and text are required", filepath.Base(path), line), nil)
		}
		passages = append(passages, &store.Passage{
			ID:          row.ID,
			Text:        row.Text,
			Source:      row.Source,
			URL:         row.URL,
			PublishedAt: row.PublishedAt,
			Metadata:    row.Metadata,
		})
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.ValidationError(fmt.Sprintf("read import file %s", path), err)
	}
	if len(passages) == 0 {
		return 0, nil
	}

	if err := s.SavePassages(ctx, passages); err != nil {
		return 0, err
	}
	return len(passages), nil
}

// embedCorpus embeds every passage in batches and persists the vectors.
func embedCorpus(ctx context.Context, s *store.SQLitePassageStore, embedder embed.Embedder, cfg *config.Config, total int, out *output.Writer) error {
	batchSize := cfg.Embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}

	var (
		ids   []string
		texts []string
		done  int
	)
	flush := func() error {
		if len(ids) == 0 {
			return nil
		}
		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		for i, id := range ids {
			if err := s.SaveEmbedding(ctx, id, embedder.ModelName(), vectors[i]); err != nil {
				return err
			}
		}
		done += len(ids)
		out.Progress(done, total, "embedding")
		ids = ids[:0]
		texts = texts[:0]
		return nil
	}

	err := s.IterateAll(ctx, func(p *store.Passage) error {
		ids = append(ids, p.ID)
		texts = append(texts, p.Text)
		if len(ids) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// buildVectorIndex creates a fresh HNSW graph from the persisted
// embeddings.
func buildVectorIndex(ctx context.Context, s *store.SQLitePassageStore, cfg *config.Config) (*store.HNSWIndex, int, error) {
	index, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(cfg.Embeddings.Dimensions))
	if err != nil {
		return nil, 0, err
	}

	var (
		ids     []string
		vectors [][]float32
	)
	err = s.IterateEmbeddings(ctx, func(passageID string, vector []float32) error {
		ids = append(ids, passageID)
		vectors = append(vectors, vector)
		return nil
	})
	if err != nil {
		index.Close()
		return nil, 0, err
	}

	if err := index.Add(ctx, ids, vectors); err != nil {
		index.Close()
		return nil, 0, err
	}
	return index, len(ids), nil
}
