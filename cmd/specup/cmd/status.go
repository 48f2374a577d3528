package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/specup-ai/specup/internal/config"
	"github.com/specup-ai/specup/internal/embed"
	"github.com/specup-ai/specup/internal/output"
	"github.com/specup-ai/specup/internal/rerank"
	"github.com/specup-ai/specup/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show corpus and service status",
		Long: `Show corpus and service status: passage count, corpus version,
vector index size, and reachability of the embedding and reranking
services.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd)
		},
	}
}

func runStatus(ctx context.Context, cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.Paths.PassageDB); os.IsNotExist(err) {
		out.Warningf("no passage store at %s (run 'specup index --import' first)", cfg.Paths.PassageDB)
		return nil
	}

	s, err := store.OpenSQLitePassageStore(cfg.Paths.PassageDB, slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()

	count, err := s.Count(ctx)
	if err != nil {
		return err
	}
	version, err := s.CorpusVersion(ctx)
	if err != nil {
		return err
	}
	out.Statusf("📚", "corpus: %d passages (version %s)", count, version)

	if dims, err := store.ReadHNSWIndexDimensions(cfg.Paths.VectorIndex); err != nil {
		out.Warningf("vector index: not built (%s)", cfg.Paths.VectorIndex)
	} else {
		out.Statusf("🕸️", "vector index: %d dimensions (%s)", dims, cfg.Paths.VectorIndex)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	reportService(out, "embeddings", cfg.Embeddings.BaseURL, probeEmbedder(probeCtx, cfg))
	if cfg.Rerank.Enabled {
		reportService(out, "reranker", cfg.Rerank.BaseURL, probeReranker(probeCtx, cfg))
	} else {
		out.Status("", "reranker: disabled")
	}
	if cfg.WebSearch.Enabled {
		out.Statusf("", "web search: enabled (%s)", cfg.WebSearch.Model)
	} else {
		out.Status("", "web search: disabled")
	}
	return nil
}

func reportService(out *output.Writer, name, url string, up bool) {
	if up {
		out.Successf("%s: reachable (%s)", name, url)
	} else {
		out.Warningf("%s: unreachable (%s)", name, url)
	}
}

func probeEmbedder(ctx context.Context, cfg *config.Config) bool {
	e, err := embed.NewHTTPEmbedder(embed.HTTPConfig{
		BaseURL:    cfg.Embeddings.BaseURL,
		APIKey:     cfg.Embeddings.APIKey,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		Timeout:    cfg.Embeddings.Timeout.Std(),
	}, slog.Default())
	if err != nil {
		return false
	}
	defer e.Close()
	return e.Available(ctx)
}

func probeReranker(ctx context.Context, cfg *config.Config) bool {
	r, err := rerank.NewHTTPReranker(rerank.HTTPConfig{
		BaseURL: cfg.Rerank.BaseURL,
		APIKey:  cfg.Rerank.APIKey,
		Model:   cfg.Rerank.Model,
		Timeout: cfg.Rerank.Timeout.Std(),
	}, slog.Default())
	if err != nil {
		return false
	}
	defer r.Close()
	return r.Available(ctx)
}
