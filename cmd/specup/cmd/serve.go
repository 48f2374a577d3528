package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/specup-ai/specup/internal/search"
	"github.com/specup-ai/specup/internal/watcher"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a long-lived line-protocol worker",
		Long: `Run the engine as a long-lived line-protocol worker.

Keeps the indexes, embedder, and reranker warm across queries. Reads one
query request per line from stdin and writes one evidence set per line
to stdout, both as JSON:

  {"query": "명성 5만 던전", "class_name": "버서커", "fame": 50000}

A corpus watcher invalidates the in-memory caches when the ingestion
pipeline rewrites the passage database or vector index on disk.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}
	return cmd
}

// serveRequest is one line of the stdin protocol.
type serveRequest struct {
	Query     string `json:"query"`
	ClassName string `json:"class_name,omitempty"`
	Fame      int    `json:"fame,omitempty"`
	Source    string `json:"source,omitempty"`
}

// serveResponse is one line of the stdout protocol.
type serveResponse struct {
	Result *search.EvidenceSet `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, err := search.NewEngine(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer engine.Close()

	w := watcher.New(
		[]string{cfg.Paths.PassageDB, cfg.Paths.VectorIndex},
		watcher.DefaultDebounce,
		engine.InvalidateCorpusCaches,
		slog.Default(),
	)
	if err := w.Start(ctx); err != nil {
		// A failed watcher only costs cache freshness, not correctness.
		slog.Warn("corpus_watcher_unavailable", "error", err)
	} else {
		defer w.Close()
	}

	slog.Info("serve_started")
	return serveLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), engine)
}

// retriever is the slice of the engine serveLoop needs.
type retriever interface {
	Search(ctx context.Context, query string, filters search.Filters) (*search.EvidenceSet, error)
}

func serveLoop(ctx context.Context, in io.Reader, out io.Writer, engine retriever) error {
	enc := json.NewEncoder(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req serveRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			if err := enc.Encode(serveResponse{Error: fmt.Sprintf("bad request: %v", err)}); err != nil {
				return err
			}
			continue
		}

		set, err := engine.Search(ctx, req.Query, search.Filters{
			ClassName: req.ClassName,
			Fame:      req.Fame,
			Source:    req.Source,
		})
		resp := serveResponse{Result: set}
		if err != nil {
			resp = serveResponse{Error: err.Error()}
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}
