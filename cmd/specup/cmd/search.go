package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/specup-ai/specup/internal/output"
	"github.com/specup-ai/specup/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	className string
	fame      int
	source    string
	format    string // "text", "json"
	noWeb     bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve evidence for a progression question",
		Long: `Retrieve evidence for a progression question.

Runs lexical (BM25), vector, and web-grounded retrieval in parallel,
dedupes and reranks the candidates, and prints the fused evidence set.

Examples:
  specup search "명성 5만으로 갈 수 있는 던전"
  specup search "스킬 트리 추천" --class 버서커 --fame 52000
  specup search "이번 주 패치" --format json
  specup search "카지노 던전 보상" --source official --no-web`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVar(&opts.className, "class", "", "Character class filter (e.g. 버서커)")
	cmd.Flags().IntVar(&opts.fame, "fame", 0, "Character fame score")
	cmd.Flags().StringVar(&opts.source, "source", "", "Restrict internal passages to one source channel")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.noWeb, "no-web", false, "Skip web augmentation for this run")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.noWeb {
		cfg.WebSearch.Enabled = false
	}

	engine, err := search.NewEngine(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer engine.Close()

	set, err := engine.Search(ctx, query, search.Filters{
		ClassName: opts.className,
		Fame:      opts.fame,
		Source:    opts.source,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(set)
	}
	return printEvidence(cmd, query, set)
}

func printEvidence(cmd *cobra.Command, query string, set *search.EvidenceSet) error {
	out := output.New(cmd.OutOrStdout())

	if len(set.Entries) == 0 {
		out.Warningf("no evidence found for %q", query)
		return nil
	}

	out.Statusf("🔍", "%d evidence entries for %q", len(set.Entries), query)
	out.Newline()
	for i, e := range set.Entries {
		origins := make([]string, len(e.Origins))
		for j, o := range e.Origins {
			origins[j] = string(o)
		}
		out.Evidence(i+1, e.Score, origins, e.Title, e.URL, e.Text)
		out.Newline()
	}

	d := set.Degraded
	if d.Any() {
		switch {
		case d.Unreranked:
			out.Warning("reranker unavailable; ordering is approximate")
		case d.AugmentationTimeout:
			out.Warning("web search timed out; internal evidence only")
		case d.WebUnavailable:
			out.Warning("web search unavailable; internal evidence only")
		case d.LexicalUnavailable || d.VectorUnavailable:
			out.Warning("an internal retrieval origin was unavailable")
		}
	}
	return nil
}
