package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/specup-ai/specup/configs"
	"github.com/specup-ai/specup/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage engine configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the effective configuration after merging defaults, the
config file, and SPECUP_* environment overrides. API keys are redacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			redacted := *cfg
			redacted.Embeddings.APIKey = redactKey(cfg.Embeddings.APIKey)
			redacted.Rerank.APIKey = redactKey(cfg.Rerank.APIKey)
			redacted.WebSearch.APIKey = redactKey(cfg.WebSearch.APIKey)

			data, err := yaml.Marshal(&redacted)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			path := configPath
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				path = filepath.Join(home, ".specup", "specup.yaml")
			}

			if _, err := os.Stat(path); err == nil && !force {
				out.Warningf("%s already exists (use --force to overwrite)", path)
				return nil
			}

			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			content := strings.ReplaceAll(configs.ConfigTemplate, "~", home)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			out.Successf("wrote %s", path)
			out.Status("", "set web_search.api_key (or SPECUP_WEB_SEARCH_API_KEY) and enable web_search to turn on web grounding")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func redactKey(key string) string {
	if key == "" {
		return ""
	}
	return "********"
}
