// Package cmd provides the CLI commands for lexindex.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/clearbrief/lexindex/internal/config"
	"github.com/clearbrief/lexindex/internal/embed"
	"github.com/clearbrief/lexindex/internal/index"
	"github.com/clearbrief/lexindex/internal/logging"
	"github.com/clearbrief/lexindex/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the lexindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lexindex",
		Short: "Hybrid lexical and semantic search over legal document corpora",
		Long: `lexindex maintains a local hybrid search index over structured legal
documents: a BM25 lexical index and an HNSW semantic index, fused and
boosted into one ranked result list.

Point it at folders of parsed document JSON, then search:

  lexindex index ./contracts
  lexindex search "indemnification obligations"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("lexindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: <data_dir>/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg.Level = "debug"
		cfg.WriteToStderr = true
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

// loadConfig loads the config file (or defaults) with env overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.Default().DataDir + "/config.yaml"
	}
	return config.Load(path)
}

// openManager wires the standard component stack: cached static
// embedder over the configured LRU, the corpus manager, no reranker.
func openManager(cfg *config.Config) (*index.Manager, error) {
	embedder, err := embed.NewCachedEmbedder(embed.NewStaticEmbedder(), cfg.Embeddings.CacheSize)
	if err != nil {
		return nil, err
	}
	return index.NewManager(cfg, embedder, nil, slog.Default())
}
