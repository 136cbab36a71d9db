package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index <folder>",
		Short: "Index a folder of parsed documents",
		Long: `Index reads parsed-document JSON files from a folder, deduplicates
them by content hash against the existing corpus, and rebuilds both the
lexical and semantic indexes.

Re-indexing an unchanged folder is cheap: documents whose bytes are
already known are re-tagged, not re-embedded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, args[0], force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reindex documents even when their content hash is unchanged")
	return cmd
}

func runIndex(cmd *cobra.Command, folder string, force bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	docs, unreadable, err := loadStructuredDocuments(folder)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No documents found in %s\n", folder)
		return nil
	}

	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	// Reuse the existing corpus so this add merges instead of replacing.
	_ = mgr.Load(cmd.Context())

	interactive := isatty.IsTerminal(os.Stdout.Fd())
	if interactive {
		fmt.Fprintf(cmd.OutOrStdout(), "Indexing %d documents from %s...\n", len(docs), folder)
	}

	report, err := mgr.AddDocuments(cmd.Context(), docs, folder, force)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Indexed %d, deduplicated %d, replaced %d, failed %d\n",
		report.Indexed, report.Deduplicated, report.Replaced, report.Failed+unreadable)

	stats := mgr.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "Corpus: %d documents, %d chunks\n", stats.Documents, stats.Chunks)
	return nil
}
