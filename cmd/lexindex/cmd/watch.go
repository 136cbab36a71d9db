package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clearbrief/lexindex/internal/index"
	"github.com/clearbrief/lexindex/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <folder>",
		Short: "Watch a folder and reindex on changes",
		Long: `Watch indexes the folder, then keeps the index current: file changes
are debounced and trigger a background resync of the folder, removing
documents whose files were deleted. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args[0])
		},
	}
	return cmd
}

func runWatch(cmd *cobra.Command, folder string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	debounce, err := cfg.DebounceDuration()
	if err != nil {
		return err
	}

	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()
	_ = mgr.Load(cmd.Context())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initial sync before watching.
	if err := reindexFolder(ctx, mgr, folder); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl-C to stop)\n", folder)

	bg := index.NewBackgroundIndexer(mgr, slog.Default())
	w, err := watcher.New(func(ctx context.Context, changed string) {
		docs, _, err := loadStructuredDocuments(changed)
		if err != nil {
			slog.Warn("reindex skipped", slog.String("error", err.Error()))
			return
		}
		if err := bg.StartSync(ctx, docs, changed); err != nil {
			slog.Warn("reindex rejected", slog.String("error", err.Error()))
		}
	}, watcher.Options{Debounce: debounce}, slog.Default())
	if err != nil {
		return err
	}
	defer w.Stop()
	defer bg.Stop()

	if err := w.Start(ctx, folder); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func reindexFolder(ctx context.Context, mgr *index.Manager, folder string) error {
	docs, _, err := loadStructuredDocuments(folder)
	if err != nil {
		return err
	}
	report, err := mgr.SyncFolder(ctx, docs, folder)
	if err != nil {
		return err
	}
	slog.Info("initial sync complete",
		slog.Int("indexed", report.Indexed),
		slog.Int("deduplicated", report.Deduplicated),
		slog.Int("removed", report.Removed))
	return nil
}
