package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <folder>",
		Short: "Remove all documents indexed from a folder",
		Long: `Remove drops every document whose file path lies within the given
folder and rebuilds the remaining index. Documents shared with other
folders by content are only removed if their recorded path is inside
the folder being removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, args[0])
		},
	}
	return cmd
}

func runRemove(cmd *cobra.Command, folder string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Load(cmd.Context()); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No index to remove from.")
		return nil
	}

	removed, err := mgr.RemoveFolder(cmd.Context(), folder)
	if err != nil {
		return err
	}
	if removed == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No indexed documents under %s\n", folder)
		return nil
	}

	stats := mgr.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d documents; %d remain\n", removed, stats.Documents)
	return nil
}
