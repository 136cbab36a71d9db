package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index state and corpus statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runStatus(cmd *cobra.Command, format string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	loadErr := mgr.Load(cmd.Context())
	stats := mgr.Stats()

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State:      %s\n", stats.State)
	fmt.Fprintf(out, "Data dir:   %s\n", cfg.DataDir)
	if loadErr != nil {
		fmt.Fprintf(out, "Note:       %v\n", loadErr)
		return nil
	}
	fmt.Fprintf(out, "Documents:  %d\n", stats.Documents)
	fmt.Fprintf(out, "Chunks:     %d\n", stats.Chunks)
	fmt.Fprintf(out, "Terms:      %d\n", stats.Terms)
	fmt.Fprintf(out, "Avg tokens: %.1f per chunk\n", stats.AvgDocLen)
	fmt.Fprintf(out, "Vectors:    %d (%d dimensions)\n", stats.Vectors, stats.Dimensions)

	if len(stats.Folders) > 0 {
		fmt.Fprintln(out, "Folders:")
		folders := make([]string, 0, len(stats.Folders))
		for f := range stats.Folders {
			folders = append(folders, f)
		}
		sort.Strings(folders)
		for _, f := range folders {
			fmt.Fprintf(out, "  %s (%d)\n", f, stats.Folders[f])
		}
	}
	return nil
}
