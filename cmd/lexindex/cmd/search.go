package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clearbrief/lexindex/internal/store"
)

type searchFlags struct {
	limit        int
	docTypes     []string
	jurisdiction []string
	parties      []string
	after        string
	before       string
	require      []string
	exclude      []string
	boostRecent  bool
	boostHeaders bool
	signedOnly   bool
	strict       bool
	format       string
	context      int
}

func newSearchCmd() *cobra.Command {
	var flags searchFlags

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed corpus",
		Long: `Search runs the hybrid ranking pipeline: BM25 and semantic retrieval
fused with fixed weights, metadata boosts, and adaptive thresholding.

Examples:
  lexindex search "indemnification obligations"
  lexindex search "when does the lease expire" --doctype agreement --boost-recent
  lexindex search "payment terms" --party "Acme Corp" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), flags)
		},
	}

	cmd.Flags().IntVarP(&flags.limit, "limit", "n", 0, "Candidate window size (default from config)")
	cmd.Flags().StringSliceVarP(&flags.docTypes, "doctype", "t", nil, "Filter by document type (repeatable)")
	cmd.Flags().StringSliceVarP(&flags.jurisdiction, "jurisdiction", "j", nil, "Filter by jurisdiction (repeatable)")
	cmd.Flags().StringSliceVarP(&flags.parties, "party", "p", nil, "Filter by party name (repeatable)")
	cmd.Flags().StringVar(&flags.after, "after", "", "Only documents effective on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.before, "before", "", "Only documents effective on or before this date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&flags.require, "require", nil, "Terms that must appear (repeatable)")
	cmd.Flags().StringSliceVar(&flags.exclude, "exclude", nil, "Terms that must not appear (repeatable)")
	cmd.Flags().BoolVar(&flags.boostRecent, "boost-recent", false, "Boost documents effective within the last year")
	cmd.Flags().BoolVar(&flags.boostHeaders, "boost-headers", false, "Boost section header chunks")
	cmd.Flags().BoolVar(&flags.signedOnly, "boost-signed", false, "Boost signed or executed documents")
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "Return only results above the score threshold")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().IntVarP(&flags.context, "context", "C", 0, "Surrounding chunks to show per result")

	return cmd
}

func runSearch(cmd *cobra.Command, queryText string, flags searchFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Search.StrictThreshold = cfg.Search.StrictThreshold || flags.strict

	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Load(cmd.Context()); err != nil {
		return err
	}

	query, err := buildQuery(queryText, flags)
	if err != nil {
		return err
	}

	resp, err := mgr.Search(cmd.Context(), query)
	if err != nil {
		return err
	}

	if flags.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	out := cmd.OutOrStdout()
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	if resp.Degraded {
		fmt.Fprintln(out, "(semantic search unavailable, lexical results only)")
	}

	for i, r := range resp.Results {
		fmt.Fprintf(out, "%2d. [%.3f] %s", i+1, r.FinalScore, r.Chunk.DocID)
		if len(r.Chunk.SectionPath) > 0 {
			fmt.Fprintf(out, "  %s", strings.Join(r.Chunk.SectionPath, " > "))
		}
		fmt.Fprintln(out)
		for _, h := range r.Highlights {
			fmt.Fprintf(out, "      %s\n", h)
		}
		if flags.context > 0 {
			for _, c := range mgr.GetChunkContext(r.Chunk.ID, flags.context) {
				if c.ID != r.Chunk.ID {
					fmt.Fprintf(out, "      ... %s\n", truncate(c.Text, 120))
				}
			}
		}
	}

	fmt.Fprintf(out, "\n%d above threshold, %d below (%s)\n",
		resp.AboveThreshold, resp.BelowThreshold, resp.Took.Round(time.Millisecond))
	return nil
}

func buildQuery(text string, flags searchFlags) (*store.Query, error) {
	query := &store.Query{
		RawQuery:        text,
		Text:            text,
		RequiredTerms:   flags.require,
		ExcludedTerms:   flags.exclude,
		Parties:         flags.parties,
		BoostRecent:     flags.boostRecent,
		BoostHeaders:    flags.boostHeaders,
		BoostSignedDocs: flags.signedOnly,
		TopK:            flags.limit,
	}
	for _, t := range flags.docTypes {
		query.DocTypes = append(query.DocTypes, store.DocType(strings.ToLower(t)))
	}
	for _, j := range flags.jurisdiction {
		query.Jurisdictions = append(query.Jurisdictions, store.Jurisdiction(strings.ToUpper(j)))
	}
	if flags.after != "" {
		ts, err := time.Parse("2006-01-02", flags.after)
		if err != nil {
			return nil, fmt.Errorf("invalid --after date: %w", err)
		}
		query.DateFrom = &ts
	}
	if flags.before != "" {
		ts, err := time.Parse("2006-01-02", flags.before)
		if err != nil {
			return nil, fmt.Errorf("invalid --before date: %w", err)
		}
		query.DateTo = &ts
	}
	return query, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
