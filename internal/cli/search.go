package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/pkg/memory"
)

var (
	searchOwner      string
	searchSession    string
	searchLimit      int
	searchMinScore   float64
	searchVectorOnly bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Search stored memories by hybrid relevance",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cfg, closer, err := openManager()
		if err != nil {
			return err
		}
		defer closer()

		query := strings.Join(args, " ")

		var results []memory.SearchResult
		if searchVectorOnly {
			results, err = mgr.Search(cmd.Context(), searchOwner, query, searchLimit, searchSession)
		} else {
			opts := searchDefaults(cfg)
			opts.Limit = searchLimit
			opts.SessionKey = searchSession
			if cmd.Flags().Changed("min-score") {
				opts.MinScore = &searchMinScore
			}
			results, err = mgr.SearchHybrid(cmd.Context(), searchOwner, query, &opts)
		}
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("no results")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%2d. [%.3f] %s", i+1, r.Score, r.Chunk.ID)
			if r.VectorScore != nil {
				fmt.Printf(" vec=%.3f", *r.VectorScore)
			}
			if r.TextScore != nil {
				fmt.Printf(" text=%.3f", *r.TextScore)
			}
			fmt.Println()
			text := r.Snippet
			if text == "" {
				text = r.Chunk.Content
			}
			fmt.Printf("    %s\n", text)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchOwner, "owner", "", "owner id (required)")
	searchCmd.Flags().StringVar(&searchSession, "session", "", "session key")
	searchCmd.Flags().IntVar(&searchLimit, "limit", memory.DefaultLimit, "maximum results")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", memory.DefaultMinScore, "minimum fused score")
	searchCmd.Flags().BoolVar(&searchVectorOnly, "vector-only", false, "skip lexical ranking")
	searchCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(searchCmd)
}
