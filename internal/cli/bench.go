package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newBenchCmd(a *app) *cobra.Command {
	var (
		query string
		topK  int
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Report recall quality for a query",
		Long: `Run one recall and rate how similar the matches are to the query.
Useful after switching embedding models or backends.

Examples:
  mnemo bench -q "what color is the sky" -k 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			out := cmd.OutOrStdout()
			stats, err := svc.memory.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "RECALL BENCHMARK")
			fmt.Fprintln(out, strings.Repeat("=", 70))
			fmt.Fprintf(out, "Records indexed: %d\n", stats.TotalRecordCount)
			fmt.Fprintf(out, "Query model: %s (%s)\n", a.cfg.Embedding.Model, a.cfg.Embedding.Provider)
			fmt.Fprintf(out, "Index dimension: %d\n", stats.Dimension)
			if adv := svc.memory.Advisory(); adv != "" {
				fmt.Fprintln(out, adv)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Query: %q\n", query)
			fmt.Fprintln(out, strings.Repeat("-", 70))

			res := svc.memory.Recall(cmd.Context(), query, topK)
			if len(res.Matches) == 0 {
				fmt.Fprintln(out, res.Warning)
				return recallError(res)
			}

			total := 0.0
			for i, m := range res.Matches {
				total += m.Score
				preview := strings.Join(strings.Fields(m.Text), " ")
				if r := []rune(preview); len(r) > 150 {
					preview = string(r[:150]) + "..."
				}
				fmt.Fprintf(out, "%d. [%s %.3f] %s\n", i+1, rating(m.Score), m.Score, m.ID)
				fmt.Fprintf(out, "   %s\n\n", preview)
			}

			avg := total / float64(len(res.Matches))
			fmt.Fprintln(out, strings.Repeat("=", 70))
			fmt.Fprintln(out, "QUALITY METRICS:")
			fmt.Fprintf(out, "  Average similarity: %.3f\n", avg)
			fmt.Fprintf(out, "  Top-1 similarity:   %.3f\n", res.Matches[0].Score)
			fmt.Fprintf(out, "  Status: %s\n", verdict(avg))
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "query to test (required)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 10, "number of results")
	cmd.MarkFlagRequired("query")
	return cmd
}

func rating(score float64) string {
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	}
	return "LOW"
}

func verdict(avg float64) string {
	switch {
	case avg > 0.5:
		return "GOOD - recall is working well"
	case avg > 0.3:
		return "OK - results are somewhat related"
	}
	return "POOR - check that query and index embeddings match"
}
