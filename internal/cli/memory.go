package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mnemo/internal/domain"
)

func printJSON(w io.Writer, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(output))
	return nil
}

// textArg joins positional args, or reads stdin when there are none.
func textArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func newSaveCmd(a *app) *cobra.Command {
	var (
		source   string
		customID string
		meta     map[string]string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "save [text]",
		Short: "Save a memory",
		Long: `Save a short text memory. The index embeds the text itself.
Without arguments the text is read from stdin.

Examples:
  mnemo save "The sky is blue." --source notes
  echo "Meeting moved to Friday" | mnemo save --meta team=infra`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := textArg(cmd, args)
			if err != nil {
				return err
			}
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			req := domain.SaveRequest{Text: text, Source: source, CustomID: customID}
			if len(meta) > 0 {
				req.Metadata = make(map[string]any, len(meta))
				for k, v := range meta {
					req.Metadata[k] = v
				}
			}
			res := svc.memory.Save(cmd.Context(), req)

			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, res.Message)
			}
			if !res.Success {
				return errors.New("save failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "where the memory came from")
	cmd.Flags().StringVar(&customID, "id", "", "record id (generated when empty)")
	cmd.Flags().StringToStringVarP(&meta, "meta", "m", nil, "extra metadata as key=value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newRecallCmd(a *app) *cobra.Command {
	var (
		query  string
		topK   int
		pack   bool
		budget int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Recall memories relevant to a query",
		Long: `Recall the memories closest to a query, best first.

Examples:
  mnemo recall -q "what color is the sky"
  mnemo recall -q "deadlines" -k 5 --json
  mnemo recall -q "deadlines" --pack -b 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			res := svc.memory.Recall(cmd.Context(), query, topK)
			out := cmd.OutOrStdout()

			if pack {
				if budget <= 0 {
					budget = a.cfg.Pack.TokenBudget
				}
				packed := svc.pack.Pack(query, res, budget)
				if asJSON {
					if err := printJSON(out, packed); err != nil {
						return err
					}
					return recallError(res)
				}
				if packed.Warning != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), packed.Warning)
				}
				fmt.Fprint(out, svc.pack.Render(packed))
				return recallError(res)
			}

			if asJSON {
				if err := printJSON(out, res); err != nil {
					return err
				}
				return recallError(res)
			}
			if res.Warning != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), res.Warning)
			}
			for i, m := range res.Matches {
				source, _ := m.Metadata[domain.MetaSource].(string)
				fmt.Fprintf(out, "--- [%d] %s (score: %.3f, source: %s) ---\n", i+1, m.ID, m.Score, source)
				fmt.Fprintln(out, m.Text)
				fmt.Fprintln(out)
			}
			return recallError(res)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "search query (required)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default from config)")
	cmd.Flags().BoolVarP(&pack, "pack", "p", false, "pack results into a prompt-ready context")
	cmd.Flags().IntVarP(&budget, "budget", "b", 0, "token budget for --pack (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.MarkFlagRequired("query")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <id>...",
		Short: "Show stored memories by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			records, err := svc.memory.Inspect(cmd.Context(), args)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return errors.New("no memories found")
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
	return cmd
}

func newForgetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <id>...",
		Short: "Delete memories by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			if err := svc.memory.Forget(cmd.Context(), args); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d memories.\n", len(args))
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Describe the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			stats, err := svc.memory.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the vector index answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			report := svc.memory.Health(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), report.Message)
			if !report.Healthy {
				return errors.New("unhealthy")
			}
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var (
		limit    int
		clearAll bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently saved memories from the local cache",
		Long: `List memories saved from this machine, newest first. The list comes from
the local display cache and may not match the index.

Examples:
  mnemo list -n 10
  mnemo list --clear`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			out := cmd.OutOrStdout()
			if clearAll {
				if err := svc.memory.ClearCache(); err != nil {
					return err
				}
				fmt.Fprintln(out, "Display cache cleared.")
				return nil
			}

			items, err := svc.memory.Recent(limit)
			if err != nil {
				return err
			}
			if asJSON {
				if items == nil {
					items = []domain.CachedMemory{}
				}
				return printJSON(out, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "No memories saved yet.")
				return nil
			}
			for _, it := range items {
				fmt.Fprintf(out, "%s  %s  [%s]\n  %s\n", it.SavedAt.Local().Format(time.DateTime), it.ID, it.Source, it.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries (0 = all)")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "empty the display cache")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// recallError is the exit error for a degraded recall, after its output
// has been written.
func recallError(res domain.RecallResult) error {
	if res.Degraded() {
		return fmt.Errorf("recall failed: %s", res.Kind)
	}
	return nil
}
