package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"mnemo/internal/adapter/chunker"
	"mnemo/internal/adapter/fs"
	"mnemo/internal/usecase"
)

func newImportCmd(a *app) *cobra.Command {
	var (
		source   string
		parentID string
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "import [path|-]",
		Short: "Chunk files or stdin into memories",
		Long: `Split long text into passages and save each one as a memory.
A directory is walked with the import include/exclude patterns; "-" reads stdin.
Re-importing the same file overwrites its passages.

Examples:
  mnemo import ./journal
  mnemo import notes.md --source "weekly notes"
  cat transcript.txt | mnemo import - --source call`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := a.rootDir
			if len(args) > 0 {
				target = args[0]
			}

			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			ic := a.cfg.Import
			walker := fs.NewWalker(ic.Includes, ic.Excludes, ic.MaxFileBytes)
			chk := chunker.NewLineChunker(ic.ChunkTokens, ic.ChunkOverlap, svc.tok)
			importUC := usecase.NewImportUseCase(svc.memory, chk, walker, ic.Concurrency, a.logger)

			var progress usecase.ProgressFunc
			if !quiet {
				progress = newImportProgress()
			}

			var result usecase.ImportResult
			if target == "-" {
				text, err := textArg(cmd, nil)
				if err != nil {
					return err
				}
				result, err = importUC.ImportText(cmd.Context(), usecase.ImportRequest{
					Text:     text,
					Source:   source,
					ParentID: parentID,
				}, progress)
				if err != nil {
					return fmt.Errorf("import failed: %w", err)
				}
			} else {
				path, err := filepath.Abs(target)
				if err != nil {
					return fmt.Errorf("invalid path: %w", err)
				}
				if _, err := os.Stat(path); err != nil {
					return fmt.Errorf("path does not exist: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scanning %s...\n", path)
				result, err = importUC.ImportPath(cmd.Context(), path, source, progress)
				if err != nil {
					return fmt.Errorf("import failed: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nImport complete:\n")
			fmt.Fprintf(out, "  Documents: %d\n", result.Documents)
			fmt.Fprintf(out, "  Passages:  %d\n", result.Chunks)
			fmt.Fprintf(out, "  Saved:     %d\n", len(result.Saved))
			if len(result.Failed) > 0 {
				fmt.Fprintf(out, "\nFailed:\n")
				for _, f := range result.Failed {
					fmt.Fprintf(out, "  - %s\n", f)
				}
				return fmt.Errorf("%d passages failed to save", len(result.Failed))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "source recorded on every passage (default: file path)")
	cmd.Flags().StringVar(&parentID, "parent-id", "", "parent id for stdin imports (generated when empty)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "hide the progress bar")
	return cmd
}

// newImportProgress draws a bar with an ETA. The bar is created on the
// first callback, once the total is known.
func newImportProgress() usecase.ProgressFunc {
	var (
		mu        sync.Mutex
		bar       *progressbar.ProgressBar
		startTime time.Time
	)
	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Saving[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}

		bar.Set(done)
		if done > 0 && done < total {
			rate := float64(done) / time.Since(startTime).Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Saving[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
