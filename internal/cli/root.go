package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mnemo/config"
)

// app carries what every command needs once the root has loaded config.
type app struct {
	cfgFile string
	rootDir string
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCmd builds the mnemo command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "mnemo",
		Short: "Long-term memory for agents, backed by a vector index",
		Long: `mnemo saves short text memories to a vector index and recalls the most
relevant ones for a query. Failures degrade to warnings instead of errors.

Example usage:
  mnemo save "The sky is blue." --source notes
  mnemo recall -q "what color is the sky"
  mnemo recall -q "sky" --pack          # Prompt-ready context
  mnemo import ./journal                # Chunk and save a directory
  mnemo serve                           # JSON API on :8088`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./mnemo.yaml)")
	root.PersistentFlags().StringVarP(&a.rootDir, "dir", "d", "", "root directory (default is current directory)")

	root.AddCommand(
		newSaveCmd(a),
		newRecallCmd(a),
		newFetchCmd(a),
		newForgetCmd(a),
		newStatsCmd(a),
		newHealthCmd(a),
		newListCmd(a),
		newImportCmd(a),
		newBenchCmd(a),
		newServeCmd(a),
	)
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) load(cmd *cobra.Command) error {
	var err error
	if a.rootDir == "" {
		a.rootDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	if a.cfgFile != "" {
		a.cfg, err = config.Load(a.cfgFile)
	} else {
		a.cfg, err = config.LoadFromDir(a.rootDir)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg.ApplyEnv(os.Getenv)
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.logger = newLogger(cmd.ErrOrStderr(), a.cfg.Logging.Level)
	return nil
}

// newLogger returns an slog logger rendered by charmbracelet/log.
func newLogger(w io.Writer, level string) *slog.Logger {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "mnemo",
	})
	return slog.New(handler)
}
