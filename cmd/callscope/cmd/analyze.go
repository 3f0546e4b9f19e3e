package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/abramin/callscope/internal/cache"
	"github.com/abramin/callscope/internal/config"
	"github.com/abramin/callscope/internal/index"
)

var analyzeNoCache bool

var analyzeCmd = &cobra.Command{
	Use:     "analyze [path]",
	Aliases: []string{"index"},
	Short:   "Analyze a Rust project and store its call graph",
	Long: `Analyze the Rust sources under a project directory and build their
call graph.

The analyze command:
- Discovers .rs files, honoring excluded directories and .gitignore
- Parses every unit with tree-sitter and resolves its calls
- Detects entry points and verification-reachable functions
- Tags functions with I/O boundaries and layer info
- Persists results to .callscope/index.db and .callscope/graph.json

Unchanged units are served from the result cache in .callscope/cache.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := projectDir
		if len(args) > 0 {
			path = args[0]
		}
		cfg := GetConfig()

		indexer := index.NewIndexer(cfg, path)
		if cfg.CacheEnabled() && !analyzeNoCache {
			c, err := openUnitCache(cfg, indexer.ProjectDir())
			if err != nil {
				slog.Warn("running without result cache", slog.String("error", err.Error()))
			} else {
				defer c.Close()
				indexer.WithCache(c)
			}
		}

		result, err := indexer.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		summary(cmd.OutOrStdout(), "Analysis complete", [][2]string{
			{"Units", fmt.Sprintf("%d (%d cached)", result.UnitCount, result.Cached)},
			{"Functions", strconv.Itoa(result.FunctionCount)},
			{"Call edges", strconv.Itoa(result.EdgeCount)},
			{"Entry points", strconv.Itoa(result.EntrypointCount)},
			{"Tags", strconv.Itoa(result.TagCount)},
			{"Diagnostics", strconv.Itoa(result.DiagnosticCount)},
			{"Duration", result.Duration.Round(time.Millisecond).String()},
			{"Database", result.DBPath},
			{"Graph", result.GraphPath},
		})
		for _, s := range result.Skipped {
			fmt.Fprintln(cmd.OutOrStdout(), styles.Warning.Render("skipped: ")+s)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeNoCache, "no-cache", false, "analyze every unit, ignoring cached results")
}

// openUnitCache opens the per-unit result cache under the project directory.
func openUnitCache(cfg *config.Config, dir string) (*cache.Cache, error) {
	cacheDir := cfg.Analysis.CacheDir
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(dir, cacheDir)
	}
	return cache.Open(cache.Config{Path: cacheDir, Logger: slog.Default().With(slog.String("component", "cache"))})
}
