package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/server"
	"github.com/abramin/callscope/internal/store"
	"github.com/abramin/callscope/internal/watch"
)

var (
	servePort  int
	serveWatch bool
	serveUIDir string
	serveDebug bool
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"ui"},
	Short:   "Serve the call graph over HTTP",
	Long: `Start a local HTTP server exposing the call graph as JSON and serving
the renderer bundle.

The API provides:
- Graph export, subgraphs around a function and call spines
- Reachability, callers, shortest paths and topological order
- Entry points, diagnostics and function search
- Prometheus metrics on /metrics

Without --watch the graph stored by "callscope analyze" is served. With
--watch the project is analyzed on startup and every change to a source
file is folded into the served graph.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		var source server.GraphSource
		var w *watch.Watcher
		if serveWatch {
			ws := callgraph.NewWorkspace(cfg.GraphOptions())
			wc := watch.Config{Debounce: cfg.Server.WatchDebounce}
			if cfg.CacheEnabled() {
				if c, err := openUnitCache(cfg, projectDir); err == nil {
					defer c.Close()
					wc.Cache = c
				} else {
					slog.Warn("running without result cache", slog.String("error", err.Error()))
				}
			}
			w = watch.New(cfg, projectDir, ws, wc)
			if err := w.Seed(cmd.Context()); err != nil {
				return err
			}
			source = ws
		} else {
			var g *callgraph.Graph
			err := withStore(func(st *store.Store) error {
				var err error
				g, err = st.LoadGraph(cfg.GraphOptions())
				return err
			})
			if errors.Is(err, store.ErrNotIndexed) {
				return fmt.Errorf("%w: run \"callscope analyze\" first or use --watch", err)
			}
			if err != nil {
				return err
			}
			source = server.Static(g)
		}

		srv := server.New(server.Config{
			Port:     port,
			UIDir:    serveUIDir,
			Analysis: cfg,
			Debug:    serveDebug,
		}, source)

		mode := "stored graph"
		if serveWatch {
			mode = "watch"
		}
		summary(cmd.OutOrStdout(), "callscope", [][2]string{
			{"Address", fmt.Sprintf("http://localhost:%d", port)},
			{"Functions", fmt.Sprint(source.Snapshot().Len())},
			{"Mode", mode},
		})

		eg, ctx := errgroup.WithContext(cmd.Context())
		eg.Go(func() error { return srv.Run(ctx) })
		if w != nil {
			eg.Go(func() error { return w.Run(ctx) })
			eg.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case u := <-w.Updates():
						slog.Debug("workspace changed",
							slog.String("unit", u.Unit),
							slog.String("op", string(u.Op)),
							slog.Uint64("version", u.Version))
					}
				}
			})
		}
		return eg.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (default from config, 8080)")
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "analyze on startup and follow source changes")
	serveCmd.Flags().StringVar(&serveUIDir, "ui-dir", "", "directory of the renderer bundle")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "log every request")
}
