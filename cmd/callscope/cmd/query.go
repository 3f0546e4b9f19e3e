package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/store"
)

var (
	queryJSON       bool
	queryLimit      int
	entrypointsType string
	entrypointsText string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the stored call graph",
	Long: `Answer questions about the call graph stored by "callscope analyze".

Functions are named by id or, when unique, by qualified name.`,
}

var reachableCmd = &cobra.Command{
	Use:   "reachable <function>",
	Short: "List the functions reachable from a function",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *store.Store, g *callgraph.Graph) error {
			id, err := g.Lookup(args[0])
			if err != nil {
				return err
			}
			ids, err := g.ReachableFrom(id)
			if err != nil {
				return err
			}
			return printIDs(cmd.OutOrStdout(), ids)
		})
	},
}

var callersCmd = &cobra.Command{
	Use:   "callers <function>",
	Short: "List the direct callers of a function",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *store.Store, g *callgraph.Graph) error {
			id, err := g.Lookup(args[0])
			if err != nil {
				return err
			}
			return printIDs(cmd.OutOrStdout(), g.Callers(id))
		})
	},
}

var pathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Print a shortest call path between two functions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *store.Store, g *callgraph.Graph) error {
			from, err := g.Lookup(args[0])
			if err != nil {
				return err
			}
			to, err := g.Lookup(args[1])
			if err != nil {
				return err
			}
			path, err := g.ShortestPath(from, to)
			if err != nil {
				return err
			}
			if queryJSON {
				return printJSON(cmd.OutOrStdout(), path)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(path, " -> "))
			return nil
		})
	},
}

var topoCmd = &cobra.Command{
	Use:   "topo",
	Short: "Print the functions in caller-before-callee order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *store.Store, g *callgraph.Graph) error {
			order, err := g.TopologicalOrder()
			var cycle *callgraph.CycleError
			if errors.As(err, &cycle) {
				return fmt.Errorf("no topological order: %w", err)
			}
			if err != nil {
				return err
			}
			return printIDs(cmd.OutOrStdout(), order)
		})
	},
}

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "List groups of mutually recursive functions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *store.Store, g *callgraph.Graph) error {
			cycles := g.Cycles()
			if queryJSON {
				return printJSON(cmd.OutOrStdout(), cycles)
			}
			for _, c := range cycles {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(c, ", "))
			}
			return nil
		})
	},
}

var entrypointsCmd = &cobra.Command{
	Use:   "entrypoints",
	Short: "List detected entry points",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			eps, err := st.GetEntrypoints(store.EntrypointFilter{
				Type:  store.EntrypointType(entrypointsType),
				Query: entrypointsText,
				Limit: queryLimit,
			})
			if err != nil {
				return err
			}
			if queryJSON {
				return printJSON(cmd.OutOrStdout(), eps)
			}
			for _, ep := range eps {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", ep.Type, ep.FunctionID)
			}
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find functions whose qualified name contains text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			limit := queryLimit
			if limit <= 0 {
				limit = 50
			}
			hits, err := st.SearchFunctions(args[0], limit)
			if err != nil {
				return err
			}
			if queryJSON {
				return printJSON(cmd.OutOrStdout(), hits)
			}
			for _, h := range hits {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s:%d\n", h.ID, h.Unit, h.Line)
			}
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the stored call graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(st *store.Store, g *callgraph.Graph) error {
			s := g.Stats()
			meta, err := st.GetStats()
			if err != nil {
				return err
			}
			if queryJSON {
				return printJSON(cmd.OutOrStdout(), s)
			}
			summary(cmd.OutOrStdout(), "Call graph", [][2]string{
				{"Run", meta.RunID},
				{"Units", strconv.Itoa(meta.UnitCount)},
				{"Functions", fmt.Sprintf("%d (%d public)", s.Nodes, s.Public)},
				{"Edges", fmt.Sprintf("%d resolved, %d external, %d unresolved", s.Resolved, s.External, s.Unresolved)},
				{"Closures", strconv.Itoa(s.ClosureEdges)},
				{"Entry points", strconv.Itoa(s.EntryPoints)},
				{"Cycles", strconv.Itoa(s.Cycles)},
				{"Verified", strconv.Itoa(s.Verified)},
				{"Diagnostics", strconv.Itoa(s.Diagnostics)},
			})
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.PersistentFlags().BoolVar(&queryJSON, "json", false, "print JSON")
	queryCmd.PersistentFlags().IntVar(&queryLimit, "limit", 0, "maximum number of results")

	entrypointsCmd.Flags().StringVar(&entrypointsType, "type", "", "filter by type (main, test, bench, public, unreferenced)")
	entrypointsCmd.Flags().StringVar(&entrypointsText, "query", "", "filter by label substring")

	queryCmd.AddCommand(reachableCmd, callersCmd, pathCmd, topoCmd, cyclesCmd, entrypointsCmd, searchCmd, statsCmd)
}

// withStore opens the project's store for the duration of fn.
func withStore(fn func(*store.Store) error) error {
	st, err := store.Open(projectDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	return fn(st)
}

// withGraph loads the stored graph and hands it to fn.
func withGraph(fn func(*store.Store, *callgraph.Graph) error) error {
	return withStore(func(st *store.Store) error {
		g, err := st.LoadGraph(GetConfig().GraphOptions())
		if errors.Is(err, store.ErrNotIndexed) {
			return fmt.Errorf("%w: run \"callscope analyze\" first", err)
		}
		if err != nil {
			return err
		}
		return fn(st, g)
	})
}

func printIDs(w io.Writer, ids []string) error {
	if queryLimit > 0 && len(ids) > queryLimit {
		ids = ids[:queryLimit]
	}
	if queryJSON {
		if ids == nil {
			ids = []string{}
		}
		return printJSON(w, ids)
	}
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	return nil
}
