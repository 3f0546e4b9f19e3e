package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/graphdb"
	"github.com/abramin/callscope/internal/store"
)

var (
	exportFormat string
	exportOut    string
	neo4jURI     string
	neo4jUser    string
	neo4jPass    string
	neo4jDB      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the stored call graph",
	Long: `Export the call graph stored by "callscope analyze".

Formats:
  json   the renderer record (nodes and edges) on stdout or --out
  neo4j  RustFunc, RustSymbol and RustUnit nodes in a Neo4j database`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(st *store.Store, g *callgraph.Graph) error {
			switch exportFormat {
			case "json":
				return exportJSON(cmd.OutOrStdout(), g)
			case "neo4j":
				return exportNeo4j(cmd, st, g)
			default:
				return fmt.Errorf("unknown format %q", exportFormat)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "export format (json, neo4j)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file for json (default stdout)")
	exportCmd.Flags().StringVar(&neo4jURI, "neo4j-uri", "", "Neo4j bolt URI (overrides config)")
	exportCmd.Flags().StringVar(&neo4jUser, "neo4j-user", "", "Neo4j username (overrides config)")
	exportCmd.Flags().StringVar(&neo4jPass, "neo4j-pass", "", "Neo4j password (overrides config)")
	exportCmd.Flags().StringVar(&neo4jDB, "neo4j-db", "", "Neo4j database (overrides config)")
}

func exportJSON(stdout io.Writer, g *callgraph.Graph) error {
	if exportOut == "" {
		return printJSON(stdout, g.Export())
	}
	f, err := os.Create(exportOut)
	if err != nil {
		return err
	}
	if err := printJSON(f, g.Export()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exportNeo4j(cmd *cobra.Command, st *store.Store, g *callgraph.Graph) error {
	nc := GetConfig().Neo4j
	for _, o := range []struct {
		flag string
		dst  *string
	}{
		{neo4jURI, &nc.URI},
		{neo4jUser, &nc.User},
		{neo4jPass, &nc.Password},
		{neo4jDB, &nc.Database},
	} {
		if o.flag != "" {
			*o.dst = o.flag
		}
	}

	stored, err := st.GetAllTags()
	if err != nil {
		return err
	}
	tags := make(map[string][]string, len(stored))
	for id, ts := range stored {
		for _, t := range ts {
			tags[id] = append(tags[id], t.Tag)
		}
	}

	ctx := cmd.Context()
	exporter, err := graphdb.Connect(ctx, nc)
	if err != nil {
		return err
	}
	defer exporter.Close(ctx)

	res, err := exporter.Export(ctx, g, tags)
	if err != nil {
		return err
	}
	summary(cmd.OutOrStdout(), "Exported to Neo4j", [][2]string{
		{"Database", nc.URI},
		{"Units", strconv.Itoa(res.Units)},
		{"Functions", strconv.Itoa(res.Functions)},
		{"Calls", strconv.Itoa(res.Calls)},
		{"External", strconv.Itoa(res.External)},
		{"Unresolved", strconv.Itoa(res.Unresolved)},
	})
	return nil
}
