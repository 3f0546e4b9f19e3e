// Package graphdb exports call graphs into Neo4j for ad-hoc Cypher queries.
//
// The exported model:
//
//	(:RustUnit {name})
//	(:RustFunc {id, name, qualified_name, owner, unit, visibility, line, ...})-[:IN_UNIT]->(:RustUnit)
//	(:RustFunc)-[:CALLS {occurrences, via_closure, line, column}]->(:RustFunc)
//	(:RustFunc)-[:CALLS_EXTERNAL {occurrences, via_closure, line, column}]->(:RustSymbol {name, unresolved: false})
//	(:RustFunc)-[:CALLS_UNRESOLVED {occurrences, line, column}]->(:RustSymbol {name, unresolved: true})
package graphdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/config"
)

// DefaultBatchSize is the number of rows sent per UNWIND statement.
const DefaultBatchSize = 500

// ErrNotConfigured is returned by Connect when no URI is set.
var ErrNotConfigured = errors.New("neo4j is not configured")

// Runner executes one Cypher statement.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

// Exporter loads call graphs into a graph database using batch UNWIND
// queries.
type Exporter struct {
	runner    Runner
	closer    func(context.Context) error
	batchSize int
}

// Result counts what an export wrote.
type Result struct {
	Units      int
	Functions  int
	Calls      int
	External   int
	Unresolved int
}

// driverRunner runs statements through a Neo4j driver.
type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r driverRunner) Run(ctx context.Context, cypher string, params map[string]any) error {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if r.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(r.database))
	}
	_, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	return err
}

// Connect opens a driver for cfg and verifies the server is reachable.
func Connect(ctx context.Context, cfg config.Neo4jConfig) (*Exporter, error) {
	if cfg.URI == "" {
		return nil, ErrNotConfigured
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URI, err)
	}
	e := NewExporter(driverRunner{driver: driver, database: cfg.Database})
	e.closer = driver.Close
	return e, nil
}

// NewExporter creates an exporter that sends its statements to r.
func NewExporter(r Runner) *Exporter {
	return &Exporter{runner: r, batchSize: DefaultBatchSize}
}

// WithBatchSize sets the number of rows per statement.
func (e *Exporter) WithBatchSize(n int) *Exporter {
	if n > 0 {
		e.batchSize = n
	}
	return e
}

// Close releases the underlying driver, if any.
func (e *Exporter) Close(ctx context.Context) error {
	if e.closer == nil {
		return nil
	}
	return e.closer(ctx)
}

// CleanGraph removes every previously exported node and relationship.
func (e *Exporter) CleanGraph(ctx context.Context) error {
	slog.Info("cleaning existing call graph data")
	queries := []string{
		"MATCH (n:RustFunc) DETACH DELETE n",
		"MATCH (n:RustSymbol) DETACH DELETE n",
		"MATCH (n:RustUnit) DETACH DELETE n",
	}
	for _, q := range queries {
		if err := e.runner.Run(ctx, q, nil); err != nil {
			return err
		}
	}
	return nil
}

// CreateIndexes ensures the lookup indexes exist.
func (e *Exporter) CreateIndexes(ctx context.Context) error {
	indexes := []string{
		"CREATE INDEX rust_func_id IF NOT EXISTS FOR (n:RustFunc) ON (n.id)",
		"CREATE INDEX rust_func_name IF NOT EXISTS FOR (n:RustFunc) ON (n.qualified_name)",
		"CREATE INDEX rust_symbol_name IF NOT EXISTS FOR (n:RustSymbol) ON (n.name)",
		"CREATE INDEX rust_unit_name IF NOT EXISTS FOR (n:RustUnit) ON (n.name)",
	}
	for _, q := range indexes {
		if err := e.runner.Run(ctx, q, nil); err != nil {
			return err
		}
	}
	return nil
}

const (
	loadUnitsCypher = `UNWIND $batch AS row
		 MERGE (u:RustUnit {name: row.name})`

	loadFuncsCypher = `UNWIND $batch AS row
		 MERGE (n:RustFunc {id: row.id})
		 SET n.name = row.name, n.qualified_name = row.qualified_name, n.owner = row.owner,
		     n.unit = row.unit, n.visibility = row.visibility, n.line = row.line,
		     n.end_line = row.end_line, n.annotations = row.annotations, n.tags = row.tags,
		     n.entry_point = row.entry_point, n.verified = row.verified, n.recursive = row.recursive
		 WITH n, row
		 MATCH (u:RustUnit {name: row.unit})
		 MERGE (n)-[:IN_UNIT]->(u)`

	loadCallsCypher = `UNWIND $batch AS row
		 MATCH (caller:RustFunc {id: row.caller}), (callee:RustFunc {id: row.callee})
		 MERGE (caller)-[r:CALLS]->(callee)
		 SET r.occurrences = row.occurrences, r.via_closure = row.via_closure,
		     r.line = row.line, r.column = row.column`

	loadExternalCypher = `UNWIND $batch AS row
		 MATCH (caller:RustFunc {id: row.caller})
		 MERGE (s:RustSymbol {name: row.callee, unresolved: false})
		 MERGE (caller)-[r:CALLS_EXTERNAL]->(s)
		 SET r.occurrences = row.occurrences, r.via_closure = row.via_closure,
		     r.line = row.line, r.column = row.column`

	loadUnresolvedCypher = `UNWIND $batch AS row
		 MATCH (caller:RustFunc {id: row.caller})
		 MERGE (s:RustSymbol {name: row.callee, unresolved: true})
		 MERGE (caller)-[r:CALLS_UNRESOLVED]->(s)
		 SET r.occurrences = row.occurrences, r.line = row.line, r.column = row.column`
)

// Export writes g into the database, replacing whatever an earlier export
// left there. tags maps function ids to tag names and may be nil.
func (e *Exporter) Export(ctx context.Context, g *callgraph.Graph, tags map[string][]string) (*Result, error) {
	if err := e.CleanGraph(ctx); err != nil {
		return nil, fmt.Errorf("cleaning graph: %w", err)
	}
	if err := e.CreateIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	units := unitRows(g)
	funcs := functionRows(g, tags)
	calls := callRows(g)

	res := &Result{
		Units:      len(units),
		Functions:  len(funcs),
		Calls:      len(calls[callgraph.CalleeResolved]),
		External:   len(calls[callgraph.CalleeExternal]),
		Unresolved: len(calls[callgraph.CalleeUnresolved]),
	}

	steps := []struct {
		what   string
		cypher string
		rows   []map[string]any
	}{
		{"units", loadUnitsCypher, units},
		{"functions", loadFuncsCypher, funcs},
		{"calls", loadCallsCypher, calls[callgraph.CalleeResolved]},
		{"external calls", loadExternalCypher, calls[callgraph.CalleeExternal]},
		{"unresolved calls", loadUnresolvedCypher, calls[callgraph.CalleeUnresolved]},
	}
	for _, step := range steps {
		slog.Info("loading "+step.what, slog.Int("count", len(step.rows)))
		for _, batch := range chunk(step.rows, e.batchSize) {
			if err := e.runner.Run(ctx, step.cypher, map[string]any{"batch": batch}); err != nil {
				return nil, fmt.Errorf("loading %s: %w", step.what, err)
			}
		}
	}
	return res, nil
}

// unitRows returns one row per distinct unit, in first-seen order.
func unitRows(g *callgraph.Graph) []map[string]any {
	seen := make(map[string]bool)
	var rows []map[string]any
	for _, n := range g.Nodes() {
		if seen[n.Unit] {
			continue
		}
		seen[n.Unit] = true
		rows = append(rows, map[string]any{"name": n.Unit})
	}
	return rows
}

func functionRows(g *callgraph.Graph, tags map[string][]string) []map[string]any {
	verified := g.VerifiedSet()
	rows := make([]map[string]any, 0, g.Len())
	for _, n := range g.Nodes() {
		annotations := n.Annotations
		if annotations == nil {
			annotations = []string{}
		}
		nodeTags := tags[n.ID]
		if nodeTags == nil {
			nodeTags = []string{}
		}
		rows = append(rows, map[string]any{
			"id":             n.ID,
			"name":           n.Name,
			"qualified_name": n.QualifiedName,
			"owner":          n.Owner,
			"unit":           n.Unit,
			"visibility":     string(n.Visibility),
			"line":           n.Span.StartLine,
			"end_line":       n.Span.EndLine,
			"annotations":    annotations,
			"tags":           nodeTags,
			"entry_point":    g.IsEntryPoint(n.ID),
			"verified":       verified[n.ID],
			"recursive":      g.IsRecursive(n.ID),
		})
	}
	return rows
}

// callRows groups edge rows by callee kind.
func callRows(g *callgraph.Graph) map[callgraph.CalleeKind][]map[string]any {
	out := make(map[callgraph.CalleeKind][]map[string]any)
	for _, e := range g.Edges() {
		out[e.Callee.Kind] = append(out[e.Callee.Kind], map[string]any{
			"caller":      e.Caller,
			"callee":      e.Callee.Ref,
			"occurrences": e.Occurrences,
			"via_closure": e.ViaClosure,
			"line":        e.Site.Line,
			"column":      e.Site.Column,
		})
	}
	return out
}

func chunk(rows []map[string]any, size int) [][]map[string]any {
	var out [][]map[string]any
	for len(rows) > size {
		out = append(out, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}
