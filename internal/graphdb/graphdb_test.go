package graphdb

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/config"
)

type statement struct {
	cypher string
	params map[string]any
}

type recordingRunner struct {
	statements []statement
	failOn     string
}

func (r *recordingRunner) Run(_ context.Context, cypher string, params map[string]any) error {
	if r.failOn != "" && strings.Contains(cypher, r.failOn) {
		return errors.New("boom")
	}
	r.statements = append(r.statements, statement{cypher: cypher, params: params})
	return nil
}

func (r *recordingRunner) batches(fragment string) [][]map[string]any {
	var out [][]map[string]any
	for _, s := range r.statements {
		if strings.Contains(s.cypher, fragment) {
			out = append(out, s.params["batch"].([]map[string]any))
		}
	}
	return out
}

func testGraph(t *testing.T) *callgraph.Graph {
	t.Helper()
	b := callgraph.NewBuilder(callgraph.DefaultOptions())
	nodes := []callgraph.FunctionNode{
		{ID: "main", QualifiedName: "main", Name: "main", Unit: "src/main.rs", Visibility: callgraph.VisibilityPrivate, Span: callgraph.Span{StartLine: 1, EndLine: 4}},
		{ID: "Parser::parse", QualifiedName: "Parser::parse", Name: "parse", Owner: "Parser", Unit: "src/main.rs",
			Visibility: callgraph.VisibilityPublic, Span: callgraph.Span{StartLine: 6, EndLine: 9}, Annotations: []string{"verifier::verify"}},
	}
	for _, n := range nodes {
		require.NoError(t, b.AddNode(n))
	}
	calls := []callgraph.Call{
		{Caller: "main", Callee: callgraph.Resolved("Parser::parse"), Site: callgraph.Location{Line: 2, Column: 5}},
		{Caller: "main", Callee: callgraph.External("println!"), Site: callgraph.Location{Line: 3, Column: 5}},
		{Caller: "Parser::parse", Callee: callgraph.Unresolved("lookup"), Site: callgraph.Location{Line: 7, Column: 9}},
	}
	for _, c := range calls {
		require.NoError(t, b.AddCall(c))
	}
	return b.Build()
}

func TestExport(t *testing.T) {
	r := &recordingRunner{}
	res, err := NewExporter(r).Export(context.Background(), testGraph(t), map[string][]string{
		"main": {"io:print"},
	})
	require.NoError(t, err)
	assert.Equal(t, &Result{Units: 1, Functions: 2, Calls: 1, External: 1, Unresolved: 1}, res)

	// Clean, then indexes, then data.
	require.NotEmpty(t, r.statements)
	assert.Contains(t, r.statements[0].cypher, "DETACH DELETE")
	assert.Contains(t, r.statements[3].cypher, "CREATE INDEX")

	funcs := r.batches("MERGE (n:RustFunc")
	require.Len(t, funcs, 1)
	require.Len(t, funcs[0], 2)
	mainRow := funcs[0][0]
	assert.Equal(t, "main", mainRow["id"])
	assert.Equal(t, []string{"io:print"}, mainRow["tags"])
	assert.Equal(t, true, mainRow["entry_point"])
	assert.Equal(t, []string{}, mainRow["annotations"])

	parseRow := funcs[0][1]
	assert.Equal(t, "Parser", parseRow["owner"])
	assert.Equal(t, "public", parseRow["visibility"])
	assert.Equal(t, true, parseRow["verified"])
	assert.Equal(t, []string{}, parseRow["tags"])

	calls := r.batches("[r:CALLS]")
	require.Len(t, calls, 1)
	assert.Equal(t, "Parser::parse", calls[0][0]["callee"])
	assert.Equal(t, 1, calls[0][0]["occurrences"])

	external := r.batches("CALLS_EXTERNAL")
	require.Len(t, external, 1)
	assert.Equal(t, "println!", external[0][0]["callee"])

	unresolved := r.batches("CALLS_UNRESOLVED")
	require.Len(t, unresolved, 1)
	assert.Equal(t, "lookup", unresolved[0][0]["callee"])
}

func TestExport_Batching(t *testing.T) {
	r := &recordingRunner{}
	_, err := NewExporter(r).WithBatchSize(1).Export(context.Background(), testGraph(t), nil)
	require.NoError(t, err)

	funcs := r.batches("MERGE (n:RustFunc")
	require.Len(t, funcs, 2)
	assert.Equal(t, "main", funcs[0][0]["id"])
	assert.Equal(t, "Parser::parse", funcs[1][0]["id"])
}

func TestExport_EmptyGraphSkipsDataStatements(t *testing.T) {
	r := &recordingRunner{}
	res, err := NewExporter(r).Export(context.Background(), callgraph.NewBuilder(callgraph.DefaultOptions()).Build(), nil)
	require.NoError(t, err)
	assert.Equal(t, &Result{}, res)
	assert.Empty(t, r.batches("UNWIND"))
}

func TestExport_PropagatesErrors(t *testing.T) {
	tests := []struct {
		name   string
		failOn string
		want   string
	}{
		{"clean", "DETACH DELETE", "cleaning graph"},
		{"indexes", "CREATE INDEX", "creating indexes"},
		{"calls", "CALLS_EXTERNAL", "loading external calls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExporter(&recordingRunner{failOn: tt.failOn}).Export(context.Background(), testGraph(t), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestChunk(t *testing.T) {
	rows := make([]map[string]any, 5)
	assert.Len(t, chunk(rows, 2), 3)
	assert.Len(t, chunk(rows, 5), 1)
	assert.Len(t, chunk(rows, 10), 1)
	assert.Empty(t, chunk(nil, 3))
}

func TestConnect_RequiresURI(t *testing.T) {
	_, err := Connect(context.Background(), config.Neo4jConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClose_WithoutDriver(t *testing.T) {
	assert.NoError(t, NewExporter(&recordingRunner{}).Close(context.Background()))
}
