package callgraph

import (
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEdge struct {
	from, to string
}

// buildGraph creates private nodes for every name and resolved edges between them.
func buildGraph(t *testing.T, names []string, edges []testEdge) *Graph {
	t.Helper()
	b := NewBuilder(DefaultOptions())
	for i, name := range names {
		require.NoError(t, b.AddNode(FunctionNode{
			ID:         name,
			Name:       name,
			Visibility: VisibilityPrivate,
			Span:       Span{StartLine: i + 1, EndLine: i + 1},
			Kind:       NodeKindPlain,
		}))
	}
	for _, e := range edges {
		require.NoError(t, b.AddCall(Call{Caller: e.from, Callee: Resolved(e.to)}))
	}
	return b.Build()
}

func TestBuilder_AggregatesOccurrences(t *testing.T) {
	b := NewBuilder(DefaultOptions())
	require.NoError(t, b.AddNode(FunctionNode{ID: "a"}))
	require.NoError(t, b.AddNode(FunctionNode{ID: "b"}))

	require.NoError(t, b.AddCall(Call{Caller: "a", Callee: Resolved("b"), Site: Location{Line: 2, Column: 5}}))
	require.NoError(t, b.AddCall(Call{Caller: "a", Callee: Resolved("b"), Site: Location{Line: 3, Column: 5}}))
	require.NoError(t, b.AddCall(Call{Caller: "a", Callee: Resolved("b"), ViaClosure: true, Site: Location{Line: 4, Column: 9}}))
	g := b.Build()

	edges := g.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, 2, edges[0].Occurrences)
	assert.Equal(t, Location{Line: 2, Column: 5}, edges[0].Site, "first site is kept")
	assert.True(t, edges[1].ViaClosure)
	assert.Equal(t, []string{"b"}, g.Callees("a"))
}

func TestBuilder_RejectsDanglingEdges(t *testing.T) {
	b := NewBuilder(DefaultOptions())
	require.NoError(t, b.AddNode(FunctionNode{ID: "a"}))

	err := b.AddCall(Call{Caller: "a", Callee: Resolved("missing")})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	err = b.AddCall(Call{Caller: "ghost", Callee: External("println!")})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	assert.NoError(t, b.AddCall(Call{Caller: "a", Callee: Unresolved("mystery")}))
	assert.ErrorIs(t, b.AddNode(FunctionNode{ID: "a"}), ErrDuplicateNode)
	assert.ErrorIs(t, b.AddNode(FunctionNode{}), ErrInvalidInput)
}

func TestGraph_ReferentialIntegrity(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"}, []testEdge{{"a", "b"}, {"b", "c"}})
	for _, e := range g.Edges() {
		assert.True(t, g.HasNode(e.Caller))
		if e.Callee.Kind == CalleeResolved {
			assert.True(t, g.HasNode(e.Callee.Ref))
		}
	}
}

func TestGraph_EntryPoints(t *testing.T) {
	b := NewBuilder(DefaultOptions())
	require.NoError(t, b.AddNode(FunctionNode{ID: "main", Visibility: VisibilityPrivate}))
	require.NoError(t, b.AddNode(FunctionNode{ID: "api", Visibility: VisibilityPublic}))
	require.NoError(t, b.AddNode(FunctionNode{ID: "helper", Visibility: VisibilityPrivate}))
	require.NoError(t, b.AddNode(FunctionNode{ID: "orphan", Visibility: VisibilityPrivate}))
	require.NoError(t, b.AddNode(FunctionNode{ID: "selfish", Visibility: VisibilityPrivate}))
	require.NoError(t, b.AddCall(Call{Caller: "main", Callee: Resolved("helper")}))
	require.NoError(t, b.AddCall(Call{Caller: "api", Callee: Resolved("main")}))
	require.NoError(t, b.AddCall(Call{Caller: "selfish", Callee: Resolved("selfish")}))
	g := b.Build()

	assert.Equal(t, []string{"main", "api", "orphan", "selfish"}, g.EntryPoints())
	assert.False(t, g.IsEntryPoint("helper"))
}

func TestGraph_Cycles(t *testing.T) {
	g := buildGraph(t,
		[]string{"a", "b", "c", "d", "e"},
		[]testEdge{{"a", "b"}, {"b", "c"}, {"c", "b"}, {"d", "d"}, {"a", "e"}},
	)

	assert.Equal(t, [][]string{{"b", "c"}, {"d"}}, g.Cycles())
	assert.True(t, g.IsRecursive("b"))
	assert.True(t, g.IsRecursive("d"))
	assert.False(t, g.IsRecursive("a"))
	assert.False(t, g.IsRecursive("e"))
}

func TestGraph_CyclesOnDeepChain(t *testing.T) {
	const depth = 20000
	names := make([]string, depth)
	var edges []testEdge
	for i := range names {
		names[i] = "f" + strconv.Itoa(i)
		if i > 0 {
			edges = append(edges, testEdge{names[i-1], names[i]})
		}
	}
	edges = append(edges, testEdge{names[depth-1], names[0]})
	g := buildGraph(t, names, edges)

	cycles := g.Cycles()
	require.Len(t, cycles, 1)
	assert.Len(t, cycles[0], depth)
}

func TestGraph_Lookup(t *testing.T) {
	b := NewBuilder(DefaultOptions())
	require.NoError(t, b.AddNode(FunctionNode{ID: "x:helper", QualifiedName: "helper"}))
	require.NoError(t, b.AddNode(FunctionNode{ID: "x:run", QualifiedName: "run"}))
	require.NoError(t, b.AddNode(FunctionNode{ID: "y:run", QualifiedName: "run"}))
	g := b.Build()

	id, err := g.Lookup("helper")
	require.NoError(t, err)
	assert.Equal(t, "x:helper", id)

	id, err = g.Lookup("y:run")
	require.NoError(t, err)
	assert.Equal(t, "y:run", id)

	_, err = g.Lookup("run")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	_, err = g.Lookup("nope")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestGraph_DiagnosticsIterator(t *testing.T) {
	b := NewBuilder(DefaultOptions())
	b.AddDiagnostic(Diagnostic{Kind: DiagMalformedDefinition, Location: Location{Line: 1, Column: 1}})
	b.AddDiagnostic(Diagnostic{Kind: DiagUnresolvedCall, Location: Location{Line: 2, Column: 3}})
	g := b.Build()

	var kinds []DiagnosticKind
	for d := range g.Diagnostics() {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []DiagnosticKind{DiagMalformedDefinition, DiagUnresolvedCall}, kinds)
	assert.Equal(t, 2, g.DiagnosticCount())

	for range g.Diagnostics() {
		break
	}
	assert.Len(t, slices.Collect(g.Diagnostics()), 2, "sequence is restartable")
}

func TestGraph_SnapshotRoundTrip(t *testing.T) {
	b := NewBuilder(DefaultOptions())
	require.NoError(t, b.AddNode(FunctionNode{ID: "a", Annotations: []string{"verifier::verify"}}))
	require.NoError(t, b.AddNode(FunctionNode{ID: "b"}))
	require.NoError(t, b.AddCall(Call{Caller: "a", Callee: Resolved("b")}))
	require.NoError(t, b.AddCall(Call{Caller: "a", Callee: External("println!")}))
	b.AddDiagnostic(Diagnostic{Kind: DiagUnresolvedCall, Message: "x"})
	g := b.Build()

	data, err := json.Marshal(g.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	restored, err := FromSnapshot(snap, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, g.Export(), restored.Export())
	assert.Equal(t, g.DiagnosticCount(), restored.DiagnosticCount())
}

func TestGraph_Stats(t *testing.T) {
	b := NewBuilder(DefaultOptions())
	require.NoError(t, b.AddNode(FunctionNode{ID: "a", Visibility: VisibilityPublic}))
	require.NoError(t, b.AddNode(FunctionNode{ID: "b"}))
	require.NoError(t, b.AddCall(Call{Caller: "a", Callee: Resolved("b")}))
	require.NoError(t, b.AddCall(Call{Caller: "a", Callee: External("println!"), ViaClosure: true}))
	require.NoError(t, b.AddCall(Call{Caller: "b", Callee: Unresolved("what")}))
	s := b.Build().Stats()

	assert.Equal(t, 2, s.Nodes)
	assert.Equal(t, 3, s.Edges)
	assert.Equal(t, 1, s.Resolved)
	assert.Equal(t, 1, s.External)
	assert.Equal(t, 1, s.Unresolved)
	assert.Equal(t, 1, s.ClosureEdges)
	assert.Equal(t, 1, s.Public)
}

func TestCycleError_Is(t *testing.T) {
	var err error = &CycleError{Nodes: []string{"a", "b"}}
	assert.True(t, errors.Is(err, ErrCycleDetected))
	assert.Contains(t, err.Error(), "a")
}
