package callgraph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitGraph(t *testing.T, unit string, names ...string) *Graph {
	t.Helper()
	b := NewBuilder(DefaultOptions())
	for _, n := range names {
		require.NoError(t, b.AddNode(FunctionNode{ID: n, QualifiedName: n, Name: n, Unit: unit}))
	}
	for i := 1; i < len(names); i++ {
		require.NoError(t, b.AddCall(Call{Caller: names[i-1], Callee: Resolved(names[i])}))
	}
	b.AddDiagnostic(Diagnostic{Kind: DiagUnresolvedCall, Location: Location{Unit: unit, Line: 1, Column: 1}})
	return b.Build()
}

func TestMerge_QualifiesIDs(t *testing.T) {
	a := unitGraph(t, "a.rs", "main", "helper")
	b := unitGraph(t, "b.rs", "main", "util")

	merged, err := Merge(DefaultOptions(), a, b)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.rs:main", "a.rs:helper", "b.rs:main", "b.rs:util"}, merged.NodeIDs())
	assert.Equal(t, []string{"a.rs:helper"}, merged.Callees("a.rs:main"))
	assert.Equal(t, 2, merged.DiagnosticCount())

	n, ok := merged.Node("b.rs:util")
	require.True(t, ok)
	assert.Equal(t, "util", n.QualifiedName)

	assert.Equal(t, []string{"main", "helper"}, a.NodeIDs(), "inputs are not mutated")
}

func TestWorkspace_AddRemove(t *testing.T) {
	ws := NewWorkspace(DefaultOptions())
	assert.Equal(t, 0, ws.Snapshot().Len())

	require.NoError(t, ws.AddUnit("b.rs", unitGraph(t, "b.rs", "x", "y")))
	require.NoError(t, ws.AddUnit("a.rs", unitGraph(t, "a.rs", "main")))
	assert.Equal(t, []string{"a.rs", "b.rs"}, ws.Units())
	assert.Equal(t, []string{"a.rs:main", "b.rs:x", "b.rs:y"}, ws.Snapshot().NodeIDs())

	before := ws.Snapshot()
	require.NoError(t, ws.AddUnit("b.rs", unitGraph(t, "b.rs", "z")))
	assert.Equal(t, []string{"a.rs:main", "b.rs:z"}, ws.Snapshot().NodeIDs())
	assert.Equal(t, 3, before.Len(), "earlier snapshots are unaffected")

	removed, err := ws.RemoveUnit("a.rs")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = ws.RemoveUnit("a.rs")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Equal(t, []string{"b.rs:z"}, ws.Snapshot().NodeIDs())
	assert.Equal(t, uint64(4), ws.Version())
}

func TestWorkspace_FillsMissingUnit(t *testing.T) {
	b := NewBuilder(DefaultOptions())
	require.NoError(t, b.AddNode(FunctionNode{ID: "f"}))
	ws := NewWorkspace(DefaultOptions())

	require.NoError(t, ws.AddUnit("lib.rs", b.Build()))
	assert.Equal(t, []string{"lib.rs:f"}, ws.Snapshot().NodeIDs())
}

func TestWorkspace_RejectsCollisionAndRollsBack(t *testing.T) {
	ws := NewWorkspace(DefaultOptions())
	require.NoError(t, ws.AddUnit("a.rs", unitGraph(t, "shared", "f")))

	err := ws.AddUnit("b.rs", unitGraph(t, "shared", "f"))
	assert.ErrorIs(t, err, ErrDuplicateNode)
	assert.Equal(t, []string{"a.rs"}, ws.Units())
	assert.Equal(t, uint64(1), ws.Version())

	assert.ErrorIs(t, ws.AddUnit("", nil), ErrInvalidInput)
}

func TestWorkspace_RelabelErrorsAreReturned(t *testing.T) {
	b := NewBuilder(DefaultOptions())
	require.NoError(t, b.AddNode(FunctionNode{ID: "f"}))
	g := b.Build()
	g.edges = append(g.edges, &CallEdge{Caller: "ghost", Callee: Resolved("f"), Occurrences: 1})

	ws := NewWorkspace(DefaultOptions())
	err := ws.AddUnit("lib.rs", g)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.ErrorContains(t, err, "lib.rs")
	assert.Empty(t, ws.Units())
	assert.Zero(t, ws.Version())
	assert.Zero(t, ws.Snapshot().Len())
}

func TestWorkspace_ConcurrentAccess(t *testing.T) {
	ws := NewWorkspace(DefaultOptions())
	names := []string{"a.rs", "b.rs", "c.rs", "d.rs"}
	graphs := make([]*Graph, len(names))
	for i, name := range names {
		graphs[i] = unitGraph(t, name, "f", "g")
	}

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, ws.AddUnit(name, graphs[i]))
		}()
		go func() {
			defer wg.Done()
			g := ws.Snapshot()
			_, _ = g.TopologicalOrder()
			_ = g.VerifiedSet()
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, ws.Snapshot().Len())
}
