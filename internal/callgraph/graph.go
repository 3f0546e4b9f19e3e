// Package callgraph holds the call graph of one or more analyzed source units,
// together with the queries and export the host uses to visualize it.
//
// A Graph is built once through a Builder and never mutated afterwards. Derived
// views (entry points, cycles, the verified set) are computed from that immutable
// value, so a changed program is represented by a new Graph rather than by editing
// an existing one. Workspace wraps this for hosts that keep adding units.
package callgraph

import (
	"fmt"
	"iter"
	"slices"
	"sync"
)

// Options control the derived views of a graph.
type Options struct {
	// EntrySymbols are names treated as the program's conventional entry point.
	EntrySymbols []string
	// VerificationTags are annotation tags that seed the verified set.
	VerificationTags []string
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		EntrySymbols:     []string{"main"},
		VerificationTags: []string{"verifier::verify"},
	}
}

// Graph is an immutable call graph.
type Graph struct {
	opts Options

	nodes       map[string]*FunctionNode
	order       []string       // Node ids in insertion order
	index       map[string]int // Node id -> position in order
	edges       []*CallEdge
	diagnostics []Diagnostic

	out map[string][]string // Resolved successors, first-edge order, no duplicates
	in  map[string][]string // Resolved predecessors, same ordering rule

	entryPoints []string
	entrySet    map[string]bool
	cycles      [][]string
	cycleOf     map[string]int

	verifiedOnce sync.Once
	verified     map[string]bool
}

// Options returns the options the graph was built with.
func (g *Graph) Options() Options {
	return g.opts
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (FunctionNode, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return FunctionNode{}, false
	}
	return *n, true
}

// HasNode reports whether id is a node of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// NodeIDs returns all node ids in insertion order.
func (g *Graph) NodeIDs() []string {
	return slices.Clone(g.order)
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []FunctionNode {
	out := make([]FunctionNode, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.nodes[id])
	}
	return out
}

// Edges returns copies of all aggregated edges in insertion order.
func (g *Graph) Edges() []CallEdge {
	out := make([]CallEdge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, *e)
	}
	return out
}

// EdgesFrom returns the aggregated edges whose caller is id.
func (g *Graph) EdgesFrom(id string) []CallEdge {
	var out []CallEdge
	for _, e := range g.edges {
		if e.Caller == id {
			out = append(out, *e)
		}
	}
	return out
}

// Callees returns the distinct resolved callees of id in edge order.
func (g *Graph) Callees(id string) []string {
	return slices.Clone(g.out[id])
}

// Callers returns the distinct resolved callers of id in edge order.
func (g *Graph) Callers(id string) []string {
	return slices.Clone(g.in[id])
}

// EntryPoints returns entry-point ids in node order.
func (g *Graph) EntryPoints() []string {
	return slices.Clone(g.entryPoints)
}

// IsEntryPoint reports whether id is an entry point.
func (g *Graph) IsEntryPoint(id string) bool {
	return g.entrySet[id]
}

// Cycles returns the recursive clusters: strongly-connected components with more
// than one node, and single nodes that call themselves.
func (g *Graph) Cycles() [][]string {
	out := make([][]string, len(g.cycles))
	for i, c := range g.cycles {
		out[i] = slices.Clone(c)
	}
	return out
}

// IsRecursive reports whether id belongs to a cycle.
func (g *Graph) IsRecursive(id string) bool {
	_, ok := g.cycleOf[id]
	return ok
}

// Diagnostics yields construction diagnostics in the order they were reported.
// The sequence can be ranged over any number of times.
func (g *Graph) Diagnostics() iter.Seq[Diagnostic] {
	return func(yield func(Diagnostic) bool) {
		for _, d := range g.diagnostics {
			if !yield(d) {
				return
			}
		}
	}
}

// DiagnosticCount returns the number of diagnostics.
func (g *Graph) DiagnosticCount() int {
	return len(g.diagnostics)
}

// Lookup maps a user-supplied reference to a node id. The reference may be an
// exact id or the qualified name of exactly one node.
func (g *Graph) Lookup(ref string) (string, error) {
	if _, ok := g.nodes[ref]; ok {
		return ref, nil
	}
	var matches []string
	for _, id := range g.order {
		if g.nodes[id].QualifiedName == ref {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNodeNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %q is ambiguous (%d matches)", ErrNodeNotFound, ref, len(matches))
	}
}

// Stats summarizes the graph.
type Stats struct {
	Nodes        int `json:"nodes"`
	Edges        int `json:"edges"`
	Resolved     int `json:"resolved_edges"`
	External     int `json:"external_edges"`
	Unresolved   int `json:"unresolved_edges"`
	EntryPoints  int `json:"entry_points"`
	Cycles       int `json:"cycles"`
	Verified     int `json:"verified"`
	Diagnostics  int `json:"diagnostics"`
	Public       int `json:"public"`
	ClosureEdges int `json:"closure_edges"`
}

// Stats returns counts over the graph.
func (g *Graph) Stats() Stats {
	s := Stats{
		Nodes:       len(g.order),
		Edges:       len(g.edges),
		EntryPoints: len(g.entryPoints),
		Cycles:      len(g.cycles),
		Verified:    len(g.VerifiedSet()),
		Diagnostics: len(g.diagnostics),
	}
	for _, e := range g.edges {
		switch e.Callee.Kind {
		case CalleeResolved:
			s.Resolved++
		case CalleeExternal:
			s.External++
		case CalleeUnresolved:
			s.Unresolved++
		}
		if e.ViaClosure {
			s.ClosureEdges++
		}
	}
	for _, id := range g.order {
		if g.nodes[id].Visibility == VisibilityPublic {
			s.Public++
		}
	}
	return s
}

// Snapshot is the complete serializable state of a graph. Derived views are
// not included; they are recomputed by FromSnapshot.
type Snapshot struct {
	Nodes       []FunctionNode `json:"nodes"`
	Edges       []CallEdge     `json:"edges"`
	Diagnostics []Diagnostic   `json:"diagnostics"`
}

// Snapshot returns the graph's serializable state.
func (g *Graph) Snapshot() Snapshot {
	return Snapshot{
		Nodes:       g.Nodes(),
		Edges:       g.Edges(),
		Diagnostics: slices.Clone(g.diagnostics),
	}
}

// FromSnapshot rebuilds a graph from a snapshot.
func FromSnapshot(s Snapshot, opts Options) (*Graph, error) {
	b := NewBuilder(opts)
	for _, n := range s.Nodes {
		if err := b.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range s.Edges {
		if err := b.AddEdge(e); err != nil {
			return nil, err
		}
	}
	for _, d := range s.Diagnostics {
		b.AddDiagnostic(d)
	}
	return b.Build(), nil
}
