package callgraph

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrDuplicateNode is returned when a node id is added twice.
var ErrDuplicateNode = errors.New("duplicate node id")

// Builder assembles nodes and call sites into a Graph. It is not safe for
// concurrent use; one builder serves one pipeline run or one merge fold.
type Builder struct {
	opts        Options
	nodes       map[string]*FunctionNode
	order       []string
	edges       []*CallEdge
	edgeIndex   map[edgeKey]int
	diagnostics []Diagnostic
}

// NewBuilder creates an empty builder.
func NewBuilder(opts Options) *Builder {
	return &Builder{
		opts:      opts,
		nodes:     make(map[string]*FunctionNode),
		edgeIndex: make(map[edgeKey]int),
	}
}

// AddNode adds a function node. Nodes must be added before any call that
// references them.
func (b *Builder) AddNode(n FunctionNode) error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty node id", ErrInvalidInput)
	}
	if _, exists := b.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	if n.QualifiedName == "" {
		n.QualifiedName = n.ID
	}
	n.Annotations = slices.Clone(n.Annotations)
	b.nodes[n.ID] = &n
	b.order = append(b.order, n.ID)
	return nil
}

// AddCall records one call site. Calls with the same caller, callee and
// closure flag are aggregated into a single edge.
func (b *Builder) AddCall(c Call) error {
	return b.AddEdge(CallEdge{
		Caller:      c.Caller,
		Callee:      c.Callee,
		Site:        c.Site,
		ViaClosure:  c.ViaClosure,
		Occurrences: 1,
	})
}

// AddEdge records an already aggregated edge, summing occurrences with any
// existing edge of the same key.
func (b *Builder) AddEdge(e CallEdge) error {
	if _, ok := b.nodes[e.Caller]; !ok {
		return fmt.Errorf("%w: caller %s", ErrNodeNotFound, e.Caller)
	}
	if e.Callee.Kind == CalleeResolved {
		if _, ok := b.nodes[e.Callee.Ref]; !ok {
			return fmt.Errorf("%w: callee %s", ErrNodeNotFound, e.Callee.Ref)
		}
	}
	if e.Occurrences < 1 {
		e.Occurrences = 1
	}

	key := e.key()
	if i, ok := b.edgeIndex[key]; ok {
		b.edges[i].Occurrences += e.Occurrences
		return nil
	}
	b.edgeIndex[key] = len(b.edges)
	b.edges = append(b.edges, &e)
	return nil
}

// AddDiagnostic records a non-fatal diagnostic.
func (b *Builder) AddDiagnostic(d Diagnostic) {
	b.diagnostics = append(b.diagnostics, d)
}

// Build finalizes the graph: resolved adjacency, entry points and cycles. The
// builder must not be used afterwards.
func (b *Builder) Build() *Graph {
	g := &Graph{
		opts:        b.opts,
		nodes:       b.nodes,
		order:       b.order,
		index:       make(map[string]int, len(b.order)),
		edges:       b.edges,
		diagnostics: b.diagnostics,
		out:         make(map[string][]string),
		in:          make(map[string][]string),
		entrySet:    make(map[string]bool),
		cycleOf:     make(map[string]int),
	}
	for i, id := range g.order {
		g.index[id] = i
	}

	seen := make(map[[2]string]bool)
	for _, e := range g.edges {
		if e.Callee.Kind != CalleeResolved {
			continue
		}
		pair := [2]string{e.Caller, e.Callee.Ref}
		if seen[pair] {
			continue
		}
		seen[pair] = true
		g.out[e.Caller] = append(g.out[e.Caller], e.Callee.Ref)
		g.in[e.Callee.Ref] = append(g.in[e.Callee.Ref], e.Caller)
	}

	g.computeEntryPoints()
	g.computeCycles()
	return g
}

// computeEntryPoints marks public nodes, nodes named as an entry symbol, and
// nodes nothing else calls. A node that only calls itself is still unreferenced.
func (g *Graph) computeEntryPoints() {
	entryNames := make(map[string]bool, len(g.opts.EntrySymbols))
	for _, s := range g.opts.EntrySymbols {
		entryNames[s] = true
	}

	for _, id := range g.order {
		n := g.nodes[id]
		entry := n.Visibility == VisibilityPublic || entryNames[n.QualifiedName]
		if !entry {
			entry = true
			for _, caller := range g.in[id] {
				if caller != id {
					entry = false
					break
				}
			}
		}
		if entry {
			g.entrySet[id] = true
			g.entryPoints = append(g.entryPoints, id)
		}
	}
}

func (g *Graph) computeCycles() {
	for _, comp := range stronglyConnected(g.order, g.out) {
		if len(comp) == 1 && !slices.Contains(g.out[comp[0]], comp[0]) {
			continue
		}
		sort.Slice(comp, func(i, j int) bool { return g.index[comp[i]] < g.index[comp[j]] })
		g.cycles = append(g.cycles, comp)
	}
	sort.Slice(g.cycles, func(i, j int) bool {
		return g.index[g.cycles[i][0]] < g.index[g.cycles[j][0]]
	})
	for i, c := range g.cycles {
		for _, id := range c {
			g.cycleOf[id] = i
		}
	}
}

// Merge folds several graphs into one, in the order given. Node ids are
// qualified with their unit ("unit:id") so units never collide. Edges and
// diagnostics are carried over unchanged apart from that renaming. Merge never
// mutates its inputs.
func Merge(opts Options, graphs ...*Graph) (*Graph, error) {
	b := NewBuilder(opts)
	for i, g := range graphs {
		rename := make(map[string]string, len(g.order))
		for _, id := range g.order {
			n := *g.nodes[id]
			unit := n.Unit
			if unit == "" {
				unit = fmt.Sprintf("unit%d", i)
			}
			n.ID = unit + ":" + id
			rename[id] = n.ID
			if err := b.AddNode(n); err != nil {
				return nil, fmt.Errorf("merging unit %s: %w", unit, err)
			}
		}
		for _, e := range g.edges {
			edge := *e
			edge.Caller = rename[e.Caller]
			if edge.Callee.Kind == CalleeResolved {
				edge.Callee.Ref = rename[e.Callee.Ref]
			}
			if err := b.AddEdge(edge); err != nil {
				return nil, err
			}
		}
		for _, d := range g.diagnostics {
			b.AddDiagnostic(d)
		}
	}
	return b.Build(), nil
}
