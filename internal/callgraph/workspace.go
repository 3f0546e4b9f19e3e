package callgraph

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Workspace holds the per-unit graphs of a project and the merged graph built
// from them. Readers always see a complete, immutable merged graph; adding or
// removing a unit builds a new one and swaps it in.
type Workspace struct {
	opts Options

	mu      sync.RWMutex
	units   map[string]*Graph
	merged  *Graph
	version uint64
}

// NewWorkspace creates an empty workspace.
func NewWorkspace(opts Options) *Workspace {
	return &Workspace{
		opts:   opts,
		units:  make(map[string]*Graph),
		merged: NewBuilder(opts).Build(),
	}
}

// AddUnit adds or replaces the graph for the named unit and rebuilds the
// merged graph. On error the workspace is left unchanged.
func (w *Workspace) AddUnit(name string, g *Graph) error {
	if name == "" || g == nil {
		return fmt.Errorf("%w: unit needs a name and a graph", ErrInvalidInput)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	prev, had := w.units[name]
	w.units[name] = g
	if err := w.rebuildLocked(); err != nil {
		if had {
			w.units[name] = prev
		} else {
			delete(w.units, name)
		}
		return err
	}
	return nil
}

// RemoveUnit drops the named unit. It reports whether the unit was present.
func (w *Workspace) RemoveUnit(name string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, ok := w.units[name]
	if !ok {
		return false, nil
	}
	delete(w.units, name)
	if err := w.rebuildLocked(); err != nil {
		w.units[name] = prev
		return false, err
	}
	return true, nil
}

// Snapshot returns the current merged graph. The returned value is immutable
// and stays valid after later updates.
func (w *Workspace) Snapshot() *Graph {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.merged
}

// Unit returns the graph of one unit.
func (w *Workspace) Unit(name string) (*Graph, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	g, ok := w.units[name]
	return g, ok
}

// Units returns the unit names in sorted order.
func (w *Workspace) Units() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sortedNamesLocked()
}

// Version increments every time the merged graph changes.
func (w *Workspace) Version() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

func (w *Workspace) sortedNamesLocked() []string {
	names := make([]string, 0, len(w.units))
	for name := range w.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (w *Workspace) rebuildLocked() error {
	names := w.sortedNamesLocked()
	graphs := make([]*Graph, 0, len(names))
	for _, name := range names {
		g, err := withUnit(w.units[name], name)
		if err != nil {
			return fmt.Errorf("unit %s: %w", name, err)
		}
		graphs = append(graphs, g)
	}
	merged, err := Merge(w.opts, graphs...)
	if err != nil {
		return err
	}
	w.merged = merged
	w.version++
	return nil
}

// withUnit returns g unchanged when every node already names its unit, and a
// relabeled copy otherwise.
func withUnit(g *Graph, unit string) (*Graph, error) {
	if !slices.ContainsFunc(g.order, func(id string) bool { return g.nodes[id].Unit == "" }) {
		return g, nil
	}
	b := NewBuilder(g.opts)
	for _, id := range g.order {
		n := *g.nodes[id]
		if n.Unit == "" {
			n.Unit = unit
		}
		if err := b.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range g.edges {
		if err := b.AddEdge(*e); err != nil {
			return nil, err
		}
	}
	for _, d := range g.diagnostics {
		if d.Location.Unit == "" {
			d.Location.Unit = unit
		}
		b.AddDiagnostic(d)
	}
	return b.Build(), nil
}
