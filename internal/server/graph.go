package server

import (
	"strings"

	"github.com/abramin/callscope/internal/callgraph"
)

// GraphFilter specifies filters for graph traversal.
type GraphFilter struct {
	HideExternal   bool     `json:"hideExternal"`
	HideUnresolved bool     `json:"hideUnresolved"`
	HideNoise      bool     `json:"hideNoise"`
	StopAtIO       bool     `json:"stopAtIO"`
	StopAtUnits    []string `json:"stopAtUnits"`
	MaxDepth       int      `json:"maxDepth"`
	NoiseSymbols   []string `json:"noiseSymbols"`
}

// DefaultGraphFilter returns sensible defaults for graph filtering.
func DefaultGraphFilter() GraphFilter {
	return GraphFilter{
		MaxDepth:     6,
		NoiseSymbols: []string{},
	}
}

// NodeKind distinguishes function nodes from callee placeholders.
type NodeKind string

const (
	NodeFunction   NodeKind = "function"
	NodeExternal   NodeKind = "external"
	NodeUnresolved NodeKind = "unresolved"
)

// GraphNode represents a node in the graph response.
type GraphNode struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Kind       NodeKind `json:"kind"`
	Unit       string   `json:"unit,omitempty"`
	Owner      string   `json:"owner,omitempty"`
	Line       int      `json:"line,omitempty"`
	Tags       []string `json:"tags"`
	Verified   bool     `json:"verified"`
	EntryPoint bool     `json:"entry_point"`
	Recursive  bool     `json:"recursive"`
	Expanded   bool     `json:"expanded"`
	Depth      int      `json:"depth"`
}

// GraphEdge represents an edge in the graph response.
type GraphEdge struct {
	SourceID    string               `json:"source_id"`
	TargetID    string               `json:"target_id"`
	CalleeKind  callgraph.CalleeKind `json:"callee_kind"`
	Occurrences int                  `json:"occurrences"`
	ViaClosure  bool                 `json:"via_closure"`
	Line        int                  `json:"line,omitempty"`
	Column      int                  `json:"column,omitempty"`
}

// GraphResponse is the response format for graph endpoints.
type GraphResponse struct {
	Nodes    []GraphNode `json:"nodes"`
	Edges    []GraphEdge `json:"edges"`
	RootID   string      `json:"root_id"`
	MaxDepth int         `json:"max_depth"`
	Filtered int         `json:"filtered_count"`
}

// GraphBuilder cuts a depth-limited subgraph out of a call graph.
type GraphBuilder struct {
	graph    *callgraph.Graph
	tags     map[string][]string
	filter   GraphFilter
	nodes    map[string]*GraphNode
	order    []string
	edges    []GraphEdge
	filtered int
}

// NewGraphBuilder creates a new graph builder. tags maps function ids to
// their tags and may be nil.
func NewGraphBuilder(g *callgraph.Graph, tags map[string][]string, filter GraphFilter) *GraphBuilder {
	return &GraphBuilder{
		graph:  g,
		tags:   tags,
		filter: filter,
		nodes:  make(map[string]*GraphNode),
		edges:  []GraphEdge{},
	}
}

// BuildFromRoot builds a graph starting from a root function. Traversal is
// breadth-first, so every node carries its shortest distance from the root.
func (gb *GraphBuilder) BuildFromRoot(rootID string, depth int) (*GraphResponse, error) {
	if !gb.graph.HasNode(rootID) {
		return nil, callgraph.ErrNodeNotFound
	}
	if gb.filter.MaxDepth > 0 && depth > gb.filter.MaxDepth {
		depth = gb.filter.MaxDepth
	}

	gb.addFunction(rootID, 0)
	frontier := []string{rootID}
	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			next = append(next, gb.expand(id, level)...)
		}
		frontier = next
	}

	return gb.buildResponse(rootID, depth), nil
}

// expand adds the callees of id at level+1 and returns the newly discovered
// functions.
func (gb *GraphBuilder) expand(id string, level int) []string {
	if gb.shouldStopExpansion(id) {
		return nil
	}
	gb.nodes[id].Expanded = true

	var discovered []string
	for _, e := range gb.graph.EdgesFrom(id) {
		if gb.shouldFilterCallee(e.Callee) {
			gb.filtered++
			continue
		}
		target := calleeNodeID(e.Callee)
		gb.edges = append(gb.edges, GraphEdge{
			SourceID:    id,
			TargetID:    target,
			CalleeKind:  e.Callee.Kind,
			Occurrences: e.Occurrences,
			ViaClosure:  e.ViaClosure,
			Line:        e.Site.Line,
			Column:      e.Site.Column,
		})
		if _, exists := gb.nodes[target]; exists {
			continue
		}
		if e.Callee.Kind == callgraph.CalleeResolved {
			gb.addFunction(target, level+1)
			discovered = append(discovered, target)
		} else {
			gb.addPlaceholder(e.Callee, level+1)
		}
	}
	return discovered
}

func (gb *GraphBuilder) addFunction(id string, depth int) {
	n, _ := gb.graph.Node(id)
	tags := gb.tags[id]
	if tags == nil {
		tags = []string{}
	}
	gb.nodes[id] = &GraphNode{
		ID:         id,
		Label:      n.QualifiedName,
		Kind:       NodeFunction,
		Unit:       n.Unit,
		Owner:      n.Owner,
		Line:       n.Span.StartLine,
		Tags:       tags,
		Verified:   gb.graph.IsVerifiedReachable(id),
		EntryPoint: gb.graph.IsEntryPoint(id),
		Recursive:  gb.graph.IsRecursive(id),
		Depth:      depth,
	}
	gb.order = append(gb.order, id)
}

func (gb *GraphBuilder) addPlaceholder(c callgraph.Callee, depth int) {
	kind := NodeExternal
	if c.Kind == callgraph.CalleeUnresolved {
		kind = NodeUnresolved
	}
	id := calleeNodeID(c)
	gb.nodes[id] = &GraphNode{
		ID:       id,
		Label:    c.Ref,
		Kind:     kind,
		Tags:     []string{},
		Expanded: true,
		Depth:    depth,
	}
	gb.order = append(gb.order, id)
}

// shouldFilterCallee returns true if the callee should be left out.
func (gb *GraphBuilder) shouldFilterCallee(c callgraph.Callee) bool {
	switch c.Kind {
	case callgraph.CalleeExternal:
		if gb.filter.HideExternal {
			return true
		}
		if gb.filter.HideNoise && isNoise(gb.filter.NoiseSymbols, c.Ref) {
			return true
		}
	case callgraph.CalleeUnresolved:
		return gb.filter.HideUnresolved
	}
	return false
}

// shouldStopExpansion returns true if we should stop expanding at this node.
func (gb *GraphBuilder) shouldStopExpansion(id string) bool {
	if gb.filter.StopAtIO {
		for _, t := range gb.tags[id] {
			if strings.HasPrefix(t, "io:") {
				return true
			}
		}
	}

	if n, ok := gb.graph.Node(id); ok {
		for _, unit := range gb.filter.StopAtUnits {
			if matchSymbolPattern(unit, n.Unit) {
				return true
			}
		}
	}
	return false
}

// buildResponse constructs the final response.
func (gb *GraphBuilder) buildResponse(rootID string, maxDepth int) *GraphResponse {
	nodes := make([]GraphNode, 0, len(gb.order))
	for _, id := range gb.order {
		nodes = append(nodes, *gb.nodes[id])
	}

	return &GraphResponse{
		Nodes:    nodes,
		Edges:    gb.edges,
		RootID:   rootID,
		MaxDepth: maxDepth,
		Filtered: gb.filtered,
	}
}

// calleeNodeID returns the response node id for a callee. Placeholders are
// prefixed with their kind so they never collide with function ids.
func calleeNodeID(c callgraph.Callee) string {
	if c.Kind == callgraph.CalleeResolved {
		return c.Ref
	}
	return c.String()
}

func isNoise(patterns []string, ref string) bool {
	for _, p := range patterns {
		if matchSymbolPattern(p, ref) {
			return true
		}
	}
	return false
}

// matchSymbolPattern matches a name against a pattern.
// Supports * as a wildcard for any suffix.
func matchSymbolPattern(pattern, name string) bool {
	if pattern == name {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return false
}
