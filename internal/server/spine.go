package server

import (
	"sort"
	"strings"

	"github.com/abramin/callscope/internal/callgraph"
)

// SpineNode represents a node in the call spine visualization.
type SpineNode struct {
	ID          string       `json:"id"`
	Label       string       `json:"label"`
	Unit        string       `json:"unit,omitempty"`
	Owner       string       `json:"owner,omitempty"`
	Line        int          `json:"line"`
	Tags        []string     `json:"tags"`
	Depth       int          `json:"depth"`
	IsMainPath  bool         `json:"is_main_path"`
	BranchBadge *BranchBadge `json:"branch_badge,omitempty"`
	Layer       string       `json:"layer,omitempty"` // handler, service, store, domain
}

// BranchBadge summarizes collapsed branch calls from a spine node.
type BranchBadge struct {
	CallCount    int      `json:"call_count"`    // Number of collapsed calls ("+4 calls")
	CollapsedIDs []string `json:"collapsed_ids"` // Function ids, or kind:ref for callees outside the graph
	Labels       []string `json:"labels"`        // Brief labels for tooltip
}

// SpineResponse is the response for call spine visualization.
type SpineResponse struct {
	Nodes          []SpineNode `json:"nodes"`
	MainPath       []string    `json:"main_path"`   // Ordered node ids forming spine
	TotalNodes     int         `json:"total_nodes"` // Including collapsed
	CollapsedCount int         `json:"collapsed_count"`
}

// SpineBuilder builds a call spine from the call graph.
type SpineBuilder struct {
	graph  *callgraph.Graph
	tags   map[string][]string
	filter GraphFilter
}

// NewSpineBuilder creates a new spine builder.
func NewSpineBuilder(g *callgraph.Graph, tags map[string][]string, filter GraphFilter) *SpineBuilder {
	return &SpineBuilder{
		graph:  g,
		tags:   tags,
		filter: filter,
	}
}

// ScoredCallee represents a callee with a score for main path selection.
type ScoredCallee struct {
	ID    string
	Score int
	Order int // Position among the caller's edges, breaks score ties
}

// BuildSpine constructs the call spine from a root function.
func (sb *SpineBuilder) BuildSpine(rootID string, maxDepth int) (*SpineResponse, error) {
	if !sb.graph.HasNode(rootID) {
		return nil, callgraph.ErrNodeNotFound
	}
	if maxDepth <= 0 {
		maxDepth = 10
	}

	mainPath := sb.determineMainPath(rootID, maxDepth)
	onPath := make(map[string]bool, len(mainPath))
	for _, id := range mainPath {
		onPath[id] = true
	}

	nodes := make([]SpineNode, 0, len(mainPath))
	totalNodes := 0
	collapsedCount := 0

	for i, id := range mainPath {
		n, _ := sb.graph.Node(id)
		tags := sb.tags[id]
		if tags == nil {
			tags = []string{}
		}
		node := SpineNode{
			ID:         id,
			Label:      n.QualifiedName,
			Unit:       n.Unit,
			Owner:      n.Owner,
			Line:       n.Span.StartLine,
			Tags:       tags,
			Depth:      i,
			IsMainPath: true,
			Layer:      extractLayer(tags),
		}

		// Build branch badge for non-main-path callees
		var collapsedIDs, collapsedLabels []string
		for _, e := range sb.graph.EdgesFrom(id) {
			if e.Callee.Kind == callgraph.CalleeResolved && onPath[e.Callee.Ref] {
				continue
			}
			totalNodes++
			if sb.shouldFilterCallee(e.Callee) {
				continue
			}
			collapsedIDs = append(collapsedIDs, calleeNodeID(e.Callee))
			collapsedLabels = append(collapsedLabels, sb.calleeLabel(e.Callee))
			collapsedCount++
		}

		if len(collapsedIDs) > 0 {
			node.BranchBadge = &BranchBadge{
				CallCount:    len(collapsedIDs),
				CollapsedIDs: collapsedIDs,
				Labels:       collapsedLabels,
			}
		}

		nodes = append(nodes, node)
	}

	return &SpineResponse{
		Nodes:          nodes,
		MainPath:       mainPath,
		TotalNodes:     totalNodes + len(mainPath),
		CollapsedCount: collapsedCount,
	}, nil
}

func (sb *SpineBuilder) calleeLabel(c callgraph.Callee) string {
	if c.Kind != callgraph.CalleeResolved {
		return c.Ref
	}
	n, _ := sb.graph.Node(c.Ref)
	return n.QualifiedName
}

// shouldFilterCallee checks if a callee should be left out of branch badges.
func (sb *SpineBuilder) shouldFilterCallee(c callgraph.Callee) bool {
	switch c.Kind {
	case callgraph.CalleeExternal:
		return sb.filter.HideExternal || (sb.filter.HideNoise && isNoise(sb.filter.NoiseSymbols, c.Ref))
	case callgraph.CalleeUnresolved:
		return sb.filter.HideUnresolved
	}
	return false
}

// determineMainPath uses scoring heuristics to find the "happy path".
func (sb *SpineBuilder) determineMainPath(rootID string, maxDepth int) []string {
	root, _ := sb.graph.Node(rootID)

	// Greedy path selection with scoring
	path := []string{rootID}
	current := rootID
	visited := map[string]bool{rootID: true}

	for len(path) < maxDepth {
		scored := sb.scoreCallees(current, root.Unit, visited)
		if len(scored) == 0 {
			break
		}

		sort.SliceStable(scored, func(i, j int) bool {
			if scored[i].Score != scored[j].Score {
				return scored[i].Score > scored[j].Score
			}
			return scored[i].Order < scored[j].Order
		})

		best := scored[0]
		visited[best.ID] = true
		path = append(path, best.ID)
		current = best.ID
	}

	return path
}

// scoreCallees assigns scores to the unvisited resolved callees of callerID.
func (sb *SpineBuilder) scoreCallees(callerID, rootUnit string, visited map[string]bool) []ScoredCallee {
	var scored []ScoredCallee

	for i, calleeID := range sb.graph.Callees(callerID) {
		if visited[calleeID] {
			continue
		}
		n, _ := sb.graph.Node(calleeID)

		score := 0

		// Same unit as the root: business logic usually stays close
		if n.Unit == rootUnit {
			score += 10
		}

		for _, tag := range sb.tags[calleeID] {
			switch {
			case tag == "layer:service":
				score += 8
			case tag == "layer:domain":
				score += 7
			case tag == "layer:store":
				score += 6
			case tag == "layer:handler":
				score += 5
			case tag == "io:print":
				score -= 15
			case strings.HasPrefix(tag, "io:"):
				score += 2
			}
		}

		if isErrorConstruction(n.Name) {
			score -= 20
		}

		// Methods are likely business logic
		if n.IsMethod() {
			score += 3
		}

		// Verified bonus
		if sb.graph.IsVerifiedReachable(calleeID) {
			score += 2
		}

		// Leaf penalty
		if len(sb.graph.Callees(calleeID)) == 0 {
			score -= 3
		}

		scored = append(scored, ScoredCallee{ID: calleeID, Score: score, Order: i})
	}

	return scored
}

// extractLayer extracts the layer tag from tags.
func extractLayer(tags []string) string {
	for _, tag := range tags {
		if layer, ok := strings.CutPrefix(tag, "layer:"); ok {
			return layer
		}
	}
	return ""
}

// isErrorConstruction checks if a function constructs errors.
func isErrorConstruction(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, "error") || strings.HasSuffix(lower, "_err") ||
		strings.HasPrefix(lower, "error") || strings.HasPrefix(lower, "err_")
}
