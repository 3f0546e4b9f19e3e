package callgraph

// ExportNode is the renderer-facing record for one function.
type ExportNode struct {
	ID                string     `json:"id"`
	Label             string     `json:"label"`
	Unit              string     `json:"unit,omitempty"`
	Visibility        Visibility `json:"visibility"`
	Annotations       []string   `json:"annotations"`
	VerifiedReachable bool       `json:"verifiedReachable"`
	EntryPoint        bool       `json:"entryPoint"`
	Recursive         bool       `json:"recursive"`
	Span              Span       `json:"span"`
}

// ExportEdge is the renderer-facing record for one aggregated call edge.
type ExportEdge struct {
	Caller      string     `json:"caller"`
	CalleeKind  CalleeKind `json:"calleeKind"`
	CalleeRef   string     `json:"calleeRef"`
	Occurrences int        `json:"occurrences"`
	ViaClosure  bool       `json:"viaClosure"`
	Line        int        `json:"line"`
	Column      int        `json:"column"`
}

// Export is the serializable record consumed by renderers and editors.
type Export struct {
	Nodes []ExportNode `json:"nodes"`
	Edges []ExportEdge `json:"edges"`
}

// Export converts the graph into its export record. Nodes and edges keep
// insertion order, so exporting the same graph twice gives identical records.
func (g *Graph) Export() Export {
	ex := Export{
		Nodes: make([]ExportNode, 0, len(g.order)),
		Edges: make([]ExportEdge, 0, len(g.edges)),
	}
	for _, id := range g.order {
		n := g.nodes[id]
		annotations := make([]string, len(n.Annotations))
		copy(annotations, n.Annotations)
		ex.Nodes = append(ex.Nodes, ExportNode{
			ID:                n.ID,
			Label:             n.QualifiedName,
			Unit:              n.Unit,
			Visibility:        n.Visibility,
			Annotations:       annotations,
			VerifiedReachable: g.IsVerifiedReachable(id),
			EntryPoint:        g.entrySet[id],
			Recursive:         g.IsRecursive(id),
			Span:              n.Span,
		})
	}
	for _, e := range g.edges {
		ex.Edges = append(ex.Edges, ExportEdge{
			Caller:      e.Caller,
			CalleeKind:  e.Callee.Kind,
			CalleeRef:   e.Callee.Ref,
			Occurrences: e.Occurrences,
			ViaClosure:  e.ViaClosure,
			Line:        e.Site.Line,
			Column:      e.Site.Column,
		})
	}
	return ex
}
