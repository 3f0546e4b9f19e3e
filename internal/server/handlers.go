package server

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/store"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string   `json:"error"`
	Code  string   `json:"code"`
	Cycle []string `json:"cycle,omitempty"`
}

// StatsResponse is returned by GET /api/stats.
type StatsResponse struct {
	callgraph.Stats
	Units       int `json:"units"`
	Tags        int `json:"tags"`
	Entrypoints int `json:"entrypoints"`
}

// NodeResponse is returned by GET /api/nodes/:id.
type NodeResponse struct {
	Node       callgraph.FunctionNode `json:"node"`
	Tags       []string               `json:"tags"`
	Calls      []callgraph.CallEdge   `json:"calls"`
	Callers    []string               `json:"callers"`
	Verified   bool                   `json:"verified"`
	EntryPoint bool                   `json:"entry_point"`
	Recursive  bool                   `json:"recursive"`
}

// IDListResponse carries an ordered list of node ids.
type IDListResponse struct {
	ID  string   `json:"id,omitempty"`
	IDs []string `json:"ids"`
}

type subgraphQuery struct {
	Depth          int  `form:"depth" binding:"min=0,max=64"`
	HideExternal   bool `form:"hideExternal"`
	HideUnresolved bool `form:"hideUnresolved"`
	HideNoise      bool `form:"hideNoise"`
	StopAtIO       bool `form:"stopAtIO"`
}

type pathQuery struct {
	From string `form:"from" binding:"required"`
	To   string `form:"to" binding:"required"`
}

type listQuery struct {
	Type  string `form:"type"`
	Kind  string `form:"kind"`
	Query string `form:"query"`
	Limit int    `form:"limit" binding:"min=0"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "INVALID_REQUEST"})
}

// resolveNode maps the :id parameter to a node id, writing a 404 on failure.
func resolveNode(c *gin.Context, g *callgraph.Graph) (string, bool) {
	id, err := g.Lookup(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NODE_NOT_FOUND"})
		return "", false
	}
	return id, true
}

func (s *Server) filter(q subgraphQuery) GraphFilter {
	f := DefaultGraphFilter()
	f.HideExternal = q.HideExternal
	f.HideUnresolved = q.HideUnresolved
	f.HideNoise = q.HideNoise
	f.StopAtIO = q.StopAtIO
	f.NoiseSymbols = s.cfg.NoiseSymbols
	return f
}

// handleHealth returns server health status.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "functions": s.source.Snapshot().Len()})
}

// handleStats returns graph statistics.
func (s *Server) handleStats(c *gin.Context) {
	g := s.source.Snapshot()
	v := s.viewsFor(g)

	units := make(map[string]bool)
	for _, n := range g.Nodes() {
		units[n.Unit] = true
	}
	c.JSON(http.StatusOK, StatsResponse{
		Stats:       g.Stats(),
		Units:       len(units),
		Tags:        v.tagCount,
		Entrypoints: len(v.entrypoints),
	})
}

// handleGraph returns the full export record.
func (s *Server) handleGraph(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Snapshot().Export())
}

// handleGraphRoot handles GET /api/graph/root/:id
func (s *Server) handleGraphRoot(c *gin.Context) {
	var q subgraphQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters: "+err.Error())
		return
	}
	if q.Depth == 0 {
		q.Depth = 3
	}

	g := s.source.Snapshot()
	id, ok := resolveNode(c, g)
	if !ok {
		return
	}
	resp, err := NewGraphBuilder(g, s.viewsFor(g).tags, s.filter(q)).BuildFromRoot(id, q.Depth)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "QUERY_FAILED"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleSpine handles GET /api/graph/spine/:id
func (s *Server) handleSpine(c *gin.Context) {
	var q subgraphQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters: "+err.Error())
		return
	}

	g := s.source.Snapshot()
	id, ok := resolveNode(c, g)
	if !ok {
		return
	}
	resp, err := NewSpineBuilder(g, s.viewsFor(g).tags, s.filter(q)).BuildSpine(id, q.Depth)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "QUERY_FAILED"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleNode handles GET /api/nodes/:id
func (s *Server) handleNode(c *gin.Context) {
	g := s.source.Snapshot()
	id, ok := resolveNode(c, g)
	if !ok {
		return
	}
	n, _ := g.Node(id)
	tags := s.viewsFor(g).tags[id]
	if tags == nil {
		tags = []string{}
	}
	calls := g.EdgesFrom(id)
	if calls == nil {
		calls = []callgraph.CallEdge{}
	}
	c.JSON(http.StatusOK, NodeResponse{
		Node:       n,
		Tags:       tags,
		Calls:      calls,
		Callers:    nonNil(g.Callers(id)),
		Verified:   g.IsVerifiedReachable(id),
		EntryPoint: g.IsEntryPoint(id),
		Recursive:  g.IsRecursive(id),
	})
}

// handleReachable handles GET /api/nodes/:id/reachable
func (s *Server) handleReachable(c *gin.Context) {
	g := s.source.Snapshot()
	id, ok := resolveNode(c, g)
	if !ok {
		return
	}
	reach, err := g.ReachableFrom(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "QUERY_FAILED"})
		return
	}
	c.JSON(http.StatusOK, IDListResponse{ID: id, IDs: nonNil(reach)})
}

// handleCallers handles GET /api/nodes/:id/callers
func (s *Server) handleCallers(c *gin.Context) {
	g := s.source.Snapshot()
	id, ok := resolveNode(c, g)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, IDListResponse{ID: id, IDs: nonNil(g.Callers(id))})
}

// handlePath handles GET /api/path?from=&to=
func (s *Server) handlePath(c *gin.Context) {
	var q pathQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "from and to are required")
		return
	}

	g := s.source.Snapshot()
	from, errFrom := g.Lookup(q.From)
	to, errTo := g.Lookup(q.To)
	if err := errors.Join(errFrom, errTo); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NODE_NOT_FOUND"})
		return
	}

	path, err := g.ShortestPath(from, to)
	switch {
	case errors.Is(err, callgraph.ErrNoPath):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NO_PATH"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "QUERY_FAILED"})
	default:
		c.JSON(http.StatusOK, IDListResponse{IDs: path})
	}
}

// handleTopo handles GET /api/topo. A cyclic graph yields 409 with the
// members of the offending cycle.
func (s *Server) handleTopo(c *gin.Context) {
	order, err := s.source.Snapshot().TopologicalOrder()
	var cycle *callgraph.CycleError
	switch {
	case errors.As(err, &cycle):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "CYCLE_DETECTED", Cycle: cycle.Nodes})
	case err != nil:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "QUERY_FAILED"})
	default:
		c.JSON(http.StatusOK, IDListResponse{IDs: nonNil(order)})
	}
}

// handleDiagnostics handles GET /api/diagnostics?kind=&limit=
func (s *Server) handleDiagnostics(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters: "+err.Error())
		return
	}

	out := []callgraph.Diagnostic{}
	for d := range s.source.Snapshot().Diagnostics() {
		if q.Kind != "" && string(d.Kind) != q.Kind {
			continue
		}
		out = append(out, d)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	c.JSON(http.StatusOK, out)
}

// handleEntrypoints handles GET /api/entrypoints?type=&query=&limit=
func (s *Server) handleEntrypoints(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters: "+err.Error())
		return
	}

	out := []store.Entrypoint{}
	for _, ep := range s.viewsFor(s.source.Snapshot()).entrypoints {
		if q.Type != "" && string(ep.Type) != q.Type {
			continue
		}
		if q.Query != "" && !strings.Contains(ep.Label, q.Query) {
			continue
		}
		out = append(out, ep)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	c.JSON(http.StatusOK, out)
}

// handleSearch handles GET /api/search?query=xxx
func (s *Server) handleSearch(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil || q.Query == "" {
		badRequest(c, "query parameter required")
		return
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}

	hits := []store.FunctionHit{}
	for _, n := range s.source.Snapshot().Nodes() {
		if strings.Contains(n.QualifiedName, q.Query) {
			hits = append(hits, store.FunctionHit{ID: n.ID, QualifiedName: n.QualifiedName, Unit: n.Unit, Line: n.Span.StartLine})
		}
	}
	// Shorter names first, the same order the store uses.
	sort.SliceStable(hits, func(i, j int) bool {
		return len(hits[i].QualifiedName) < len(hits[j].QualifiedName)
	})
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	c.JSON(http.StatusOK, hits)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
