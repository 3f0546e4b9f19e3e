package index

import (
	"fmt"
	"strings"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/config"
	"github.com/abramin/callscope/internal/store"
)

// Tagger applies tags to functions based on I/O boundaries, layers, and purity heuristics.
type Tagger struct {
	cfg *config.Config
}

// TagResult holds the results of the tagging operation.
type TagResult struct {
	Tags          []store.Tag
	IOTags        int // Number of I/O boundary tags applied
	LayerTags     int // Number of layer tags applied
	PurityTags    int // Number of purity tags applied
	VerifiedTags  int // Number of verified-reachable tags applied
	RecursiveTags int // Number of recursion tags applied
	TotalTags     int // Total tags applied
}

// ByFunction groups the tag names by function id.
func (r *TagResult) ByFunction() map[string][]string {
	out := make(map[string][]string)
	for _, t := range r.Tags {
		out[t.FunctionID] = append(out[t.FunctionID], t.Tag)
	}
	return out
}

// NewTagger creates a new tagger.
func NewTagger(cfg *config.Config) *Tagger {
	return &Tagger{cfg: cfg}
}

// Tag computes all tags for the functions of g. Tags of one function are
// emitted in a fixed order: io, layer, verified, recursive, pure-ish.
func (t *Tagger) Tag(g *callgraph.Graph) *TagResult {
	result := &TagResult{}
	ioByFunc := make(map[string][]store.Tag, g.Len())

	for _, n := range g.Nodes() {
		ioByFunc[n.ID] = t.getIOTags(g, n)
	}

	verified := g.VerifiedSet()
	for _, n := range g.Nodes() {
		ioTags := ioByFunc[n.ID]
		result.Tags = append(result.Tags, ioTags...)
		result.IOTags += len(ioTags)

		if layerTag := t.getLayerTag(n); layerTag != nil {
			result.Tags = append(result.Tags, *layerTag)
			result.LayerTags++
		}

		if verified[n.ID] {
			result.Tags = append(result.Tags, store.Tag{
				FunctionID: n.ID,
				Tag:        "verified",
				Reason:     "Reachable from a verification-annotated function",
			})
			result.VerifiedTags++
		}

		if g.IsRecursive(n.ID) {
			result.Tags = append(result.Tags, store.Tag{
				FunctionID: n.ID,
				Tag:        "recursive",
				Reason:     "Part of a call cycle",
			})
			result.RecursiveTags++
		}

		if purityTag := t.getPurityTag(g, n, ioByFunc); purityTag != nil {
			result.Tags = append(result.Tags, *purityTag)
			result.PurityTags++
		}
	}

	result.TotalTags = len(result.Tags)
	return result
}

// getIOTags returns I/O boundary tags for a function: one per category its
// external callees fall into, plus one derived from the owner type name.
func (t *Tagger) getIOTags(g *callgraph.Graph, n callgraph.FunctionNode) []store.Tag {
	var tags []store.Tag
	seen := make(map[string]bool)

	for _, e := range g.EdgesFrom(n.ID) {
		if e.Callee.Kind != callgraph.CalleeExternal {
			continue
		}
		category := t.cfg.GetIOCategory(e.Callee.Ref)
		if category == "" || seen[category] {
			continue
		}
		seen[category] = true
		tags = append(tags, store.Tag{
			FunctionID: n.ID,
			Tag:        "io:" + category,
			Reason:     fmt.Sprintf("Calls %s", e.Callee.Ref),
		})
	}

	if n.Owner != "" {
		if ioTag := ioTagFromOwner(n.Owner); ioTag != "" && !seen[strings.TrimPrefix(ioTag, "io:")] {
			tags = append(tags, store.Tag{
				FunctionID: n.ID,
				Tag:        ioTag,
				Reason:     fmt.Sprintf("Method on %s type", n.Owner),
			})
		}
	}

	return tags
}

// ioTagFromOwner returns an I/O tag based on the impl type name.
func ioTagFromOwner(owner string) string {
	if idx := strings.LastIndex(owner, "::"); idx != -1 {
		owner = owner[idx+2:]
	}
	lowerName := strings.ToLower(owner)

	if strings.HasSuffix(lowerName, "store") ||
		strings.HasSuffix(lowerName, "repo") ||
		strings.HasSuffix(lowerName, "repository") {
		return "io:db"
	}
	if strings.HasSuffix(lowerName, "client") {
		return "io:net"
	}
	return ""
}

// getLayerTag returns a layer tag for a function based on its unit path.
func (t *Tagger) getLayerTag(n callgraph.FunctionNode) *store.Tag {
	if n.Unit == "" {
		return nil
	}
	layer := t.cfg.GetLayerForUnit(n.Unit)
	if layer == "" {
		return nil
	}
	return &store.Tag{
		FunctionID: n.ID,
		Tag:        "layer:" + layer,
		Reason:     fmt.Sprintf("Unit path matches %s layer pattern", layer),
	}
}

// getPurityTag marks functions that neither perform I/O themselves nor call
// a function of the graph that does. Only direct callees are inspected.
func (t *Tagger) getPurityTag(g *callgraph.Graph, n callgraph.FunctionNode, ioByFunc map[string][]store.Tag) *store.Tag {
	if len(ioByFunc[n.ID]) > 0 {
		return nil
	}

	edges := g.EdgesFrom(n.ID)
	if len(edges) == 0 {
		return &store.Tag{
			FunctionID: n.ID,
			Tag:        "pure-ish",
			Reason:     "No outgoing function calls",
		}
	}

	for _, callee := range g.Callees(n.ID) {
		if len(ioByFunc[callee]) > 0 {
			return nil
		}
	}

	return &store.Tag{
		FunctionID: n.ID,
		Tag:        "pure-ish",
		Reason:     "No calls to I/O functions",
	}
}
