package index

import (
	"encoding/json"
	"strings"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/store"
)

// testAttributes mark functions run by the test harness rather than called.
var testAttributes = map[string]store.EntrypointType{
	"test":        store.EntrypointTest,
	"tokio::test": store.EntrypointTest,
	"rstest":      store.EntrypointTest,
	"bench":       store.EntrypointBench,
}

// EntrypointDetector classifies the graph's entry points by how they are
// reached from outside the analyzed code.
type EntrypointDetector struct {
	entrySymbols map[string]bool
}

// EntryMeta holds metadata stored with every entrypoint.
type EntryMeta struct {
	Unit      string `json:"unit,omitempty"`
	Line      int    `json:"line"`
	Attribute string `json:"attribute,omitempty"`
	Verified  bool   `json:"verified,omitempty"`
}

// DetectResult holds the results of entrypoint detection.
type DetectResult struct {
	Entrypoints []store.Entrypoint
	MainCount   int
	TestCount   int
	BenchCount  int
	PublicCount int
	DeadCount   int // Unreferenced private functions
	TotalCount  int
}

// NewEntrypointDetector creates a detector for the graph's entry symbols.
func NewEntrypointDetector(opts callgraph.Options) *EntrypointDetector {
	return &EntrypointDetector{entrySymbols: toSet(opts.EntrySymbols)}
}

// Detect walks the graph's entry points in graph order and classifies each.
func (d *EntrypointDetector) Detect(g *callgraph.Graph) *DetectResult {
	result := &DetectResult{}
	verified := g.VerifiedSet()

	for _, id := range g.EntryPoints() {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		epType, attr := d.classify(n)

		meta, _ := json.Marshal(EntryMeta{
			Unit:      n.Unit,
			Line:      n.Span.StartLine,
			Attribute: attr,
			Verified:  verified[id],
		})
		result.Entrypoints = append(result.Entrypoints, store.Entrypoint{
			Type:       epType,
			Label:      n.QualifiedName,
			FunctionID: id,
			MetaJSON:   string(meta),
		})

		switch epType {
		case store.EntrypointMain:
			result.MainCount++
		case store.EntrypointTest:
			result.TestCount++
		case store.EntrypointBench:
			result.BenchCount++
		case store.EntrypointPublic:
			result.PublicCount++
		case store.EntrypointUnreferenced:
			result.DeadCount++
		}
	}

	result.TotalCount = len(result.Entrypoints)
	return result
}

// classify picks the most specific category: main, then test or bench,
// then public. Whatever is left is an entry point only because nothing
// calls it.
func (d *EntrypointDetector) classify(n callgraph.FunctionNode) (store.EntrypointType, string) {
	if d.entrySymbols[n.QualifiedName] {
		return store.EntrypointMain, ""
	}
	for _, a := range n.Annotations {
		if epType, ok := testAttributes[attributePath(a)]; ok {
			return epType, a
		}
	}
	if n.Visibility == callgraph.VisibilityPublic {
		return store.EntrypointPublic, ""
	}
	return store.EntrypointUnreferenced, ""
}

// attributePath strips arguments from an attribute: "test(foo)" -> "test".
func attributePath(attr string) string {
	if i := strings.IndexAny(attr, "(= "); i != -1 {
		attr = attr[:i]
	}
	return attr
}
