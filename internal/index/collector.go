package index

import (
	"fmt"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/abramin/callscope/internal/callgraph"
)

type segmentKind int

const (
	segFunction segmentKind = iota
	segModule
	segImpl
	segTrait
)

// segment is one level of lexical enclosure.
type segment struct {
	kind segmentKind
	name string
}

// definition is a collected function plus what the extractor and resolver
// need to process its body.
type definition struct {
	node      callgraph.FunctionNode
	qualified string       // Qualified name without any duplicate suffix
	params    *sitter.Node // parameters
	body      *sitter.Node // block, nil for bodiless items
	scopes    []string     // Lexical scopes, innermost first, ending with the unit root ""
	modules   []string     // Enclosing modules, innermost first, ending with ""
}

type collection struct {
	defs        []*definition
	diagnostics []callgraph.Diagnostic
}

type collector struct {
	unit         string
	src          []byte
	entrySymbols map[string]bool
	seen         map[string]int
	out          collection
}

type collectFrame struct {
	node *sitter.Node
	path []segment
}

// collectDefinitions finds every function_item in the tree, in source order.
// Nested functions, mod, impl and trait blocks contribute "::" separated
// prefixes to the qualified name.
func collectDefinitions(root *sitter.Node, src []byte, unit string, entrySymbols []string) *collection {
	c := &collector{
		unit:         unit,
		src:          src,
		entrySymbols: make(map[string]bool, len(entrySymbols)),
		seen:         make(map[string]int),
	}
	for _, s := range entrySymbols {
		c.entrySymbols[s] = true
	}

	stack := []collectFrame{{node: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var next []collectFrame
		switch f.node.Type() {
		case "function_item":
			def, ok := c.addFunction(f.node, f.path)
			if ok && def.body != nil {
				next = append(next, collectFrame{node: def.body, path: appendSegment(f.path, segFunction, def.node.Name)})
			}
		case "mod_item":
			if body := f.node.ChildByFieldName("body"); body != nil {
				name := text(f.node.ChildByFieldName("name"), src)
				next = append(next, collectFrame{node: body, path: appendSegment(f.path, segModule, name)})
			}
		case "impl_item":
			if body := f.node.ChildByFieldName("body"); body != nil {
				name := baseTypeName(f.node.ChildByFieldName("type"), src)
				next = append(next, collectFrame{node: body, path: appendSegment(f.path, segImpl, name)})
			}
		case "trait_item":
			if body := f.node.ChildByFieldName("body"); body != nil {
				name := text(f.node.ChildByFieldName("name"), src)
				next = append(next, collectFrame{node: body, path: appendSegment(f.path, segTrait, name)})
			}
		case "ERROR":
			if tok := findFnToken(f.node); tok != nil {
				c.malformed(tok, "unparseable function header")
			}
			fallthrough
		default:
			for _, child := range namedChildren(f.node) {
				next = append(next, collectFrame{node: child, path: f.path})
			}
		}

		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
	return &c.out
}

// addFunction records one function_item. A header without a name or with a
// broken parameter list is reported and skipped together with its body.
func (c *collector) addFunction(n *sitter.Node, path []segment) (*definition, bool) {
	nameNode := n.ChildByFieldName("name")
	params := n.ChildByFieldName("parameters")
	switch {
	case nameNode == nil || nameNode.IsMissing():
		c.malformed(n, "function definition has no name")
		return nil, false
	case params == nil || params.IsMissing() || params.HasError():
		c.malformed(n, fmt.Sprintf("function %q has an unparseable parameter list", text(nameNode, c.src)))
		return nil, false
	}

	name := text(nameNode, c.src)
	qualified := joinPath(path, name)
	c.seen[qualified]++
	id := qualified
	if count := c.seen[qualified]; count > 1 {
		id = fmt.Sprintf("%s#%d", qualified, count)
	}

	var owner string
	if len(path) > 0 {
		if last := path[len(path)-1]; last.kind == segImpl || last.kind == segTrait {
			owner = last.name
		}
	}

	visibility := callgraph.VisibilityPrivate
	for _, child := range namedChildren(n) {
		if child.Type() == "visibility_modifier" && strings.TrimSpace(text(child, c.src)) == "pub" {
			visibility = callgraph.VisibilityPublic
		}
	}

	kind := callgraph.NodeKindPlain
	if visibility == callgraph.VisibilityPublic || c.entrySymbols[qualified] {
		kind = callgraph.NodeKindEntryCandidate
	}

	own := appendSegment(path, segFunction, name)
	def := &definition{
		node: callgraph.FunctionNode{
			ID:            id,
			QualifiedName: qualified,
			Name:          name,
			Unit:          c.unit,
			Owner:         owner,
			Visibility:    visibility,
			Span: callgraph.Span{
				StartLine: int(n.StartPoint().Row) + 1,
				EndLine:   int(n.EndPoint().Row) + 1,
			},
			Annotations: c.annotations(n),
			Kind:        kind,
		},
		qualified: qualified,
		params:    params,
		body:      n.ChildByFieldName("body"),
		scopes:    lexicalScopes(own),
		modules:   moduleScopes(path),
	}
	c.out.defs = append(c.out.defs, def)
	return def, true
}

// annotations returns the attribute texts directly above n, in source order.
// Comments between the attributes and the definition are skipped.
func (c *collector) annotations(n *sitter.Node) []string {
	var attrs []string
siblings:
	for prev := n.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		switch prev.Type() {
		case "line_comment", "block_comment":
		case "attribute_item":
			for _, child := range namedChildren(prev) {
				if child.Type() == "attribute" {
					attrs = append(attrs, strings.TrimSpace(text(child, c.src)))
				}
			}
		default:
			break siblings
		}
	}
	slices.Reverse(attrs)
	return attrs
}

func (c *collector) malformed(n *sitter.Node, msg string) {
	c.out.diagnostics = append(c.out.diagnostics, callgraph.Diagnostic{
		Kind:     callgraph.DiagMalformedDefinition,
		Location: location(c.unit, n),
		Message:  msg,
	})
}

// findFnToken returns the first "fn" keyword inside an error region, ignoring
// well-formed function items nested in it.
func findFnToken(errNode *sitter.Node) *sitter.Node {
	stack := []*sitter.Node{errNode}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Type() == "fn" {
			return n
		}
		if n.Type() == "function_item" {
			continue
		}
		kids := children(n)
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return nil
}

// baseTypeName reduces an impl target such as Vec<T> or crate::a::Foo to the
// bare type name.
func baseTypeName(n *sitter.Node, src []byte) string {
	if n == nil {
		return "?"
	}
	switch n.Type() {
	case "generic_type":
		return baseTypeName(n.ChildByFieldName("type"), src)
	case "scoped_type_identifier":
		if name := n.ChildByFieldName("name"); name != nil {
			return text(name, src)
		}
	}
	return text(n, src)
}

func appendSegment(path []segment, kind segmentKind, name string) []segment {
	out := make([]segment, len(path), len(path)+1)
	copy(out, path)
	return append(out, segment{kind: kind, name: name})
}

func joinPath(path []segment, name string) string {
	parts := make([]string, 0, len(path)+1)
	for _, s := range path {
		parts = append(parts, s.name)
	}
	return strings.Join(append(parts, name), "::")
}

func prefix(path []segment) string {
	parts := make([]string, 0, len(path))
	for _, s := range path {
		parts = append(parts, s.name)
	}
	return strings.Join(parts, "::")
}

// lexicalScopes lists the scopes a plain name is looked up in: every prefix
// of path that ends in a function or module, innermost first, then the root.
// impl and trait blocks do not open a scope for plain names.
func lexicalScopes(path []segment) []string {
	var scopes []string
	for i := len(path); i > 0; i-- {
		if k := path[i-1].kind; k == segFunction || k == segModule {
			scopes = append(scopes, prefix(path[:i]))
		}
	}
	return append(scopes, "")
}

func moduleScopes(path []segment) []string {
	var mods []string
	for i := len(path); i > 0; i-- {
		if path[i-1].kind == segModule {
			mods = append(mods, prefix(path[:i]))
		}
	}
	return append(mods, "")
}

// parentScope is the scope a free function is declared in.
func (d *definition) parentScope() string {
	if len(d.scopes) < 2 {
		return ""
	}
	return d.scopes[1]
}
