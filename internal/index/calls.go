package index

import (
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/abramin/callscope/internal/callgraph"
)

// callKind is the syntactic shape of a call site.
type callKind int

const (
	callPlain  callKind = iota // f(..)
	callPath                   // a::b::f(..)
	callMethod                 // x.m(..)
	callMacro                  // m!(..)
)

// rawCall is an extracted, not yet resolved, call site.
type rawCall struct {
	kind       callKind
	name       string // Callee text; macros keep their trailing '!'
	site       callgraph.Location
	offset     uint32 // Byte offset of the callee name token
	viaClosure bool
}

// nestedItems are never descended into: they are collected as their own
// definitions.
var nestedItems = map[string]bool{
	"function_item": true,
	"impl_item":     true,
	"mod_item":      true,
	"trait_item":    true,
}

type extractFrame struct {
	node      *sitter.Node
	inClosure bool
	scope     *scope
}

// scope is one lexical level of local bindings. Calls to a name bound in
// the chain go through a variable and are not extracted.
type scope struct {
	names  map[string]bool
	parent *scope
}

func (s *scope) has(name string) bool {
	for ; s != nil; s = s.parent {
		if s.names[name] {
			return true
		}
	}
	return false
}

// with returns a child scope binding names, or s itself when there are none.
func (s *scope) with(names map[string]bool) *scope {
	if len(names) == 0 {
		return s
	}
	return &scope{names: names, parent: s}
}

// extractCalls returns the direct, named calls in def's body ordered by the
// position of the callee name. Calls through local bindings and calls on
// arbitrary expressions are not extracted.
func extractCalls(def *definition, src []byte, unit string) []rawCall {
	if def.body == nil {
		return nil
	}
	e := &extractor{src: src, unit: unit}

	var params *scope
	params = params.with(parameterNames(def.params, src))

	stack := []extractFrame{{node: def.body, scope: params}}
	push := func(n *sitter.Node, inClosure bool, sc *scope) {
		if !nestedItems[n.Type()] {
			stack = append(stack, extractFrame{node: n, inClosure: inClosure, scope: sc})
		}
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := f.node
		inClosure, sc := f.inClosure, f.scope

		switch n.Type() {
		case "closure_expression":
			inClosure = true
			sc = sc.with(parameterNames(n.ChildByFieldName("parameters"), src))
		case "call_expression":
			e.callee(n.ChildByFieldName("function"), inClosure, sc)
		case "macro_invocation":
			e.macro(n, inClosure, sc)
			continue
		case "block":
			// A let binds for the statements after it.
			for _, child := range namedChildren(n) {
				push(child, inClosure, sc)
				if child.Type() == "let_declaration" {
					sc = sc.with(bindingNames(child.ChildByFieldName("pattern"), src))
				}
			}
			continue
		case "for_expression":
			body := n.ChildByFieldName("body")
			inner := sc.with(bindingNames(n.ChildByFieldName("pattern"), src))
			for _, child := range namedChildren(n) {
				if sameNode(child, body) {
					push(child, inClosure, inner)
				} else {
					push(child, inClosure, sc)
				}
			}
			continue
		case "if_expression", "while_expression":
			// if-let and while-let bind for the branch body only.
			inner := sc.with(letConditionNames(n.ChildByFieldName("condition"), src))
			then, body := n.ChildByFieldName("consequence"), n.ChildByFieldName("body")
			for _, child := range namedChildren(n) {
				if sameNode(child, then) || sameNode(child, body) {
					push(child, inClosure, inner)
				} else {
					push(child, inClosure, sc)
				}
			}
			continue
		case "match_arm":
			sc = sc.with(bindingNames(n.ChildByFieldName("pattern"), src))
		}

		for _, child := range namedChildren(n) {
			push(child, inClosure, sc)
		}
	}

	sort.SliceStable(e.calls, func(i, j int) bool { return e.calls[i].offset < e.calls[j].offset })
	return e.calls
}

type extractor struct {
	src   []byte
	unit  string
	calls []rawCall
}

func (e *extractor) add(kind callKind, name string, at *sitter.Node, inClosure bool) {
	e.calls = append(e.calls, rawCall{
		kind:       kind,
		name:       name,
		site:       location(e.unit, at),
		offset:     at.StartByte(),
		viaClosure: inClosure,
	})
}

// callee classifies the function position of a call_expression.
func (e *extractor) callee(fn *sitter.Node, inClosure bool, sc *scope) {
	if fn == nil {
		return
	}
	switch fn.Type() {
	case "identifier":
		name := text(fn, e.src)
		if !sc.has(name) {
			e.add(callPlain, name, fn, inClosure)
		}
	case "scoped_identifier":
		at := fn.ChildByFieldName("name")
		if at == nil {
			at = fn
		}
		e.add(callPath, compact(text(fn, e.src)), at, inClosure)
	case "field_expression":
		if field := fn.ChildByFieldName("field"); field != nil && field.Type() == "field_identifier" {
			e.add(callMethod, text(field, e.src), field, inClosure)
		}
	case "generic_function":
		e.callee(fn.ChildByFieldName("function"), inClosure, sc)
	}
}

// macro records the invocation itself and scans its token tree, which
// tree-sitter leaves unparsed, for call-shaped token runs.
func (e *extractor) macro(n *sitter.Node, inClosure bool, sc *scope) {
	if m := n.ChildByFieldName("macro"); m != nil {
		at := m
		if m.Type() == "scoped_identifier" {
			if name := m.ChildByFieldName("name"); name != nil {
				at = name
			}
		}
		e.add(callMacro, compact(text(m, e.src))+"!", at, inClosure)
	}
	for _, child := range namedChildren(n) {
		if child.Type() == "token_tree" {
			e.tokenTree(child, inClosure, sc)
		}
	}
}

type tokenFrame struct {
	tree      *sitter.Node
	inClosure bool
	scope     *scope
}

// tokenTree finds ident(..), x.ident(..), a::ident(..) and ident!(..) runs.
// A |params| or || run opens a closure for the rest of its group; the
// parameters are bound there.
func (e *extractor) tokenTree(tree *sitter.Node, inClosure bool, sc *scope) {
	stack := []tokenFrame{{tree: tree, inClosure: inClosure, scope: sc}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		inClosure, sc := f.inClosure, f.scope

		var params map[string]bool
		toks := children(f.tree)
		for i, tok := range toks {
			switch tok.Type() {
			case "||":
				inClosure = true
				continue
			case "|":
				if params == nil {
					params = make(map[string]bool)
					continue
				}
				inClosure = true
				sc = sc.with(params)
				params = nil
				continue
			case "token_tree":
				stack = append(stack, tokenFrame{tree: tok, inClosure: inClosure, scope: sc})
				continue
			}
			if tok.Type() != "identifier" {
				continue
			}
			name := text(tok, e.src)
			if params != nil {
				params[name] = true
				continue
			}
			if i+1 >= len(toks) {
				continue
			}
			next := toks[i+1]

			if next.Type() == "!" && i+2 < len(toks) && toks[i+2].Type() == "token_tree" {
				e.add(callMacro, name+"!", tok, inClosure)
				continue
			}
			if !isParenGroup(next) {
				continue
			}
			switch {
			case i > 0 && toks[i-1].Type() == ".":
				e.add(callMethod, name, tok, inClosure)
			case i > 0 && toks[i-1].Type() == "::":
				e.add(callPath, tokenPath(toks, i, e.src), tok, inClosure)
			case !sc.has(name):
				e.add(callPlain, name, tok, inClosure)
			}
		}
	}
}

// tokenPath rebuilds a::b::name walking backwards from the name token at i.
func tokenPath(toks []*sitter.Node, i int, src []byte) string {
	parts := []string{text(toks[i], src)}
	for j := i - 1; j >= 1 && toks[j].Type() == "::"; j -= 2 {
		prev := toks[j-1]
		if prev.Type() != "identifier" && prev.Type() != "self" && prev.Type() != "crate" && prev.Type() != "super" {
			break
		}
		parts = append(parts, text(prev, src))
	}
	for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
		parts[l], parts[r] = parts[r], parts[l]
	}
	return strings.Join(parts, "::")
}

func isParenGroup(n *sitter.Node) bool {
	return n.Type() == "token_tree" && n.ChildCount() > 0 && n.Child(0).Type() == "("
}

// parameterNames returns the names bound by a function or closure
// parameter list.
func parameterNames(params *sitter.Node, src []byte) map[string]bool {
	names := make(map[string]bool)
	if params == nil {
		return names
	}
	for _, p := range namedChildren(params) {
		if p.Type() == "parameter" {
			patternNames(p.ChildByFieldName("pattern"), src, names)
		} else if p.Type() != "self_parameter" && p.Type() != "attribute_item" {
			patternNames(p, src, names)
		}
	}
	return names
}

func bindingNames(p *sitter.Node, src []byte) map[string]bool {
	names := make(map[string]bool)
	patternNames(p, src, names)
	return names
}

// letConditionNames collects the bindings of if-let and while-let
// conditions, including let chains.
func letConditionNames(cond *sitter.Node, src []byte) map[string]bool {
	names := make(map[string]bool)
	if cond == nil {
		return names
	}
	stack := []*sitter.Node{cond}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch n.Type() {
		case "let_condition":
			patternNames(n.ChildByFieldName("pattern"), src, names)
			continue
		case "let_chain":
			stack = append(stack, namedChildren(n)...)
		}
	}
	return names
}

// patternNames adds the identifiers a pattern binds. Constructor names in
// tuple-struct and struct patterns and match guards are not bindings.
func patternNames(p *sitter.Node, src []byte, into map[string]bool) {
	if p == nil {
		return
	}
	stack := []*sitter.Node{p}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch n.Type() {
		case "identifier", "shorthand_field_identifier":
			into[text(n, src)] = true
			continue
		case "scoped_identifier", "scoped_type_identifier", "type_identifier":
			continue
		}

		ctor := n.ChildByFieldName("type")
		guard := n.ChildByFieldName("condition")
		for _, child := range namedChildren(n) {
			if sameNode(child, ctor) || sameNode(child, guard) {
				continue
			}
			stack = append(stack, child)
		}
	}
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
