package index

import (
	"fmt"
	"strings"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/config"
)

type scopeKey struct {
	scope string
	name  string
}

// resolver maps raw call sites to callees using only the definitions of one
// unit. It never guesses: ambiguity resolves to Unresolved.
type resolver struct {
	byScope     map[scopeKey][]*definition // Free functions by declaring scope and name
	byQualified map[string][]*definition
	methods     map[string][]*definition // impl and trait functions by bare name

	externalCrates  map[string]bool
	externalSymbols map[string]bool
	externalMacros  map[string]bool
	externalMethods map[string]bool
}

func newResolver(defs []*definition, rc config.ResolutionConfig) *resolver {
	r := &resolver{
		byScope:         make(map[scopeKey][]*definition),
		byQualified:     make(map[string][]*definition),
		methods:         make(map[string][]*definition),
		externalCrates:  toSet(rc.ExternalCrates),
		externalSymbols: toSet(rc.ExternalSymbols),
		externalMacros:  toSet(rc.ExternalMacros),
		externalMethods: toSet(rc.ExternalMethods),
	}
	for _, d := range defs {
		r.byQualified[d.qualified] = append(r.byQualified[d.qualified], d)
		if d.node.IsMethod() {
			r.methods[d.node.Name] = append(r.methods[d.node.Name], d)
			continue
		}
		key := scopeKey{scope: d.parentScope(), name: d.node.Name}
		r.byScope[key] = append(r.byScope[key], d)
	}
	return r
}

// resolve classifies one call made from caller.
func (r *resolver) resolve(caller *definition, c rawCall) callgraph.Callee {
	switch c.kind {
	case callPlain:
		return r.resolvePlain(caller, c.name)
	case callPath:
		return r.resolvePath(caller, c.name)
	case callMethod:
		return r.resolveMethod(c.name)
	default:
		if r.externalMacros[c.name] {
			return callgraph.External(c.name)
		}
		return callgraph.Unresolved(c.name)
	}
}

// resolvePlain walks the caller's lexical scopes; the nearest scope that
// defines the name wins.
func (r *resolver) resolvePlain(caller *definition, name string) callgraph.Callee {
	for _, scope := range caller.scopes {
		switch defs := r.byScope[scopeKey{scope: scope, name: name}]; len(defs) {
		case 0:
			continue
		case 1:
			return callgraph.Resolved(defs[0].node.ID)
		default:
			return callgraph.Unresolved(name)
		}
	}
	if r.externalSymbols[name] {
		return callgraph.External(name)
	}
	return callgraph.Unresolved(name)
}

// resolvePath handles a::b::f, crate::, self::, super:: and Self:: paths.
func (r *resolver) resolvePath(caller *definition, path string) callgraph.Callee {
	segs := strings.Split(path, "::")
	scopes := caller.scopes

	switch segs[0] {
	case "crate":
		segs, scopes = segs[1:], []string{""}
	case "self":
		segs, scopes = segs[1:], caller.modules
	case "super":
		up := 0
		for up < len(segs) && segs[up] == "super" {
			up++
		}
		segs = segs[up:]
		scopes = caller.modules[min(up, len(caller.modules)-1):]
	case "Self":
		if caller.node.Owner == "" {
			return callgraph.Unresolved(path)
		}
		segs = append([]string{caller.node.Owner}, segs[1:]...)
		scopes = caller.modules
	}
	if len(segs) == 0 {
		return callgraph.Unresolved(path)
	}

	rel := strings.Join(segs, "::")
	for _, scope := range scopes {
		q := rel
		if scope != "" {
			q = scope + "::" + rel
		}
		switch defs := r.byQualified[q]; len(defs) {
		case 0:
			continue
		case 1:
			return callgraph.Resolved(defs[0].node.ID)
		default:
			return callgraph.Unresolved(path)
		}
	}

	if r.externalCrates[segs[0]] || r.externalSymbols[segs[0]] || r.externalSymbols[rel] {
		return callgraph.External(path)
	}
	return callgraph.Unresolved(path)
}

// resolveMethod resolves x.m(..) by name alone. Without type information a
// name shared by several impls cannot be dispatched.
func (r *resolver) resolveMethod(name string) callgraph.Callee {
	switch defs := r.methods[name]; len(defs) {
	case 0:
		if r.externalMethods[name] {
			return callgraph.External(name)
		}
		return callgraph.Unresolved(name)
	case 1:
		return callgraph.Resolved(defs[0].node.ID)
	default:
		return callgraph.Unresolved(name)
	}
}

func unresolvedDiagnostic(c rawCall, callee callgraph.Callee) callgraph.Diagnostic {
	return callgraph.Diagnostic{
		Kind:     callgraph.DiagUnresolvedCall,
		Location: c.site,
		Message:  fmt.Sprintf("cannot resolve call to %s", callee.Ref),
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
