package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/abramin/callscope/internal/callgraph"
)

// ErrUnitTooLarge is returned when a unit exceeds the configured size limit.
var ErrUnitTooLarge = errors.New("unit exceeds maximum size limit")

// Unit is one self-contained source text handed to the analyzer.
type Unit struct {
	Name   string // Path relative to the project root, slash separated
	Source []byte
}

// validateUnit rejects input there is nothing to build a graph from.
func validateUnit(u Unit, maxSize int64) error {
	if len(bytes.TrimSpace(u.Source)) == 0 {
		return fmt.Errorf("%w: unit %q is empty", callgraph.ErrInvalidInput, u.Name)
	}
	if maxSize > 0 && int64(len(u.Source)) > maxSize {
		return fmt.Errorf("%w: %q is %d bytes, limit %d", ErrUnitTooLarge, u.Name, len(u.Source), maxSize)
	}
	if !utf8.Valid(u.Source) {
		return fmt.Errorf("%w: unit %q is not valid UTF-8", callgraph.ErrInvalidInput, u.Name)
	}
	return nil
}

// parseRust parses src with the tree-sitter Rust grammar. A new parser is
// created per call; tree-sitter parsers are not safe for concurrent use.
func parseRust(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(rust.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	return tree, nil
}

func location(unit string, n *sitter.Node) callgraph.Location {
	p := n.StartPoint()
	return callgraph.Location{
		Unit:   unit,
		Line:   int(p.Row) + 1,
		Column: int(p.Column) + 1,
	}
}

func text(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

// namedChildren returns the named children of n.
func namedChildren(n *sitter.Node) []*sitter.Node {
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// children returns all children of n, anonymous tokens included.
func children(n *sitter.Node) []*sitter.Node {
	count := int(n.ChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, n.Child(i))
	}
	return out
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil &&
		a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}
