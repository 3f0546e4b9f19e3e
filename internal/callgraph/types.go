package callgraph

import "fmt"

// Visibility is the declared visibility of a function.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// NodeKind classifies a function at collection time.
type NodeKind string

const (
	NodeKindPlain          NodeKind = "plain"
	NodeKindEntryCandidate NodeKind = "entry-candidate"
)

// CalleeKind tags what a call site resolved to.
type CalleeKind string

const (
	CalleeResolved   CalleeKind = "resolved"   // A FunctionNode in the graph
	CalleeExternal   CalleeKind = "external"   // Recognized symbol outside the unit
	CalleeUnresolved CalleeKind = "unresolved" // Unknown name
)

// Span is an inclusive, 1-based line range.
type Span struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Location is a 1-based source position.
type Location struct {
	Unit   string `json:"unit,omitempty"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (l Location) String() string {
	if l.Unit == "" {
		return fmt.Sprintf("%d:%d", l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d:%d", l.Unit, l.Line, l.Column)
}

// FunctionNode is a discovered function definition.
type FunctionNode struct {
	ID            string     `json:"id"`              // Unique within the graph
	QualifiedName string     `json:"qualified_name"`  // Unique within the unit, e.g. "outer::inner"
	Name          string     `json:"name"`            // Bare name as written
	Unit          string     `json:"unit,omitempty"`  // Source unit the definition came from
	Owner         string     `json:"owner,omitempty"` // impl/trait type for methods
	Visibility    Visibility `json:"visibility"`
	Span          Span       `json:"span"`
	Annotations   []string   `json:"annotations,omitempty"`
	Kind          NodeKind   `json:"kind"`
}

// IsMethod reports whether the function was defined inside an impl or trait block.
func (n *FunctionNode) IsMethod() bool {
	return n.Owner != ""
}

// HasAnnotation reports whether any annotation is in the given tag set.
func (n *FunctionNode) HasAnnotation(tags map[string]bool) bool {
	for _, a := range n.Annotations {
		if tags[a] {
			return true
		}
	}
	return false
}

// Callee is the target of a call edge.
type Callee struct {
	Kind CalleeKind `json:"kind"`
	Ref  string     `json:"ref"` // Node id when resolved, symbol name otherwise
}

// Resolved returns a callee pointing at a graph node.
func Resolved(id string) Callee { return Callee{Kind: CalleeResolved, Ref: id} }

// External returns a callee for a recognized unit-external symbol.
func External(name string) Callee { return Callee{Kind: CalleeExternal, Ref: name} }

// Unresolved returns a callee for an unknown name.
func Unresolved(name string) Callee { return Callee{Kind: CalleeUnresolved, Ref: name} }

func (c Callee) String() string {
	return string(c.Kind) + ":" + c.Ref
}

// CallEdge is an aggregated call from one function to a callee.
type CallEdge struct {
	Caller      string   `json:"caller"`
	Callee      Callee   `json:"callee"`
	Site        Location `json:"site"` // First occurrence
	ViaClosure  bool     `json:"via_closure"`
	Occurrences int      `json:"occurrences"`
}

type edgeKey struct {
	caller     string
	callee     Callee
	viaClosure bool
}

func (e *CallEdge) key() edgeKey {
	return edgeKey{caller: e.Caller, callee: e.Callee, viaClosure: e.ViaClosure}
}

// Call is a single resolved call site, the input to the builder.
type Call struct {
	Caller     string
	Callee     Callee
	Site       Location
	ViaClosure bool
}

// DiagnosticKind classifies a non-fatal issue found during construction.
type DiagnosticKind string

const (
	DiagMalformedDefinition DiagnosticKind = "malformed_definition"
	DiagUnresolvedCall      DiagnosticKind = "unresolved_call"
)

// Diagnostic is a non-fatal parse or resolution warning.
type Diagnostic struct {
	Kind     DiagnosticKind `json:"kind"`
	Location Location       `json:"location"`
	Message  string         `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Location, d.Kind, d.Message)
}
