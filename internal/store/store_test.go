package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/abramin/callscope/internal/callgraph"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// fixtureGraph has two functions in lib.rs with one edge of each callee kind.
func fixtureGraph(t *testing.T) *callgraph.Graph {
	t.Helper()
	snap := callgraph.Snapshot{
		Nodes: []callgraph.FunctionNode{
			{
				ID: "lib.rs:api", QualifiedName: "api", Name: "api", Unit: "lib.rs",
				Visibility: callgraph.VisibilityPublic, Span: callgraph.Span{StartLine: 1, EndLine: 4},
				Annotations: []string{"verifier::verify"}, Kind: callgraph.NodeKindPlain,
			},
			{
				ID: "lib.rs:Parser::step", QualifiedName: "Parser::step", Name: "step", Unit: "lib.rs",
				Owner: "Parser", Visibility: callgraph.VisibilityPrivate,
				Span: callgraph.Span{StartLine: 7, EndLine: 9}, Kind: callgraph.NodeKindPlain,
			},
		},
		Edges: []callgraph.CallEdge{
			{
				Caller: "lib.rs:api", Callee: callgraph.Resolved("lib.rs:Parser::step"),
				Site: callgraph.Location{Unit: "lib.rs", Line: 2, Column: 5}, Occurrences: 2,
			},
			{
				Caller: "lib.rs:api", Callee: callgraph.External("println!"),
				Site: callgraph.Location{Unit: "lib.rs", Line: 3, Column: 5}, ViaClosure: true, Occurrences: 1,
			},
			{
				Caller: "lib.rs:Parser::step", Callee: callgraph.Unresolved("mystery"),
				Site: callgraph.Location{Unit: "lib.rs", Line: 8, Column: 9}, Occurrences: 1,
			},
		},
		Diagnostics: []callgraph.Diagnostic{
			{
				Kind:     callgraph.DiagUnresolvedCall,
				Location: callgraph.Location{Unit: "lib.rs", Line: 8, Column: 9},
				Message:  "no function named mystery",
			},
		},
	}
	g, err := callgraph.FromSnapshot(snap, callgraph.DefaultOptions())
	if err != nil {
		t.Fatalf("building fixture: %v", err)
	}
	return g
}

func saveFixture(t *testing.T, st *Store) *callgraph.Graph {
	t.Helper()
	g := fixtureGraph(t)
	units := []Unit{{Name: "lib.rs", Hash: "abc123", Layer: "domain", FunctionCount: 2}}
	if err := st.SaveGraph(g, units); err != nil {
		t.Fatalf("SaveGraph() error = %v", err)
	}
	return g
}

func TestOpenAndClose(t *testing.T) {
	tmpDir := t.TempDir()

	st, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	indexDir := filepath.Join(tmpDir, Dir)
	if _, err := os.Stat(indexDir); os.IsNotExist(err) {
		t.Errorf("%s directory was not created", Dir)
	}

	dbPath := filepath.Join(indexDir, "index.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("index.db was not created")
	}
	if st.DBPath() != dbPath {
		t.Errorf("DBPath() = %s, want %s", st.DBPath(), dbPath)
	}

	if err := st.Close(); err != nil {
		t.Errorf("failed to close store: %v", err)
	}
}

func TestOpenTwiceKeepsSchema(t *testing.T) {
	tmpDir := t.TempDir()
	st, err := Open(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveGraph(fixtureGraph(t), nil); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st, err = Open(tmpDir)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer st.Close()

	stats, err := st.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.FunctionCount != 2 {
		t.Errorf("expected 2 functions after reopen, got %d", stats.FunctionCount)
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	st := openStore(t)
	g := saveFixture(t, st)

	snap, err := st.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}

	want := g.Snapshot()
	if !reflect.DeepEqual(snap.Nodes, want.Nodes) {
		t.Errorf("nodes differ:\n got %+v\nwant %+v", snap.Nodes, want.Nodes)
	}
	if !reflect.DeepEqual(snap.Edges, want.Edges) {
		t.Errorf("edges differ:\n got %+v\nwant %+v", snap.Edges, want.Edges)
	}
	if !reflect.DeepEqual(snap.Diagnostics, want.Diagnostics) {
		t.Errorf("diagnostics differ:\n got %+v\nwant %+v", snap.Diagnostics, want.Diagnostics)
	}
}

func TestLoadGraphRecomputesViews(t *testing.T) {
	st := openStore(t)
	saveFixture(t, st)

	g, err := st.LoadGraph(callgraph.DefaultOptions())
	if err != nil {
		t.Fatalf("LoadGraph() error = %v", err)
	}
	if got := g.EntryPoints(); !reflect.DeepEqual(got, []string{"lib.rs:api"}) {
		t.Errorf("EntryPoints() = %v", got)
	}
	verified := g.VerifiedSet()
	if !verified["lib.rs:api"] || !verified["lib.rs:Parser::step"] {
		t.Errorf("VerifiedSet() = %v", verified)
	}
}

func TestLoadSnapshotEmpty(t *testing.T) {
	st := openStore(t)

	_, err := st.LoadSnapshot()
	if !errors.Is(err, ErrNotIndexed) {
		t.Errorf("expected ErrNotIndexed, got %v", err)
	}
}

func TestGetUnits(t *testing.T) {
	st := openStore(t)
	saveFixture(t, st)

	units, err := st.GetUnits()
	if err != nil {
		t.Fatal(err)
	}
	want := []Unit{{Name: "lib.rs", Hash: "abc123", Layer: "domain", FunctionCount: 2}}
	if !reflect.DeepEqual(units, want) {
		t.Errorf("GetUnits() = %+v, want %+v", units, want)
	}
}

func TestEntrypointsAndFilter(t *testing.T) {
	st := openStore(t)
	saveFixture(t, st)

	batch, err := st.BeginBatch()
	if err != nil {
		t.Fatalf("failed to begin batch: %v", err)
	}
	eps := []Entrypoint{
		{Type: EntrypointPublic, Label: "api", FunctionID: "lib.rs:api", MetaJSON: `{"unit":"lib.rs"}`},
		{Type: EntrypointUnreferenced, Label: "Parser::step", FunctionID: "lib.rs:Parser::step"},
	}
	for i := range eps {
		id, err := batch.InsertEntrypoint(&eps[i])
		if err != nil {
			batch.Rollback()
			t.Fatalf("failed to insert entrypoint: %v", err)
		}
		if id == 0 {
			t.Error("expected non-zero entrypoint ID")
		}
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("failed to commit batch: %v", err)
	}

	tests := []struct {
		name   string
		filter EntrypointFilter
		want   []string
	}{
		{"all", EntrypointFilter{}, []string{"api", "Parser::step"}},
		{"by type", EntrypointFilter{Type: EntrypointPublic}, []string{"api"}},
		{"by query", EntrypointFilter{Query: "Parser"}, []string{"Parser::step"}},
		{"limit", EntrypointFilter{Limit: 1}, []string{"api"}},
		{"no match", EntrypointFilter{Type: EntrypointTest}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := st.GetEntrypoints(tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			var labels []string
			for _, ep := range got {
				labels = append(labels, ep.Label)
			}
			if !reflect.DeepEqual(labels, tt.want) {
				t.Errorf("GetEntrypoints(%+v) = %v, want %v", tt.filter, labels, tt.want)
			}
		})
	}
}

func TestTags(t *testing.T) {
	st := openStore(t)
	saveFixture(t, st)

	batch, err := st.BeginBatch()
	if err != nil {
		t.Fatal(err)
	}
	tags := []Tag{
		{FunctionID: "lib.rs:api", Tag: "verified", Reason: "annotated"},
		{FunctionID: "lib.rs:api", Tag: "io:print", Reason: "calls println!"},
		{FunctionID: "lib.rs:Parser::step", Tag: "layer:domain", Reason: "unit lib.rs"},
		{FunctionID: "lib.rs:api", Tag: "io:print", Reason: "calls println! twice"},
	}
	for i := range tags {
		if err := batch.InsertTag(&tags[i]); err != nil {
			batch.Rollback()
			t.Fatalf("failed to insert tag: %v", err)
		}
	}
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetFunctionTags("lib.rs:api")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tags on api, got %d", len(got))
	}
	if got[0].Tag != "io:print" || got[0].Reason != "calls println! twice" {
		t.Errorf("expected upserted io:print tag first, got %+v", got[0])
	}

	all, err := st.GetAllTags()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || len(all["lib.rs:Parser::step"]) != 1 {
		t.Errorf("GetAllTags() = %v", all)
	}
}

func TestSearchFunctions(t *testing.T) {
	st := openStore(t)
	saveFixture(t, st)

	tests := []struct {
		query string
		want  []string
	}{
		{"step", []string{"lib.rs:Parser::step"}},
		{"", []string{"lib.rs:api", "lib.rs:Parser::step"}},
		{"nothing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			hits, err := st.SearchFunctions(tt.query, 0)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, h := range hits {
				ids = append(ids, h.ID)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("SearchFunctions(%q) = %v, want %v", tt.query, ids, tt.want)
			}
		})
	}

	hits, err := st.SearchFunctions("api", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Unit != "lib.rs" || hits[0].Line != 1 {
		t.Errorf("unexpected hit %+v", hits)
	}
}

func TestMetadataAndStats(t *testing.T) {
	st := openStore(t)
	saveFixture(t, st)

	if err := st.SetMetadata("run_id", "run-1"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetMetadata("run_id", "run-2"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetMetadata("indexed_at", "2026-01-02T03:04:05Z"); err != nil {
		t.Fatal(err)
	}

	value, err := st.GetMetadata("run_id")
	if err != nil {
		t.Fatal(err)
	}
	if value != "run-2" {
		t.Errorf("expected run-2, got %s", value)
	}

	stats, err := st.GetStats()
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.UnitCount != 1 || stats.FunctionCount != 2 || stats.CallEdgeCount != 3 || stats.DiagnosticCount != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.RunID != "run-2" {
		t.Errorf("expected run id run-2, got %s", stats.RunID)
	}
	if stats.IndexedAt.Year() != 2026 {
		t.Errorf("unexpected indexed_at %v", stats.IndexedAt)
	}
}

func TestWriteJSONFiles(t *testing.T) {
	st := openStore(t)
	g := saveFixture(t, st)

	if err := st.WriteIndexJSON(); err != nil {
		t.Fatalf("WriteIndexJSON() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(st.DBPath()), "index.json"))
	if err != nil {
		t.Fatal(err)
	}
	var meta IndexMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.FunctionCount != 2 || !reflect.DeepEqual(meta.Units, []string{"lib.rs"}) {
		t.Errorf("unexpected index.json %+v", meta)
	}

	path, err := st.WriteGraphJSON(g)
	if err != nil {
		t.Fatalf("WriteGraphJSON() error = %v", err)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var export callgraph.Export
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatal(err)
	}
	if len(export.Nodes) != 2 || len(export.Edges) != 3 {
		t.Errorf("graph.json has %d nodes and %d edges", len(export.Nodes), len(export.Edges))
	}
}

func TestClear(t *testing.T) {
	st := openStore(t)
	saveFixture(t, st)
	if err := st.SetMetadata("run_id", "x"); err != nil {
		t.Fatal(err)
	}

	if err := st.Clear(); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}

	stats, err := st.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.UnitCount != 0 || stats.FunctionCount != 0 || stats.CallEdgeCount != 0 || stats.RunID != "" {
		t.Errorf("expected empty store after clear, got %+v", stats)
	}
	if _, err := st.LoadSnapshot(); !errors.Is(err, ErrNotIndexed) {
		t.Errorf("expected ErrNotIndexed after clear, got %v", err)
	}
}

func TestBatchRollback(t *testing.T) {
	st := openStore(t)

	batch, err := st.BeginBatch()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.rs", "b.rs", "c.rs"} {
		if err := batch.InsertUnit(&Unit{Name: name, Hash: "h"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := batch.Rollback(); err != nil {
		t.Fatal(err)
	}

	units, err := st.GetUnits()
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 0 {
		t.Errorf("expected no units after rollback, got %d", len(units))
	}
}
