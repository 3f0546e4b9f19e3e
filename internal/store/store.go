// Package store persists analyzed call graphs to SQLite so later commands can
// query them without re-analyzing the project.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/abramin/callscope/internal/callgraph"
)

// Dir is the per-project directory holding the index.
const Dir = ".callscope"

// ErrNotIndexed is returned when the store holds no graph.
var ErrNotIndexed = errors.New("project has not been analyzed")

// Store handles persistence of indexed data to SQLite.
type Store struct {
	db      *sql.DB
	dbPath  string
	baseDir string // Project root directory
}

// Open creates or opens a callscope index database.
// By default, stores at .callscope/index.db relative to the given project directory.
func Open(projectDir string) (*Store, error) {
	indexDir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s directory: %w", Dir, err)
	}

	dbPath := filepath.Join(indexDir, "index.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{
		db:      db,
		dbPath:  dbPath,
		baseDir: projectDir,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the path to the database file.
func (s *Store) DBPath() string {
	return s.dbPath
}

// Clear removes all data from the database (for re-indexing).
func (s *Store) Clear() error {
	tables := []string{"tags", "entrypoints", "call_edges", "diagnostics", "functions", "units", "metadata"}
	for _, table := range tables {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing table %s: %w", table, err)
		}
	}
	return nil
}

// SaveGraph writes every node, edge and diagnostic of g plus the given unit
// rows in one transaction. It does not clear existing rows.
func (s *Store) SaveGraph(g *callgraph.Graph, units []Unit) error {
	batch, err := s.BeginBatch()
	if err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}
	defer batch.Rollback()

	for _, u := range units {
		if err := batch.InsertUnit(&u); err != nil {
			return fmt.Errorf("inserting unit %s: %w", u.Name, err)
		}
	}
	for i, n := range g.Nodes() {
		if err := batch.InsertFunction(i, &n); err != nil {
			return fmt.Errorf("inserting function %s: %w", n.ID, err)
		}
	}
	for _, e := range g.Edges() {
		if err := batch.InsertCallEdge(&e); err != nil {
			return fmt.Errorf("inserting edge from %s: %w", e.Caller, err)
		}
	}
	for d := range g.Diagnostics() {
		if err := batch.InsertDiagnostic(&d); err != nil {
			return fmt.Errorf("inserting diagnostic: %w", err)
		}
	}
	return batch.Commit()
}

// LoadSnapshot reads the stored graph back in its original node and edge
// order. It returns ErrNotIndexed when no functions are stored.
func (s *Store) LoadSnapshot() (callgraph.Snapshot, error) {
	var snap callgraph.Snapshot

	rows, err := s.db.Query(`
		SELECT id, qualified_name, name, unit, owner, visibility, start_line, end_line, annotations, kind
		FROM functions ORDER BY position
	`)
	if err != nil {
		return snap, fmt.Errorf("querying functions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			n           callgraph.FunctionNode
			unit, owner sql.NullString
			annotations sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.QualifiedName, &n.Name, &unit, &owner, &n.Visibility,
			&n.Span.StartLine, &n.Span.EndLine, &annotations, &n.Kind); err != nil {
			return snap, fmt.Errorf("scanning function: %w", err)
		}
		n.Unit, n.Owner = unit.String, owner.String
		if annotations.Valid && annotations.String != "" {
			if err := json.Unmarshal([]byte(annotations.String), &n.Annotations); err != nil {
				return snap, fmt.Errorf("decoding annotations of %s: %w", n.ID, err)
			}
		}
		snap.Nodes = append(snap.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}
	if len(snap.Nodes) == 0 {
		return snap, ErrNotIndexed
	}

	edgeRows, err := s.db.Query(`
		SELECT caller_id, callee_kind, callee_ref, site_unit, site_line, site_column, via_closure, occurrences
		FROM call_edges ORDER BY id
	`)
	if err != nil {
		return snap, fmt.Errorf("querying call edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var (
			e    callgraph.CallEdge
			unit sql.NullString
		)
		if err := edgeRows.Scan(&e.Caller, &e.Callee.Kind, &e.Callee.Ref, &unit,
			&e.Site.Line, &e.Site.Column, &e.ViaClosure, &e.Occurrences); err != nil {
			return snap, fmt.Errorf("scanning call edge: %w", err)
		}
		e.Site.Unit = unit.String
		snap.Edges = append(snap.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return snap, err
	}

	diags, err := s.GetDiagnostics()
	if err != nil {
		return snap, err
	}
	snap.Diagnostics = diags
	return snap, nil
}

// LoadGraph rebuilds the stored graph with the given options.
func (s *Store) LoadGraph(opts callgraph.Options) (*callgraph.Graph, error) {
	snap, err := s.LoadSnapshot()
	if err != nil {
		return nil, err
	}
	g, err := callgraph.FromSnapshot(snap, opts)
	if err != nil {
		return nil, fmt.Errorf("rebuilding graph: %w", err)
	}
	return g, nil
}

// GetDiagnostics returns all stored diagnostics in insertion order.
func (s *Store) GetDiagnostics() ([]callgraph.Diagnostic, error) {
	rows, err := s.db.Query("SELECT kind, unit, line, col, message FROM diagnostics ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying diagnostics: %w", err)
	}
	defer rows.Close()

	var out []callgraph.Diagnostic
	for rows.Next() {
		var (
			d    callgraph.Diagnostic
			unit sql.NullString
		)
		if err := rows.Scan(&d.Kind, &unit, &d.Location.Line, &d.Location.Column, &d.Message); err != nil {
			return nil, fmt.Errorf("scanning diagnostic: %w", err)
		}
		d.Location.Unit = unit.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetUnits returns all stored units ordered by name.
func (s *Store) GetUnits() ([]Unit, error) {
	rows, err := s.db.Query("SELECT name, hash, layer, function_count FROM units ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying units: %w", err)
	}
	defer rows.Close()

	var out []Unit
	for rows.Next() {
		var (
			u     Unit
			layer sql.NullString
		)
		if err := rows.Scan(&u.Name, &u.Hash, &layer, &u.FunctionCount); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		u.Layer = layer.String
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetEntrypoints returns entrypoints matching the filter, ordered by id.
func (s *Store) GetEntrypoints(filter EntrypointFilter) ([]Entrypoint, error) {
	query := "SELECT id, type, label, function_id, meta_json FROM entrypoints WHERE 1=1"
	var args []any
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.Query != "" {
		query += " AND label LIKE ?"
		args = append(args, "%"+filter.Query+"%")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entrypoints: %w", err)
	}
	defer rows.Close()

	out := []Entrypoint{}
	for rows.Next() {
		var (
			ep   Entrypoint
			meta sql.NullString
		)
		if err := rows.Scan(&ep.ID, &ep.Type, &ep.Label, &ep.FunctionID, &meta); err != nil {
			return nil, fmt.Errorf("scanning entrypoint: %w", err)
		}
		ep.MetaJSON = meta.String
		out = append(out, ep)
	}
	return out, rows.Err()
}

// GetFunctionTags returns the tags of one function ordered by tag.
func (s *Store) GetFunctionTags(functionID string) ([]Tag, error) {
	rows, err := s.db.Query("SELECT function_id, tag, reason FROM tags WHERE function_id = ? ORDER BY tag", functionID)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// GetAllTags returns every tag grouped by function id.
func (s *Store) GetAllTags() (map[string][]Tag, error) {
	rows, err := s.db.Query("SELECT function_id, tag, reason FROM tags ORDER BY function_id, tag")
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	tags, err := scanTags(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Tag)
	for _, t := range tags {
		out[t.FunctionID] = append(out[t.FunctionID], t)
	}
	return out, nil
}

func scanTags(rows *sql.Rows) ([]Tag, error) {
	out := []Tag{}
	for rows.Next() {
		var (
			t      Tag
			reason sql.NullString
		)
		if err := rows.Scan(&t.FunctionID, &t.Tag, &reason); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		t.Reason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// SearchFunctions finds functions whose qualified name contains query.
func (s *Store) SearchFunctions(query string, limit int) ([]FunctionHit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, qualified_name, unit, start_line FROM functions
		WHERE qualified_name LIKE ?
		ORDER BY length(qualified_name), position
		LIMIT ?
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("searching functions: %w", err)
	}
	defer rows.Close()

	out := []FunctionHit{}
	for rows.Next() {
		var (
			h    FunctionHit
			unit sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.QualifiedName, &unit, &h.Line); err != nil {
			return nil, fmt.Errorf("scanning function: %w", err)
		}
		h.Unit = unit.String
		out = append(out, h)
	}
	return out, rows.Err()
}

// SetMetadata stores a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMetadata retrieves a value from the metadata table.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	return value, err
}

// Stats holds statistics about the indexed data.
type Stats struct {
	UnitCount       int       `json:"unit_count"`
	FunctionCount   int       `json:"function_count"`
	CallEdgeCount   int       `json:"call_edge_count"`
	EntrypointCount int       `json:"entrypoint_count"`
	TagCount        int       `json:"tag_count"`
	DiagnosticCount int       `json:"diagnostic_count"`
	RunID           string    `json:"run_id,omitempty"`
	IndexedAt       time.Time `json:"indexed_at"`
}

// GetStats returns statistics about the indexed data.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	rows := []struct {
		table string
		dest  *int
	}{
		{"units", &stats.UnitCount},
		{"functions", &stats.FunctionCount},
		{"call_edges", &stats.CallEdgeCount},
		{"entrypoints", &stats.EntrypointCount},
		{"tags", &stats.TagCount},
		{"diagnostics", &stats.DiagnosticCount},
	}

	for _, r := range rows {
		err := s.db.QueryRow("SELECT COUNT(*) FROM " + r.table).Scan(r.dest)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", r.table, err)
		}
	}

	if ts, err := s.GetMetadata("indexed_at"); err == nil {
		stats.IndexedAt, _ = time.Parse(time.RFC3339, ts)
	}
	if id, err := s.GetMetadata("run_id"); err == nil {
		stats.RunID = id
	}

	return stats, nil
}

// IndexMetadata holds metadata written to index.json for quick UI boot.
type IndexMetadata struct {
	Version         string    `json:"version"`
	RunID           string    `json:"run_id,omitempty"`
	ProjectPath     string    `json:"project_path"`
	IndexedAt       time.Time `json:"indexed_at"`
	UnitCount       int       `json:"unit_count"`
	FunctionCount   int       `json:"function_count"`
	EntrypointCount int       `json:"entrypoint_count"`
	Units           []string  `json:"units"`
}

// WriteIndexJSON writes index.json for quick UI boot.
func (s *Store) WriteIndexJSON() error {
	stats, err := s.GetStats()
	if err != nil {
		return fmt.Errorf("getting stats: %w", err)
	}
	units, err := s.GetUnits()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}

	meta := &IndexMetadata{
		Version:         "1",
		RunID:           stats.RunID,
		ProjectPath:     s.baseDir,
		IndexedAt:       stats.IndexedAt,
		UnitCount:       stats.UnitCount,
		FunctionCount:   stats.FunctionCount,
		EntrypointCount: stats.EntrypointCount,
		Units:           names,
	}
	return s.writeJSON("index.json", meta)
}

// WriteGraphJSON writes the renderer-facing export of g to graph.json next
// to the database and returns its path.
func (s *Store) WriteGraphJSON(g *callgraph.Graph) (string, error) {
	if err := s.writeJSON("graph.json", g.Export()); err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(s.dbPath), "graph.json"), nil
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	path := filepath.Join(filepath.Dir(s.dbPath), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// BeginBatch starts a transaction for batch inserts.
// Call Commit() when done, or Rollback() on error.
func (s *Store) BeginBatch() (*BatchTx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	return &BatchTx{tx: tx}, nil
}

// BatchTx wraps a transaction for batch operations.
type BatchTx struct {
	tx *sql.Tx
}

// Commit commits the batch transaction.
func (b *BatchTx) Commit() error {
	return b.tx.Commit()
}

// Rollback rolls back the batch transaction.
func (b *BatchTx) Rollback() error {
	return b.tx.Rollback()
}

// InsertUnit inserts or updates a unit within the batch.
func (b *BatchTx) InsertUnit(u *Unit) error {
	_, err := b.tx.Exec(`
		INSERT INTO units (name, hash, layer, function_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			hash = excluded.hash,
			layer = excluded.layer,
			function_count = excluded.function_count
	`, u.Name, u.Hash, u.Layer, u.FunctionCount)
	return err
}

// InsertFunction inserts a function node at the given graph position.
func (b *BatchTx) InsertFunction(position int, n *callgraph.FunctionNode) error {
	var annotations []byte
	if len(n.Annotations) > 0 {
		var err error
		if annotations, err = json.Marshal(n.Annotations); err != nil {
			return err
		}
	}
	_, err := b.tx.Exec(`
		INSERT INTO functions (id, position, qualified_name, name, unit, owner, visibility, start_line, end_line, annotations, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, position, n.QualifiedName, n.Name, n.Unit, n.Owner, n.Visibility,
		n.Span.StartLine, n.Span.EndLine, string(annotations), n.Kind)
	return err
}

// InsertCallEdge inserts an aggregated call edge within the batch.
func (b *BatchTx) InsertCallEdge(e *callgraph.CallEdge) error {
	_, err := b.tx.Exec(`
		INSERT INTO call_edges (caller_id, callee_kind, callee_ref, site_unit, site_line, site_column, via_closure, occurrences)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(caller_id, callee_kind, callee_ref, via_closure) DO UPDATE SET
			occurrences = call_edges.occurrences + excluded.occurrences
	`, e.Caller, e.Callee.Kind, e.Callee.Ref, e.Site.Unit, e.Site.Line, e.Site.Column, e.ViaClosure, e.Occurrences)
	return err
}

// InsertDiagnostic inserts a diagnostic within the batch.
func (b *BatchTx) InsertDiagnostic(d *callgraph.Diagnostic) error {
	_, err := b.tx.Exec(`
		INSERT INTO diagnostics (kind, unit, line, col, message)
		VALUES (?, ?, ?, ?, ?)
	`, d.Kind, d.Location.Unit, d.Location.Line, d.Location.Column, d.Message)
	return err
}

// InsertEntrypoint inserts an entrypoint and returns its ID.
func (b *BatchTx) InsertEntrypoint(ep *Entrypoint) (EntrypointID, error) {
	result, err := b.tx.Exec(`
		INSERT INTO entrypoints (type, label, function_id, meta_json)
		VALUES (?, ?, ?, ?)
	`, ep.Type, ep.Label, ep.FunctionID, ep.MetaJSON)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	return EntrypointID(id), err
}

// InsertTag inserts a tag on a function.
func (b *BatchTx) InsertTag(tag *Tag) error {
	_, err := b.tx.Exec(`
		INSERT INTO tags (function_id, tag, reason)
		VALUES (?, ?, ?)
		ON CONFLICT(function_id, tag) DO UPDATE SET
			reason = excluded.reason
	`, tag.FunctionID, tag.Tag, tag.Reason)
	return err
}
