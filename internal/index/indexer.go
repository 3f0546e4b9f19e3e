package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/config"
	"github.com/abramin/callscope/internal/store"
)

// Indexer coordinates the indexing pipeline: discover units, analyze them,
// tag and classify the result and persist it.
type Indexer struct {
	cfg        *config.Config
	projectDir string
	cache      UnitCache
}

// NewIndexer creates a new indexer for the given project directory.
func NewIndexer(cfg *config.Config, projectDir string) *Indexer {
	absPath, err := filepath.Abs(projectDir)
	if err != nil {
		absPath = projectDir
	}
	return &Indexer{
		cfg:        cfg,
		projectDir: absPath,
	}
}

// WithCache makes the indexer reuse per-unit results from c.
func (idx *Indexer) WithCache(c UnitCache) *Indexer {
	idx.cache = c
	return idx
}

// ProjectDir returns the absolute project directory.
func (idx *Indexer) ProjectDir() string {
	return idx.projectDir
}

// Result holds the results of an indexing run.
type Result struct {
	RunID           string
	Graph           *callgraph.Graph
	UnitCount       int
	FunctionCount   int
	EdgeCount       int
	EntrypointCount int
	TagCount        int
	DiagnosticCount int
	Cached          int
	Skipped         []string // Units left out as oversized, empty or not UTF-8
	Duration        time.Duration
	DBPath          string
	GraphPath       string
}

// Run executes the indexing pipeline.
func (idx *Indexer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := slog.With(slog.String("run_id", runID))

	st, err := store.Open(idx.projectDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.Clear(); err != nil {
		return nil, fmt.Errorf("clearing store: %w", err)
	}

	loader := NewLoader(idx.cfg, idx.projectDir)
	units, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading units: %w", err)
	}
	log.Info("units discovered", slog.Int("count", len(units)), slog.String("project", idx.projectDir))

	analyzer := NewAnalyzer(idx.cfg)
	project, err := analyzer.AnalyzeProject(ctx, units, idx.cache)
	if err != nil {
		return nil, fmt.Errorf("analyzing project: %w", err)
	}
	g := project.Graph

	if err := st.SaveGraph(g, idx.unitRows(project)); err != nil {
		return nil, fmt.Errorf("saving graph: %w", err)
	}

	tags := NewTagger(idx.cfg).Tag(g)
	entries := NewEntrypointDetector(analyzer.Options()).Detect(g)
	if err := saveAnnotations(st, tags, entries); err != nil {
		return nil, err
	}
	log.Info("graph annotated",
		slog.Int("tags", tags.TotalTags),
		slog.Int("entrypoints", entries.TotalCount))

	meta := map[string]string{
		"run_id":      runID,
		"indexed_at":  time.Now().Format(time.RFC3339),
		"project_dir": idx.projectDir,
	}
	for k, v := range meta {
		if err := st.SetMetadata(k, v); err != nil {
			return nil, fmt.Errorf("storing metadata: %w", err)
		}
	}

	if err := st.WriteIndexJSON(); err != nil {
		return nil, fmt.Errorf("writing index.json: %w", err)
	}
	graphPath, err := st.WriteGraphJSON(g)
	if err != nil {
		return nil, fmt.Errorf("writing graph.json: %w", err)
	}

	skipped := append(loader.Skipped(), project.Skipped...)
	stats := g.Stats()
	return &Result{
		RunID:           runID,
		Graph:           g,
		UnitCount:       len(project.Units),
		FunctionCount:   stats.Nodes,
		EdgeCount:       stats.Edges,
		EntrypointCount: entries.TotalCount,
		TagCount:        tags.TotalTags,
		DiagnosticCount: stats.Diagnostics,
		Cached:          project.Cached,
		Skipped:         skipped,
		Duration:        time.Since(start),
		DBPath:          st.DBPath(),
		GraphPath:       graphPath,
	}, nil
}

func (idx *Indexer) unitRows(project *ProjectResult) []store.Unit {
	rows := make([]store.Unit, 0, len(project.Units))
	for name, g := range project.Units {
		rows = append(rows, store.Unit{
			Name:          name,
			Hash:          project.Hashes[name],
			Layer:         idx.cfg.GetLayerForUnit(name),
			FunctionCount: g.Len(),
		})
	}
	return rows
}

func saveAnnotations(st *store.Store, tags *TagResult, entries *DetectResult) error {
	batch, err := st.BeginBatch()
	if err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}
	defer batch.Rollback()

	for i := range tags.Tags {
		if err := batch.InsertTag(&tags.Tags[i]); err != nil {
			return fmt.Errorf("inserting tag: %w", err)
		}
	}
	for i := range entries.Entrypoints {
		id, err := batch.InsertEntrypoint(&entries.Entrypoints[i])
		if err != nil {
			return fmt.Errorf("inserting entrypoint: %w", err)
		}
		entries.Entrypoints[i].ID = id
	}
	return batch.Commit()
}
