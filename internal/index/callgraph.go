package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/config"
	"github.com/abramin/callscope/internal/telemetry"
)

var tracer = telemetry.Tracer("index")

// Analyzer runs the single-unit pipeline: collect definitions, extract call
// sites, resolve them and build the graph. An Analyzer holds no per-run state
// and is safe for concurrent use.
type Analyzer struct {
	cfg  *config.Config
	opts callgraph.Options
}

// NewAnalyzer creates an analyzer from configuration.
func NewAnalyzer(cfg *config.Config) *Analyzer {
	return &Analyzer{
		cfg:  cfg,
		opts: cfg.GraphOptions(),
	}
}

// Options returns the graph options the analyzer builds with.
func (a *Analyzer) Options() callgraph.Options {
	return a.opts
}

// AnalyzeUnit builds the call graph of one unit. Node ids are the qualified
// names of the unit's functions. The only hard failures are input with
// nothing to analyze (callgraph.ErrInvalidInput), an oversized unit and
// cancellation; everything else is reported as a diagnostic on the graph.
func (a *Analyzer) AnalyzeUnit(ctx context.Context, u Unit) (*callgraph.Graph, error) {
	ctx, span := tracer.Start(ctx, "index.AnalyzeUnit")
	defer span.End()
	span.SetAttributes(
		attribute.String("unit", u.Name),
		attribute.Int("size_bytes", len(u.Source)),
	)

	start := time.Now()
	g, err := a.analyze(ctx, u)
	telemetry.AnalysisDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		result := "error"
		if errors.Is(err, callgraph.ErrInvalidInput) {
			result = "invalid"
		}
		telemetry.UnitsAnalyzed.WithLabelValues(result).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	telemetry.UnitsAnalyzed.WithLabelValues("ok").Inc()
	telemetry.FunctionsCollected.Observe(float64(g.Len()))
	for d := range g.Diagnostics() {
		telemetry.Diagnostics.WithLabelValues(string(d.Kind)).Inc()
	}
	span.SetAttributes(
		attribute.Int("functions", g.Len()),
		attribute.Int("diagnostics", g.DiagnosticCount()),
	)
	slog.Debug("unit analyzed",
		slog.String("unit", u.Name),
		slog.Int("functions", g.Len()),
		slog.Int("diagnostics", g.DiagnosticCount()),
		slog.Duration("took", time.Since(start)))
	return g, nil
}

func (a *Analyzer) analyze(ctx context.Context, u Unit) (*callgraph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis canceled before start: %w", err)
	}
	if err := validateUnit(u, a.cfg.Analysis.MaxUnitSize); err != nil {
		return nil, err
	}

	tree, err := parseRust(ctx, u.Source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		slog.Debug("unit contains syntax errors", slog.String("unit", u.Name))
	}

	_, collectSpan := tracer.Start(ctx, "index.collect")
	coll := collectDefinitions(root, u.Source, u.Name, a.opts.EntrySymbols)
	collectSpan.SetAttributes(attribute.Int("definitions", len(coll.defs)))
	collectSpan.End()

	b := callgraph.NewBuilder(a.opts)
	for _, d := range coll.diagnostics {
		b.AddDiagnostic(d)
	}
	for _, def := range coll.defs {
		if err := b.AddNode(def.node); err != nil {
			return nil, fmt.Errorf("adding %s: %w", def.node.ID, err)
		}
	}

	_, resolveSpan := tracer.Start(ctx, "index.resolve")
	res := newResolver(coll.defs, a.cfg.Resolution)
	calls := 0
	for _, def := range coll.defs {
		for _, c := range extractCalls(def, u.Source, u.Name) {
			callee := res.resolve(def, c)
			if callee.Kind == callgraph.CalleeUnresolved {
				b.AddDiagnostic(unresolvedDiagnostic(c, callee))
			}
			if err := b.AddCall(callgraph.Call{
				Caller:     def.node.ID,
				Callee:     callee,
				Site:       c.site,
				ViaClosure: c.viaClosure,
			}); err != nil {
				resolveSpan.End()
				return nil, fmt.Errorf("adding call from %s: %w", def.node.ID, err)
			}
			calls++
		}
	}
	resolveSpan.SetAttributes(attribute.Int("calls", calls))
	resolveSpan.End()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis canceled: %w", err)
	}
	return b.Build(), nil
}
