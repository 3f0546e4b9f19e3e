package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/telemetry"
)

// UnitCache stores per-unit graphs keyed by content hash.
type UnitCache interface {
	Get(key string) (callgraph.Snapshot, bool, error)
	Put(key string, snap callgraph.Snapshot) error
}

// ProjectResult is the outcome of analyzing several units.
type ProjectResult struct {
	Graph   *callgraph.Graph
	Units   map[string]*callgraph.Graph // Per-unit graphs, plain ids
	Hashes  map[string]string           // Unit name -> content hash
	Skipped []string                    // Units rejected as invalid input
	Cached  int                         // Units served from the cache
}

// AnalyzeProject analyzes units in parallel and folds the results, in unit
// name order, into one graph. With more than one unit node ids are prefixed
// with "<unit>:". Units that are empty or not UTF-8 are skipped with a
// warning; every other failure aborts the run.
func (a *Analyzer) AnalyzeProject(ctx context.Context, units []Unit, cache UnitCache) (*ProjectResult, error) {
	ctx, span := tracer.Start(ctx, "index.AnalyzeProject")
	defer span.End()

	sorted := make([]Unit, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return nil, fmt.Errorf("%w: duplicate unit %q", callgraph.ErrInvalidInput, sorted[i].Name)
		}
	}

	graphs := make([]*callgraph.Graph, len(sorted))
	hashes := make([]string, len(sorted))
	cached := make([]bool, len(sorted))
	skipped := make([]bool, len(sorted))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(a.cfg.Analysis.Workers, 1))
	for i, u := range sorted {
		eg.Go(func() error {
			hashes[i] = a.unitKey(u)
			if snap, ok := a.lookup(cache, hashes[i]); ok {
				g, err := callgraph.FromSnapshot(snap, a.opts)
				if err == nil {
					graphs[i], cached[i] = g, true
					telemetry.UnitsAnalyzed.WithLabelValues("cached").Inc()
					return nil
				}
				slog.Warn("discarding unreadable cache entry", slog.String("unit", u.Name), slog.String("error", err.Error()))
			}

			g, err := a.AnalyzeUnit(egCtx, u)
			if errors.Is(err, callgraph.ErrInvalidInput) {
				slog.Warn("skipping unit", slog.String("unit", u.Name), slog.String("reason", err.Error()))
				skipped[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("analyzing %s: %w", u.Name, err)
			}
			graphs[i] = g
			if cache != nil {
				if err := cache.Put(hashes[i], g.Snapshot()); err != nil {
					slog.Warn("cache write failed", slog.String("unit", u.Name), slog.String("error", err.Error()))
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	res := &ProjectResult{
		Units:  make(map[string]*callgraph.Graph, len(sorted)),
		Hashes: make(map[string]string, len(sorted)),
	}
	var ordered []*callgraph.Graph
	for i, u := range sorted {
		if skipped[i] {
			res.Skipped = append(res.Skipped, u.Name)
			continue
		}
		if cached[i] {
			res.Cached++
		}
		res.Units[u.Name] = graphs[i]
		res.Hashes[u.Name] = hashes[i]
		ordered = append(ordered, graphs[i])
	}

	switch len(ordered) {
	case 0:
		return nil, fmt.Errorf("%w: no analyzable units", callgraph.ErrInvalidInput)
	case 1:
		res.Graph = ordered[0]
	default:
		merged, err := callgraph.Merge(a.opts, ordered...)
		if err != nil {
			return nil, fmt.Errorf("merging units: %w", err)
		}
		res.Graph = merged
	}
	return res, nil
}

func (a *Analyzer) lookup(cache UnitCache, key string) (callgraph.Snapshot, bool) {
	if cache == nil {
		return callgraph.Snapshot{}, false
	}
	snap, ok, err := cache.Get(key)
	switch {
	case err != nil:
		telemetry.CacheLookups.WithLabelValues("error").Inc()
		slog.Warn("cache read failed", slog.String("error", err.Error()))
		return callgraph.Snapshot{}, false
	case !ok:
		telemetry.CacheLookups.WithLabelValues("miss").Inc()
		return callgraph.Snapshot{}, false
	}
	telemetry.CacheLookups.WithLabelValues("hit").Inc()
	return snap, true
}

// cacheVersion changes whenever the pipeline's output for the same input does.
const cacheVersion = "callscope-unit-v1"

// unitKey hashes everything a unit's graph depends on: its name, its source
// and the resolution settings.
func (a *Analyzer) unitKey(u Unit) string {
	h := sha256.New()
	h.Write([]byte(cacheVersion))
	r := a.cfg.Resolution
	for _, list := range [][]string{
		r.EntrySymbols, r.VerificationTags, r.ExternalCrates,
		r.ExternalSymbols, r.ExternalMacros, r.ExternalMethods,
	} {
		h.Write([]byte(strings.Join(list, "\x00")))
		h.Write([]byte{0x1e})
	}
	h.Write([]byte(u.Name))
	h.Write([]byte{0})
	h.Write(u.Source)
	return hex.EncodeToString(h.Sum(nil))
}
