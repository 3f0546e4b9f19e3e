package index

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/config"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string]callgraph.Snapshot
	gets    int
	failGet bool
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]callgraph.Snapshot)}
}

func (c *memCache) Get(key string) (callgraph.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.failGet {
		return callgraph.Snapshot{}, false, errors.New("disk on fire")
	}
	snap, ok := c.entries[key]
	return snap, ok, nil
}

func (c *memCache) Put(key string, snap callgraph.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = snap
	return nil
}

var projectUnits = []Unit{
	{Name: "src/main.rs", Source: []byte("fn main() {\n    run();\n}\n\nfn run() {}\n")},
	{Name: "src/lib.rs", Source: []byte("pub fn api() {\n    helper();\n}\n\nfn helper() {}\n")},
}

func TestAnalyzeProject_MergesInNameOrder(t *testing.T) {
	res, err := NewAnalyzer(config.Default()).AnalyzeProject(context.Background(), projectUnits, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"src/lib.rs:api", "src/lib.rs:helper",
		"src/main.rs:main", "src/main.rs:run",
	}, res.Graph.NodeIDs())
	assert.Equal(t, []string{"src/main.rs:run"}, res.Graph.Callees("src/main.rs:main"))
	assert.Len(t, res.Units, 2)
	assert.Equal(t, []string{"api", "helper"}, res.Units["src/lib.rs"].NodeIDs())
	assert.Len(t, res.Hashes, 2)
	assert.Zero(t, res.Cached)
}

func TestAnalyzeProject_SingleUnitKeepsPlainIDs(t *testing.T) {
	res, err := NewAnalyzer(config.Default()).AnalyzeProject(context.Background(), projectUnits[:1], nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "run"}, res.Graph.NodeIDs())
}

func TestAnalyzeProject_UsesCache(t *testing.T) {
	a := NewAnalyzer(config.Default())
	cache := newMemCache()

	first, err := a.AnalyzeProject(context.Background(), projectUnits, cache)
	require.NoError(t, err)
	assert.Zero(t, first.Cached)
	assert.Len(t, cache.entries, 2)

	second, err := a.AnalyzeProject(context.Background(), projectUnits, cache)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Cached)
	assert.Equal(t, first.Graph.NodeIDs(), second.Graph.NodeIDs())
	assert.Equal(t, first.Graph.Edges(), second.Graph.Edges())
	assert.Equal(t, first.Hashes, second.Hashes)
}

func TestAnalyzeProject_CacheKeyFollowsSource(t *testing.T) {
	a := NewAnalyzer(config.Default())
	cache := newMemCache()
	_, err := a.AnalyzeProject(context.Background(), projectUnits, cache)
	require.NoError(t, err)

	changed := []Unit{projectUnits[0], {Name: "src/lib.rs", Source: []byte("pub fn api() {}\n")}}
	res, err := a.AnalyzeProject(context.Background(), changed, cache)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cached)
	assert.Equal(t, []string{"api"}, res.Units["src/lib.rs"].NodeIDs())
}

func TestAnalyzeProject_CacheErrorsFallBackToAnalysis(t *testing.T) {
	cache := newMemCache()
	cache.failGet = true
	res, err := NewAnalyzer(config.Default()).AnalyzeProject(context.Background(), projectUnits, cache)
	require.NoError(t, err)
	assert.Zero(t, res.Cached)
	assert.Equal(t, 4, res.Graph.Len())
}

func TestAnalyzeProject_SkipsInvalidUnits(t *testing.T) {
	units := append([]Unit{{Name: "src/empty.rs", Source: []byte("\n")}}, projectUnits...)
	res, err := NewAnalyzer(config.Default()).AnalyzeProject(context.Background(), units, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/empty.rs"}, res.Skipped)
	assert.Len(t, res.Units, 2)
}

func TestAnalyzeProject_Errors(t *testing.T) {
	a := NewAnalyzer(config.Default())

	_, err := a.AnalyzeProject(context.Background(), nil, nil)
	assert.ErrorIs(t, err, callgraph.ErrInvalidInput)

	_, err = a.AnalyzeProject(context.Background(), []Unit{{Name: "a.rs", Source: []byte(" ")}}, nil)
	assert.ErrorIs(t, err, callgraph.ErrInvalidInput)

	dup := []Unit{projectUnits[0], projectUnits[0]}
	_, err = a.AnalyzeProject(context.Background(), dup, nil)
	assert.ErrorIs(t, err, callgraph.ErrInvalidInput)
}

func TestAnalyzeProject_ManyUnitsWithFewWorkers(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.Workers = 2

	var units []Unit
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		units = append(units, Unit{Name: name + ".rs", Source: []byte("fn " + name + "() {}\n")})
	}
	res, err := NewAnalyzer(cfg).AnalyzeProject(context.Background(), units, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Graph.Len())
	assert.Equal(t, "a.rs:a", res.Graph.NodeIDs()[0])
}
