// Package watch keeps a workspace in sync with a project directory. Source
// changes are debounced, re-analyzed one unit at a time and swapped into the
// workspace, so readers of the workspace never see a half-updated graph.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/config"
	"github.com/abramin/callscope/internal/index"
	"github.com/abramin/callscope/internal/telemetry"
)

// Op is the kind of workspace change an update made.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpSkip   Op = "skip" // Content unchanged, or the path is not a unit
)

// Update reports the outcome of processing one changed path.
type Update struct {
	Unit    string
	Op      Op
	Version uint64 // Workspace version after the change
	Err     error
}

// Config configures a Watcher.
type Config struct {
	// Debounce is how long a path must stay quiet before it is re-analyzed.
	// Default: 200ms
	Debounce time.Duration

	// Cache, when set, is consulted by Seed.
	Cache index.UnitCache

	Logger *slog.Logger
}

// Watcher applies file system changes under a project directory to a
// workspace.
type Watcher struct {
	cfg      *config.Config
	ws       *callgraph.Workspace
	loader   *index.Loader
	analyzer *index.Analyzer
	cache    index.UnitCache
	debounce time.Duration
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]time.Time // path -> last event

	hashMu sync.Mutex
	hashes map[string]string // unit -> content hash

	updates chan Update
}

// New creates a watcher for projectDir feeding ws.
func New(cfg *config.Config, projectDir string, ws *callgraph.Workspace, wc Config) *Watcher {
	logger := wc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := wc.Debounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if abs, err := filepath.Abs(projectDir); err == nil {
		projectDir = abs
	}
	return &Watcher{
		cfg:      cfg,
		ws:       ws,
		loader:   index.NewLoader(cfg, projectDir),
		analyzer: index.NewAnalyzer(cfg),
		cache:    wc.Cache,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]time.Time),
		hashes:   make(map[string]string),
		updates:  make(chan Update, 100),
	}
}

// Updates returns the channel updates are published on. Updates are dropped
// when nobody drains the channel.
func (w *Watcher) Updates() <-chan Update {
	return w.updates
}

// Seed analyzes the whole project and loads every unit into the workspace.
func (w *Watcher) Seed(ctx context.Context) error {
	units, err := w.loader.Load()
	if err != nil {
		return err
	}
	if len(units) == 0 {
		w.logger.Warn("no units to seed", slog.String("dir", w.loader.ProjectDir()))
		return nil
	}

	res, err := w.analyzer.AnalyzeProject(ctx, units, w.cache)
	if err != nil {
		return fmt.Errorf("seeding workspace: %w", err)
	}

	for _, u := range units {
		g, ok := res.Units[u.Name]
		if !ok {
			continue
		}
		if err := w.ws.AddUnit(u.Name, g); err != nil {
			return fmt.Errorf("adding %s: %w", u.Name, err)
		}
		telemetry.WorkspaceUpdates.WithLabelValues(string(OpAdd)).Inc()
		w.setHash(u.Name, contentHash(u.Source))
	}

	w.logger.Info("workspace seeded",
		slog.Int("units", len(res.Units)),
		slog.Int("cached", res.Cached),
		slog.Int("functions", w.ws.Snapshot().Len()))
	return nil
}

// Run watches the project directory until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addWatchesRecursive(fsw, w.loader.ProjectDir()); err != nil {
		return err
	}
	w.logger.Info("watching for changes",
		slog.String("dir", w.loader.ProjectDir()),
		slog.Duration("debounce", w.debounce))

	ticker := time.NewTicker(max(w.debounce/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleFSEvent(fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", slog.String("error", err.Error()))

		case now := <-ticker.C:
			w.flushPending(ctx, now)
		}
	}
}

// Apply re-analyzes the unit at path, or removes it when the file is gone,
// and returns what changed.
func (w *Watcher) Apply(ctx context.Context, path string) Update {
	name, err := w.loader.UnitName(path)
	if err != nil {
		return Update{Op: OpSkip, Err: err}
	}

	unit, err := w.loader.ReadUnit(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return w.remove(name)
	case errors.Is(err, index.ErrNotAUnit):
		if _, statErr := os.Stat(w.absPath(path)); errors.Is(statErr, fs.ErrNotExist) {
			// A removed directory takes its units with it.
			return w.removeUnder(name)
		}
		return Update{Unit: name, Op: OpSkip, Version: w.ws.Version()}
	case err != nil:
		return Update{Unit: name, Op: OpSkip, Version: w.ws.Version(), Err: err}
	}

	hash := contentHash(unit.Source)
	if prev, ok := w.hash(name); ok && prev == hash {
		return Update{Unit: name, Op: OpSkip, Version: w.ws.Version()}
	}

	g, err := w.analyzer.AnalyzeUnit(ctx, unit)
	if errors.Is(err, callgraph.ErrInvalidInput) {
		// An emptied file contributes nothing.
		return w.remove(name)
	}
	if err != nil {
		return Update{Unit: name, Op: OpSkip, Version: w.ws.Version(), Err: err}
	}
	if err := w.ws.AddUnit(name, g); err != nil {
		return Update{Unit: name, Op: OpSkip, Version: w.ws.Version(), Err: err}
	}

	w.setHash(name, hash)
	telemetry.WorkspaceUpdates.WithLabelValues(string(OpAdd)).Inc()
	w.logger.Info("unit updated",
		slog.String("unit", name),
		slog.Int("functions", g.Len()),
		slog.Int("diagnostics", g.DiagnosticCount()))
	return Update{Unit: name, Op: OpAdd, Version: w.ws.Version()}
}

func (w *Watcher) remove(name string) Update {
	w.hashMu.Lock()
	delete(w.hashes, name)
	w.hashMu.Unlock()

	removed, err := w.ws.RemoveUnit(name)
	if err != nil {
		return Update{Unit: name, Op: OpSkip, Version: w.ws.Version(), Err: err}
	}
	if !removed {
		return Update{Unit: name, Op: OpSkip, Version: w.ws.Version()}
	}
	telemetry.WorkspaceUpdates.WithLabelValues(string(OpRemove)).Inc()
	w.logger.Info("unit removed", slog.String("unit", name))
	return Update{Unit: name, Op: OpRemove, Version: w.ws.Version()}
}

// removeUnder drops every unit below the directory named dir.
func (w *Watcher) removeUnder(dir string) Update {
	out := Update{Unit: dir, Op: OpSkip, Version: w.ws.Version()}
	prefix := dir + "/"
	for _, name := range w.ws.Units() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if u := w.remove(name); u.Err != nil {
			return u
		} else if u.Op == OpRemove {
			out.Op, out.Version = OpRemove, u.Version
		}
	}
	return out
}

func (w *Watcher) absPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.loader.ProjectDir(), path)
}

// addWatchesRecursive watches root and every directory below it that
// discovery would descend into.
func (w *Watcher) addWatchesRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.cfg.IsExcludedDir(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
}

func (w *Watcher) handleFSEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.handleNewDirectory(fsw, event.Name)
			return
		}
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}

	w.touch(event.Name, time.Now())
}

// touch records an event for path, restarting its quiet period.
func (w *Watcher) touch(path string, at time.Time) {
	w.pendingMu.Lock()
	w.pending[path] = at
	w.pendingMu.Unlock()
}

// handleNewDirectory watches a directory that appeared after Run started and
// queues the files already in it, which were written before the watch existed.
func (w *Watcher) handleNewDirectory(fsw *fsnotify.Watcher, dir string) {
	if w.cfg.IsExcludedDir(dir) {
		return
	}
	if err := w.addWatchesRecursive(fsw, dir); err != nil {
		w.logger.Warn("failed to watch new directory", slog.String("path", dir), slog.String("error", err.Error()))
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			w.touch(path, time.Now())
		}
		return nil
	})
}

// flushPending applies the pending paths that have been quiet for the
// debounce period as of now and returns how many it applied.
func (w *Watcher) flushPending(ctx context.Context, now time.Time) int {
	w.pendingMu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.pendingMu.Unlock()
	sort.Strings(ready)

	for i, path := range ready {
		if ctx.Err() != nil {
			return i
		}
		u := w.Apply(ctx, path)
		if u.Err != nil {
			w.logger.Warn("update failed", slog.String("unit", u.Unit), slog.String("error", u.Err.Error()))
		}
		if u.Op == OpSkip && u.Err == nil {
			continue
		}
		select {
		case w.updates <- u:
		default:
		}
	}
	return len(ready)
}

func (w *Watcher) hash(name string) (string, bool) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	h, ok := w.hashes[name]
	return h, ok
}

func (w *Watcher) setHash(name, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[name] = hash
}

func contentHash(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}
