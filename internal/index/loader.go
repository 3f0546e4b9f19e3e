package index

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/abramin/callscope/internal/config"
)

// ErrNotAUnit is returned by ReadUnit for paths discovery would not pick up.
var ErrNotAUnit = errors.New("path is not an analysis unit")

// Loader discovers the source units of a project directory.
type Loader struct {
	cfg        *config.Config
	projectDir string
	gitignore  *ignore.GitIgnore
	skipped    []string
}

// NewLoader creates a new unit loader rooted at projectDir.
func NewLoader(cfg *config.Config, projectDir string) *Loader {
	l := &Loader{
		cfg:        cfg,
		projectDir: projectDir,
	}
	if cfg.GitignoreEnabled() {
		l.gitignore = loadGitignore(projectDir)
	}
	return l
}

// loadGitignore compiles the project's .gitignore, or returns nil when there
// is none.
func loadGitignore(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		slog.Warn("ignoring unreadable .gitignore", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	return gi
}

// ProjectDir returns the directory units are discovered under.
func (l *Loader) ProjectDir() string {
	return l.projectDir
}

// Skipped returns the files the last Load passed over because they exceeded
// the size limit.
func (l *Loader) Skipped() []string {
	return l.skipped
}

// Load walks the project directory and returns every included unit in name
// order.
func (l *Loader) Load() ([]Unit, error) {
	l.skipped = nil
	var units []Unit

	err := filepath.WalkDir(l.projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := l.relPath(path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != l.projectDir && (l.cfg.IsExcludedDir(path) || l.ignored(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !l.wanted(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}
		if limit := l.cfg.Analysis.MaxUnitSize; limit > 0 && info.Size() > limit {
			slog.Warn("skipping oversized unit", slog.String("unit", rel), slog.Int64("bytes", info.Size()))
			l.skipped = append(l.skipped, rel)
			return nil
		}

		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		units = append(units, Unit{Name: rel, Source: src})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", l.projectDir, err)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
	slog.Debug("units discovered", slog.Int("count", len(units)), slog.Int("skipped", len(l.skipped)))
	return units, nil
}

// ReadUnit loads a single file as a unit, applying the same rules as Load.
// It returns ErrNotAUnit for files Load would not have returned.
func (l *Loader) ReadUnit(path string) (Unit, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.projectDir, path)
	}
	rel, err := l.relPath(path)
	if err != nil {
		return Unit{}, err
	}
	if !l.wanted(rel) || l.inExcludedDir(rel) {
		return Unit{}, fmt.Errorf("%w: %s", ErrNotAUnit, rel)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return Unit{}, fmt.Errorf("reading %s: %w", rel, err)
	}
	if limit := l.cfg.Analysis.MaxUnitSize; limit > 0 && int64(len(src)) > limit {
		return Unit{}, fmt.Errorf("%w: %s is %d bytes", ErrUnitTooLarge, rel, len(src))
	}
	return Unit{Name: rel, Source: src}, nil
}

// UnitName returns the unit name for a path under the project directory.
func (l *Loader) UnitName(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.projectDir, path)
	}
	return l.relPath(path)
}

func (l *Loader) relPath(path string) (string, error) {
	rel, err := filepath.Rel(l.projectDir, path)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}

func (l *Loader) wanted(rel string) bool {
	return l.cfg.IsIncludedFile(rel) && !l.ignored(rel)
}

func (l *Loader) ignored(rel string) bool {
	return l.gitignore != nil && l.gitignore.MatchesPath(rel)
}

// inExcludedDir reports whether any directory on rel's path is excluded.
func (l *Loader) inExcludedDir(rel string) bool {
	for dir := filepath.Dir(filepath.FromSlash(rel)); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if l.cfg.IsExcludedDir(dir) || l.ignored(filepath.ToSlash(dir)+"/") {
			return true
		}
	}
	return false
}
