// Package cache stores per-unit analysis results in BadgerDB, keyed by the
// content hash the analyzer computes for each unit.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/abramin/callscope/internal/callgraph"
)

const keyPrefix = "unit/"

// Config holds configuration for a cache instance.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM; entries are lost on Close.
	InMemory bool
	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// Cache is a UnitCache backed by BadgerDB. It is safe for concurrent use.
type Cache struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the cache described by cfg.
func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("cache path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// OpenDir opens a persistent cache in dir.
func OpenDir(dir string) (*Cache, error) {
	return Open(Config{Path: dir})
}

// OpenInMemory opens a cache that lives only as long as the process.
func OpenInMemory() (*Cache, error) {
	return Open(Config{InMemory: true})
}

// Get returns the snapshot stored under key. A missing key is not an error.
func (c *Cache) Get(key string) (callgraph.Snapshot, bool, error) {
	var snap callgraph.Snapshot
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return callgraph.Snapshot{}, false, nil
	}
	if err != nil {
		return callgraph.Snapshot{}, false, fmt.Errorf("reading cache entry: %w", err)
	}
	return snap, true, nil
}

// Put stores snap under key, replacing any previous entry.
func (c *Cache) Put(key string, snap callgraph.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), data)
	})
}

// Len returns the number of cached units.
func (c *Cache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Purge drops every cached unit.
func (c *Cache) Purge() error {
	return c.db.DropPrefix([]byte(keyPrefix))
}

// Close runs one round of value log GC and closes the database.
func (c *Cache) Close() error {
	if err := c.db.RunValueLogGC(0.5); err != nil &&
		!errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		slog.Debug("cache gc skipped", slog.String("error", err.Error()))
	}
	return c.db.Close()
}
