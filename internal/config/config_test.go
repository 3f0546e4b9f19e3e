package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if len(cfg.Discovery.Include) == 0 {
		t.Error("expected default include globs")
	}
	if len(cfg.Discovery.Exclude.Dirs) == 0 {
		t.Error("expected default excluded dirs")
	}
	if len(cfg.Resolution.ExternalMacros) == 0 {
		t.Error("expected default external macros")
	}
	if len(cfg.IOSymbols) == 0 {
		t.Error("expected default IO symbols")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if !cfg.GitignoreEnabled() || !cfg.CacheEnabled() {
		t.Error("expected gitignore and cache enabled by default")
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("expected no error for nonexistent file, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config")
	}
	if len(cfg.Discovery.Exclude.Dirs) == 0 {
		t.Error("expected default excluded dirs")
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
discovery:
  include:
    - "src/**/*.rs"
  exclude:
    dirs:
      - target
      - generated
  respect_gitignore: false

resolution:
  entry_symbols:
    - main
    - start
  external_macros:
    - "println!"

analysis:
  workers: 2
  cache: false

layers:
  handler:
    - "**/api/**"

io_symbols:
  db:
    - "sqlx::*"
    - "custom_db::*"

server:
  port: 9090
  watch_debounce: 50ms
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, FileName)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Discovery.Exclude.Dirs) != 2 {
		t.Errorf("expected 2 excluded dirs, got %d", len(cfg.Discovery.Exclude.Dirs))
	}
	if cfg.Discovery.Exclude.Dirs[1] != "generated" {
		t.Errorf("expected generated, got %s", cfg.Discovery.Exclude.Dirs[1])
	}
	if cfg.GitignoreEnabled() {
		t.Error("expected gitignore disabled")
	}
	if cfg.CacheEnabled() {
		t.Error("expected cache disabled")
	}
	if got := cfg.GraphOptions().EntrySymbols; len(got) != 2 || got[1] != "start" {
		t.Errorf("unexpected entry symbols %v", got)
	}
	if len(cfg.Resolution.ExternalMacros) != 1 {
		t.Errorf("expected 1 external macro, got %d", len(cfg.Resolution.ExternalMacros))
	}
	// Unset sections keep their defaults.
	if len(cfg.Resolution.ExternalMethods) == 0 {
		t.Error("expected default external methods to survive")
	}
	if cfg.Analysis.Workers != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.Analysis.Workers)
	}
	if len(cfg.Layers) != 1 {
		t.Errorf("expected 1 layer, got %d", len(cfg.Layers))
	}
	if len(cfg.IOSymbols["db"]) != 2 {
		t.Errorf("expected 2 db symbols, got %d", len(cfg.IOSymbols["db"]))
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.WatchDebounce != 50*time.Millisecond {
		t.Errorf("expected 50ms debounce, got %s", cfg.Server.WatchDebounce)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "discovery: [unterminated"},
		{"too many workers", "analysis:\n  workers: 1000\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"bad neo4j uri", "neo4j:\n  uri: \"not a uri\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestIsExcludedDir(t *testing.T) {
	cfg := Default()

	tests := []struct {
		dir      string
		excluded bool
	}{
		{"target", true},
		{"/path/to/target", true},
		{"vendor", true},
		{"src", false},
		{"crates", false},
	}

	for _, tt := range tests {
		got := cfg.IsExcludedDir(tt.dir)
		if got != tt.excluded {
			t.Errorf("IsExcludedDir(%q) = %v, want %v", tt.dir, got, tt.excluded)
		}
	}
}

func TestIsIncludedFile(t *testing.T) {
	cfg := Default()

	tests := []struct {
		path     string
		included bool
	}{
		{"main.rs", true},
		{"src/lib.rs", true},
		{"src/api/users.rs", true},
		{"build.rs", false},
		{"crates/foo/build.rs", false},
		{"README.md", false},
		{"src/main.go", false},
	}

	for _, tt := range tests {
		got := cfg.IsIncludedFile(tt.path)
		if got != tt.included {
			t.Errorf("IsIncludedFile(%q) = %v, want %v", tt.path, got, tt.included)
		}
	}
}

func TestGetLayerForUnit(t *testing.T) {
	cfg := Default()

	tests := []struct {
		path  string
		layer string
	}{
		{"src/handlers/user.rs", "handler"},
		{"handlers/user.rs", "handler"},
		{"src/db/pool.rs", "store"},
		{"src/models/user.rs", "domain"},
		{"src/main.rs", ""},
	}

	for _, tt := range tests {
		got := cfg.GetLayerForUnit(tt.path)
		if got != tt.layer {
			t.Errorf("GetLayerForUnit(%q) = %q, want %q", tt.path, got, tt.layer)
		}
	}
}

func TestIsNoiseSymbol(t *testing.T) {
	cfg := Default()

	tests := []struct {
		ref   string
		noise bool
	}{
		{"format!", true},
		{"clone", true},
		{"unwrap", true},
		{"println!", false},
		{"calculate_sum", false},
	}

	for _, tt := range tests {
		got := cfg.IsNoiseSymbol(tt.ref)
		if got != tt.noise {
			t.Errorf("IsNoiseSymbol(%q) = %v, want %v", tt.ref, got, tt.noise)
		}
	}
}

func TestGetIOCategory(t *testing.T) {
	cfg := Default()

	tests := []struct {
		ref      string
		category string
	}{
		{"println!", "print"},
		{"eprintln!", "print"},
		{"std::fs::read_to_string", "fs"},
		{"File::open", "fs"},
		{"std::net::TcpStream::connect", "net"},
		{"sqlx::query", "db"},
		{"std::env::var", "env"},
		{"vec!", ""},
		{"calculate_sum", ""},
	}

	for _, tt := range tests {
		got := cfg.GetIOCategory(tt.ref)
		if got != tt.category {
			t.Errorf("GetIOCategory(%q) = %q, want %q", tt.ref, got, tt.category)
		}
	}
}
