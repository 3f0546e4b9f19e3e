package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/abramin/callscope/internal/callgraph"
)

// FileName is the configuration file looked up in the project directory.
const FileName = "callscope.yaml"

// Config represents the callscope configuration.
type Config struct {
	Discovery    DiscoveryConfig     `yaml:"discovery"`
	Resolution   ResolutionConfig    `yaml:"resolution"`
	Analysis     AnalysisConfig      `yaml:"analysis"`
	Layers       map[string][]string `yaml:"layers"`
	IOSymbols    map[string][]string `yaml:"io_symbols" validate:"dive,dive,required"`
	NoiseSymbols []string            `yaml:"noise_symbols"`
	Server       ServerConfig        `yaml:"server"`
	Neo4j        Neo4jConfig         `yaml:"neo4j"`
}

// DiscoveryConfig controls which files become analysis units.
type DiscoveryConfig struct {
	Include          []string      `yaml:"include" validate:"min=1,dive,required"`
	Exclude          ExcludeConfig `yaml:"exclude"`
	RespectGitignore *bool         `yaml:"respect_gitignore"`
}

// ExcludeConfig defines patterns to exclude from discovery.
type ExcludeConfig struct {
	Dirs      []string `yaml:"dirs"`
	FilesGlob []string `yaml:"files_glob"`
}

// ResolutionConfig lists what the name resolver treats as entry points,
// verification markers and known external symbols.
type ResolutionConfig struct {
	EntrySymbols     []string `yaml:"entry_symbols" validate:"dive,required"`
	VerificationTags []string `yaml:"verification_tags" validate:"dive,required"`
	ExternalCrates   []string `yaml:"external_crates"`
	ExternalSymbols  []string `yaml:"external_symbols"`
	ExternalMacros   []string `yaml:"external_macros"`
	ExternalMethods  []string `yaml:"external_methods"`
}

// AnalysisConfig tunes the multi-unit pipeline.
type AnalysisConfig struct {
	Workers     int    `yaml:"workers" validate:"min=1,max=256"`
	MaxUnitSize int64  `yaml:"max_unit_size" validate:"min=1"`
	CacheDir    string `yaml:"cache_dir"`
	Cache       *bool  `yaml:"cache"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port          int           `yaml:"port" validate:"min=1,max=65535"`
	WatchDebounce time.Duration `yaml:"watch_debounce" validate:"min=0"`
}

// Neo4jConfig configures the optional graph database export.
type Neo4jConfig struct {
	URI      string `yaml:"uri" validate:"omitempty,uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Include: []string{"**/*.rs"},
			Exclude: ExcludeConfig{
				Dirs:      []string{"target", "vendor", ".git", "node_modules", ".callscope"},
				FilesGlob: []string{"**/build.rs"},
			},
			RespectGitignore: boolPtr(true),
		},
		Resolution: ResolutionConfig{
			EntrySymbols:     []string{"main"},
			VerificationTags: []string{"verifier::verify"},
			ExternalCrates:   []string{"std", "core", "alloc"},
			ExternalSymbols: []string{
				"Some", "None", "Ok", "Err", "Box", "Vec", "String", "Option", "Result",
				"HashMap", "HashSet", "BTreeMap", "Rc", "Arc", "RefCell", "Cell",
				"drop", "panic", "assert", "Default", "From", "Into",
			},
			ExternalMacros: []string{
				"println!", "print!", "eprintln!", "eprint!", "format!", "write!", "writeln!",
				"vec!", "panic!", "assert!", "assert_eq!", "assert_ne!", "debug_assert!",
				"unreachable!", "todo!", "unimplemented!", "matches!", "dbg!",
			},
			ExternalMethods: []string{
				"iter", "iter_mut", "into_iter", "map", "filter", "filter_map", "flat_map",
				"fold", "collect", "sum", "count", "enumerate", "zip", "rev", "take", "skip",
				"any", "all", "find", "for_each", "chain", "cloned", "copied",
				"unwrap", "expect", "unwrap_or", "unwrap_or_else", "ok", "ok_or", "and_then",
				"clone", "to_string", "to_owned", "into", "as_str", "as_ref", "len", "is_empty",
				"push", "pop", "insert", "remove", "get", "contains", "extend", "join", "split",
				"trim", "parse", "lock", "borrow", "borrow_mut",
			},
		},
		Analysis: AnalysisConfig{
			Workers:     4,
			MaxUnitSize: 10 * 1024 * 1024,
			CacheDir:    filepath.Join(".callscope", "cache"),
			Cache:       boolPtr(true),
		},
		Layers: map[string][]string{
			"handler": {"**/handlers/**", "**/http/**", "**/api/**"},
			"service": {"**/service/**", "**/services/**"},
			"store":   {"**/store/**", "**/db/**", "**/repository/**"},
			"domain":  {"**/domain/**", "**/model/**", "**/models/**"},
		},
		IOSymbols: map[string][]string{
			"print": {"println!", "print!", "eprintln!", "eprint!", "dbg!"},
			"fs":    {"std::fs::*", "fs::*", "File::*"},
			"net":   {"std::net::*", "TcpStream::*", "TcpListener::*", "UdpSocket::*", "reqwest::*"},
			"db":    {"sqlx::*", "diesel::*", "rusqlite::*"},
			"env":   {"std::env::*", "env::*"},
		},
		NoiseSymbols: []string{"format!", "clone", "to_string", "to_owned", "into", "unwrap", "expect"},
		Server: ServerConfig{
			Port:          8080,
			WatchDebounce: 200 * time.Millisecond,
		},
		Neo4j: Neo4jConfig{
			User:     "neo4j",
			Database: "neo4j",
		},
	}
}

// Load reads configuration from file, falling back to defaults.
// If configPath is empty, it looks for callscope.yaml in the current directory.
// Values in the config file replace defaults per field (lists are not merged).
func Load(configPath string) (*Config, error) {
	defaults := Default()

	if configPath == "" {
		configPath = FileName
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return nil, err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	defaults.Merge(&fileCfg)
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return defaults, nil
}

// LoadFromDir loads configuration from the specified directory.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Merge combines another config into this one, with other taking precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if len(other.Discovery.Include) > 0 {
		c.Discovery.Include = other.Discovery.Include
	}
	if len(other.Discovery.Exclude.Dirs) > 0 {
		c.Discovery.Exclude.Dirs = other.Discovery.Exclude.Dirs
	}
	if len(other.Discovery.Exclude.FilesGlob) > 0 {
		c.Discovery.Exclude.FilesGlob = other.Discovery.Exclude.FilesGlob
	}
	if other.Discovery.RespectGitignore != nil {
		c.Discovery.RespectGitignore = other.Discovery.RespectGitignore
	}

	r := other.Resolution
	if len(r.EntrySymbols) > 0 {
		c.Resolution.EntrySymbols = r.EntrySymbols
	}
	if len(r.VerificationTags) > 0 {
		c.Resolution.VerificationTags = r.VerificationTags
	}
	if len(r.ExternalCrates) > 0 {
		c.Resolution.ExternalCrates = r.ExternalCrates
	}
	if len(r.ExternalSymbols) > 0 {
		c.Resolution.ExternalSymbols = r.ExternalSymbols
	}
	if len(r.ExternalMacros) > 0 {
		c.Resolution.ExternalMacros = r.ExternalMacros
	}
	if len(r.ExternalMethods) > 0 {
		c.Resolution.ExternalMethods = r.ExternalMethods
	}

	if other.Analysis.Workers != 0 {
		c.Analysis.Workers = other.Analysis.Workers
	}
	if other.Analysis.MaxUnitSize != 0 {
		c.Analysis.MaxUnitSize = other.Analysis.MaxUnitSize
	}
	if other.Analysis.CacheDir != "" {
		c.Analysis.CacheDir = other.Analysis.CacheDir
	}
	if other.Analysis.Cache != nil {
		c.Analysis.Cache = other.Analysis.Cache
	}

	if len(other.Layers) > 0 {
		c.Layers = other.Layers
	}
	if len(other.IOSymbols) > 0 {
		c.IOSymbols = other.IOSymbols
	}
	if len(other.NoiseSymbols) > 0 {
		c.NoiseSymbols = other.NoiseSymbols
	}

	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.WatchDebounce != 0 {
		c.Server.WatchDebounce = other.Server.WatchDebounce
	}

	if other.Neo4j.URI != "" {
		c.Neo4j.URI = other.Neo4j.URI
	}
	if other.Neo4j.User != "" {
		c.Neo4j.User = other.Neo4j.User
	}
	if other.Neo4j.Password != "" {
		c.Neo4j.Password = other.Neo4j.Password
	}
	if other.Neo4j.Database != "" {
		c.Neo4j.Database = other.Neo4j.Database
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GraphOptions returns the options used to derive entry points and the
// verified set.
func (c *Config) GraphOptions() callgraph.Options {
	return callgraph.Options{
		EntrySymbols:     c.Resolution.EntrySymbols,
		VerificationTags: c.Resolution.VerificationTags,
	}
}

// GitignoreEnabled reports whether .gitignore files are honored during discovery.
func (c *Config) GitignoreEnabled() bool {
	return c.Discovery.RespectGitignore == nil || *c.Discovery.RespectGitignore
}

// CacheEnabled reports whether per-unit results are cached.
func (c *Config) CacheEnabled() bool {
	return c.Analysis.Cache == nil || *c.Analysis.Cache
}

// IsExcludedDir checks if a directory should be excluded from discovery.
func (c *Config) IsExcludedDir(dir string) bool {
	base := filepath.Base(dir)
	for _, excluded := range c.Discovery.Exclude.Dirs {
		if base == excluded {
			return true
		}
	}
	return false
}

// IsIncludedFile reports whether a slash-separated path relative to the
// project root matches an include glob and no exclude glob.
func (c *Config) IsIncludedFile(relPath string) bool {
	included := false
	for _, pattern := range c.Discovery.Include {
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, pattern := range c.Discovery.Exclude.FilesGlob {
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return false
		}
	}
	return true
}

// GetLayerForUnit returns the layer name for a unit path, or empty string if
// no pattern matches. Layers are tried in name order.
func (c *Config) GetLayerForUnit(unitPath string) string {
	for _, layer := range sortedKeys(c.Layers) {
		for _, pattern := range c.Layers[layer] {
			if matchLayerPattern(pattern, unitPath) {
				return layer
			}
		}
	}
	return ""
}

// matchLayerPattern matches a unit path against a layer pattern.
// "**/handlers/**" matches both "src/handlers/user.rs" and "handlers/user.rs".
func matchLayerPattern(pattern, unitPath string) bool {
	if ok, err := doublestar.Match(pattern, unitPath); err == nil && ok {
		return true
	}
	if trimmed, found := strings.CutPrefix(pattern, "**/"); found {
		ok, err := doublestar.Match(trimmed, unitPath)
		return err == nil && ok
	}
	return false
}

// IsNoiseSymbol checks if an external callee should be hidden from
// renderer-facing subgraphs when noise filtering is on.
func (c *Config) IsNoiseSymbol(ref string) bool {
	for _, noise := range c.NoiseSymbols {
		if matchSymbol(noise, ref) {
			return true
		}
	}
	return false
}

// GetIOCategory returns the I/O category (print, fs, net, ...) for a callee
// reference, or empty string if the callee is not I/O. Categories are tried in
// name order.
func (c *Config) GetIOCategory(ref string) string {
	for _, category := range sortedKeys(c.IOSymbols) {
		for _, pattern := range c.IOSymbols[category] {
			if matchSymbol(pattern, ref) {
				return category
			}
		}
	}
	return ""
}

// matchSymbol matches a callee reference exactly or, for patterns ending in
// '*', by prefix.
func matchSymbol(pattern, ref string) bool {
	if pattern == ref {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(ref, prefix)
	}
	return false
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func boolPtr(b bool) *bool {
	return &b
}
