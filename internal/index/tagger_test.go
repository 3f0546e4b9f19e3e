package index

import (
	"context"
	"slices"
	"testing"

	"github.com/abramin/callscope/internal/config"
)

const taggerSource = `
struct UserStore;

impl UserStore {
    fn load(&self) {}
}

#[verifier::verify]
fn checked() -> u32 {
    double(2)
}

fn double(x: u32) -> u32 {
    x * 2
}

fn read_config() -> String {
    std::fs::read_to_string("app.toml").unwrap()
}

fn startup() {
    let cfg = read_config();
    println!("{}", cfg);
}

fn orchestrate() {
    read_config();
    double(1);
}

fn spin(n: u32) {
    if n > 0 {
        spin(n - 1);
    }
}
`

func tagsOf(t *testing.T, unit, src string, cfg *config.Config) map[string][]string {
	t.Helper()
	g, err := NewAnalyzer(cfg).AnalyzeUnit(context.Background(), Unit{Name: unit, Source: []byte(src)})
	if err != nil {
		t.Fatalf("AnalyzeUnit() error = %v", err)
	}
	return NewTagger(cfg).Tag(g).ByFunction()
}

func TestTagger_IOTagFromExternalCallee(t *testing.T) {
	tags := tagsOf(t, "lib.rs", taggerSource, config.Default())

	tests := []struct {
		function string
		tag      string
	}{
		{"read_config", "io:fs"},
		{"startup", "io:print"},
	}
	for _, tt := range tests {
		t.Run(tt.function, func(t *testing.T) {
			if !slices.Contains(tags[tt.function], tt.tag) {
				t.Errorf("expected %s to carry %s, got %v", tt.function, tt.tag, tags[tt.function])
			}
		})
	}
}

func TestTagger_IOTagFromOwnerType(t *testing.T) {
	tags := tagsOf(t, "lib.rs", taggerSource, config.Default())

	if !slices.Contains(tags["UserStore::load"], "io:db") {
		t.Errorf("expected UserStore::load to be tagged io:db, got %v", tags["UserStore::load"])
	}
}

func TestTagger_IOTagFromOwnerName(t *testing.T) {
	tests := []struct {
		owner string
		want  string
	}{
		{"UserStore", "io:db"},
		{"OrderRepo", "io:db"},
		{"AccountRepository", "io:db"},
		{"HttpClient", "io:net"},
		{"crate::net::ApiClient", "io:net"},
		{"Parser", ""},
	}
	for _, tt := range tests {
		t.Run(tt.owner, func(t *testing.T) {
			if got := ioTagFromOwner(tt.owner); got != tt.want {
				t.Errorf("ioTagFromOwner(%q) = %q, want %q", tt.owner, got, tt.want)
			}
		})
	}
}

func TestTagger_Purity(t *testing.T) {
	tags := tagsOf(t, "lib.rs", taggerSource, config.Default())

	tests := []struct {
		function string
		pure     bool
	}{
		{"double", true},           // No outgoing calls
		{"checked", true},          // Calls only pure functions
		{"read_config", false},     // Performs I/O itself
		{"orchestrate", false},     // Calls an I/O function
		{"UserStore::load", false}, // Owner type implies I/O
	}
	for _, tt := range tests {
		t.Run(tt.function, func(t *testing.T) {
			got := slices.Contains(tags[tt.function], "pure-ish")
			if got != tt.pure {
				t.Errorf("%s pure-ish = %v, want %v (tags %v)", tt.function, got, tt.pure, tags[tt.function])
			}
		})
	}
}

func TestTagger_VerifiedAndRecursive(t *testing.T) {
	tags := tagsOf(t, "lib.rs", taggerSource, config.Default())

	for _, fn := range []string{"checked", "double"} {
		if !slices.Contains(tags[fn], "verified") {
			t.Errorf("expected %s to be verified, got %v", fn, tags[fn])
		}
	}
	if slices.Contains(tags["orchestrate"], "verified") {
		t.Error("orchestrate should not be verified")
	}
	if !slices.Contains(tags["spin"], "recursive") {
		t.Errorf("expected spin to be recursive, got %v", tags["spin"])
	}
}

func TestTagger_LayerTags(t *testing.T) {
	tags := tagsOf(t, "src/service/billing.rs", "fn charge() {}\n", config.Default())

	if !slices.Contains(tags["charge"], "layer:service") {
		t.Errorf("expected layer:service, got %v", tags["charge"])
	}
}

func TestTagger_Counts(t *testing.T) {
	cfg := config.Default()
	g, err := NewAnalyzer(cfg).AnalyzeUnit(context.Background(), Unit{Name: "lib.rs", Source: []byte(taggerSource)})
	if err != nil {
		t.Fatal(err)
	}
	result := NewTagger(cfg).Tag(g)

	sum := result.IOTags + result.LayerTags + result.PurityTags + result.VerifiedTags + result.RecursiveTags
	if sum != result.TotalTags || result.TotalTags != len(result.Tags) {
		t.Errorf("tag counts disagree: sum %d, total %d, tags %d", sum, result.TotalTags, len(result.Tags))
	}
	if result.LayerTags != 0 {
		t.Errorf("lib.rs matches no layer, got %d layer tags", result.LayerTags)
	}
}
