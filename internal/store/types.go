package store

// EntrypointID is a type-safe identifier for entrypoints.
type EntrypointID int64

// EntrypointType represents the type of entrypoint.
type EntrypointType string

const (
	EntrypointMain         EntrypointType = "main"         // Configured entry symbol
	EntrypointTest         EntrypointType = "test"         // #[test] and friends
	EntrypointBench        EntrypointType = "bench"        // #[bench]
	EntrypointPublic       EntrypointType = "public"       // pub item
	EntrypointUnreferenced EntrypointType = "unreferenced" // Private and never called
)

// Unit is one analyzed source file.
type Unit struct {
	Name          string `json:"name"`
	Hash          string `json:"hash"`
	Layer         string `json:"layer,omitempty"` // handler, service, store, domain, or empty
	FunctionCount int    `json:"function_count"`
}

// Entrypoint represents a program entrypoint.
type Entrypoint struct {
	ID         EntrypointID   `json:"id"`
	Type       EntrypointType `json:"type"`
	Label      string         `json:"label"` // Qualified name, e.g. "Server::run"
	FunctionID string         `json:"function_id"`
	MetaJSON   string         `json:"meta_json,omitempty"` // Additional metadata as JSON
}

// EntrypointFilter narrows GetEntrypoints.
type EntrypointFilter struct {
	Type  EntrypointType
	Query string // Substring of the label
	Limit int
}

// Tag represents a tag on a function.
type Tag struct {
	FunctionID string `json:"function_id"`
	Tag        string `json:"tag"`    // e.g., "io:fs", "pure-ish", "layer:handler"
	Reason     string `json:"reason"` // Why this tag was applied
}

// FunctionHit is a search result.
type FunctionHit struct {
	ID            string `json:"id"`
	QualifiedName string `json:"qualified_name"`
	Unit          string `json:"unit,omitempty"`
	Line          int    `json:"line"`
}
