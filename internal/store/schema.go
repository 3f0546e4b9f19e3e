package store

// schema contains the SQL statements to create the callscope database schema.
const schema = `
-- Units table: one row per analyzed source file
CREATE TABLE IF NOT EXISTS units (
    name           TEXT PRIMARY KEY,
    hash           TEXT NOT NULL,
    layer          TEXT,
    function_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_units_layer ON units(layer);

-- Functions table
CREATE TABLE IF NOT EXISTS functions (
    id             TEXT PRIMARY KEY,
    position       INTEGER NOT NULL,
    qualified_name TEXT NOT NULL,
    name           TEXT NOT NULL,
    unit           TEXT,
    owner          TEXT,
    visibility     TEXT NOT NULL,
    start_line     INTEGER NOT NULL,
    end_line       INTEGER NOT NULL,
    annotations    TEXT,
    kind           TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_functions_position ON functions(position);
CREATE INDEX IF NOT EXISTS idx_functions_name ON functions(name);
CREATE INDEX IF NOT EXISTS idx_functions_unit ON functions(unit);

-- Call edges table, aggregated per (caller, callee, via_closure)
CREATE TABLE IF NOT EXISTS call_edges (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    caller_id   TEXT NOT NULL,
    callee_kind TEXT NOT NULL,
    callee_ref  TEXT NOT NULL,
    site_unit   TEXT,
    site_line   INTEGER NOT NULL,
    site_column INTEGER NOT NULL,
    via_closure INTEGER NOT NULL DEFAULT 0,
    occurrences INTEGER NOT NULL DEFAULT 1,
    FOREIGN KEY (caller_id) REFERENCES functions(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_call_edges_unique ON call_edges(caller_id, callee_kind, callee_ref, via_closure);
CREATE INDEX IF NOT EXISTS idx_call_edges_callee ON call_edges(callee_ref);
CREATE INDEX IF NOT EXISTS idx_call_edges_kind ON call_edges(callee_kind);

-- Entrypoints table
CREATE TABLE IF NOT EXISTS entrypoints (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    type        TEXT NOT NULL,
    label       TEXT NOT NULL,
    function_id TEXT NOT NULL,
    meta_json   TEXT,
    FOREIGN KEY (function_id) REFERENCES functions(id)
);

CREATE INDEX IF NOT EXISTS idx_entrypoints_type ON entrypoints(type);
CREATE INDEX IF NOT EXISTS idx_entrypoints_function ON entrypoints(function_id);

-- Tags table
CREATE TABLE IF NOT EXISTS tags (
    function_id TEXT NOT NULL,
    tag         TEXT NOT NULL,
    reason      TEXT,
    PRIMARY KEY (function_id, tag),
    FOREIGN KEY (function_id) REFERENCES functions(id)
);

CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);

-- Diagnostics table
CREATE TABLE IF NOT EXISTS diagnostics (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    kind    TEXT NOT NULL,
    unit    TEXT,
    line    INTEGER NOT NULL,
    col     INTEGER NOT NULL,
    message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diagnostics_kind ON diagnostics(kind);

-- Metadata table for index info
CREATE TABLE IF NOT EXISTS metadata (
    key   TEXT PRIMARY KEY,
    value TEXT
);
`
