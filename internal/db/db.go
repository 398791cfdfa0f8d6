package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// TimeFormat is the layout used for every timestamp column. Values are
// always UTC with fixed-width nanoseconds so text order is time order.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps a sql.DB with tracegraph-specific helpers.
type DB struct {
	*sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path. Transactions
// begin IMMEDIATE so a writer holds the write lock from its first statement.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := &DB{DB: sqlDB, path: path}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// OpenMemory creates an in-memory SQLite database (useful for testing).
// A single connection is kept so every query sees the same database.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	d := &DB{DB: sqlDB, path: ":memory:"}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// Wrap adopts an already open handle without running migrations.
func Wrap(sqlDB *sql.DB) *DB {
	return &DB{DB: sqlDB, path: "external"}
}

// Path returns the database location.
func (d *DB) Path() string { return d.path }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (d *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// migrate runs all schema migrations.
func (d *DB) migrate() error {
	_, err := d.Exec(schema)
	return err
}

// schema contains the full database schema. The artifacts, links and
// evidence_attachments tables are append-only; every row carries the
// graph_version that produced it.
const schema = `
CREATE TABLE IF NOT EXISTS graph_versions (
    version INTEGER PRIMARY KEY AUTOINCREMENT,
    committed_at TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    op TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_graph_versions_committed ON graph_versions(committed_at);

CREATE TABLE IF NOT EXISTS artifacts (
    row_id TEXT PRIMARY KEY,
    id TEXT NOT NULL,
    graph_version INTEGER NOT NULL REFERENCES graph_versions(version),
    kind TEXT NOT NULL CHECK(kind IN ('policy','control','evidence','requirement','finding','corrective_action')),
    framework_id TEXT NOT NULL DEFAULT '',
    attributes TEXT NOT NULL DEFAULT '{}',
    lifecycle TEXT NOT NULL CHECK(lifecycle IN ('draft','active','retired')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE(id, graph_version)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_id ON artifacts(id, graph_version);
CREATE INDEX IF NOT EXISTS idx_artifacts_framework ON artifacts(framework_id);

CREATE TABLE IF NOT EXISTS links (
    row_id TEXT PRIMARY KEY,
    id TEXT NOT NULL,
    graph_version INTEGER NOT NULL REFERENCES graph_versions(version),
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    link_type TEXT NOT NULL CHECK(link_type IN ('maps_to','satisfies','tests','implements','validates','remediates')),
    coverage TEXT NOT NULL DEFAULT 'none' CHECK(coverage IN ('none','partial','full')),
    coverage_asserted INTEGER NOT NULL DEFAULT 0,
    last_reviewed TEXT NOT NULL,
    retired INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    UNIQUE(id, graph_version)
);

CREATE INDEX IF NOT EXISTS idx_links_id ON links(id, graph_version);
CREATE INDEX IF NOT EXISTS idx_links_pair ON links(source_id, target_id, link_type);

CREATE TABLE IF NOT EXISTS evidence_attachments (
    id TEXT PRIMARY KEY,
    graph_version INTEGER NOT NULL REFERENCES graph_versions(version),
    link_id TEXT NOT NULL,
    evidence_id TEXT NOT NULL,
    collected_at TEXT NOT NULL,
    valid_until TEXT,
    source TEXT NOT NULL CHECK(source IN ('manual','integration')),
    freshness_window_ns INTEGER NOT NULL,
    attributes TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attachments_link ON evidence_attachments(link_id, graph_version);

CREATE TABLE IF NOT EXISTS history (
    id TEXT PRIMARY KEY,
    graph_version INTEGER NOT NULL REFERENCES graph_versions(version),
    timestamp TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    entity_type TEXT NOT NULL CHECK(entity_type IN ('artifact','link','evidence_attachment')),
    entity_id TEXT NOT NULL,
    previous_value TEXT,
    new_value TEXT
);

CREATE INDEX IF NOT EXISTS idx_history_entity ON history(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_history_version ON history(graph_version);
`
