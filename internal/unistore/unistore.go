// Package unistore opens and populates the unified Inkwell database, a
// single SQLite file served by the wazero-based ncruces driver with the
// sqlite-vec extension for chunk embeddings. The migration orchestrator is
// the only writer; the host application takes over the file afterwards.
package unistore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

// SchemaVersion is the unified schema this tool creates.
const SchemaVersion = 1

// schema defines the unified data layer. No foreign keys, referential
// integrity is checked at the application level.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    pinned INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY,
    conversation_id INTEGER NOT NULL,
    role TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    source_path TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    seq INTEGER NOT NULL DEFAULT 0,
    content TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

CREATE TABLE IF NOT EXISTS migration_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Store is a handle on the unified database.
type Store struct {
	db   *sqlx.DB
	path string
}

// Open opens (creating if necessary) the unified database at path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, openError(err, path)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, openError(err, path)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, openError(err, path)
		}
	}

	return &Store{db: db, path: path}, nil
}

func openError(err error, path string) error {
	return errors.New(err).
		Component("unistore").
		Category(errors.CategoryConnection).
		DatabaseContext("sqlite", "open").
		Context("path", path).
		Build()
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the live connection for the validator.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// EnsureSchema creates all tables. embeddingDim sizes the vec0 virtual
// table; zero means the install has no knowledge store and no embedding
// table is created.
func (s *Store) EnsureSchema(ctx context.Context, embeddingDim int) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return s.schemaError(err, "create-tables")
	}

	if embeddingDim > 0 {
		ddl := fmt.Sprintf(
			"CREATE VIRTUAL TABLE IF NOT EXISTS chunk_embeddings USING vec0(chunk_id TEXT PRIMARY KEY, embedding FLOAT[%d])",
			embeddingDim)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return s.schemaError(err, "create-vector-table")
		}
		if err := s.SetMeta(ctx, "embedding_dim", fmt.Sprintf("%d", embeddingDim)); err != nil {
			return err
		}
	}

	return s.SetMeta(ctx, "schema_version", fmt.Sprintf("%d", SchemaVersion))
}

func (s *Store) schemaError(err error, operation string) error {
	return errors.New(err).
		Component("unistore").
		DatabaseContext("sqlite", operation).
		Context("path", s.path).
		Build()
}

// HasEmbeddings reports whether the vec0 table exists.
func (s *Store) HasEmbeddings(ctx context.Context) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'chunk_embeddings'")
	if err != nil {
		return false, s.schemaError(err, "check-vector-table")
	}
	return count > 0, nil
}

// SetMeta upserts one migration_meta key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO migration_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return s.schemaError(err, "set-meta")
	}
	return nil
}

// GetMeta reads one migration_meta key, empty string when absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM migration_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", s.schemaError(err, "get-meta")
	}
	return value, nil
}

// Counts returns row counts per unified table, including the embedding
// table when present.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	tables := []string{"conversations", "messages", "documents", "chunks"}

	hasVec, err := s.HasEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	if hasVec {
		tables = append(tables, "chunk_embeddings")
	}

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var count int64
		if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, errors.New(err).
				Component("unistore").
				DatabaseContext("sqlite", "count-rows").
				Context("path", s.path).
				Context("table", table).
				Build()
		}
		counts[table] = count
	}
	return counts, nil
}
