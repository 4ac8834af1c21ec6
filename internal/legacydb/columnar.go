package legacydb

import (
	"context"
	"database/sql"
	"strconv"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

// Document is a row from the legacy knowledge store.
type Document struct {
	ID         string
	Title      string
	SourcePath string
	CreatedAt  string
}

// Chunk is a row from the legacy knowledge store. Seq orders chunks within
// a document; Embedding holds the raw little-endian float32 vector exactly
// as stored.
type Chunk struct {
	ID         string
	DocumentID string
	Seq        int
	Content    string
	Embedding  []byte
}

// DefaultEmbeddingDim applies when the knowledge store predates the
// embedding_dim metadata key.
const DefaultEmbeddingDim = 384

// columnarTables are the known tables of the knowledge store.
var columnarTables = []string{"documents", "chunks"}

// ColumnarReader reads a legacy knowledge store. All access is read-only.
type ColumnarReader struct {
	db   *sql.DB
	path string
}

// OpenColumnar opens a knowledge store read-only.
func OpenColumnar(path string) (*ColumnarReader, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, openColumnarError(err, path)
	}
	// database/sql defers the real open, ping to surface it here.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, openColumnarError(err, path)
	}
	return &ColumnarReader{db: db, path: path}, nil
}

func openColumnarError(err error, path string) error {
	return errors.New(err).
		Component("legacydb").
		Category(errors.CategoryConnection).
		DatabaseContext("duckdb", "open-read-only").
		Context("path", path).
		Build()
}

// Close releases the underlying connection.
func (r *ColumnarReader) Close() error {
	return r.db.Close()
}

// SchemaVersion reads the schema_version key from kb_meta. Stores without
// a kb_meta table report version 0.
func (r *ColumnarReader) SchemaVersion(ctx context.Context) (int, error) {
	return r.metaInt(ctx, "schema_version", 0)
}

// EmbeddingDim reads the embedding_dim key from kb_meta, falling back to
// DefaultEmbeddingDim for stores that never recorded it.
func (r *ColumnarReader) EmbeddingDim(ctx context.Context) (int, error) {
	return r.metaInt(ctx, "embedding_dim", DefaultEmbeddingDim)
}

func (r *ColumnarReader) metaInt(ctx context.Context, key string, fallback int) (int, error) {
	exists, err := r.tableExists(ctx, "kb_meta")
	if err != nil {
		return 0, err
	}
	if !exists {
		return fallback, nil
	}

	var value string
	err = r.db.QueryRowContext(ctx, "SELECT value FROM kb_meta WHERE key = ?", key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fallback, nil
	case err != nil:
		return 0, errors.New(err).
			Component("legacydb").
			DatabaseContext("duckdb", "read-meta").
			Context("path", r.path).
			Context("key", key).
			Build()
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Newf("knowledge store meta key %s holds non-numeric value %q", key, value).
			Component("legacydb").
			Category(errors.CategorySchemaMismatch).
			Context("path", r.path).
			Build()
	}
	return n, nil
}

// TableCounts returns row counts for the known tables that exist.
func (r *ColumnarReader) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(columnarTables))
	for _, table := range columnarTables {
		exists, err := r.tableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}

		var count int64
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, errors.New(err).
				Component("legacydb").
				DatabaseContext("duckdb", "count-rows").
				Context("path", r.path).
				Context("table", table).
				Build()
		}
		counts[table] = count
	}
	return counts, nil
}

func (r *ColumnarReader) tableExists(ctx context.Context, table string) (bool, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?", table).
		Scan(&count)
	if err != nil {
		return false, errors.New(err).
			Component("legacydb").
			DatabaseContext("duckdb", "check-table").
			Context("path", r.path).
			Context("table", table).
			Build()
	}
	return count > 0, nil
}

// Documents streams all documents ordered by id, invoking fn once per
// batch. The batch slice is reused between calls and must not be retained.
func (r *ColumnarReader) Documents(ctx context.Context, batchSize int, fn func([]Document) error) error {
	if batchSize < 1 {
		batchSize = 1
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, COALESCE(title, ''), COALESCE(source_path, ''), COALESCE(created_at, '') FROM documents ORDER BY id")
	if err != nil {
		return r.readError(err, "documents")
	}
	defer rows.Close()

	batch := make([]Document, 0, batchSize)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.SourcePath, &d.CreatedAt); err != nil {
			return r.readError(err, "documents")
		}

		batch = append(batch, d)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return r.readError(err, "documents")
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Chunks streams all chunks ordered by id, invoking fn once per batch.
// The batch slice is reused between calls and must not be retained.
func (r *ColumnarReader) Chunks(ctx context.Context, batchSize int, fn func([]Chunk) error) error {
	if batchSize < 1 {
		batchSize = 1
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, COALESCE(document_id, ''), COALESCE(seq, 0), COALESCE(content, ''), embedding FROM chunks ORDER BY id")
	if err != nil {
		return r.readError(err, "chunks")
	}
	defer rows.Close()

	batch := make([]Chunk, 0, batchSize)
	for rows.Next() {
		var c Chunk
		var embedding []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Content, &embedding); err != nil {
			return r.readError(err, "chunks")
		}
		// Scan reuses its buffer between rows, the batch outlives it.
		c.Embedding = append([]byte(nil), embedding...)

		batch = append(batch, c)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return r.readError(err, "chunks")
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func (r *ColumnarReader) readError(err error, table string) error {
	return errors.New(err).
		Component("legacydb").
		DatabaseContext("duckdb", "read-rows").
		Context("path", r.path).
		Context("table", table).
		Build()
}
