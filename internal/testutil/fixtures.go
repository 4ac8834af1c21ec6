// Package testutil provides shared test fixtures for inkwell-migrate.
// The legacy store builders create real SQLite and DuckDB files matching
// what Inkwell desktop installs leave behind.
package testutil

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"testing"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const conversationsSchema = `
CREATE TABLE conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL DEFAULT '',
    model TEXT,
    pinned INTEGER DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT ''
);
`

// WriteConversationsDB creates a legacy conversation store at path with
// the given number of conversations and messages. Messages are spread
// round-robin over the conversations. Schema version is 2.
func WriteConversationsDB(t *testing.T, path string, conversations, messages int) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	defer func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())
	}()

	require.NoError(t, db.Exec(conversationsSchema).Error)
	require.NoError(t, db.Exec("PRAGMA user_version = 2").Error)

	for i := 1; i <= conversations; i++ {
		require.NoError(t, db.Exec(
			"INSERT INTO conversations (title, model, created_at, updated_at) VALUES (?, ?, ?, ?)",
			fmt.Sprintf("Conversation %d", i),
			"local-7b",
			fmt.Sprintf("2025-01-%02dT10:00:00Z", (i%27)+1),
			fmt.Sprintf("2025-01-%02dT12:00:00Z", (i%27)+1),
		).Error)
	}

	for i := 1; i <= messages; i++ {
		role := "user"
		if i%2 == 0 {
			role = "assistant"
		}
		convID := 0
		if conversations > 0 {
			convID = (i-1)%conversations + 1
		}
		require.NoError(t, db.Exec(
			"INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)",
			convID,
			role,
			fmt.Sprintf("Message body %d", i),
			fmt.Sprintf("2025-01-05T10:%02d:00Z", i%60),
		).Error)
	}
}

const knowledgeSchema = `
CREATE TABLE documents (
    id VARCHAR PRIMARY KEY,
    title VARCHAR,
    source_path VARCHAR,
    created_at VARCHAR
);
CREATE TABLE chunks (
    id VARCHAR PRIMARY KEY,
    document_id VARCHAR,
    seq INTEGER,
    content VARCHAR,
    embedding BLOB
);
CREATE TABLE kb_meta (
    key VARCHAR PRIMARY KEY,
    value VARCHAR
);
`

// WriteKnowledgeDB creates a legacy knowledge store at path with the given
// number of documents, chunks per document, and embedding dimension.
// Schema version is 2.
func WriteKnowledgeDB(t *testing.T, path string, documents, chunksPerDoc, dim int) {
	t.Helper()

	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, db.Close())
	}()

	_, err = db.Exec(knowledgeSchema)
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO kb_meta VALUES ('schema_version', '2'), ('embedding_dim', ?)",
		fmt.Sprintf("%d", dim))
	require.NoError(t, err)

	for d := 1; d <= documents; d++ {
		docID := fmt.Sprintf("doc-%03d", d)
		_, err = db.Exec(
			"INSERT INTO documents VALUES (?, ?, ?, ?)",
			docID,
			fmt.Sprintf("Document %d", d),
			fmt.Sprintf("/notes/source-%d.md", d),
			fmt.Sprintf("2025-02-%02dT09:00:00Z", (d%27)+1),
		)
		require.NoError(t, err)

		for c := 1; c <= chunksPerDoc; c++ {
			_, err = db.Exec(
				"INSERT INTO chunks VALUES (?, ?, ?, ?, ?)",
				fmt.Sprintf("chunk-%03d-%03d", d, c),
				docID,
				c,
				fmt.Sprintf("Chunk %d of document %d", c, d),
				EmbeddingBlob(dim, float32(d*100+c)),
			)
			require.NoError(t, err)
		}
	}
}

// EmbeddingBlob encodes a deterministic little-endian float32 vector of
// the given dimension.
func EmbeddingBlob(dim int, seed float32) []byte {
	buf := make([]byte, dim*4)
	for i := 0; i < dim; i++ {
		v := seed + float32(i)*0.25
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding decodes a little-endian float32 vector.
func DecodeEmbedding(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

// WriteCorruptSQLite writes a file that carries the SQLite magic bytes but
// no valid page structure.
func WriteCorruptSQLite(t *testing.T, path string) {
	t.Helper()

	content := append([]byte("SQLite format 3\x00"), []byte("garbage garbage garbage garbage")...)
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

// WriteCorruptColumnar writes a file that carries the DuckDB magic bytes
// but no valid block structure.
func WriteCorruptColumnar(t *testing.T, path string) {
	t.Helper()

	content := make([]byte, 64)
	copy(content[8:], "DUCK")
	copy(content[16:], "broken")
	require.NoError(t, os.WriteFile(path, content, 0o644))
}
