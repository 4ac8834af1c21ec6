package unistore

import (
	"context"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
)

// Importers write legacy rows into the unified store. Each call runs in
// one transaction so a failed batch leaves no partial rows; INSERT OR
// REPLACE keeps re-runs of an interrupted data phase idempotent.

// ImportConversations writes one batch of conversations.
func (s *Store) ImportConversations(ctx context.Context, batch []legacydb.Conversation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.importError(err, "conversations")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PreparexContext(ctx,
		"INSERT OR REPLACE INTO conversations (id, title, model, pinned, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return s.importError(err, "conversations")
	}
	defer stmt.Close()

	for i := range batch {
		c := &batch[i]
		pinned := 0
		if c.Pinned {
			pinned = 1
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Title, c.Model, pinned, c.CreatedAt, c.UpdatedAt); err != nil {
			return s.importError(err, "conversations")
		}
	}
	if err := tx.Commit(); err != nil {
		return s.importError(err, "conversations")
	}
	return nil
}

// ImportMessages writes one batch of messages.
func (s *Store) ImportMessages(ctx context.Context, batch []legacydb.Message) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.importError(err, "messages")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PreparexContext(ctx,
		"INSERT OR REPLACE INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return s.importError(err, "messages")
	}
	defer stmt.Close()

	for i := range batch {
		m := &batch[i]
		if _, err := stmt.ExecContext(ctx, m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt); err != nil {
			return s.importError(err, "messages")
		}
	}
	if err := tx.Commit(); err != nil {
		return s.importError(err, "messages")
	}
	return nil
}

// ImportDocuments writes one batch of documents.
func (s *Store) ImportDocuments(ctx context.Context, batch []legacydb.Document) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.importError(err, "documents")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PreparexContext(ctx,
		"INSERT OR REPLACE INTO documents (id, title, source_path, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return s.importError(err, "documents")
	}
	defer stmt.Close()

	for i := range batch {
		d := &batch[i]
		if _, err := stmt.ExecContext(ctx, d.ID, d.Title, d.SourcePath, d.CreatedAt); err != nil {
			return s.importError(err, "documents")
		}
	}
	if err := tx.Commit(); err != nil {
		return s.importError(err, "documents")
	}
	return nil
}

// ImportChunks writes one batch of chunks and their embeddings. The
// embedding table uses delete-then-insert because virtual tables have no
// conflict clause. Embeddings whose byte length does not match the table
// dimension are skipped and counted, never imported truncated.
func (s *Store) ImportChunks(ctx context.Context, batch []legacydb.Chunk, embeddingDim int) (skipped int, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, s.importError(err, "chunks")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	chunkStmt, err := tx.PreparexContext(ctx,
		"INSERT OR REPLACE INTO chunks (id, document_id, seq, content) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, s.importError(err, "chunks")
	}
	defer chunkStmt.Close()

	wantLen := embeddingDim * 4

	for i := range batch {
		c := &batch[i]
		if _, err := chunkStmt.ExecContext(ctx, c.ID, c.DocumentID, c.Seq, c.Content); err != nil {
			return 0, s.importError(err, "chunks")
		}

		if embeddingDim <= 0 || len(c.Embedding) == 0 {
			continue
		}
		if len(c.Embedding) != wantLen {
			skipped++
			continue
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM chunk_embeddings WHERE chunk_id = ?", c.ID); err != nil {
			return 0, s.importError(err, "chunk_embeddings")
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chunk_embeddings (chunk_id, embedding) VALUES (?, ?)",
			c.ID, c.Embedding); err != nil {
			return 0, s.importError(err, "chunk_embeddings")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, s.importError(err, "chunks")
	}
	return skipped, nil
}

func (s *Store) importError(err error, table string) error {
	return errors.New(err).
		Component("unistore").
		DatabaseContext("sqlite", "import-rows").
		Context("path", s.path).
		Context("table", table).
		Build()
}
