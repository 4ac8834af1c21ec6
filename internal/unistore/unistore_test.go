package unistore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
	"github.com/inkwellhq/inkwell-migrate/internal/testutil"
)

func openStore(t *testing.T, dim int) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "inkwell.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	require.NoError(t, s.EnsureSchema(context.Background(), dim))
	return s
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openStore(t, 4)
	require.NoError(t, s.EnsureSchema(ctx, 4))

	hasVec, err := s.HasEmbeddings(ctx)
	require.NoError(t, err)
	assert.True(t, hasVec)

	version, err := s.GetMeta(ctx, "schema_version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)

	dim, err := s.GetMeta(ctx, "embedding_dim")
	require.NoError(t, err)
	assert.Equal(t, "4", dim)
}

func TestEnsureSchemaWithoutEmbeddings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openStore(t, 0)
	hasVec, err := s.HasEmbeddings(ctx)
	require.NoError(t, err)
	assert.False(t, hasVec)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.NotContains(t, counts, "chunk_embeddings")
}

func TestImportConversationsAndMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t, 0)

	convs := []legacydb.Conversation{
		{ID: 1, Title: "First", Model: "local-7b", Pinned: true, CreatedAt: "2025-01-01T10:00:00Z", UpdatedAt: "2025-01-01T11:00:00Z"},
		{ID: 2, Title: "Second"},
	}
	require.NoError(t, s.ImportConversations(ctx, convs))

	msgs := []legacydb.Message{
		{ID: 1, ConversationID: 1, Role: "user", Content: "hi", CreatedAt: "2025-01-01T10:00:01Z"},
		{ID: 2, ConversationID: 1, Role: "assistant", Content: "hello"},
		{ID: 3, ConversationID: 2, Role: "user", Content: "hey"},
	}
	require.NoError(t, s.ImportMessages(ctx, msgs))

	// Re-importing the same batch must not duplicate rows.
	require.NoError(t, s.ImportConversations(ctx, convs))
	require.NoError(t, s.ImportMessages(ctx, msgs))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["conversations"])
	assert.Equal(t, int64(3), counts["messages"])

	var pinned int
	require.NoError(t, s.DB().GetContext(ctx, &pinned, "SELECT pinned FROM conversations WHERE id = 1"))
	assert.Equal(t, 1, pinned)
}

func TestImportChunksWithEmbeddings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t, 4)

	require.NoError(t, s.ImportDocuments(ctx, []legacydb.Document{
		{ID: "doc-001", Title: "Doc", SourcePath: "/notes/a.md", CreatedAt: "2025-02-01T09:00:00Z"},
	}))

	chunks := []legacydb.Chunk{
		{ID: "chunk-001", DocumentID: "doc-001", Seq: 1, Content: "first", Embedding: testutil.EmbeddingBlob(4, 1)},
		{ID: "chunk-002", DocumentID: "doc-001", Seq: 2, Content: "second", Embedding: testutil.EmbeddingBlob(4, 2)},
		// Wrong dimension, must be skipped but the chunk row kept.
		{ID: "chunk-003", DocumentID: "doc-001", Seq: 3, Content: "third", Embedding: testutil.EmbeddingBlob(3, 3)},
		// No embedding at all is fine.
		{ID: "chunk-004", DocumentID: "doc-001", Seq: 4, Content: "fourth"},
	}

	skipped, err := s.ImportChunks(ctx, chunks, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["documents"])
	assert.Equal(t, int64(4), counts["chunks"])
	assert.Equal(t, int64(2), counts["chunk_embeddings"])

	// Re-import keeps embedding rows unique.
	skipped, err = s.ImportChunks(ctx, chunks, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	counts, err = s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["chunk_embeddings"])
}

func TestMetaRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t, 0)

	missing, err := s.GetMeta(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, s.SetMeta(ctx, "migrated_at", "2025-03-01T00:00:00Z"))
	require.NoError(t, s.SetMeta(ctx, "migrated_at", "2025-03-02T00:00:00Z"))

	got, err := s.GetMeta(ctx, "migrated_at")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-02T00:00:00Z", got)
}
