package validate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
	"github.com/inkwellhq/inkwell-migrate/internal/testutil"
	"github.com/inkwellhq/inkwell-migrate/internal/unistore"
)

func testSettings() conf.ValidationSettings {
	return conf.ValidationSettings{
		RowCountStrict:   true,
		SampleSize:       100,
		QueryTimeLimitMS: 500,
	}
}

// openStore creates a fresh unified database with the embedding table sized
// for 4-dimensional vectors.
func openStore(t *testing.T) *unistore.Store {
	t.Helper()
	store, err := unistore.Open(filepath.Join(t.TempDir(), "inkwell.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(context.Background(), 4))
	return store
}

// seedStore loads 2 conversations, 3 messages, 1 document and 2 embedded
// chunks.
func seedStore(t *testing.T, store *unistore.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.ImportConversations(ctx, []legacydb.Conversation{
		{ID: 1, Title: "Trip notes", Model: "local-7b", CreatedAt: "2025-01-01T10:00:00Z", UpdatedAt: "2025-01-01T11:00:00Z"},
		{ID: 2, Title: "Recipes", Model: "local-7b", Pinned: true, CreatedAt: "2025-01-02T10:00:00Z", UpdatedAt: "2025-01-02T11:00:00Z"},
	}))
	require.NoError(t, store.ImportMessages(ctx, []legacydb.Message{
		{ID: 1, ConversationID: 1, Role: "user", Content: "hello", CreatedAt: "2025-01-01T10:00:00Z"},
		{ID: 2, ConversationID: 1, Role: "assistant", Content: "hi there", CreatedAt: "2025-01-01T10:00:05Z"},
		{ID: 3, ConversationID: 2, Role: "user", Content: "pasta?", CreatedAt: "2025-01-02T10:00:00Z"},
	}))
	require.NoError(t, store.ImportDocuments(ctx, []legacydb.Document{
		{ID: "d-1", Title: "Manual", SourcePath: "/docs/manual.pdf", CreatedAt: "2025-01-03T10:00:00Z"},
	}))
	_, err := store.ImportChunks(ctx, []legacydb.Chunk{
		{ID: "c-1", DocumentID: "d-1", Seq: 0, Content: "first part", Embedding: testutil.EmbeddingBlob(4, 1)},
		{ID: "c-2", DocumentID: "d-1", Seq: 1, Content: "second part", Embedding: testutil.EmbeddingBlob(4, 2)},
	}, 4)
	require.NoError(t, err)
}

func findResult(results []RuleResult, name string) *RuleResult {
	for i := range results {
		if results[i].Rule == name {
			return &results[i]
		}
	}
	return nil
}

func TestValidateHealthyStore(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seedStore(t, store)
	v := New(store.DB(), testSettings(), nil)

	report := v.Validate(context.Background())
	assert.True(t, report.IsValid)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
	assert.NotEmpty(t, report.Info)
	assert.Contains(t, report.Summary, "0 errors")

	for _, name := range []string{"required-tables", "schema-version", "quick-check", "orphaned-messages"} {
		res := findResult(report.Info, name)
		require.NotNil(t, res, "expected a passed result for %s", name)
		assert.True(t, res.Passed)
	}
}

func TestValidateRowCountMismatch(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seedStore(t, store)

	t.Run("strict", func(t *testing.T) {
		t.Parallel()
		v := New(store.DB(), testSettings(), nil)
		v.SetExpectedCounts(map[string]int64{"conversations": 99, "messages": 3})

		report := v.Validate(context.Background())
		assert.False(t, report.IsValid)
		res := findResult(report.Errors, "row-counts")
		require.NotNil(t, res)
		assert.Contains(t, res.Message, "conversations has 2 rows, expected 99")
	})

	t.Run("lenient", func(t *testing.T) {
		t.Parallel()
		cfg := testSettings()
		cfg.RowCountStrict = false
		v := New(store.DB(), cfg, nil)
		v.SetExpectedCounts(map[string]int64{"conversations": 99})

		report := v.Validate(context.Background())
		assert.True(t, report.IsValid)
		res := findResult(report.Warnings, "row-counts")
		require.NotNil(t, res)
		assert.Equal(t, SeverityWarning, res.Severity)
	})
}

func TestValidateMatchingRowCounts(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seedStore(t, store)
	v := New(store.DB(), testSettings(), nil)
	v.SetExpectedCounts(map[string]int64{
		"conversations": 2,
		"messages":      3,
		"documents":     1,
		"chunks":        2,
	})

	report := v.Validate(context.Background())
	assert.True(t, report.IsValid)
	res := findResult(report.Info, "row-counts")
	require.NotNil(t, res)
	assert.True(t, res.Passed)
}

func TestValidateDetectsOrphanedMessages(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seedStore(t, store)
	_, err := store.DB().Exec("DELETE FROM conversations WHERE id = 1")
	require.NoError(t, err)

	v := New(store.DB(), testSettings(), nil)
	report := v.Validate(context.Background())

	assert.False(t, report.IsValid)
	res := findResult(report.Errors, "orphaned-messages")
	require.NotNil(t, res)
	assert.Contains(t, res.Message, "2 messages rows")
}

func TestValidateCategoryFilter(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seedStore(t, store)
	v := New(store.DB(), testSettings(), nil)

	report := v.Validate(context.Background(), CategoryStructure)
	assert.True(t, report.IsValid)
	require.NotEmpty(t, report.Info)
	for _, res := range report.Info {
		assert.Equal(t, CategoryStructure, res.Category)
	}
}

func TestValidateSkipByConfig(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seedStore(t, store)
	cfg := testSettings()
	cfg.Skip = []string{"quick-check"}
	v := New(store.DB(), cfg, nil)

	report := v.Validate(context.Background())
	assert.Nil(t, findResult(report.Info, "quick-check"))
	assert.Nil(t, findResult(report.Errors, "quick-check"))
}

func TestValidateRulePanicBecomesError(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seedStore(t, store)
	v := New(store.DB(), testSettings(), nil)
	v.Register(Rule{
		Name:     "explosive",
		Category: CategoryData,
		Severity: SeverityError,
		Fn: func(ctx context.Context, db *sqlx.DB) RuleResult {
			panic("kaboom")
		},
	})

	report := v.Validate(context.Background())
	assert.False(t, report.IsValid)
	res := findResult(report.Errors, "explosive")
	require.NotNil(t, res)
	assert.Contains(t, res.Message, "rule crashed")
	assert.Contains(t, res.Message, "kaboom")

	// The crash did not keep the other rules from running.
	assert.NotEmpty(t, report.Info)
}

func TestValidateCustomRule(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seedStore(t, store)
	v := New(store.DB(), testSettings(), nil)
	v.Register(Rule{
		Name:     "pinned-preserved",
		Category: CategoryData,
		Severity: SeverityWarning,
		Fn: func(ctx context.Context, db *sqlx.DB) RuleResult {
			n, err := countRows(ctx, db, "SELECT COUNT(*) FROM conversations WHERE pinned = 1")
			if err != nil {
				return queryFailed(err)
			}
			if n == 0 {
				return fail(SeverityWarning, "no pinned conversations survived")
			}
			return pass("%d pinned conversations", n)
		},
	})

	report := v.Validate(context.Background())
	assert.True(t, report.IsValid)
	res := findResult(report.Info, "pinned-preserved")
	require.NotNil(t, res)
	assert.Equal(t, "1 pinned conversations", res.Message)
}

func TestValidateEmptyMessageContentWarns(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seedStore(t, store)
	require.NoError(t, store.ImportMessages(context.Background(), []legacydb.Message{
		{ID: 4, ConversationID: 2, Role: "assistant", Content: "", CreatedAt: "2025-01-02T10:01:00Z"},
	}))

	v := New(store.DB(), testSettings(), nil)
	report := v.Validate(context.Background())

	assert.True(t, report.IsValid, "a warning must not invalidate the report")
	res := findResult(report.Warnings, "empty-messages")
	require.NotNil(t, res)
	assert.Contains(t, res.Message, "1 messages have empty content")
}
