package legacydb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-migrate/internal/diskutil"
	"github.com/inkwellhq/inkwell-migrate/internal/testutil"
)

// fixtureTree builds a data dir holding both legacy stores plus noise.
func fixtureTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	testutil.WriteConversationsDB(t, filepath.Join(dir, "conversations.db"), 2, 10)
	testutil.WriteKnowledgeDB(t, filepath.Join(dir, "knowledge.db"), 3, 17, 4)

	// Noise the detector must ignore.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake.db"), []byte("not a database, long enough"), 0o644))

	// Migration-owned directories holding database copies must be skipped.
	backupDir := filepath.Join(dir, "migration_backups")
	require.NoError(t, os.MkdirAll(backupDir, 0o755))
	testutil.WriteCorruptSQLite(t, filepath.Join(backupDir, "conversations_old.db"))

	return dir
}

func TestDetectFindsBothStores(t *testing.T) {
	t.Parallel()

	dir := fixtureTree(t)
	d := NewDetector([]string{dir}, nil)

	result, err := d.Detect(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Databases, 2)
	assert.True(t, result.RequiresMigration)
	assert.Positive(t, result.TotalSizeBytes)

	byKind := map[Kind]Info{}
	for _, db := range result.Databases {
		byKind[db.Kind] = db
	}

	conv := byKind[KindSQLite]
	assert.Equal(t, 2, conv.SchemaVersion)
	assert.Equal(t, int64(12), conv.RecordCount)
	assert.True(t, conv.IsValid)

	kb := byKind[KindColumnar]
	assert.Equal(t, 2, kb.SchemaVersion)
	assert.Equal(t, int64(54), kb.RecordCount)
	assert.True(t, kb.IsValid)
	assert.Equal(t, 4, kb.Metadata["embedding_dim"])
}

func TestDetectEmptyTree(t *testing.T) {
	t.Parallel()

	d := NewDetector([]string{t.TempDir(), filepath.Join(t.TempDir(), "missing")}, nil)
	result, err := d.Detect(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Databases)
	assert.False(t, result.RequiresMigration)
	assert.Zero(t, result.TotalSizeBytes)
}

func TestDetectIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := fixtureTree(t)
	d := NewDetector([]string{dir}, nil)

	first, err := d.Detect(context.Background())
	require.NoError(t, err)
	second, err := d.Detect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDetectKeepsCorruptDatabases(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteCorruptSQLite(t, filepath.Join(dir, "conversations.db"))

	d := NewDetector([]string{dir}, nil)
	result, err := d.Detect(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Databases, 1)
	db := result.Databases[0]
	assert.Equal(t, KindSQLite, db.Kind)
	assert.False(t, db.IsValid)
	assert.Zero(t, db.RecordCount)
	assert.Zero(t, db.SchemaVersion)
}

func TestDetectExcludesTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteConversationsDB(t, filepath.Join(dir, "conversations.db"), 1, 1)
	target := filepath.Join(dir, "inkwell.db")
	testutil.WriteConversationsDB(t, target, 1, 1)

	d := NewDetector([]string{dir}, nil, WithExcludedPaths(target))
	result, err := d.Detect(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Databases, 1)
	assert.Equal(t, filepath.Join(dir, "conversations.db"), result.Databases[0].Path)
}

func TestDetectRespectsCancellation(t *testing.T) {
	t.Parallel()

	dir := fixtureTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDetector([]string{dir}, nil)
	_, err := d.Detect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckCompatibility(t *testing.T) {
	t.Parallel()
	d := NewDetector(nil, nil)

	dbs := []Info{
		{Kind: KindSQLite, Path: "/data/conversations.db", SchemaVersion: 2, RecordCount: 12, SizeBytes: 4096, IsValid: true},
		{Kind: KindColumnar, Path: "/data/knowledge.db", SchemaVersion: 9, RecordCount: 0, SizeBytes: 2 << 30, IsValid: true},
		{Kind: KindSQLite, Path: "/data/broken.db", IsValid: false},
	}

	comp := d.CheckCompatibility(dbs)
	assert.False(t, comp.Compatible)
	require.Len(t, comp.Issues, 1)
	assert.Contains(t, comp.Issues[0], "broken.db")

	// Unknown schema version, oversized, and empty all warn for knowledge.db.
	assert.Len(t, comp.Warnings, 3)

	comp = d.CheckCompatibility(dbs[:1])
	assert.True(t, comp.Compatible)
	assert.Empty(t, comp.Issues)
	assert.Empty(t, comp.Warnings)
}

func TestRequirementsFixtureScenario(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteConversationsDB(t, filepath.Join(dir, "conversations.db"), 2, 10)
	testutil.WriteKnowledgeDB(t, filepath.Join(dir, "knowledge.db"), 3, 17, 4)

	d := NewDetector([]string{dir}, nil, WithSpaceProber(func(path string) (*diskutil.SpaceInfo, error) {
		return &diskutil.SpaceInfo{Path: path, TotalBytes: 1 << 40, FreeBytes: 1 << 39}, nil
	}))

	result, err := d.Detect(context.Background())
	require.NoError(t, err)

	req, err := d.Requirements(context.Background(), result, filepath.Join(dir, "inkwell.db"))
	require.NoError(t, err)

	assert.True(t, req.Required)
	assert.Equal(t, 2, req.DatabaseCount)
	assert.Equal(t, result.TotalSizeBytes, req.TotalSizeBytes)
	assert.GreaterOrEqual(t, float64(req.EstimatedRequiredBytes), 2.5*float64(req.TotalSizeBytes))
	assert.True(t, req.Sufficient)
}

func TestRequirementsInsufficientSpace(t *testing.T) {
	t.Parallel()

	d := NewDetector(nil, nil, WithSpaceProber(func(path string) (*diskutil.SpaceInfo, error) {
		return &diskutil.SpaceInfo{Path: path, FreeBytes: 10}, nil
	}))

	result := &Result{TotalSizeBytes: 1 << 20, RequiresMigration: true,
		Databases: []Info{{Kind: KindSQLite, Path: "/x.db", SizeBytes: 1 << 20}}}

	req, err := d.Requirements(context.Background(), result, "/target/inkwell.db")
	require.NoError(t, err)
	assert.False(t, req.Sufficient)
	assert.Equal(t, int64(1<<20)*5/2, req.EstimatedRequiredBytes)
}
