package recovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-migrate/internal/backup"
	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
	"github.com/inkwellhq/inkwell-migrate/internal/testutil"
)

func testBackupManager(t *testing.T) *backup.Manager {
	t.Helper()
	bm, err := backup.NewManager(
		filepath.Join(t.TempDir(), "migration_backups"),
		conf.BackupSettings{Verify: true, RetentionDays: 30, KeepMinimum: 2, Parallel: 2},
		nil)
	require.NoError(t, err)
	return bm
}

func testManager(t *testing.T, bm *backup.Manager, dbFiles, cfgFiles []string) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		RecoveryDir:   filepath.Join(t.TempDir(), "recovery_points"),
		DatabaseFiles: dbFiles,
		ConfigFiles:   cfgFiles,
	}, bm, nil)
	require.NoError(t, err)
	return m
}

func TestCaptureState(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	convPath := filepath.Join(dataDir, "conversations.db")
	kbPath := filepath.Join(dataDir, "knowledge.duckdb")
	cfgPath := filepath.Join(dataDir, "config.yaml")
	targetPath := filepath.Join(dataDir, "inkwell.db")
	testutil.WriteConversationsDB(t, convPath, 1, 2)
	testutil.WriteKnowledgeDB(t, kbPath, 1, 2, 4)
	require.NoError(t, os.WriteFile(cfgPath, []byte("debug: false\n"), 0o600))

	m := testManager(t, testBackupManager(t),
		[]string{convPath, kbPath, targetPath},
		[]string{cfgPath})

	state := m.CaptureState(context.Background())
	require.Len(t, state.DatabaseFiles, 3)
	require.Len(t, state.ConfigFiles, 1)
	assert.True(t, state.IsConsistent)
	assert.Empty(t, state.ValidationErrors)

	byPath := make(map[string]TrackedFile)
	for _, tf := range state.DatabaseFiles {
		byPath[tf.Path] = tf
	}
	assert.True(t, byPath[convPath].Exists)
	assert.True(t, byPath[convPath].Openable)
	assert.Positive(t, byPath[convPath].SizeBytes)

	// The target does not exist before migration, that is not a problem.
	assert.False(t, byPath[targetPath].Exists)
	assert.False(t, byPath[targetPath].Openable)

	assert.True(t, state.ConfigFiles[0].Openable)
}

func TestCaptureStateFlagsUnrecognizedDatabase(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	bogus := filepath.Join(dataDir, "notes.db")
	require.NoError(t, os.WriteFile(bogus, []byte("just some text"), 0o600))

	m := testManager(t, testBackupManager(t), []string{bogus}, nil)
	state := m.CaptureState(context.Background())

	assert.False(t, state.IsConsistent)
	require.Len(t, state.ValidationErrors, 1)
	assert.Contains(t, state.ValidationErrors[0], "not a recognized database file")
	assert.True(t, state.DatabaseFiles[0].Openable)
}

func TestCreateAndGetRecoveryPoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dataDir := t.TempDir()
	convPath := filepath.Join(dataDir, "conversations.db")
	testutil.WriteConversationsDB(t, convPath, 1, 2)

	bm := testBackupManager(t)
	m := testManager(t, bm, []string{convPath}, nil)

	stat, err := os.Stat(convPath)
	require.NoError(t, err)
	records, err := bm.CreateBackups(ctx, []legacydb.Info{
		{Kind: legacydb.KindSQLite, Path: convPath, SizeBytes: stat.Size()},
	}, bm.DefaultOptions())
	require.NoError(t, err)

	state := m.CaptureState(ctx)
	id, err := m.CreateRecoveryPoint(ctx, "before data phase", state, records)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "rp_"), "got %q", id)
	parts := strings.Split(id, "_")
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 8)

	point, err := m.GetRecoveryPoint(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, point.ID)
	assert.Equal(t, "before data phase", point.Label)
	assert.True(t, point.State.IsConsistent)
	require.Len(t, point.Backups, 1)
	assert.Equal(t, records[0].Checksum, point.Backups[0].Checksum)
}

func TestListRecoveryPoints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := testManager(t, testBackupManager(t), nil, nil)
	state := m.CaptureState(ctx)

	first, err := m.CreateRecoveryPoint(ctx, "first", state, nil)
	require.NoError(t, err)
	second, err := m.CreateRecoveryPoint(ctx, "second", state, nil)
	require.NoError(t, err)

	// A broken point file must not break listing.
	require.NoError(t, os.WriteFile(
		filepath.Join(m.cfg.RecoveryDir, "rp_broken.json"), []byte("{oops"), 0o600))

	points, err := m.ListRecoveryPoints(ctx)
	require.NoError(t, err)
	require.Len(t, points, 2)

	ids := []string{points[0].ID, points[1].ID}
	assert.Contains(t, ids, first)
	assert.Contains(t, ids, second)
	assert.False(t, points[0].Timestamp.Before(points[1].Timestamp))
}

func TestGetRecoveryPointErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := testManager(t, testBackupManager(t), nil, nil)

	_, err := m.GetRecoveryPoint(ctx, "rp_20250101-000000_deadbeef")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = m.GetRecoveryPoint(ctx, "../escape")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
