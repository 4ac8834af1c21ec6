package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-migrate/internal/backup"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
	"github.com/inkwellhq/inkwell-migrate/internal/testutil"
)

// writeSources creates n legacy conversation stores and returns their paths
// and original contents.
func writeSources(t *testing.T, dir string, n int) ([]string, [][]byte) {
	t.Helper()
	paths := make([]string, n)
	contents := make([][]byte, n)
	for i := range n {
		paths[i] = filepath.Join(dir, "conversations"+string(rune('a'+i))+".db")
		testutil.WriteConversationsDB(t, paths[i], 1+i, 2)
		data, err := os.ReadFile(paths[i])
		require.NoError(t, err)
		contents[i] = data
	}
	return paths, contents
}

func backUpAll(t *testing.T, bm *backup.Manager, paths []string) []backup.Record {
	t.Helper()
	infos := make([]legacydb.Info, len(paths))
	for i, p := range paths {
		stat, err := os.Stat(p)
		require.NoError(t, err)
		infos[i] = legacydb.Info{Kind: legacydb.KindSQLite, Path: p, SizeBytes: stat.Size()}
	}
	records, err := bm.CreateBackups(context.Background(), infos, bm.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, records, len(paths))
	return records
}

func junkFiles(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, os.WriteFile(p, []byte("mid-migration junk"), 0o600))
	}
}

func TestExecuteRollbackRestoresAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dataDir := t.TempDir()
	paths, contents := writeSources(t, dataDir, 2)
	bm := testBackupManager(t)
	records := backUpAll(t, bm, paths)
	m := testManager(t, bm, paths, nil)

	junkFiles(t, paths...)

	res := m.ExecuteRollback(ctx, records, Options{ContinueOnError: true})
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.RestoredCount)
	assert.Empty(t, res.Errors)

	for i, p := range paths {
		restored, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, contents[i], restored, "restored content of %s", p)
	}
}

func TestExecuteRollbackContinueOnErrorAccumulates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dataDir := t.TempDir()
	paths, contents := writeSources(t, dataDir, 3)
	bm := testBackupManager(t)
	records := backUpAll(t, bm, paths)
	m := testManager(t, bm, paths, nil)

	// Destroy the middle backup so its restore fails.
	require.NoError(t, os.Remove(records[1].BackupPath))
	junkFiles(t, paths...)

	res := m.ExecuteRollback(ctx, records, Options{ContinueOnError: true})
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.RestoredCount)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], records[1].ID)

	for _, i := range []int{0, 2} {
		restored, err := os.ReadFile(paths[i])
		require.NoError(t, err)
		assert.Equal(t, contents[i], restored)
	}
}

func TestExecuteRollbackAbortsOnFirstErrorByDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dataDir := t.TempDir()
	paths, _ := writeSources(t, dataDir, 2)
	bm := testBackupManager(t)
	records := backUpAll(t, bm, paths)
	m := testManager(t, bm, paths, nil)

	require.NoError(t, os.Remove(records[0].BackupPath))
	junkFiles(t, paths...)

	res := m.ExecuteRollback(ctx, records, Options{})
	assert.False(t, res.Success)
	assert.Zero(t, res.RestoredCount)
	require.Len(t, res.Errors, 1)

	// The second backup was never attempted.
	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("mid-migration junk"), data)
}

func TestExecuteRollbackValidationSkipsBadBackup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dataDir := t.TempDir()
	paths, contents := writeSources(t, dataDir, 3)
	bm := testBackupManager(t)
	records := backUpAll(t, bm, paths)
	m := testManager(t, bm, paths, nil)

	// Corrupt the middle backup in place, size unchanged.
	f, err := os.OpenFile(records[1].BackupPath, os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("corrupted"), 64)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	junkFiles(t, paths...)

	res := m.ExecuteRollback(ctx, records, Options{
		ValidateBeforeRollback: true,
		ContinueOnError:        true,
	})

	// A skipped backup is a warning, not an error.
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.RestoredCount)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], records[1].ID)

	// The skipped path keeps whatever it had.
	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("mid-migration junk"), data)

	restored, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, contents[0], restored)
}

func TestExecuteRollbackPreRollbackSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dataDir := t.TempDir()
	paths, _ := writeSources(t, dataDir, 1)
	bm := testBackupManager(t)
	records := backUpAll(t, bm, paths)
	m := testManager(t, bm, paths, nil)

	before, err := bm.List(ctx)
	require.NoError(t, err)
	require.Len(t, before, 1)

	junkFiles(t, paths...)

	res := m.ExecuteRollback(ctx, records, Options{
		CreatePreRollbackBackup: true,
		ContinueOnError:         true,
	})
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.RestoredCount)

	// The mid-migration content was snapshotted before being overwritten.
	after, err := bm.List(ctx)
	require.NoError(t, err)
	require.Len(t, after, 2)
	var snapshot *backup.Record
	for i := range after {
		if after[i].ID != records[0].ID {
			snapshot = &after[i]
		}
	}
	require.NotNil(t, snapshot)
	assert.Equal(t, paths[0], snapshot.OriginalPath)
	data, err := os.ReadFile(snapshot.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("mid-migration junk"), data)
}

func TestExecuteRollbackWithoutBackups(t *testing.T) {
	t.Parallel()

	m := testManager(t, testBackupManager(t), nil, nil)
	res := m.ExecuteRollback(context.Background(), nil, Options{})
	assert.True(t, res.Success)
	assert.Zero(t, res.RestoredCount)
	assert.NotEmpty(t, res.Warnings)
}

func TestRecoverPartialMigration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dataDir := t.TempDir()
	paths, contents := writeSources(t, dataDir, 2)
	bm := testBackupManager(t)
	records := backUpAll(t, bm, paths)
	m := testManager(t, bm, paths, nil)

	state := m.CaptureState(ctx)
	id, err := m.CreateRecoveryPoint(ctx, "mid-run", state, records)
	require.NoError(t, err)

	junkFiles(t, paths...)

	res, err := m.RecoverPartialMigration(ctx, id, Options{ContinueOnError: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.RestoredCount)

	for i, p := range paths {
		restored, readErr := os.ReadFile(p)
		require.NoError(t, readErr)
		assert.Equal(t, contents[i], restored)
	}
}

func TestRecoverPartialMigrationErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := testManager(t, testBackupManager(t), nil, nil)

	_, err := m.RecoverPartialMigration(ctx, "rp_20250101-000000_deadbeef", Options{})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	// A point without backups cannot recover anything.
	state := m.CaptureState(ctx)
	id, err := m.CreateRecoveryPoint(ctx, "empty", state, nil)
	require.NoError(t, err)
	_, err = m.RecoverPartialMigration(ctx, id, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}
