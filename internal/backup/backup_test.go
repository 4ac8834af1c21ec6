package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
	"github.com/inkwellhq/inkwell-migrate/internal/testutil"
)

func testSettings() conf.BackupSettings {
	return conf.BackupSettings{Verify: true, RetentionDays: 30, KeepMinimum: 2, Parallel: 2}
}

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "migration_backups"), testSettings(), nil, opts...)
	require.NoError(t, err)
	return m
}

func sourceInfo(t *testing.T, kind legacydb.Kind, path string) legacydb.Info {
	t.Helper()
	stat, err := os.Stat(path)
	require.NoError(t, err)
	return legacydb.Info{Kind: kind, Path: path, SizeBytes: stat.Size(), IsValid: true}
}

func TestCreateBackupsProducesVerifiedRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srcDir := t.TempDir()
	convPath := filepath.Join(srcDir, "conversations.db")
	kbPath := filepath.Join(srcDir, "knowledge.duckdb")
	testutil.WriteConversationsDB(t, convPath, 3, 12)
	testutil.WriteKnowledgeDB(t, kbPath, 2, 4, 4)

	m := newTestManager(t)
	dbs := []legacydb.Info{
		sourceInfo(t, legacydb.KindSQLite, convPath),
		sourceInfo(t, legacydb.KindColumnar, kbPath),
	}

	records, err := m.CreateBackups(ctx, dbs, m.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, records, 2)

	for i := range records {
		rec := &records[i]
		assert.True(t, rec.IsValid)
		assert.Equal(t, dbs[i].Path, rec.OriginalPath)
		assert.Equal(t, dbs[i].SizeBytes, rec.SizeBytes)
		assert.Len(t, rec.Checksum, 64)
		assert.Equal(t, filepath.Ext(dbs[i].Path), filepath.Ext(rec.BackupPath))

		// Every returned record verifies immediately.
		require.NoError(t, m.VerifyBackup(ctx, rec))
	}

	// Names embed source basename, timestamp and a short id.
	base := filepath.Base(records[0].BackupPath)
	assert.True(t, strings.HasPrefix(base, "conversations_"), "got %q", base)
	parts := strings.Split(strings.TrimSuffix(base, ".db"), "_")
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 8)
}

func TestCreateBackupsAggregatesPerFileErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srcDir := t.TempDir()
	goodPath := filepath.Join(srcDir, "conversations.db")
	testutil.WriteConversationsDB(t, goodPath, 1, 2)

	m := newTestManager(t)
	dbs := []legacydb.Info{
		{Kind: legacydb.KindSQLite, Path: filepath.Join(srcDir, "gone.db"), SizeBytes: 10},
		sourceInfo(t, legacydb.KindSQLite, goodPath),
	}

	records, err := m.CreateBackups(ctx, dbs, Options{Verify: true, Parallel: 1})
	require.Error(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, goodPath, records[0].OriginalPath)
	assert.True(t, errors.IsCategory(err, errors.CategoryBackup))
}

func TestCreateBackupsVerifyRejectsCorruptSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srcDir := t.TempDir()
	corruptPath := filepath.Join(srcDir, "conversations.db")
	testutil.WriteCorruptSQLite(t, corruptPath)

	m := newTestManager(t)
	dbs := []legacydb.Info{sourceInfo(t, legacydb.KindSQLite, corruptPath)}

	records, err := m.CreateBackups(ctx, dbs, Options{Verify: true, Parallel: 1})
	require.Error(t, err)
	assert.Empty(t, records)

	// The unverifiable copy was deleted again, only the index file remains.
	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, indexFileName, e.Name())
	}
}

func TestVerifyBackupDetectsTampering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srcDir := t.TempDir()
	convPath := filepath.Join(srcDir, "conversations.db")
	testutil.WriteConversationsDB(t, convPath, 1, 2)

	m := newTestManager(t)
	records, err := m.CreateBackups(ctx, []legacydb.Info{sourceInfo(t, legacydb.KindSQLite, convPath)}, m.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]

	// Flip bytes inside the copy without changing its size.
	f, err := os.OpenFile(rec.BackupPath, os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("tampered"), 100)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = m.VerifyBackup(ctx, &rec)
	require.Error(t, err)
	assert.False(t, rec.IsValid)
	assert.Contains(t, err.Error(), "checksum")
}

func TestVerifyBackupDetectsMissingAndResized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srcDir := t.TempDir()
	convPath := filepath.Join(srcDir, "conversations.db")
	testutil.WriteConversationsDB(t, convPath, 1, 2)

	m := newTestManager(t)
	records, err := m.CreateBackups(ctx, []legacydb.Info{sourceInfo(t, legacydb.KindSQLite, convPath)}, m.DefaultOptions())
	require.NoError(t, err)
	rec := records[0]

	truncated := rec
	f, err := os.OpenFile(truncated.BackupPath, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("extra")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Error(t, m.VerifyBackup(ctx, &truncated))

	missing := rec
	require.NoError(t, os.Remove(missing.BackupPath))
	err = m.VerifyBackup(ctx, &missing)
	require.Error(t, err)
	assert.False(t, missing.IsValid)
}

func TestListSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srcDir := t.TempDir()
	convPath := filepath.Join(srcDir, "conversations.db")
	testutil.WriteConversationsDB(t, convPath, 2, 4)

	m := newTestManager(t)
	_, err := m.CreateBackups(ctx, []legacydb.Info{sourceInfo(t, legacydb.KindSQLite, convPath)}, m.DefaultOptions())
	require.NoError(t, err)

	// A fresh manager over the same directory sees the same index.
	reopened, err := NewManager(m.Dir(), testSettings(), nil)
	require.NoError(t, err)
	recs, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, convPath, recs[0].OriginalPath)

	got, err := reopened.Get(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, recs[0].Checksum, got.Checksum)

	_, err = reopened.Get(ctx, "nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRestoreWritesPreRestoreSidecar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srcDir := t.TempDir()
	convPath := filepath.Join(srcDir, "conversations.db")
	testutil.WriteConversationsDB(t, convPath, 2, 4)

	m := newTestManager(t)
	records, err := m.CreateBackups(ctx, []legacydb.Info{sourceInfo(t, legacydb.KindSQLite, convPath)}, m.DefaultOptions())
	require.NoError(t, err)
	rec := records[0]

	// Simulate a half-written target plus a stale WAL sidecar.
	targetPath := filepath.Join(srcDir, "inkwell.db")
	require.NoError(t, os.WriteFile(targetPath, []byte("broken target"), 0o600))
	require.NoError(t, os.WriteFile(targetPath+"-wal", []byte("stale"), 0o600))

	require.NoError(t, m.Restore(ctx, &rec, targetPath))

	restored, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	original, err := os.ReadFile(convPath)
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	assert.NoFileExists(t, targetPath+"-wal")

	matches, err := filepath.Glob(targetPath + ".pre-restore-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	sidecar, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("broken target"), sidecar)
}

func TestRestoreMissingBackupFails(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	rec := Record{ID: "gone", BackupPath: filepath.Join(m.Dir(), "gone.db")}
	err := m.Restore(context.Background(), &rec, filepath.Join(t.TempDir(), "inkwell.db"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryBackup))
}

func TestCleanupExpiredHonorsKeepMinimum(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srcDir := t.TempDir()
	convPath := filepath.Join(srcDir, "conversations.db")
	testutil.WriteConversationsDB(t, convPath, 1, 2)

	m := newTestManager(t)
	var all []Record
	for range 4 {
		recs, err := m.CreateBackups(ctx, []legacydb.Info{sourceInfo(t, legacydb.KindSQLite, convPath)}, Options{Parallel: 1})
		require.NoError(t, err)
		all = append(all, recs...)
	}
	require.Len(t, all, 4)

	// Age every record past the retention window.
	backdated := make([]Record, len(all))
	copy(backdated, all)
	for i := range backdated {
		backdated[i].CreatedAt = time.Now().UTC().AddDate(0, 0, -60).Add(time.Duration(i) * time.Minute)
	}
	require.NoError(t, m.index.replace(backdated))

	removed, err := m.CleanupExpired(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 2)
	// The two newest survive.
	assert.True(t, left[0].CreatedAt.After(left[1].CreatedAt) || left[0].CreatedAt.Equal(left[1].CreatedAt))
	for _, rec := range left {
		assert.FileExists(t, rec.BackupPath)
	}
}

func TestCleanupExpiredDisabled(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	removed, err := m.CleanupExpired(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestVerifyAllUpdatesIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srcDir := t.TempDir()
	convPath := filepath.Join(srcDir, "conversations.db")
	kbPath := filepath.Join(srcDir, "knowledge.duckdb")
	testutil.WriteConversationsDB(t, convPath, 1, 2)
	testutil.WriteKnowledgeDB(t, kbPath, 1, 2, 4)

	m := newTestManager(t)
	records, err := m.CreateBackups(ctx, []legacydb.Info{
		sourceInfo(t, legacydb.KindSQLite, convPath),
		sourceInfo(t, legacydb.KindColumnar, kbPath),
	}, m.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.NoError(t, os.Remove(records[0].BackupPath))

	verified, err := m.VerifyAll(ctx)
	require.Error(t, err)
	require.Len(t, verified, 2)

	listed, err := m.List(ctx)
	require.NoError(t, err)
	valid := 0
	for _, rec := range listed {
		if rec.IsValid {
			valid++
		}
	}
	assert.Equal(t, 1, valid)
}
