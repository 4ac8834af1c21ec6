package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderExport(t *testing.T) {
	t.Parallel()

	r, err := NewRecorder()
	require.NoError(t, err)

	r.RecordPhase("backup", "success")
	r.RecordPhaseDuration("backup", 0.25)
	r.RecordError("insufficient_disk_space", "backup")
	r.RecordRetry("connection_failed", "data")
	r.RecordRecords("messages", 42)
	r.RecordBackup("created")
	r.AddBackupBytes(1024)
	r.RecordValidationIssue("major")
	r.SetProgress(85)

	out, err := r.Export()
	require.NoError(t, err)

	assert.Contains(t, out, `migrate_phase_total{phase="backup",status="success"} 1`)
	assert.Contains(t, out, `migrate_errors_total{kind="insufficient_disk_space",phase="backup"} 1`)
	assert.Contains(t, out, `migrate_retries_total{kind="connection_failed",phase="data"} 1`)
	assert.Contains(t, out, `migrate_records_total{table="messages"} 42`)
	assert.Contains(t, out, `migrate_backups_total{status="created"} 1`)
	assert.Contains(t, out, "migrate_backup_bytes_total 1024")
	assert.Contains(t, out, `migrate_validation_issues_total{severity="major"} 1`)
	assert.Contains(t, out, "migrate_progress_percent 85")
}

func TestRecorderNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.RecordPhase("data", "success")
	r.RecordError("unknown", "data")
	r.SetProgress(100)

	out, err := r.Export()
	require.NoError(t, err)
	assert.Empty(t, out)
}
