package backup

import (
	"context"
	"os"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

// VerifyBackup checks that a backup still matches its record: the file
// exists, has the recorded size, hashes to the recorded checksum, and opens
// through its native driver. rec.IsValid is updated to the outcome.
func (m *Manager) VerifyBackup(ctx context.Context, rec *Record) error {
	err := m.verify(ctx, rec)
	rec.IsValid = err == nil
	return err
}

func (m *Manager) verify(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(rec.BackupPath)
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "verify-exists").
			Context("backup", rec.BackupPath).
			Build()
	}
	if info.Size() != rec.SizeBytes {
		return errors.Newf("backup %s changed size: recorded %d bytes, found %d bytes",
			rec.ID, rec.SizeBytes, info.Size()).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "verify-size").
			Context("backup", rec.BackupPath).
			Build()
	}

	sum, err := fileChecksum(rec.BackupPath)
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "verify-checksum").
			Context("backup", rec.BackupPath).
			Build()
	}
	if sum != rec.Checksum {
		return errors.Newf("backup %s is corrupt: checksum mismatch", rec.ID).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "verify-checksum").
			Context("backup", rec.BackupPath).
			Build()
	}

	opener, ok := m.openers[rec.Kind]
	if !ok {
		return errors.Newf("no driver registered to verify %q backups", string(rec.Kind)).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "verify-open").
			Context("kind", string(rec.Kind)).
			Build()
	}
	if err := opener(ctx, rec.BackupPath); err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "verify-open").
			Context("backup", rec.BackupPath).
			Build()
	}
	return nil
}

// VerifyAll re-verifies every indexed backup and persists the updated
// validity flags. The returned records reflect the new state; the error
// joins the individual verification failures.
func (m *Manager) VerifyAll(ctx context.Context) ([]Record, error) {
	recs, err := m.index.snapshot()
	if err != nil {
		return nil, err
	}

	var failures []error
	for i := range recs {
		if err := m.VerifyBackup(ctx, &recs[i]); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			failures = append(failures, err)
			m.log.Warn("backup failed verification", "id", recs[i].ID, "error", err)
		}
	}

	if err := m.index.replace(recs); err != nil {
		failures = append(failures, err)
	}
	return recs, errors.Join(failures...)
}
