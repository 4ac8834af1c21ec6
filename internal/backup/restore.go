package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

// Restore copies a backup over targetPath. Whatever currently sits at the
// target is preserved as a {target}.pre-restore-{timestamp} sidecar first,
// on a best-effort basis: losing the sidecar is logged, losing the restore
// is an error.
func (m *Manager) Restore(ctx context.Context, rec *Record, targetPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := os.Stat(rec.BackupPath); err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "restore").
			Context("backup", rec.BackupPath).
			Build()
	}

	if _, err := os.Stat(targetPath); err == nil {
		sidecar := fmt.Sprintf("%s.pre-restore-%s", targetPath, time.Now().UTC().Format(timestampLayout))
		if err := copyInto(targetPath, sidecar); err != nil {
			m.log.Warn("could not preserve current target before restore",
				"target", targetPath, "error", err)
		} else {
			m.log.Info("preserved current target", "sidecar", sidecar)
		}
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("operation", "restore").
			Context("target", targetPath).
			Build()
	}
	if err := copyInto(rec.BackupPath, targetPath); err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("operation", "restore").
			Context("backup", rec.BackupPath).
			Context("target", targetPath).
			Build()
	}

	// Stale WAL or SHM sidecars would shadow the restored file's content on
	// the next open.
	for _, suffix := range []string{"-wal", "-shm"} {
		p := targetPath + suffix
		if err := os.Remove(p); err == nil {
			m.log.Debug("removed stale database sidecar", "path", p)
		} else if !os.IsNotExist(err) {
			m.log.Warn("could not remove stale database sidecar", "path", p, "error", err)
		}
	}

	m.log.Info("backup restored", "id", rec.ID, "target", targetPath)
	return nil
}

// CleanupExpired deletes backups older than retentionDays, keeping at least
// the configured minimum per source regardless of age. retentionDays <= 0
// disables cleanup entirely.
func (m *Manager) CleanupExpired(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		m.log.Debug("backup retention cleanup disabled")
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	recs, err := m.index.snapshot()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	bySource := make(map[string][]Record)
	for _, rec := range recs {
		bySource[rec.OriginalPath] = append(bySource[rec.OriginalPath], rec)
	}

	var failures []error
	removedIDs := make(map[string]bool)
	for _, group := range bySource {
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.After(group[j].CreatedAt)
		})
		for i := range group {
			rec := &group[i]
			if m.shouldKeep(i, rec, cutoff) {
				continue
			}
			if err := os.Remove(rec.BackupPath); err != nil && !os.IsNotExist(err) {
				failures = append(failures, errors.New(err).
					Component("backup").
					Category(errors.CategoryFileIO).
					Context("operation", "cleanup").
					Context("backup", rec.BackupPath).
					Build())
				continue
			}
			removedIDs[rec.ID] = true
			m.metrics.RecordBackup("removed")
			m.log.Info("expired backup removed",
				"id", rec.ID,
				"age_days", int(time.Since(rec.CreatedAt).Hours()/24))
		}
	}

	if len(removedIDs) > 0 {
		if err := m.index.remove(removedIDs); err != nil {
			failures = append(failures, err)
		}
	}
	return len(removedIDs), errors.Join(failures...)
}

// shouldKeep reports whether the i-th newest backup of one source survives
// retention cleanup.
func (m *Manager) shouldKeep(i int, rec *Record, cutoff time.Time) bool {
	if i < m.cfg.KeepMinimum {
		return true
	}
	return rec.CreatedAt.After(cutoff)
}
