package recovery

import (
	"context"
	"fmt"
	"os"

	"github.com/inkwellhq/inkwell-migrate/internal/backup"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
)

// Options control one rollback pass.
type Options struct {
	// ValidateBeforeRollback verifies each backup first; backups that fail
	// are skipped with a warning instead of overwriting current state with
	// a provably bad copy.
	ValidateBeforeRollback bool
	// CreatePreRollbackBackup snapshots the current content of every
	// original path before anything is overwritten.
	CreatePreRollbackBackup bool
	// ContinueOnError keeps restoring remaining backups after a failure.
	// When false the pass aborts on the first restore error.
	ContinueOnError bool
}

// Result summarizes a rollback pass. Success means no restore errored;
// skipped backups surface as warnings and do not fail the pass.
type Result struct {
	Success       bool     `json:"success"`
	RestoredCount int      `json:"restored_count"`
	Errors        []string `json:"errors,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// ExecuteRollback restores each backup to its original path. All failure
// detail lands in the Result rather than an error return, a rollback report
// is useful even when parts of it failed.
func (m *Manager) ExecuteRollback(ctx context.Context, backups []backup.Record, opts Options) *Result {
	res := &Result{}
	if len(backups) == 0 {
		res.Success = true
		res.Warnings = append(res.Warnings, "no backups to restore")
		return res
	}

	m.log.Info("starting rollback",
		"backups", len(backups),
		"validate_first", opts.ValidateBeforeRollback,
		"continue_on_error", opts.ContinueOnError)

	if opts.CreatePreRollbackBackup {
		m.snapshotCurrentContent(ctx, backups, res)
	}

	for i := range backups {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, "rollback interrupted: "+err.Error())
			break
		}
		rec := backups[i]

		if opts.ValidateBeforeRollback {
			if err := m.backups.VerifyBackup(ctx, &rec); err != nil {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("skipping backup %s: failed verification: %v", rec.ID, err))
				m.log.Warn("backup skipped during rollback", "id", rec.ID, "error", err)
				continue
			}
		}

		if err := m.backups.Restore(ctx, &rec, rec.OriginalPath); err != nil {
			res.Errors = append(res.Errors,
				fmt.Sprintf("restore of %s failed: %v", rec.ID, err))
			m.log.Error("restore failed during rollback", "id", rec.ID, "error", err)
			if !opts.ContinueOnError {
				break
			}
			continue
		}
		res.RestoredCount++
	}

	res.Success = len(res.Errors) == 0
	m.log.Info("rollback finished",
		"restored", res.RestoredCount,
		"errors", len(res.Errors),
		"warnings", len(res.Warnings),
		"success", res.Success)
	return res
}

// snapshotCurrentContent backs up whatever currently sits at the original
// paths. The content may be mid-migration garbage, so the copies are not
// driver-verified; preserving the bytes is the point.
func (m *Manager) snapshotCurrentContent(ctx context.Context, records []backup.Record, res *Result) {
	var infos []legacydb.Info
	seen := make(map[string]bool)
	for i := range records {
		rec := &records[i]
		if seen[rec.OriginalPath] {
			continue
		}
		seen[rec.OriginalPath] = true

		stat, err := os.Stat(rec.OriginalPath)
		if err != nil {
			continue
		}
		infos = append(infos, legacydb.Info{
			Kind:      rec.Kind,
			Path:      rec.OriginalPath,
			SizeBytes: stat.Size(),
		})
	}
	if len(infos) == 0 {
		return
	}

	if _, err := m.backups.CreateBackups(ctx, infos, backup.Options{Parallel: 1}); err != nil {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("pre-rollback snapshot incomplete: %v", err))
		m.log.Warn("pre-rollback snapshot incomplete", "error", err)
	}
}

// RecoverPartialMigration runs the rollback pass scoped to the backups one
// stored recovery point carries.
func (m *Manager) RecoverPartialMigration(ctx context.Context, pointID string, opts Options) (*Result, error) {
	point, err := m.GetRecoveryPoint(ctx, pointID)
	if err != nil {
		return nil, err
	}
	if len(point.Backups) == 0 {
		return nil, errors.Newf("recovery point %s has no associated backups", pointID).
			Component("recovery").
			Category(errors.CategoryState).
			Context("id", pointID).
			Build()
	}

	m.log.Info("recovering partial migration",
		"point", pointID,
		"label", point.Label,
		"backups", len(point.Backups))
	return m.ExecuteRollback(ctx, point.Backups, opts), nil
}
