package migration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

// stateFileName is the frozen per-run summary dropped into the data dir.
// The status command reads it without constructing an orchestrator.
const stateFileName = "migration-state.json"

// StateFile is the persisted summary of the most recent run.
type StateFile struct {
	RunID           string           `json:"run_id"`
	State           State            `json:"state"`
	Success         bool             `json:"success"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	Percent         int              `json:"percent"`
	Databases       int              `json:"databases"`
	RecordsMigrated map[string]int64 `json:"records_migrated,omitempty"`
	RecoveryPointID string           `json:"recovery_point_id,omitempty"`
	ReportPath      string           `json:"report_path,omitempty"`
	Errors          []string         `json:"errors,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`
}

// StatePath returns the state file location inside dataDir.
func StatePath(dataDir string) string {
	return filepath.Join(dataDir, stateFileName)
}

// ReadStateFile loads the most recent run summary from dataDir. A missing
// file is a not-found error, no migration has run yet.
func ReadStateFile(dataDir string) (*StateFile, error) {
	raw, err := os.ReadFile(StatePath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf("no migration has been recorded in %s", dataDir).
				Component("migration").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, errors.New(err).
			Component("migration").
			Category(errors.CategoryFileIO).
			Context("path", StatePath(dataDir)).
			Build()
	}

	var state StateFile
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, errors.New(err).
			Component("migration").
			Category(errors.CategoryFileIO).
			Context("path", StatePath(dataDir)).
			Build()
	}
	return &state, nil
}

// writeStateFile atomically replaces the state file with res's summary.
func writeStateFile(dataDir string, res *Result, percent int) error {
	state := StateFile{
		RunID:           res.RunID,
		State:           res.State,
		Success:         res.Success,
		StartedAt:       res.StartedAt,
		FinishedAt:      res.FinishedAt,
		Percent:         percent,
		Databases:       len(res.Databases),
		RecordsMigrated: res.RecordsMigrated,
		RecoveryPointID: res.RecoveryPointID,
		ReportPath:      res.ReportPath,
		Errors:          res.Errors,
		Warnings:        res.Warnings,
	}

	raw, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return err
	}

	path := StatePath(dataDir)
	tmp, err := os.CreateTemp(dataDir, stateFileName+".tmp-*")
	if err != nil {
		return errors.New(err).
			Component("migration").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	success = true
	return nil
}
