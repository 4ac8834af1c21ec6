// Package diagnostics writes the post-run migration report, one JSON file
// for machines and one Markdown file for humans, under the reports
// directory. Reports are the durable record of what a run did; the host
// app surfaces them after a failed migration.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell-migrate/internal/backup"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/validate"
)

const (
	dirPermissions  = 0o700
	filePermissions = 0o600
	nameLayout      = "20060102-150405"
)

// Report captures everything one migration run produced.
type Report struct {
	ID          string    `json:"id" yaml:"id"`
	Version     string    `json:"version" yaml:"version"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`

	State    string        `json:"state" yaml:"state"`
	Success  bool          `json:"success" yaml:"success"`
	DryRun   bool          `json:"dry_run" yaml:"dry_run"`
	Started  time.Time     `json:"started" yaml:"started"`
	Finished time.Time     `json:"finished" yaml:"finished"`
	Duration time.Duration `json:"duration_ns" yaml:"-"`

	Databases    []legacydb.Info        `json:"databases,omitempty" yaml:"-"`
	Requirements *legacydb.Requirements `json:"requirements,omitempty" yaml:"-"`
	Backups      []backup.Record        `json:"backups,omitempty" yaml:"-"`

	RecordsMigrated map[string]int64 `json:"records_migrated,omitempty" yaml:"-"`
	SkippedRecords  int              `json:"skipped_records,omitempty" yaml:"-"`

	Validation *validate.Report          `json:"validation,omitempty" yaml:"-"`
	Integrity  *validate.IntegrityReport `json:"integrity,omitempty" yaml:"-"`

	Errors   []string `json:"errors,omitempty" yaml:"-"`
	Warnings []string `json:"warnings,omitempty" yaml:"-"`

	// MetricsText is the Prometheus text exposition of the run's counters,
	// embedded verbatim so a report is self-contained.
	MetricsText string `json:"metrics_text,omitempty" yaml:"-"`
}

// Writer persists reports into one directory.
type Writer struct {
	dir string
	log *slog.Logger
}

// NewWriter creates the reports directory if needed.
func NewWriter(reportDir string, log *slog.Logger) (*Writer, error) {
	if log == nil {
		log = logging.ForService("diagnostics")
	}
	if err := os.MkdirAll(reportDir, dirPermissions); err != nil {
		return nil, errors.New(err).
			Component("diagnostics").
			Category(errors.CategoryFileIO).
			Context("operation", "create-report-dir").
			Context("dir", reportDir).
			Build()
	}
	return &Writer{dir: reportDir, log: log}, nil
}

// Dir returns the reports directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Write persists the report as JSON and Markdown, returning both paths.
// The two files share a basename so they sort together.
func (w *Writer) Write(report *Report) (jsonPath, markdownPath string, err error) {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now().UTC()
	}

	base := fmt.Sprintf("migration-report-%s-%s",
		report.GeneratedAt.Format(nameLayout), report.ID[:8])
	jsonPath = filepath.Join(w.dir, base+".json")
	markdownPath = filepath.Join(w.dir, base+".md")

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", "", w.writeError(err, jsonPath)
	}
	if err := writeFileAtomic(jsonPath, data); err != nil {
		return "", "", w.writeError(err, jsonPath)
	}

	if err := writeFileAtomic(markdownPath, renderMarkdown(report)); err != nil {
		return "", "", w.writeError(err, markdownPath)
	}

	w.log.Info("migration report written", "json", jsonPath, "markdown", markdownPath)
	return jsonPath, markdownPath, nil
}

func (w *Writer) writeError(err error, path string) error {
	return errors.New(err).
		Component("diagnostics").
		Category(errors.CategoryFileIO).
		Context("operation", "write-report").
		Context("path", path).
		Build()
}

// Latest returns the newest JSON report path, empty string when none exist.
func (w *Writer) Latest() (string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return "", errors.New(err).
			Component("diagnostics").
			Category(errors.CategoryFileIO).
			Context("operation", "list-reports").
			Context("dir", w.dir).
			Build()
	}

	var latest string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		// Timestamped basenames sort chronologically.
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return "", nil
	}
	return filepath.Join(w.dir, latest), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(filePermissions); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
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
