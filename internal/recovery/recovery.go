// Package recovery captures point-in-time system state before risky phases
// and restores legacy databases from backups when a migration has to be
// undone.
package recovery

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/inkwellhq/inkwell-migrate/internal/backup"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
)

const (
	dirPermissions  = 0o700
	filePermissions = 0o600

	// pointTimestampLayout keeps recovery point IDs sortable and safe as
	// file names.
	pointTimestampLayout = "20060102-150405"
)

// TrackedFile is the captured state of one file the migration cares about.
type TrackedFile struct {
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"size_bytes"`
	Openable  bool   `json:"openable"`
}

// SystemState is a snapshot of every tracked file at one instant.
// IsConsistent means no tracked file raised a validation error.
type SystemState struct {
	Timestamp        time.Time     `json:"timestamp"`
	DatabaseFiles    []TrackedFile `json:"database_files"`
	ConfigFiles      []TrackedFile `json:"config_files"`
	IsConsistent     bool          `json:"is_consistent"`
	ValidationErrors []string      `json:"validation_errors,omitempty"`
}

// Point is one immutable recovery point. Points are only ever created and
// read, never edited.
type Point struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	Timestamp time.Time       `json:"timestamp"`
	State     SystemState     `json:"state"`
	Backups   []backup.Record `json:"backups,omitempty"`
}

// Config locates the recovery point directory and names the files whose
// state is captured.
type Config struct {
	RecoveryDir   string
	DatabaseFiles []string
	ConfigFiles   []string
}

// Manager captures system state, persists recovery points and drives
// rollbacks through the backup manager.
type Manager struct {
	cfg     Config
	backups *backup.Manager
	log     *slog.Logger
}

// NewManager creates the recovery point directory if needed. A nil logger
// falls back to the recovery service logger.
func NewManager(cfg Config, backups *backup.Manager, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = logging.ForService("recovery")
	}
	if err := os.MkdirAll(cfg.RecoveryDir, dirPermissions); err != nil {
		return nil, errors.New(err).
			Component("recovery").
			Category(errors.CategoryFileIO).
			Context("operation", "create-recovery-dir").
			Context("dir", cfg.RecoveryDir).
			Build()
	}
	return &Manager{cfg: cfg, backups: backups, log: log}, nil
}

// CaptureState inspects every tracked file. Problems become validation
// errors inside the state instead of failing the capture; a snapshot of a
// broken system is still a snapshot.
func (m *Manager) CaptureState(ctx context.Context) SystemState {
	state := SystemState{Timestamp: time.Now().UTC()}

	for _, path := range m.cfg.DatabaseFiles {
		tf, problem := m.inspectFile(path, true)
		state.DatabaseFiles = append(state.DatabaseFiles, tf)
		if problem != "" {
			state.ValidationErrors = append(state.ValidationErrors, problem)
		}
		if ctx.Err() != nil {
			break
		}
	}
	for _, path := range m.cfg.ConfigFiles {
		tf, problem := m.inspectFile(path, false)
		state.ConfigFiles = append(state.ConfigFiles, tf)
		if problem != "" {
			state.ValidationErrors = append(state.ValidationErrors, problem)
		}
		if ctx.Err() != nil {
			break
		}
	}

	state.IsConsistent = len(state.ValidationErrors) == 0
	m.log.Debug("system state captured",
		"database_files", len(state.DatabaseFiles),
		"config_files", len(state.ConfigFiles),
		"consistent", state.IsConsistent)
	return state
}

// inspectFile checks one tracked file. Missing files are recorded but not
// treated as problems, the target database does not exist before migration.
func (m *Manager) inspectFile(path string, isDatabase bool) (TrackedFile, string) {
	tf := TrackedFile{Path: path}

	stat, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return tf, path + ": " + err.Error()
		}
		return tf, ""
	}
	tf.Exists = true
	tf.SizeBytes = stat.Size()

	f, err := os.Open(path)
	if err != nil {
		return tf, path + ": cannot be opened: " + err.Error()
	}
	f.Close()
	tf.Openable = true

	if isDatabase {
		kind, err := legacydb.SniffKind(path)
		if err != nil {
			return tf, path + ": " + err.Error()
		}
		if kind == legacydb.KindUnknown {
			return tf, path + ": not a recognized database file"
		}
	}
	return tf, ""
}
