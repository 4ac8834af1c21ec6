// Package backup creates checksummed snapshots of the legacy databases
// before migration touches them, verifies them, and restores them when a
// run has to be rolled back.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/diskutil"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/metrics"
)

const (
	dirPermissions  = 0o700
	filePermissions = 0o600
	copyBufferSize  = 32 * 1024

	// spaceHeadroom pads the preflight disk check over the raw copy size.
	spaceHeadroom = 1.1

	// timestampLayout keeps backup names sortable and filesystem-safe,
	// colons are not allowed in Windows file names.
	timestampLayout = "2006-01-02T15-04-05Z"
)

// Record describes one completed backup copy. Checksum is computed while the
// copy streams and never changes afterwards; IsValid is recomputed by
// verification only.
type Record struct {
	ID           string        `json:"id"`
	Kind         legacydb.Kind `json:"kind"`
	OriginalPath string        `json:"original_path"`
	BackupPath   string        `json:"backup_path"`
	SizeBytes    int64         `json:"size_bytes"`
	Checksum     string        `json:"checksum"`
	CreatedAt    time.Time     `json:"created_at"`
	IsValid      bool          `json:"is_valid"`
}

// Options control a single CreateBackups run.
type Options struct {
	// Verify re-opens every copy with its native driver before the record
	// is returned.
	Verify bool
	// Parallel bounds concurrent copies, values below 1 mean sequential.
	Parallel int
}

// Opener re-opens a backup file with its native driver to prove the copy is
// still a readable database.
type Opener func(ctx context.Context, path string) error

// Manager copies legacy databases into the backup directory and keeps the
// persistent index of everything it created.
type Manager struct {
	dir     string
	cfg     conf.BackupSettings
	openers map[legacydb.Kind]Opener
	metrics *metrics.Recorder
	log     *slog.Logger

	index *indexStore
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec *metrics.Recorder) ManagerOption {
	return func(m *Manager) {
		m.metrics = rec
	}
}

// WithOpener replaces the driver opener used to verify backups of one kind.
func WithOpener(kind legacydb.Kind, opener Opener) ManagerOption {
	return func(m *Manager) {
		if opener != nil {
			m.openers[kind] = opener
		}
	}
}

// NewManager creates the backup directory if needed and returns a Manager
// over it. A nil logger falls back to the backup service logger.
func NewManager(backupDir string, cfg conf.BackupSettings, log *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if log == nil {
		log = logging.ForService("backup")
	}

	if err := os.MkdirAll(backupDir, dirPermissions); err != nil {
		return nil, errors.New(err).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "create-backup-dir").
			Context("dir", backupDir).
			Build()
	}

	m := &Manager{
		dir: backupDir,
		cfg: cfg,
		openers: map[legacydb.Kind]Opener{
			legacydb.KindSQLite:   openSQLiteCopy,
			legacydb.KindColumnar: openColumnarCopy,
		},
		log:   log,
		index: newIndexStore(filepath.Join(backupDir, indexFileName)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.dir
}

// DefaultOptions derives per-run options from the configuration.
func (m *Manager) DefaultOptions() Options {
	return Options{Verify: m.cfg.Verify, Parallel: m.cfg.Parallel}
}

// CreateBackups copies every given database into the backup directory. Each
// file fails or succeeds on its own: the returned records cover the copies
// that worked, the returned error joins the per-file failures. Both can be
// non-empty at once.
func (m *Manager) CreateBackups(ctx context.Context, dbs []legacydb.Info, opts Options) ([]Record, error) {
	if len(dbs) == 0 {
		return nil, nil
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}

	var total int64
	for i := range dbs {
		total += dbs[i].SizeBytes
	}
	required := uint64(math.Ceil(float64(total) * spaceHeadroom))
	if err := diskutil.EnsureFree(m.dir, required); err != nil {
		return nil, err
	}

	m.log.Info("creating backups",
		"databases", len(dbs),
		"total_size_bytes", total,
		"verify", opts.Verify,
		"parallel", opts.Parallel)

	records := make([]Record, len(dbs))
	failures := make([]error, len(dbs))
	done := make([]bool, len(dbs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)
	for i := range dbs {
		g.Go(func() error {
			rec, err := m.createOne(gctx, &dbs[i], opts.Verify)
			if err != nil {
				failures[i] = err
				return nil
			}
			records[i] = rec
			done[i] = true
			return nil
		})
	}
	// Workers never return errors, per-file failures are aggregated below.
	_ = g.Wait()

	var kept []Record
	for i := range records {
		if done[i] {
			kept = append(kept, records[i])
		}
	}
	if len(kept) > 0 {
		if err := m.index.append(kept...); err != nil {
			m.log.Warn("could not persist backup index", "error", err)
			failures = append(failures, err)
		}
	}

	err := errors.Join(failures...)
	if err != nil {
		m.log.Warn("backup run finished with failures",
			"succeeded", len(kept),
			"failed", len(dbs)-len(kept))
	} else {
		m.log.Info("backup run finished", "backups", len(kept))
	}
	return kept, err
}

// createOne copies a single database and returns its record. With verify the
// copy is re-opened through its native driver; a copy that fails verification
// is deleted again so a bad backup never enters the index.
func (m *Manager) createOne(ctx context.Context, db *legacydb.Info, verify bool) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	now := time.Now().UTC()
	name := backupFileName(db.Path, now)
	dst := filepath.Join(m.dir, name)

	src, err := os.Open(db.Path)
	if err != nil {
		return Record{}, errors.New(err).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "open-source").
			Context("path", db.Path).
			Build()
	}
	defer src.Close()

	hasher := sha256.New()
	var written int64
	err = atomicWrite(dst, "backup-*.tmp", filePermissions, func(tmp *os.File) error {
		buf := make([]byte, copyBufferSize)
		n, copyErr := io.CopyBuffer(tmp, io.TeeReader(src, hasher), buf)
		written = n
		if copyErr != nil {
			return errors.New(copyErr).
				Component("backup").
				Category(errors.CategoryBackup).
				Context("operation", "copy").
				Context("source", db.Path).
				Build()
		}
		return nil
	})
	if err != nil {
		m.metrics.RecordBackup("failed")
		return Record{}, err
	}

	rec := Record{
		ID:           strings.TrimSuffix(name, filepath.Ext(name)),
		Kind:         db.Kind,
		OriginalPath: db.Path,
		BackupPath:   dst,
		SizeBytes:    written,
		Checksum:     hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:    now,
		IsValid:      true,
	}
	m.metrics.RecordBackup("created")
	m.metrics.AddBackupBytes(written)

	if verify {
		if err := m.VerifyBackup(ctx, &rec); err != nil {
			if rmErr := os.Remove(dst); rmErr != nil {
				m.log.Warn("could not remove unverifiable backup", "path", dst, "error", rmErr)
			}
			m.metrics.RecordBackup("failed")
			return Record{}, err
		}
		m.metrics.RecordBackup("verified")
	}

	m.log.Debug("backup created",
		"source", db.Path,
		"backup", dst,
		"size_bytes", written)
	return rec, nil
}

// backupFileName builds {basename}_{timestamp}_{shortID}{ext} so repeated
// runs against the same source never collide.
func backupFileName(sourcePath string, now time.Time) string {
	ext := filepath.Ext(sourcePath)
	base := strings.TrimSuffix(filepath.Base(sourcePath), ext)
	short := uuid.New().String()[:8]
	return fmt.Sprintf("%s_%s_%s%s", base, now.Format(timestampLayout), short, ext)
}

// openSQLiteCopy proves a backup is still a readable conversation store.
func openSQLiteCopy(ctx context.Context, path string) error {
	r, err := legacydb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = r.SchemaVersion(ctx)
	return err
}

// openColumnarCopy proves a backup is still a readable knowledge store.
func openColumnarCopy(ctx context.Context, path string) error {
	r, err := legacydb.OpenColumnar(path)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = r.SchemaVersion(ctx)
	return err
}
