// Package migration orchestrates the move from the legacy Inkwell stores
// into the unified database. A run walks detection, backup, schema, data
// transfer, validation and cleanup in order, routes every phase failure
// through the error classifier and rolls back from the run's own backups
// when a failure leaves the migration incomplete.
package migration

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/inkwellhq/inkwell-migrate/internal/backup"
	"github.com/inkwellhq/inkwell-migrate/internal/classify"
	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/diagnostics"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/metrics"
	"github.com/inkwellhq/inkwell-migrate/internal/recovery"
	"github.com/inkwellhq/inkwell-migrate/internal/unistore"
	"github.com/inkwellhq/inkwell-migrate/internal/validate"
)

// State is a terminal or in-flight run state.
type State string

const (
	StateRunning         State = "running"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
	StateDryRunCompleted State = "dry-run-completed"
)

// Progress checkpoints reached after each phase. The data phase
// interpolates between its start and end checkpoints by rows copied.
const (
	pctDetection = 5
	pctBackup    = 15
	pctSchema    = 25
	pctDataStart = 35
	pctDataEnd   = 85
	pctValidate  = 95
	pctDone      = 100
)

// Update is one progress notification.
type Update struct {
	Phase   string        `json:"phase"`
	Step    string        `json:"step"`
	Percent int           `json:"percent"`
	ETA     time.Duration `json:"eta_ns"`
}

// ProgressFunc receives progress updates during Run. It is called
// synchronously from the migration goroutine; a panicking callback is
// logged and detached, it never fails the run.
type ProgressFunc func(Update)

// Options control a single run.
type Options struct {
	// DryRun reports what a migration would do. Detection and preflight
	// probes run, nothing on disk is created or modified.
	DryRun bool
	// Verify re-opens every backup copy with its native driver before the
	// migration continues past the backup phase.
	Verify bool
	// SkipValidation skips the post-migration validation phase.
	SkipValidation bool
	// BatchSize is the number of rows per transfer batch. Values below 1
	// fall back to migration.batchsize.
	BatchSize int
	// RetentionDays bounds backup retention for the cleanup phase. Zero
	// falls back to backup.retentiondays, negative disables the sweep.
	RetentionDays int
	// Progress receives phase transitions and data-copy progress. May be
	// nil.
	Progress ProgressFunc
}

// Result is the full outcome of one run.
type Result struct {
	RunID      string        `json:"run_id"`
	State      State         `json:"state"`
	Success    bool          `json:"success"`
	DryRun     bool          `json:"dry_run"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`

	Databases    []legacydb.Info        `json:"databases,omitempty"`
	Requirements *legacydb.Requirements `json:"requirements,omitempty"`

	BackupRecords   []backup.Record `json:"backups,omitempty"`
	RecoveryPointID string          `json:"recovery_point_id,omitempty"`

	RecordsMigrated   map[string]int64 `json:"records_migrated,omitempty"`
	SkippedEmbeddings int              `json:"skipped_embeddings,omitempty"`

	Validation *validate.Report          `json:"validation,omitempty"`
	Integrity  *validate.IntegrityReport `json:"integrity,omitempty"`

	ReportPath string   `json:"report_path,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	Running   bool      `json:"running"`
	RunID     string    `json:"run_id,omitempty"`
	State     State     `json:"state,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Step      string    `json:"step,omitempty"`
	Percent   int       `json:"percent"`
	StartedAt time.Time `json:"started_at"`
}

// Services are the orchestrator's collaborators. Zero fields are filled
// with production defaults built from the settings; tests inject
// substitutes. The backup, recovery and report services are constructed
// lazily because their constructors create directories, which a dry run
// must never do.
type Services struct {
	Detector   *legacydb.Detector
	Classifier classify.Classifier
	Metrics    *metrics.Recorder
	Backups    *backup.Manager
	Recovery   *recovery.Manager
	Reports    *diagnostics.Writer

	// OpenStore opens the unified database, unistore.Open by default.
	OpenStore func(path string) (*unistore.Store, error)
	// NewValidator builds a validator bound to the freshly written store.
	NewValidator func(db *sqlx.DB) *validate.Validator
}

// Orchestrator drives migration runs. At most one run is active at a
// time; a second Run while one is in flight fails immediately.
type Orchestrator struct {
	settings *conf.Settings
	svc      Services
	log      *slog.Logger

	mu            sync.Mutex
	running       bool
	status        Status
	progress      ProgressFunc
	activeBackups []backup.Record
	cancelPoint   string

	cancel atomic.Bool
}

// NewOrchestrator wires an orchestrator from settings, filling any nil
// service with its production default.
func NewOrchestrator(settings *conf.Settings, svc Services, log *slog.Logger) (*Orchestrator, error) {
	if settings == nil {
		return nil, errors.Newf("migration orchestrator needs settings").
			Component("migration").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logging.ForService("migration")
	}

	if svc.Metrics == nil {
		rec, err := metrics.NewRecorder()
		if err != nil {
			return nil, err
		}
		svc.Metrics = rec
	}
	if svc.Classifier == nil {
		svc.Classifier = classify.NewPatternClassifier(log)
	}
	if svc.Detector == nil {
		dirs := make([]string, 0, len(settings.Paths.SearchDirs)+1)
		if settings.Paths.DataDir != "" {
			dirs = append(dirs, settings.Paths.DataDir)
		}
		dirs = append(dirs, settings.Paths.SearchDirs...)
		var opts []legacydb.DetectorOption
		if settings.Paths.TargetPath != "" {
			opts = append(opts, legacydb.WithExcludedPaths(settings.Paths.TargetPath))
		}
		if settings.Migration.HeadroomFactor > 0 {
			opts = append(opts, legacydb.WithHeadroomFactor(settings.Migration.HeadroomFactor))
		}
		svc.Detector = legacydb.NewDetector(dirs, log, opts...)
	}
	if svc.OpenStore == nil {
		svc.OpenStore = unistore.Open
	}
	if svc.NewValidator == nil {
		rec := svc.Metrics
		svc.NewValidator = func(db *sqlx.DB) *validate.Validator {
			return validate.New(db, settings.Validation, log, validate.WithMetrics(rec))
		}
	}

	return &Orchestrator{
		settings: settings,
		svc:      svc,
		log:      log,
	}, nil
}

// DefaultOptions seeds run options from the configuration.
func DefaultOptions(settings *conf.Settings) Options {
	return Options{
		Verify:        settings.Backup.Verify,
		BatchSize:     settings.Migration.BatchSize,
		RetentionDays: settings.Backup.RetentionDays,
	}
}

// Status returns a snapshot of the current or most recent run.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Cancel requests cooperative cancellation of the active run. When the
// run has already created backups, a recovery point capturing the
// mid-migration state is written first so the interrupted run stays
// recoverable. The run observes the request at the next phase or batch
// boundary.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return errors.Newf("no migration run is in progress").
			Component("migration").
			Category(errors.CategoryState).
			Build()
	}
	if o.cancel.Load() {
		o.mu.Unlock()
		return nil
	}
	backups := slices.Clone(o.activeBackups)
	rm := o.svc.Recovery
	o.mu.Unlock()

	if rm != nil && len(backups) > 0 {
		state := rm.CaptureState(ctx)
		id, err := rm.CreateRecoveryPoint(ctx, "cancelled", state, backups)
		if err != nil {
			o.log.Warn("could not capture recovery point before cancelling", "error", err)
		} else {
			o.mu.Lock()
			o.cancelPoint = id
			o.mu.Unlock()
			o.log.Info("recovery point captured before cancellation", "point_id", id)
		}
	}

	o.cancel.Store(true)
	o.log.Info("migration cancellation requested")
	return nil
}

// Detect runs a detection pass without starting a migration.
func (o *Orchestrator) Detect(ctx context.Context) (*legacydb.Result, error) {
	return o.svc.Detector.Detect(ctx)
}

// Requirements detects legacy stores and estimates the disk space a
// migration would need.
func (o *Orchestrator) Requirements(ctx context.Context) (*legacydb.Requirements, error) {
	det, err := o.svc.Detector.Detect(ctx)
	if err != nil {
		return nil, err
	}
	return o.svc.Detector.Requirements(ctx, det, o.settings.Paths.TargetPath)
}

// Compatibility reports whether the given databases can be migrated by
// this build.
func (o *Orchestrator) Compatibility(dbs []legacydb.Info) legacydb.Compatibility {
	return o.svc.Detector.CheckCompatibility(dbs)
}

// withDefaults fills unset option fields from the configuration.
func (o *Orchestrator) withDefaults(opts Options) Options {
	if opts.BatchSize <= 0 {
		opts.BatchSize = o.settings.Migration.BatchSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.RetentionDays == 0 {
		opts.RetentionDays = o.settings.Backup.RetentionDays
	}
	return opts
}

// backupManager returns the backup service, constructing it on first use.
func (o *Orchestrator) backupManager() (*backup.Manager, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.svc.Backups == nil {
		bm, err := backup.NewManager(o.settings.Paths.BackupDir, o.settings.Backup, o.log,
			backup.WithMetrics(o.svc.Metrics))
		if err != nil {
			return nil, err
		}
		o.svc.Backups = bm
	}
	return o.svc.Backups, nil
}

// recoveryManager returns the recovery service, constructing it on first
// use with the databases the run actually detected.
func (o *Orchestrator) recoveryManager(res *Result) (*recovery.Manager, error) {
	bm, err := o.backupManager()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.svc.Recovery == nil {
		cfg := recovery.Config{
			RecoveryDir:   o.settings.Paths.RecoveryDir,
			DatabaseFiles: trackedDatabases(o.settings, res),
		}
		rm, err := recovery.NewManager(cfg, bm, o.log)
		if err != nil {
			return nil, err
		}
		o.svc.Recovery = rm
	}
	return o.svc.Recovery, nil
}

// reportWriter returns the report service, constructing it on first use.
func (o *Orchestrator) reportWriter() (*diagnostics.Writer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.svc.Reports == nil {
		w, err := diagnostics.NewWriter(o.settings.Paths.ReportDir, o.log)
		if err != nil {
			return nil, err
		}
		o.svc.Reports = w
	}
	return o.svc.Reports, nil
}

// trackedDatabases lists the files a recovery point snapshots: every
// detected legacy store plus the migration target.
func trackedDatabases(settings *conf.Settings, res *Result) []string {
	var files []string
	if res != nil {
		for i := range res.Databases {
			files = append(files, res.Databases[i].Path)
		}
	}
	if settings.Paths.TargetPath != "" {
		files = append(files, settings.Paths.TargetPath)
	}
	return files
}

// setActiveBackups publishes the run's backup records for Cancel.
func (o *Orchestrator) setActiveBackups(records []backup.Record) {
	o.mu.Lock()
	o.activeBackups = slices.Clone(records)
	o.mu.Unlock()
}

// emit records progress and invokes the run's callback, if any. The
// callback runs outside the orchestrator lock; a panic detaches it.
func (o *Orchestrator) emit(phase classify.Phase, step string, percent int) {
	o.mu.Lock()
	o.status.Phase = string(phase)
	o.status.Step = step
	o.status.Percent = percent
	started := o.status.StartedAt
	cb := o.progress
	o.mu.Unlock()

	o.svc.Metrics.SetProgress(percent)
	o.log.Debug("migration progress", "phase", string(phase), "step", step, "percent", percent)

	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("progress callback panicked, detaching it", "panic", r)
			o.mu.Lock()
			o.progress = nil
			o.mu.Unlock()
		}
	}()
	cb(Update{
		Phase:   string(phase),
		Step:    step,
		Percent: percent,
		ETA:     estimateETA(started, percent),
	})
}

// estimateETA projects remaining time from elapsed time and progress.
func estimateETA(started time.Time, percent int) time.Duration {
	if percent <= 0 || percent >= 100 || started.IsZero() {
		return 0
	}
	elapsed := time.Since(started)
	return elapsed * time.Duration(100-percent) / time.Duration(percent)
}
