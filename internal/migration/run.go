package migration

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell-migrate/internal/backup"
	"github.com/inkwellhq/inkwell-migrate/internal/classify"
	"github.com/inkwellhq/inkwell-migrate/internal/diagnostics"
	"github.com/inkwellhq/inkwell-migrate/internal/diskutil"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
	"github.com/inkwellhq/inkwell-migrate/internal/recovery"
	"github.com/inkwellhq/inkwell-migrate/internal/unistore"
)

// errCancelled is returned from phase bodies when a cancellation request
// is observed at a phase or batch boundary.
var errCancelled = errors.Newf("migration cancelled").
	Component("migration").
	Category(errors.CategoryCancellation).
	Build()

// retryDelay spaces retry attempts out so transient conditions such as a
// briefly locked database get time to clear. Tests shrink it.
var retryDelay = 500 * time.Millisecond

// Run executes one migration. Exactly one run may be active per
// orchestrator; concurrent calls fail with a conflict error. The returned
// Result is always populated, alongside an error for failed and cancelled
// runs.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	opts = o.withDefaults(opts)

	res := &Result{
		RunID:           uuid.New().String(),
		State:           StateRunning,
		DryRun:          opts.DryRun,
		StartedAt:       time.Now().UTC(),
		RecordsMigrated: make(map[string]int64),
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, errors.Newf("a migration run is already in progress").
			Component("migration").
			Category(errors.CategoryConflict).
			Build()
	}
	o.running = true
	o.cancel.Store(false)
	o.cancelPoint = ""
	o.activeBackups = nil
	o.progress = opts.Progress
	o.status = Status{
		Running:   true,
		RunID:     res.RunID,
		State:     StateRunning,
		StartedAt: res.StartedAt,
	}
	o.mu.Unlock()

	// Retry budgets are per run, never inherited from an earlier one.
	o.svc.Classifier.ClearRetries()

	o.log.Info("migration run starting",
		"run_id", res.RunID,
		"dry_run", opts.DryRun,
		"batch_size", opts.BatchSize,
		"verify_backups", opts.Verify)

	o.runPhases(ctx, opts, res)

	res.FinishedAt = time.Now().UTC()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	o.finalize(res)

	o.mu.Lock()
	o.running = false
	o.progress = nil
	o.activeBackups = nil
	o.status.Running = false
	o.status.State = res.State
	o.mu.Unlock()

	o.log.Info("migration run finished",
		"run_id", res.RunID,
		"state", string(res.State),
		"success", res.Success,
		"duration", res.Duration,
		"errors", len(res.Errors),
		"warnings", len(res.Warnings))

	return res, runError(res)
}

// runError maps a terminal result onto the Run error contract.
func runError(res *Result) error {
	switch res.State {
	case StateFailed:
		return errors.Newf("migration run %s failed", res.RunID).
			Component("migration").
			Category(errors.CategoryState).
			Context("errors", len(res.Errors)).
			Build()
	case StateCancelled:
		return errors.Newf("migration run %s cancelled", res.RunID).
			Component("migration").
			Category(errors.CategoryCancellation).
			Build()
	default:
		return nil
	}
}

// runPhases walks the phase sequence and leaves a terminal state on res.
func (o *Orchestrator) runPhases(ctx context.Context, opts Options, res *Result) {
	det, err := o.detectionPhase(ctx, res)
	if err != nil {
		o.concludeFailure(ctx, res, err)
		return
	}
	if det == nil {
		res.State = StateCompleted
		res.Success = true
		o.emit(classify.PhaseCleanup, "nothing to migrate", pctDone)
		return
	}

	if opts.DryRun {
		o.dryRunPhase(ctx, res)
		return
	}

	if err := o.enforceDiskSpace(ctx, det, res); err != nil {
		o.concludeFailure(ctx, res, err)
		return
	}
	o.emit(classify.PhaseDetection, "detection complete", pctDetection)

	if err := o.backupPhase(ctx, opts, det, res); err != nil {
		o.concludeFailure(ctx, res, err)
		return
	}
	o.emit(classify.PhaseBackup, "backups complete", pctBackup)

	store, err := o.schemaPhase(ctx, det, res)
	if err != nil {
		o.concludeFailure(ctx, res, err)
		return
	}
	closed := false
	closeStore := func() {
		if !closed {
			closed = true
			if cerr := store.Close(); cerr != nil {
				o.log.Warn("closing unified store failed", "error", cerr)
			}
		}
	}
	defer closeStore()
	o.emit(classify.PhaseSchema, "schema ready", pctSchema)

	if err := o.dataPhase(ctx, opts, det, res, store); err != nil {
		closeStore()
		o.concludeFailure(ctx, res, err)
		return
	}

	if err := o.validationPhase(ctx, opts, res, store); err != nil {
		closeStore()
		o.concludeFailure(ctx, res, err)
		return
	}
	o.emit(classify.PhaseValidation, "validation complete", pctValidate)

	// The migrated data is complete and validated at this point. Cleanup
	// problems demote to warnings, rolling back a good migration over a
	// retention sweep would discard finished work.
	closeStore()
	if err := o.cleanupPhase(ctx, opts, res); err != nil {
		if isCancellation(err) {
			res.Warnings = append(res.Warnings, "cleanup interrupted by cancellation")
		} else {
			res.Warnings = append(res.Warnings, "cleanup incomplete: "+err.Error())
		}
		o.svc.Metrics.RecordPhase(string(classify.PhaseCleanup), "failure")
	}

	res.State = StateCompleted
	res.Success = true
	o.emit(classify.PhaseCleanup, "migration complete", pctDone)
}

// detectionPhase scans for legacy stores, checks compatibility and
// estimates disk requirements. A nil result with nil error means there is
// nothing to migrate.
func (o *Orchestrator) detectionPhase(ctx context.Context, res *Result) (*legacydb.Result, error) {
	o.emit(classify.PhaseDetection, "scanning for legacy databases", 0)

	var det *legacydb.Result
	var scanned bool
	err := o.attempt(ctx, res, classify.PhaseDetection, "detect legacy databases", func(ctx context.Context) error {
		found, err := o.svc.Detector.Detect(ctx)
		if err != nil {
			return err
		}

		res.Databases = found.Databases
		if !found.RequiresMigration {
			det = nil
			scanned = true
			return nil
		}

		compat := o.svc.Detector.CheckCompatibility(found.Databases)
		res.Warnings = append(res.Warnings, compat.Warnings...)
		if !compat.Compatible {
			return incompatibleError(compat)
		}

		reqs, err := o.svc.Detector.Requirements(ctx, found, o.settings.Paths.TargetPath)
		if err != nil {
			return err
		}
		res.Requirements = reqs

		det = found
		scanned = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	// A skip verdict cannot substitute for a completed scan; without one
	// "nothing to migrate" would be a guess.
	if !scanned {
		res.Errors = append(res.Errors, "the detection scan did not complete, the migration cannot start")
		return nil, errors.Newf("detection scan skipped, aborting").
			Component("migration").
			Category(errors.CategoryState).
			Build()
	}
	if det == nil {
		res.Warnings = append(res.Warnings, "no legacy databases found, nothing to migrate")
		o.log.Info("detection found no legacy databases")
	}
	return det, nil
}

// incompatibleError folds compatibility issues into one structured error.
func incompatibleError(compat legacydb.Compatibility) error {
	builder := errors.Newf("legacy databases are not compatible with this migration").
		Component("migration").
		Category(errors.CategoryValidation).
		Context("issues", len(compat.Issues))
	for i, issue := range compat.Issues {
		builder = builder.Context(fmt.Sprintf("issue_%d", i), issue)
	}
	return builder.Build()
}

// enforceDiskSpace re-probes the space estimate and fails the run when the
// target filesystem cannot hold the migration. Retries re-probe, the user
// may have freed space.
func (o *Orchestrator) enforceDiskSpace(ctx context.Context, det *legacydb.Result, res *Result) error {
	return o.attempt(ctx, res, classify.PhaseDetection, "check disk space", func(ctx context.Context) error {
		reqs, err := o.svc.Detector.Requirements(ctx, det, o.settings.Paths.TargetPath)
		if err != nil {
			return err
		}
		res.Requirements = reqs
		if !reqs.Sufficient {
			return insufficientSpaceError(reqs)
		}
		return nil
	})
}

func insufficientSpaceError(reqs *legacydb.Requirements) error {
	return errors.Newf("insufficient disk space for migration: %d bytes required, %d available",
		reqs.EstimatedRequiredBytes, reqs.AvailableBytes).
		Component("migration").
		Category(errors.CategoryDiskSpace).
		Context("required_bytes", reqs.EstimatedRequiredBytes).
		Context("available_bytes", reqs.AvailableBytes).
		Build()
}

// dryRunPhase runs the preflight probes a real migration would have to
// pass and reports findings without creating or modifying anything.
func (o *Orchestrator) dryRunPhase(ctx context.Context, res *Result) {
	o.emit(classify.PhaseDetection, "dry run preflight", pctDetection)

	probe := func(phase classify.Phase, err error) {
		if err == nil {
			return
		}
		outcome := o.svc.Classifier.Handle(err, o.classifyContext(phase, "dry run probe", res))
		res.Errors = append(res.Errors, outcome.Message)
		o.log.Warn("dry run probe failed", "phase", string(phase), "error", err)
	}

	if res.Requirements != nil && !res.Requirements.Sufficient {
		probe(classify.PhaseDetection, insufficientSpaceError(res.Requirements))
	}
	probe(classify.PhaseBackup,
		diskutil.CheckWritable(diskutil.NearestExistingDir(o.settings.Paths.BackupDir)))
	probe(classify.PhaseSchema,
		diskutil.CheckWritable(diskutil.NearestExistingDir(o.settings.Paths.TargetPath)))

	res.State = StateDryRunCompleted
	res.Success = len(res.Errors) == 0
	res.Warnings = append(res.Warnings, "dry run: no files were created or modified")
	o.emit(classify.PhaseCleanup, "dry run complete", pctDone)
}

// backupPhase copies every detected store into the backup directory and
// pins the result with a pre-migration recovery point.
func (o *Orchestrator) backupPhase(ctx context.Context, opts Options, det *legacydb.Result, res *Result) error {
	o.emit(classify.PhaseBackup, "backing up legacy databases", pctDetection)

	return o.attempt(ctx, res, classify.PhaseBackup, "create backups", func(ctx context.Context) error {
		bm, err := o.backupManager()
		if err != nil {
			return err
		}

		records, err := bm.CreateBackups(ctx, det.Databases, backup.Options{
			Verify:   opts.Verify,
			Parallel: o.settings.Backup.Parallel,
		})
		res.BackupRecords = records
		o.setActiveBackups(records)
		if err != nil {
			return err
		}

		rm, err := o.recoveryManager(res)
		if err != nil {
			return err
		}
		state := rm.CaptureState(ctx)
		pointID, err := rm.CreateRecoveryPoint(ctx, "pre-migration", state, records)
		if err != nil {
			return err
		}
		res.RecoveryPointID = pointID
		return nil
	})
}

// schemaPhase opens the unified store and applies its schema, sized for
// the widest embedding dimension the detection pass reported.
func (o *Orchestrator) schemaPhase(ctx context.Context, det *legacydb.Result, res *Result) (*unistore.Store, error) {
	o.emit(classify.PhaseSchema, "preparing unified database", pctBackup)

	var store *unistore.Store
	err := o.attempt(ctx, res, classify.PhaseSchema, "apply unified schema", func(ctx context.Context) error {
		s, err := o.svc.OpenStore(o.settings.Paths.TargetPath)
		if err != nil {
			return err
		}
		if err := s.EnsureSchema(ctx, maxEmbeddingDim(det.Databases)); err != nil {
			_ = s.Close()
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	// A skip verdict cannot stand in for an open store.
	if store == nil {
		res.Errors = append(res.Errors, "the unified database could not be prepared, the migration cannot continue")
		return nil, errors.Newf("unified store unavailable after schema phase").
			Component("migration").
			Category(errors.CategoryState).
			Build()
	}
	return store, nil
}

// copyTally accumulates per-table row counts for one source database so a
// retried copy never double-counts.
type copyTally struct {
	rows    map[string]int64
	skipped int
}

func (t *copyTally) add(table string, n int) {
	t.rows[table] += int64(n)
}

func (t *copyTally) total() int64 {
	var sum int64
	for _, n := range t.rows {
		sum += n
	}
	return sum
}

// dataPhase streams every detected store into the unified database in
// batches, interpolating progress between the data checkpoints.
func (o *Orchestrator) dataPhase(ctx context.Context, opts Options, det *legacydb.Result, res *Result, store *unistore.Store) error {
	o.emit(classify.PhaseData, "copying legacy data", pctDataStart)

	var total, migrated int64
	for i := range det.Databases {
		total += det.Databases[i].RecordCount
	}

	for i := range det.Databases {
		db := &det.Databases[i]

		err := o.attempt(ctx, res, classify.PhaseData, "copy "+string(db.Kind)+" store", func(ctx context.Context) error {
			tally := &copyTally{rows: make(map[string]int64)}
			progress := func(table string) {
				o.emit(classify.PhaseData, "copying "+table, dataPercent(migrated+tally.total(), total))
			}

			var copyErr error
			switch db.Kind {
			case legacydb.KindSQLite:
				copyErr = o.copyConversationStore(ctx, db.Path, opts.BatchSize, store, tally, progress)
			case legacydb.KindColumnar:
				copyErr = o.copyKnowledgeStore(ctx, db, opts.BatchSize, store, tally, progress)
			}
			if copyErr != nil {
				return copyErr
			}

			for table, n := range tally.rows {
				res.RecordsMigrated[table] += n
				o.svc.Metrics.RecordRecords(table, n)
			}
			res.SkippedEmbeddings += tally.skipped
			migrated += tally.total()
			return nil
		})
		if err != nil {
			return err
		}
	}

	if res.SkippedEmbeddings > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"%d chunk embeddings did not match the declared dimension and were not migrated",
			res.SkippedEmbeddings))
	}

	err := o.attempt(ctx, res, classify.PhaseData, "record provenance", func(ctx context.Context) error {
		if err := store.SetMeta(ctx, "migrated_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
			return err
		}
		if err := store.SetMeta(ctx, "migration_run", res.RunID); err != nil {
			return err
		}
		if o.settings.Version != "" {
			return store.SetMeta(ctx, "tool_version", o.settings.Version)
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.emit(classify.PhaseData, "data copy complete", pctDataEnd)
	return nil
}

// dataPercent interpolates progress across the data phase.
func dataPercent(done, total int64) int {
	if total <= 0 {
		return pctDataStart
	}
	pct := pctDataStart + int(int64(pctDataEnd-pctDataStart)*done/total)
	if pct > pctDataEnd {
		pct = pctDataEnd
	}
	return pct
}

// copyConversationStore streams conversations and messages from a legacy
// row store into the unified database.
func (o *Orchestrator) copyConversationStore(ctx context.Context, path string, batchSize int, store *unistore.Store, tally *copyTally, progress func(table string)) error {
	reader, err := legacydb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := reader.Conversations(ctx, batchSize, func(batch []legacydb.Conversation) error {
		if err := o.interrupted(ctx); err != nil {
			return err
		}
		if err := store.ImportConversations(ctx, batch); err != nil {
			return err
		}
		tally.add("conversations", len(batch))
		progress("conversations")
		return nil
	}); err != nil {
		return err
	}

	return reader.Messages(ctx, batchSize, func(batch []legacydb.Message) error {
		if err := o.interrupted(ctx); err != nil {
			return err
		}
		if err := store.ImportMessages(ctx, batch); err != nil {
			return err
		}
		tally.add("messages", len(batch))
		progress("messages")
		return nil
	})
}

// copyKnowledgeStore streams documents and chunks from a legacy columnar
// store into the unified database. Chunks whose embeddings do not match
// the declared dimension keep their text and lose the vector.
func (o *Orchestrator) copyKnowledgeStore(ctx context.Context, db *legacydb.Info, batchSize int, store *unistore.Store, tally *copyTally, progress func(table string)) error {
	reader, err := legacydb.OpenColumnar(db.Path)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := reader.Documents(ctx, batchSize, func(batch []legacydb.Document) error {
		if err := o.interrupted(ctx); err != nil {
			return err
		}
		if err := store.ImportDocuments(ctx, batch); err != nil {
			return err
		}
		tally.add("documents", len(batch))
		progress("documents")
		return nil
	}); err != nil {
		return err
	}

	dim := embeddingDim(db)
	return reader.Chunks(ctx, batchSize, func(batch []legacydb.Chunk) error {
		if err := o.interrupted(ctx); err != nil {
			return err
		}
		skipped, err := store.ImportChunks(ctx, batch, dim)
		if err != nil {
			return err
		}
		tally.skipped += skipped
		tally.add("chunks", len(batch))
		progress("chunks")
		return nil
	})
}

// embeddingDim reads the embedding dimension detection recorded for a
// columnar store. Metadata that travelled through JSON arrives as float64.
func embeddingDim(db *legacydb.Info) int {
	if db == nil || db.Metadata == nil {
		return 0
	}
	switch v := db.Metadata["embedding_dim"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// maxEmbeddingDim returns the widest embedding dimension across the
// detected stores, zero when none declare one.
func maxEmbeddingDim(dbs []legacydb.Info) int {
	dim := 0
	for i := range dbs {
		if d := embeddingDim(&dbs[i]); d > dim {
			dim = d
		}
	}
	return dim
}

// validationPhase checks the migrated data against the rule registry and
// the relationship integrity checks. Failures are fatal and trigger the
// rollback path.
func (o *Orchestrator) validationPhase(ctx context.Context, opts Options, res *Result, store *unistore.Store) error {
	if opts.SkipValidation {
		res.Warnings = append(res.Warnings, "validation skipped by request")
		o.log.Warn("post-migration validation skipped")
		return nil
	}

	o.emit(classify.PhaseValidation, "validating migrated data", pctDataEnd)

	return o.attempt(ctx, res, classify.PhaseValidation, "validate migrated data", func(ctx context.Context) error {
		v := o.svc.NewValidator(store.DB())
		v.SetExpectedCounts(maps.Clone(res.RecordsMigrated))

		report := v.Validate(ctx)
		res.Validation = report

		integrity := v.CheckIntegrity(ctx)
		res.Integrity = integrity

		if !report.IsValid {
			return errors.Newf("validation failed: %s", report.Summary).
				Component("migration").
				Category(errors.CategoryValidation).
				Build()
		}
		if !integrity.IsValid {
			return errors.Newf("integrity check found %d issues in the migrated database", len(integrity.Issues)).
				Component("migration").
				Category(errors.CategoryValidation).
				Context("issues", len(integrity.Issues)).
				Build()
		}
		return nil
	})
}

// cleanupPhase removes leftover target sidecar files and prunes expired
// backups. The store must already be closed.
func (o *Orchestrator) cleanupPhase(ctx context.Context, opts Options, res *Result) error {
	o.emit(classify.PhaseCleanup, "cleaning up", pctValidate)

	if err := removeSidecars(o.settings.Paths.TargetPath); err != nil {
		return err
	}

	if opts.RetentionDays > 0 && len(res.BackupRecords) > 0 {
		bm, err := o.backupManager()
		if err != nil {
			return err
		}
		pruned, err := bm.CleanupExpired(ctx, opts.RetentionDays)
		if err != nil {
			return err
		}
		if pruned > 0 {
			o.log.Info("pruned expired backups", "count", pruned)
		}
	}
	return nil
}

// removeSidecars deletes leftover WAL and SHM files next to the target.
// After a clean close these are stale artifacts of interrupted runs.
func removeSidecars(target string) error {
	if target == "" {
		return nil
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		path := target + suffix
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.New(err).
				Component("migration").
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
	}
	return nil
}

// attempt runs one phase body under the retry policy. Classifier verdicts
// map as: retry re-runs the body, skip continues the run with a warning,
// anything else aborts with the user-facing message recorded on res.
func (o *Orchestrator) attempt(ctx context.Context, res *Result, phase classify.Phase, operation string, fn func(context.Context) error) error {
	for {
		if err := o.interrupted(ctx); err != nil {
			return err
		}

		start := time.Now()
		err := fn(ctx)
		if err == nil {
			o.svc.Metrics.RecordPhase(string(phase), "success")
			o.svc.Metrics.RecordPhaseDuration(string(phase), time.Since(start).Seconds())
			return nil
		}
		if isCancellation(err) {
			return err
		}

		cctx := o.classifyContext(phase, operation, res)
		classified := o.svc.Classifier.Classify(err, cctx)
		o.svc.Metrics.RecordError(string(classified.Kind), string(phase))
		o.log.Error("migration phase failed",
			"phase", string(phase),
			"operation", operation,
			"kind", string(classified.Kind),
			"error", err)

		outcome := o.svc.Classifier.Handle(err, cctx)
		switch {
		case outcome.ShouldRetry:
			o.svc.Metrics.RecordRetry(string(classified.Kind), string(phase))
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s retrying: %s", operation, outcome.Message))
			o.log.Warn("retrying failed operation", "phase", string(phase), "operation", operation)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			continue
		case outcome.ShouldContinue:
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s continued past a failure: %s", operation, outcome.Message))
			o.svc.Metrics.RecordPhase(string(phase), "skipped")
			return nil
		default:
			res.Errors = append(res.Errors, outcome.Message)
			o.svc.Metrics.RecordPhase(string(phase), "failure")
			return err
		}
	}
}

// classifyContext builds the classifier context for a phase failure.
func (o *Orchestrator) classifyContext(phase classify.Phase, operation string, res *Result) classify.Context {
	cctx := classify.Context{
		Phase:     phase,
		Operation: operation,
		Timestamp: time.Now(),
	}
	switch phase {
	case classify.PhaseBackup:
		cctx.Path = o.settings.Paths.BackupDir
	case classify.PhaseDetection:
		cctx.Path = o.settings.Paths.DataDir
	default:
		cctx.Path = o.settings.Paths.TargetPath
	}
	if res.Requirements != nil && res.Requirements.EstimatedRequiredBytes > 0 {
		cctx.RequiredBytes = uint64(res.Requirements.EstimatedRequiredBytes)
	}
	return cctx
}

// interrupted reports a pending context or cooperative cancellation.
func (o *Orchestrator) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.cancel.Load() {
		return errCancelled
	}
	return nil
}

// isCancellation distinguishes cancellations from failures; they end the
// run as cancelled without the rollback path.
func isCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, errCancelled) ||
		errors.IsCategory(err, errors.CategoryCancellation)
}

// concludeFailure maps a fatal phase error onto the cancelled or failed
// terminal state and restores the legacy stores when this run created
// backups.
func (o *Orchestrator) concludeFailure(ctx context.Context, res *Result, err error) {
	if isCancellation(err) {
		res.State = StateCancelled
		res.Warnings = append(res.Warnings, "migration cancelled before completion")
		o.mu.Lock()
		point := o.cancelPoint
		o.mu.Unlock()
		if point != "" {
			if res.RecoveryPointID == "" {
				res.RecoveryPointID = point
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"recovery point %s captures the interrupted state, run the rollback command to restore the legacy databases", point))
		} else if res.RecoveryPointID != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"recovery point %s from the backup phase can restore the legacy databases", res.RecoveryPointID))
		}
		o.log.Warn("migration cancelled", "run_id", res.RunID)
		return
	}

	res.State = StateFailed
	o.rollbackAfterFailure(ctx, res)
}

// rollbackAfterFailure restores every backup this run created. It runs on
// a context detached from cancellation, a failed run must still restore.
func (o *Orchestrator) rollbackAfterFailure(ctx context.Context, res *Result) {
	if len(res.BackupRecords) == 0 {
		return
	}

	o.emit(classify.PhaseRollback, "restoring legacy databases", o.Status().Percent)

	rm, err := o.recoveryManager(res)
	if err != nil {
		res.Errors = append(res.Errors, "rollback could not start: "+err.Error())
		o.svc.Metrics.RecordPhase(string(classify.PhaseRollback), "failure")
		return
	}

	rctx := context.WithoutCancel(ctx)
	rollback := rm.ExecuteRollback(rctx, res.BackupRecords, recovery.Options{
		ValidateBeforeRollback: true,
		ContinueOnError:        true,
	})

	res.Warnings = append(res.Warnings, rollback.Warnings...)
	if rollback.Success {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"rolled back %d legacy databases after the failure", rollback.RestoredCount))
		o.svc.Metrics.RecordPhase(string(classify.PhaseRollback), "success")
		return
	}

	res.Errors = append(res.Errors, rollback.Errors...)
	res.Errors = append(res.Errors, fmt.Sprintf(
		"rollback did not fully restore the legacy databases, restore them manually from the backups in %s",
		o.settings.Paths.BackupDir))
	o.svc.Metrics.RecordPhase(string(classify.PhaseRollback), "failure")
	o.log.Error("rollback after failure did not fully restore",
		"restored", rollback.RestoredCount,
		"errors", len(rollback.Errors))
}

// finalize persists the diagnostics report and the state file. Dry runs
// persist nothing, their results live only in the returned Result.
func (o *Orchestrator) finalize(res *Result) {
	if res.DryRun {
		o.log.Info("dry run complete, no report written", "run_id", res.RunID, "success", res.Success)
		return
	}

	o.writeReport(res)
	if err := writeStateFile(o.settings.Paths.DataDir, res, o.Status().Percent); err != nil {
		o.log.Warn("could not write migration state file", "error", err)
	}
}

// writeReport assembles and persists the diagnostics report pair.
func (o *Orchestrator) writeReport(res *Result) {
	w, err := o.reportWriter()
	if err != nil {
		o.log.Warn("could not create report writer", "error", err)
		return
	}

	metricsText, err := o.svc.Metrics.Export()
	if err != nil {
		o.log.Warn("could not export metrics for the report", "error", err)
	}

	report := &diagnostics.Report{
		ID:              res.RunID,
		Version:         o.settings.Version,
		State:           string(res.State),
		Success:         res.Success,
		DryRun:          res.DryRun,
		Started:         res.StartedAt,
		Finished:        res.FinishedAt,
		Duration:        res.Duration,
		Databases:       res.Databases,
		Requirements:    res.Requirements,
		Backups:         res.BackupRecords,
		RecordsMigrated: res.RecordsMigrated,
		SkippedRecords:  res.SkippedEmbeddings,
		Validation:      res.Validation,
		Integrity:       res.Integrity,
		Errors:          res.Errors,
		Warnings:        res.Warnings,
		MetricsText:     metricsText,
	}

	jsonPath, _, err := w.Write(report)
	if err != nil {
		o.log.Warn("could not write migration report", "error", err)
		return
	}
	res.ReportPath = jsonPath
}
