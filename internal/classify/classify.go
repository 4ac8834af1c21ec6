// Package classify maps arbitrary migration failures onto a fixed error
// taxonomy with per-kind recovery policies. Each classified error carries a
// severity, a user-facing message and an ordered list of candidate recovery
// actions; Handle selects one action per failure, tracking retry attempts
// per error kind and migration phase.
package classify

import (
	"fmt"
	"time"
)

// Phase identifies the migration phase an error occurred in. Retry
// attempts are counted per error kind and phase.
type Phase string

const (
	PhaseDetection  Phase = "detection"
	PhaseBackup     Phase = "backup"
	PhaseSchema     Phase = "schema"
	PhaseData       Phase = "data"
	PhaseValidation Phase = "validation"
	PhaseCleanup    Phase = "cleanup"
	PhaseRollback   Phase = "rollback"
)

// Kind is a fixed taxonomy entry for a migration failure.
type Kind string

const (
	KindInsufficientDiskSpace Kind = "insufficient_disk_space"
	KindPermissionDenied      Kind = "permission_denied"
	KindCorruptedSourceData   Kind = "corrupted_source_data"
	KindCorruptedTargetData   Kind = "corrupted_target_data"
	KindSchemaMismatch        Kind = "schema_mismatch"
	KindConnectionFailed      Kind = "connection_failed"
	KindTimeout               Kind = "timeout"
	KindDependencyMissing     Kind = "dependency_missing"
	KindValidationFailed      Kind = "validation_failed"
	KindBackupFailed          Kind = "backup_failed"
	KindRollbackFailed        Kind = "rollback_failed"
	KindUnknown               Kind = "unknown"
)

// Severity grades how dangerous a failure is for user data.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ActionKind names a recovery action.
type ActionKind string

const (
	ActionRetry              ActionKind = "retry"
	ActionSkip               ActionKind = "skip"
	ActionManualIntervention ActionKind = "manual_intervention"
	ActionRollback           ActionKind = "rollback"
	ActionAbort              ActionKind = "abort"
	ActionIgnore             ActionKind = "ignore"
)

// RiskLevel grades how risky applying a recovery action is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Probe is a precondition check run before committing to an action.
// A non-nil error means the action is not currently viable.
type Probe func(ctx Context) error

// Action is a candidate recovery action for a classified error.
type Action struct {
	Kind         ActionKind
	Automated    bool  // can be applied without user involvement
	Risk         RiskLevel
	Precondition Probe // optional, nil means always eligible
}

// Context describes where and when a failure happened.
type Context struct {
	Phase         Phase
	Operation     string         // short operation name for logs
	Path          string         // file or directory involved, if known
	RequiredBytes uint64         // free-space needed for a retry, if known
	Timestamp     time.Time      // zero value means now
	Extra         map[string]any // additional structured context
}

// ClassifiedError is a raw failure mapped onto the taxonomy. It is derived
// transiently per failure and logged, never persisted.
type ClassifiedError struct {
	Err              error
	Kind             Kind
	Severity         Severity
	Recoverable      bool
	Message          string // user-facing text, free of paths and errnos
	Context          Context
	CandidateActions []Action
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", ce.Kind, ce.Err)
}

// Unwrap returns the original error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Outcome reports what Handle decided for a failure.
type Outcome struct {
	Handled        bool       // false when only manual intervention remains
	Action         ActionKind // the selected action
	Success        bool       // the action could be applied
	ShouldContinue bool       // migration may proceed
	ShouldRetry    bool       // the failed operation should run again
	Message        string     // user-facing text
}

// Classifier turns failures into classified errors and recovery decisions.
type Classifier interface {
	Classify(err error, ctx Context) *ClassifiedError
	Handle(err error, ctx Context) Outcome
	ResetRetry(kind Kind, phase Phase)
	ClearRetries()
}
