package classify

// actionTemplate describes one candidate action before probes are bound.
type actionTemplate struct {
	kind      ActionKind
	automated bool
	risk      RiskLevel
	probe     string // probe name bound by the classifier, "" for none
}

// Probe names referenced by action templates.
const (
	probeFreeSpace = "free_space"
	probeWritable  = "writable"
)

// kindProfile is the static policy for one taxonomy entry.
type kindProfile struct {
	severity    Severity
	recoverable bool
	message     string
	actions     []actionTemplate
	patterns    []string // lowercased substrings, first match wins
}

// kindOrder is the match order for substring classification. Earlier kinds
// win ties, so the more severe interpretations come first.
var kindOrder = []Kind{
	KindInsufficientDiskSpace,
	KindPermissionDenied,
	KindCorruptedSourceData,
	KindCorruptedTargetData,
	KindSchemaMismatch,
	KindConnectionFailed,
	KindTimeout,
	KindDependencyMissing,
	KindValidationFailed,
	KindBackupFailed,
	KindRollbackFailed,
}

var profiles = map[Kind]kindProfile{
	KindInsufficientDiskSpace: {
		severity:    SeverityHigh,
		recoverable: true,
		message:     "There is not enough free disk space to continue the migration. Free up space and try again.",
		actions: []actionTemplate{
			{kind: ActionManualIntervention, automated: false, risk: RiskLow},
			{kind: ActionRetry, automated: true, risk: RiskLow, probe: probeFreeSpace},
			{kind: ActionAbort, automated: true, risk: RiskLow},
		},
		patterns: []string{
			"no space left",
			"disk full",
			"not enough space",
			"insufficient disk",
			"enospc",
		},
	},
	KindPermissionDenied: {
		severity:    SeverityHigh,
		recoverable: true,
		message:     "The migration does not have permission to access required files. Check file permissions and try again.",
		actions: []actionTemplate{
			{kind: ActionManualIntervention, automated: false, risk: RiskLow},
			{kind: ActionRetry, automated: true, risk: RiskLow, probe: probeWritable},
			{kind: ActionAbort, automated: true, risk: RiskLow},
		},
		patterns: []string{
			"permission denied",
			"access is denied",
			"read-only file system",
			"operation not permitted",
			"eacces",
		},
	},
	KindCorruptedSourceData: {
		severity:    SeverityCritical,
		recoverable: true,
		message:     "A legacy database appears to be corrupted. It can be skipped, accepting data loss, or inspected manually.",
		actions: []actionTemplate{
			{kind: ActionManualIntervention, automated: false, risk: RiskLow},
			// Skipping a corrupted store loses its data, so it is never
			// chosen without explicit acceptance.
			{kind: ActionSkip, automated: false, risk: RiskHigh},
			{kind: ActionAbort, automated: true, risk: RiskLow},
		},
		patterns: []string{
			"database disk image is malformed",
			"malformed",
			"file is not a database",
			"not a database",
			"corrupt",
		},
	},
	KindCorruptedTargetData: {
		severity:    SeverityCritical,
		recoverable: true,
		message:     "The migrated database failed an integrity check. The migration will be rolled back to protect your data.",
		actions: []actionTemplate{
			{kind: ActionRollback, automated: true, risk: RiskMedium},
			{kind: ActionManualIntervention, automated: false, risk: RiskLow},
			{kind: ActionAbort, automated: true, risk: RiskLow},
		},
		patterns: []string{
			"corrupted target",
			"target corrupt",
			"integrity check failed",
		},
	},
	KindSchemaMismatch: {
		severity:    SeverityHigh,
		recoverable: true,
		message:     "A legacy database has an unsupported schema version. Update the application before migrating.",
		actions: []actionTemplate{
			{kind: ActionManualIntervention, automated: false, risk: RiskLow},
			{kind: ActionSkip, automated: false, risk: RiskHigh},
			{kind: ActionAbort, automated: true, risk: RiskLow},
		},
		patterns: []string{
			"schema mismatch",
			"unsupported schema",
			"unsupported version",
			"unknown schema version",
			"no such table",
			"no such column",
		},
	},
	KindConnectionFailed: {
		severity:    SeverityMedium,
		recoverable: true,
		message:     "A database connection failed. The operation will be retried.",
		actions: []actionTemplate{
			{kind: ActionRetry, automated: true, risk: RiskLow},
			{kind: ActionManualIntervention, automated: false, risk: RiskLow},
			{kind: ActionAbort, automated: true, risk: RiskLow},
		},
		patterns: []string{
			"database is locked",
			"database table is locked",
			"unable to open database",
			"cannot open database",
			"connection refused",
			"connection failed",
			"connection reset",
		},
	},
	KindTimeout: {
		severity:    SeverityMedium,
		recoverable: true,
		message:     "A database operation took too long to complete. The operation will be retried.",
		actions: []actionTemplate{
			{kind: ActionRetry, automated: true, risk: RiskLow},
			{kind: ActionSkip, automated: true, risk: RiskMedium},
			{kind: ActionAbort, automated: true, risk: RiskLow},
		},
		patterns: []string{
			"deadline exceeded",
			"timed out",
			"timeout",
		},
	},
	KindDependencyMissing: {
		severity:    SeverityHigh,
		recoverable: false,
		message:     "A required component is missing. Reinstall the application to restore it.",
		actions: []actionTemplate{
			{kind: ActionManualIntervention, automated: false, risk: RiskLow},
			{kind: ActionAbort, automated: true, risk: RiskLow},
		},
		patterns: []string{
			"no such module",
			"cannot load extension",
			"library not loaded",
			"missing dependency",
			"dependency missing",
		},
	},
	KindValidationFailed: {
		severity:    SeverityMedium,
		recoverable: true,
		message:     "Post-migration validation found problems with the migrated data.",
		actions: []actionTemplate{
			{kind: ActionRetry, automated: true, risk: RiskLow},
			{kind: ActionRollback, automated: true, risk: RiskMedium},
			{kind: ActionAbort, automated: true, risk: RiskLow},
		},
		patterns: []string{
			"validation failed",
			"row count mismatch",
			"checksum mismatch",
			"orphaned",
		},
	},
	KindBackupFailed: {
		severity:    SeverityHigh,
		recoverable: true,
		message:     "Creating a backup failed. The migration cannot continue safely without backups.",
		actions: []actionTemplate{
			{kind: ActionRetry, automated: true, risk: RiskLow},
			{kind: ActionManualIntervention, automated: false, risk: RiskLow},
			{kind: ActionAbort, automated: true, risk: RiskLow},
		},
		patterns: []string{
			"backup failed",
			"backup verification",
			"backup incomplete",
		},
	},
	KindRollbackFailed: {
		severity:    SeverityCritical,
		recoverable: false,
		message:     "Restoring from backup failed. Your original files are preserved, manual recovery is required.",
		actions: []actionTemplate{
			{kind: ActionManualIntervention, automated: false, risk: RiskLow},
		},
		patterns: []string{
			"rollback failed",
			"restore failed",
		},
	},
	KindUnknown: {
		severity:    SeverityHigh,
		recoverable: true,
		message:     "An unexpected error occurred during migration.",
		actions: []actionTemplate{
			{kind: ActionRetry, automated: true, risk: RiskMedium},
			{kind: ActionManualIntervention, automated: false, risk: RiskLow},
			{kind: ActionAbort, automated: true, risk: RiskLow},
		},
	},
}

// targetPhases are the phases in which bare corruption messages refer to
// the unified store rather than a legacy source.
var targetPhases = map[Phase]bool{
	PhaseSchema:     true,
	PhaseData:       true,
	PhaseValidation: true,
}
