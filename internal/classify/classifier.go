package classify

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/inkwellhq/inkwell-migrate/internal/diskutil"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
)

// MaxRetryAttempts caps automated retries per error kind and phase. Once a
// key reaches the cap, Handle forces abort for that key.
const MaxRetryAttempts = 3

// categoryKinds maps structured error categories onto taxonomy kinds.
// Errors carrying one of these categories skip pattern matching entirely.
var categoryKinds = map[errors.ErrorCategory]Kind{
	errors.CategoryDiskSpace:       KindInsufficientDiskSpace,
	errors.CategoryPermission:      KindPermissionDenied,
	errors.CategoryCorruptedSource: KindCorruptedSourceData,
	errors.CategoryCorruptedTarget: KindCorruptedTargetData,
	errors.CategorySchemaMismatch:  KindSchemaMismatch,
	errors.CategoryConnection:      KindConnectionFailed,
	errors.CategoryTimeout:         KindTimeout,
	errors.CategoryDependency:      KindDependencyMissing,
	errors.CategoryValidation:      KindValidationFailed,
	errors.CategoryBackup:          KindBackupFailed,
	errors.CategoryRollback:        KindRollbackFailed,
}

// retryKey scopes retry counters per error kind and migration phase.
type retryKey struct {
	Kind  Kind
	Phase Phase
}

// PatternClassifier is the default Classifier. Classification prefers
// structured error metadata, then well-known OS sentinels, then ordered
// substring matching over the error message.
type PatternClassifier struct {
	mu       sync.Mutex
	attempts map[retryKey]int
	probes   map[string]Probe
	log      *slog.Logger
}

// NewPatternClassifier returns a classifier with live filesystem probes.
// A nil logger falls back to the classify service logger.
func NewPatternClassifier(log *slog.Logger) *PatternClassifier {
	if log == nil {
		log = logging.ForService("classify")
	}
	return &PatternClassifier{
		attempts: make(map[retryKey]int),
		probes: map[string]Probe{
			probeFreeSpace: freeSpaceProbe,
			probeWritable:  writableProbe,
		},
		log: log,
	}
}

// SetProbe replaces a named precondition probe, primarily for tests.
func (pc *PatternClassifier) SetProbe(name string, probe Probe) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.probes[name] = probe
}

// Classify maps err onto the taxonomy. It never returns nil; unmatched
// errors classify as KindUnknown.
func (pc *PatternClassifier) Classify(err error, ctx Context) *ClassifiedError {
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}

	kind := pc.detectKind(err, ctx)
	profile := profiles[kind]

	ce := &ClassifiedError{
		Err:              err,
		Kind:             kind,
		Severity:         profile.severity,
		Recoverable:      profile.recoverable,
		Message:          profile.message,
		Context:          ctx,
		CandidateActions: pc.buildActions(profile.actions),
	}

	pc.log.Debug("classified error",
		"kind", string(kind),
		"severity", string(profile.severity),
		"phase", string(ctx.Phase),
		"operation", ctx.Operation,
		"error", err)

	return ce
}

// detectKind runs the three classification stages in order.
func (pc *PatternClassifier) detectKind(err error, ctx Context) Kind {
	if err == nil {
		return KindUnknown
	}

	// Stage 1: structured category attached by our own error builder.
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		if kind, ok := categoryKinds[errors.ErrorCategory(ee.GetCategory())]; ok {
			return kind
		}
	}

	// Stage 2: OS and runtime sentinels.
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return KindInsufficientDiskSpace
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return KindPermissionDenied
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	}

	// Stage 3: ordered substring matching over the lowercased message.
	msg := strings.ToLower(err.Error())
	for _, kind := range kindOrder {
		for _, pattern := range profiles[kind].patterns {
			if strings.Contains(msg, pattern) {
				return disambiguateCorruption(kind, ctx)
			}
		}
	}

	return KindUnknown
}

// disambiguateCorruption reinterprets bare corruption matches by phase:
// corruption surfacing while the unified store is being written or checked
// concerns the target, not a legacy source.
func disambiguateCorruption(kind Kind, ctx Context) Kind {
	if kind == KindCorruptedSourceData && targetPhases[ctx.Phase] {
		return KindCorruptedTargetData
	}
	return kind
}

// buildActions materializes action templates, binding named probes.
func (pc *PatternClassifier) buildActions(templates []actionTemplate) []Action {
	actions := make([]Action, 0, len(templates))
	for _, tpl := range templates {
		action := Action{
			Kind:      tpl.kind,
			Automated: tpl.automated,
			Risk:      tpl.risk,
		}
		if tpl.probe != "" {
			action.Precondition = pc.probes[tpl.probe]
		}
		actions = append(actions, action)
	}
	return actions
}

// Handle classifies err and selects a recovery action, applying the retry
// policy for the (kind, phase) key.
func (pc *PatternClassifier) Handle(err error, ctx Context) Outcome {
	ce := pc.Classify(err, ctx)
	key := retryKey{Kind: ce.Kind, Phase: ce.Context.Phase}

	pc.mu.Lock()
	attempts := pc.attempts[key]

	if attempts >= MaxRetryAttempts {
		pc.mu.Unlock()
		pc.log.Warn("retry attempts exhausted, forcing abort",
			"kind", string(ce.Kind),
			"phase", string(ce.Context.Phase),
			"attempts", attempts)
		return Outcome{
			Handled:        true,
			Action:         ActionAbort,
			Success:        false,
			ShouldContinue: false,
			ShouldRetry:    false,
			Message:        ce.Message,
		}
	}

	action := pc.selectAction(ce, attempts)
	if action.Kind == ActionRetry {
		pc.attempts[key] = attempts + 1
	}
	pc.mu.Unlock()

	outcome := pc.outcomeFor(ce, action)
	pc.log.Info("recovery action selected",
		"kind", string(ce.Kind),
		"phase", string(ce.Context.Phase),
		"action", string(outcome.Action),
		"attempt", attempts+1,
		"should_continue", outcome.ShouldContinue,
		"should_retry", outcome.ShouldRetry)
	return outcome
}

// selectAction picks one candidate action. The first attempt prefers
// automated actions, retry over skip, falling back to the kind's primary
// candidate; later attempts prefer skip over further retries. Failed
// preconditions demote to the next conservative candidate.
func (pc *PatternClassifier) selectAction(ce *ClassifiedError, attempts int) Action {
	candidates := ce.CandidateActions

	var pick Action
	switch {
	case attempts == 0:
		pick = firstAutomatedByKind(candidates, ActionRetry, ActionSkip)
		if pick.Kind == "" && len(candidates) > 0 {
			pick = candidates[0]
		}
	default:
		pick = firstAutomatedByKind(candidates, ActionSkip, ActionRetry)
	}
	if pick.Kind == "" {
		pick = conservativeFallback(candidates)
	}

	if pick.Precondition != nil {
		if probeErr := pick.Precondition(ce.Context); probeErr != nil {
			pc.log.Debug("action precondition failed, demoting",
				"kind", string(ce.Kind),
				"action", string(pick.Kind),
				"probe_error", probeErr)
			return conservativeFallback(candidates)
		}
	}
	return pick
}

// firstAutomatedByKind returns the first automated candidate matching any
// of kinds, searched in the given preference order.
func firstAutomatedByKind(candidates []Action, kinds ...ActionKind) Action {
	for _, k := range kinds {
		for _, a := range candidates {
			if a.Kind == k && a.Automated {
				return a
			}
		}
	}
	return Action{}
}

// conservativeFallback returns the first candidate that does not repeat
// the failed operation, abort when none is listed.
func conservativeFallback(candidates []Action) Action {
	for _, a := range candidates {
		switch a.Kind {
		case ActionManualIntervention, ActionRollback, ActionAbort:
			return a
		}
	}
	return Action{Kind: ActionAbort, Automated: true, Risk: RiskLow}
}

// outcomeFor maps a selected action to the Outcome contract.
func (pc *PatternClassifier) outcomeFor(ce *ClassifiedError, action Action) Outcome {
	out := Outcome{
		Handled: true,
		Action:  action.Kind,
		Message: ce.Message,
	}

	switch action.Kind {
	case ActionRetry:
		out.Success = true
		out.ShouldContinue = true
		out.ShouldRetry = true
	case ActionSkip, ActionIgnore:
		out.Success = true
		out.ShouldContinue = true
	case ActionRollback:
	case ActionManualIntervention:
		out.Handled = false
	case ActionAbort:
	}
	return out
}

// ResetRetry clears the retry counter for one (kind, phase) key.
func (pc *PatternClassifier) ResetRetry(kind Kind, phase Phase) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	delete(pc.attempts, retryKey{Kind: kind, Phase: phase})
}

// ClearRetries clears all retry counters. Fresh migration runs call this
// so counters never leak across runs.
func (pc *PatternClassifier) ClearRetries() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.attempts = make(map[retryKey]int)
}

// freeSpaceProbe confirms the filesystem behind the failing path now has
// the space a retry needs. Unknown requirements fail the probe, a retry
// cannot be justified without them.
func freeSpaceProbe(ctx Context) error {
	if ctx.Path == "" || ctx.RequiredBytes == 0 {
		return errors.NewStd("free-space requirement unknown")
	}
	return diskutil.EnsureFree(ctx.Path, ctx.RequiredBytes)
}

// writableProbe confirms the failing path's directory is writable again.
func writableProbe(ctx Context) error {
	if ctx.Path == "" {
		return errors.NewStd("no path to probe")
	}
	return diskutil.CheckWritable(diskutil.NearestExistingDir(filepath.Dir(ctx.Path)))
}
