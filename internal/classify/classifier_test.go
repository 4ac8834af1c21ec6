package classify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

// passingProbes makes every precondition succeed so retry selection is
// deterministic in tests.
func passingProbes(pc *PatternClassifier) {
	ok := func(Context) error { return nil }
	pc.SetProbe(probeFreeSpace, ok)
	pc.SetProbe(probeWritable, ok)
}

func TestHandleRetryThenForcedAbort(t *testing.T) {
	t.Parallel()
	pc := NewPatternClassifier(nil)

	err := fmt.Errorf("database is locked")
	ctx := Context{Phase: PhaseData}

	// Connection failures retry up to the cap.
	for attempt := 1; attempt <= MaxRetryAttempts; attempt++ {
		out := pc.Handle(err, ctx)
		assert.True(t, out.Handled, "attempt %d", attempt)
		assert.Equal(t, ActionRetry, out.Action, "attempt %d", attempt)
		assert.True(t, out.ShouldRetry, "attempt %d", attempt)
		assert.True(t, out.ShouldContinue, "attempt %d", attempt)
	}

	// The fourth failure for the same kind and phase aborts.
	out := pc.Handle(err, ctx)
	assert.Equal(t, ActionAbort, out.Action)
	assert.False(t, out.ShouldRetry)
	assert.False(t, out.ShouldContinue)
	assert.True(t, out.Handled)
}

func TestHandleRetryCountersScopedByPhase(t *testing.T) {
	t.Parallel()
	pc := NewPatternClassifier(nil)
	err := fmt.Errorf("database is locked")

	for i := 0; i < MaxRetryAttempts; i++ {
		pc.Handle(err, Context{Phase: PhaseData})
	}
	assert.Equal(t, ActionAbort, pc.Handle(err, Context{Phase: PhaseData}).Action)

	// The same kind in a different phase still has a fresh counter.
	out := pc.Handle(err, Context{Phase: PhaseValidation})
	assert.Equal(t, ActionRetry, out.Action)
}

func TestHandleLaterAttemptsPreferSkip(t *testing.T) {
	t.Parallel()
	pc := NewPatternClassifier(nil)
	err := fmt.Errorf("query timed out")
	ctx := Context{Phase: PhaseValidation}

	first := pc.Handle(err, ctx)
	assert.Equal(t, ActionRetry, first.Action)

	// Timeouts carry an automated skip, chosen over a second retry.
	second := pc.Handle(err, ctx)
	assert.Equal(t, ActionSkip, second.Action)
	assert.True(t, second.ShouldContinue)
	assert.False(t, second.ShouldRetry)
}

func TestHandleDiskSpaceProbeGatesRetry(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("no space left on device")
	ctx := Context{Phase: PhaseBackup, Path: "/data/backups", RequiredBytes: 1 << 20}

	t.Run("probe passes", func(t *testing.T) {
		t.Parallel()
		pc := NewPatternClassifier(nil)
		passingProbes(pc)

		out := pc.Handle(err, ctx)
		assert.Equal(t, ActionRetry, out.Action)
		assert.True(t, out.ShouldRetry)
	})

	t.Run("probe fails", func(t *testing.T) {
		t.Parallel()
		pc := NewPatternClassifier(nil)
		pc.SetProbe(probeFreeSpace, func(Context) error {
			return fmt.Errorf("still only 512 bytes free")
		})

		out := pc.Handle(err, ctx)
		assert.Equal(t, ActionManualIntervention, out.Action)
		assert.False(t, out.Handled)
		assert.False(t, out.ShouldRetry)
	})
}

func TestHandleCorruptedSourceNeedsIntervention(t *testing.T) {
	t.Parallel()
	pc := NewPatternClassifier(nil)

	out := pc.Handle(fmt.Errorf("file is not a database"), Context{Phase: PhaseDetection})
	assert.Equal(t, ActionManualIntervention, out.Action)
	assert.False(t, out.Handled)
	assert.False(t, out.ShouldContinue)
}

func TestHandleTargetCorruptionSelectsRollback(t *testing.T) {
	t.Parallel()
	pc := NewPatternClassifier(nil)

	err := errors.Newf("integrity check failed on inkwell.db").
		Category(errors.CategoryCorruptedTarget).
		Build()

	out := pc.Handle(err, Context{Phase: PhaseValidation})
	assert.Equal(t, ActionRollback, out.Action)
	assert.True(t, out.Handled)
	assert.False(t, out.ShouldContinue)
}

func TestHandleRollbackFailureIsManualOnly(t *testing.T) {
	t.Parallel()
	pc := NewPatternClassifier(nil)

	out := pc.Handle(fmt.Errorf("restore failed"), Context{Phase: PhaseRollback})
	assert.Equal(t, ActionManualIntervention, out.Action)
	assert.False(t, out.Handled)
	assert.False(t, out.ShouldContinue)
	assert.False(t, out.ShouldRetry)
}

func TestHandleMessageIsUserFriendly(t *testing.T) {
	t.Parallel()
	pc := NewPatternClassifier(nil)

	out := pc.Handle(fmt.Errorf("open /home/alice/.local/share/inkwell/conversations.db: permission denied"),
		Context{Phase: PhaseBackup})
	assert.NotContains(t, out.Message, "/home/alice")
	assert.NotContains(t, out.Message, "errno")
	assert.NotEmpty(t, out.Message)
}

func TestResetRetryAndClearRetries(t *testing.T) {
	t.Parallel()
	pc := NewPatternClassifier(nil)
	err := fmt.Errorf("database is locked")
	ctx := Context{Phase: PhaseData}

	for i := 0; i < MaxRetryAttempts; i++ {
		pc.Handle(err, ctx)
	}
	require.Equal(t, ActionAbort, pc.Handle(err, ctx).Action)

	pc.ResetRetry(KindConnectionFailed, PhaseData)
	assert.Equal(t, ActionRetry, pc.Handle(err, ctx).Action)

	// Exhaust again, then clear everything as a fresh run would.
	for i := 0; i < MaxRetryAttempts; i++ {
		pc.Handle(err, ctx)
	}
	pc.ClearRetries()
	assert.Equal(t, ActionRetry, pc.Handle(err, ctx).Action)
}
