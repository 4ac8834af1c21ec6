package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validSettings() *Settings {
	return &Settings{
		Backup:     BackupSettings{Verify: true, RetentionDays: 30, KeepMinimum: 2, Parallel: 2},
		Migration:  MigrationSettings{BatchSize: 500, HeadroomFactor: 2.5, MaxRetries: 3},
		Validation: ValidationSettings{SampleSize: 100, QueryTimeLimitMS: 500},
	}
}

func TestValidateSettingsAccepted(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsCollectsAllErrors(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Backup.Parallel = 0
	s.Migration.BatchSize = -5
	s.Telemetry = TelemetrySettings{Enabled: true}

	err := ValidateSettings(s)
	assert.Error(t, err)

	var ve ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 3)
}

func TestValidateSkipNamesCaseInsensitive(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Validation.Skip = []string{"Structure", "PERFORMANCE"}
	assert.NoError(t, ValidateSettings(s))
}
