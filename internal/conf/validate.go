// conf/validate.go

package conf

import (
	"fmt"
	"strings"
)

// ValidationError represents a collection of validation errors.
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors.
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// knownValidators are the names accepted in validation.skip.
var knownValidators = map[string]bool{
	"structure":     true,
	"data":          true,
	"relationships": true,
	"performance":   true,
}

// ValidateSettings validates the entire Settings struct.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateBackupSettings(&settings.Backup); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateMigrationSettings(&settings.Migration); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateValidationSettings(&settings.Validation); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateTelemetrySettings(&settings.Telemetry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateBackupSettings(backup *BackupSettings) error {
	if backup.RetentionDays < 0 {
		return fmt.Errorf("backup retention days must not be negative: %d", backup.RetentionDays)
	}
	if backup.KeepMinimum < 0 {
		return fmt.Errorf("backup keep minimum must not be negative: %d", backup.KeepMinimum)
	}
	if backup.Parallel < 1 {
		return fmt.Errorf("backup parallelism must be at least 1: %d", backup.Parallel)
	}
	return nil
}

func validateMigrationSettings(migration *MigrationSettings) error {
	if migration.BatchSize < 1 {
		return fmt.Errorf("migration batch size must be positive: %d", migration.BatchSize)
	}
	if migration.HeadroomFactor < 1.0 {
		return fmt.Errorf("migration headroom factor must be at least 1.0: %g", migration.HeadroomFactor)
	}
	if migration.MaxRetries < 0 {
		return fmt.Errorf("migration max retries must not be negative: %d", migration.MaxRetries)
	}
	return nil
}

func validateValidationSettings(validation *ValidationSettings) error {
	for _, name := range validation.Skip {
		if !knownValidators[strings.ToLower(name)] {
			return fmt.Errorf("unknown validator in validation.skip: %q", name)
		}
	}
	if validation.SampleSize < 0 {
		return fmt.Errorf("validation sample size must not be negative: %d", validation.SampleSize)
	}
	if validation.QueryTimeLimitMS < 0 {
		return fmt.Errorf("validation query time limit must not be negative: %d", validation.QueryTimeLimitMS)
	}
	return nil
}

func validateTelemetrySettings(telemetry *TelemetrySettings) error {
	if telemetry.Enabled && telemetry.DSN == "" {
		return fmt.Errorf("telemetry enabled but no DSN configured")
	}
	return nil
}
