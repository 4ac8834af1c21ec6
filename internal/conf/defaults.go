// conf/defaults.go default values for configuration settings
package conf

import (
	"github.com/spf13/viper"
)

// setDefaultConfig sets the default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Paths configuration. Directory defaults derive from datadir and are
	// resolved in applyPathDefaults after unmarshal.
	viper.SetDefault("paths.datadir", "")
	viper.SetDefault("paths.searchdirs", []string{})
	viper.SetDefault("paths.targetpath", "")
	viper.SetDefault("paths.backupdir", "")
	viper.SetDefault("paths.recoverydir", "")
	viper.SetDefault("paths.reportdir", "")

	// Backup configuration
	viper.SetDefault("backup.verify", true)
	viper.SetDefault("backup.retentiondays", 30)
	viper.SetDefault("backup.keepminimum", 2)
	viper.SetDefault("backup.parallel", 2)

	// Migration configuration
	viper.SetDefault("migration.batchsize", 500)
	viper.SetDefault("migration.headroomfactor", 2.5)
	viper.SetDefault("migration.maxretries", 3)

	// Validation configuration
	viper.SetDefault("validation.skip", []string{})
	viper.SetDefault("validation.rowcountstrict", true)
	viper.SetDefault("validation.samplesize", 100)
	viper.SetDefault("validation.querytimelimitms", 500)

	// Logging configuration
	viper.SetDefault("logging.file", "")
	viper.SetDefault("logging.maxsizemb", 20)
	viper.SetDefault("logging.maxbackups", 3)
	viper.SetDefault("logging.maxagedays", 28)

	// Telemetry configuration, disabled unless the user opts in
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")
}
