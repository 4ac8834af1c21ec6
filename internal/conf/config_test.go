package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := writeConfig(t, "debug: false\n")
	settings, err := Load(path)
	require.NoError(t, err)

	assert.False(t, settings.Debug)
	assert.True(t, settings.Backup.Verify)
	assert.Equal(t, 30, settings.Backup.RetentionDays)
	assert.Equal(t, 2, settings.Backup.KeepMinimum)
	assert.Equal(t, 500, settings.Migration.BatchSize)
	assert.InDelta(t, 2.5, settings.Migration.HeadroomFactor, 0.001)
	assert.Equal(t, 3, settings.Migration.MaxRetries)
	assert.True(t, settings.Validation.RowCountStrict)
}

func TestLoadAppliesPathDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dataDir := t.TempDir()
	path := writeConfig(t, "paths:\n  datadir: "+dataDir+"\n")
	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dataDir, settings.Paths.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "inkwell.db"), settings.Paths.TargetPath)
	assert.Equal(t, filepath.Join(dataDir, "migration_backups"), settings.Paths.BackupDir)
	assert.Equal(t, filepath.Join(dataDir, "recovery_points"), settings.Paths.RecoveryDir)
	assert.Equal(t, filepath.Join(dataDir, "migration_reports"), settings.Paths.ReportDir)
	assert.Equal(t, filepath.Join(dataDir, "migration.log"), settings.Logging.File)
}

func TestLoadExplicitPathsWin(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := writeConfig(t, `
paths:
  datadir: /data/inkwell
  targetpath: /elsewhere/unified.db
backup:
  retentiondays: 7
  parallel: 4
`)
	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/elsewhere/unified.db", settings.Paths.TargetPath)
	assert.Equal(t, filepath.Join("/data/inkwell", "migration_backups"), settings.Paths.BackupDir)
	assert.Equal(t, 7, settings.Backup.RetentionDays)
	assert.Equal(t, 4, settings.Backup.Parallel)
}

func TestRebasePathsFollowsNewDataDir(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := writeConfig(t, `
paths:
  datadir: /data/inkwell
  targetpath: /elsewhere/unified.db
  searchdirs: [/extra]
`)
	settings, err := Load(path)
	require.NoError(t, err)

	settings.RebasePaths("/new/profile")

	assert.Equal(t, "/new/profile", settings.Paths.DataDir)
	assert.Equal(t, filepath.Join("/new/profile", "inkwell.db"), settings.Paths.TargetPath)
	assert.Equal(t, filepath.Join("/new/profile", "migration_backups"), settings.Paths.BackupDir)
	assert.Equal(t, filepath.Join("/new/profile", "recovery_points"), settings.Paths.RecoveryDir)
	assert.Equal(t, filepath.Join("/new/profile", "migration.log"), settings.Logging.File)
	assert.Equal(t, []string{"/extra"}, settings.Paths.SearchDirs)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative retention", "backup:\n  retentiondays: -1\n"},
		{"zero batch size", "migration:\n  batchsize: 0\n"},
		{"headroom below one", "migration:\n  headroomfactor: 0.5\n"},
		{"unknown validator skip", "validation:\n  skip: [nonsense]\n"},
		{"telemetry without dsn", "telemetry:\n  enabled: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)

			path := writeConfig(t, tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEmbeddedDefaultConfigParses(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := writeConfig(t, getDefaultConfig())
	settings, err := Load(path)
	require.NoError(t, err)

	// The shipped template must agree with the programmatic defaults.
	assert.Equal(t, 30, settings.Backup.RetentionDays)
	assert.Equal(t, 500, settings.Migration.BatchSize)
	assert.False(t, settings.Telemetry.Enabled)

	// The same template must also survive a plain YAML round trip, so the
	// comments written on first run never hide a syntax error.
	var fromYAML Settings
	require.NoError(t, yaml.Unmarshal([]byte(getDefaultConfig()), &fromYAML))
	assert.Equal(t, settings.Backup, fromYAML.Backup)
	assert.Equal(t, settings.Migration, fromYAML.Migration)
	assert.Equal(t, settings.Validation.RowCountStrict, fromYAML.Validation.RowCountStrict)
	assert.Equal(t, settings.Logging.MaxSizeMB, fromYAML.Logging.MaxSizeMB)
}
