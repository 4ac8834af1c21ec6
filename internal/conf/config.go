// Package conf loads and validates inkwell-migrate settings from YAML,
// environment variables and defaults using viper.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings holds the full runtime configuration for the migration tool.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"` // enables debug logging

	Paths      PathsSettings      `yaml:"paths" mapstructure:"paths"`
	Backup     BackupSettings     `yaml:"backup" mapstructure:"backup"`
	Migration  MigrationSettings  `yaml:"migration" mapstructure:"migration"`
	Validation ValidationSettings `yaml:"validation" mapstructure:"validation"`
	Logging    LoggingSettings    `yaml:"logging" mapstructure:"logging"`
	Telemetry  TelemetrySettings  `yaml:"telemetry" mapstructure:"telemetry"`

	// Version and BuildDate are populated from the build at startup, not
	// from the config file.
	Version   string `yaml:"-" mapstructure:"-"`
	BuildDate string `yaml:"-" mapstructure:"-"`
}

// PathsSettings locates the legacy stores and the directories the
// migration writes into.
type PathsSettings struct {
	// DataDir is the Inkwell profile directory holding conversations.db
	// and knowledge.db. Empty means the platform default profile dir.
	DataDir string `yaml:"datadir" mapstructure:"datadir"`

	// SearchDirs are extra directories scanned for legacy stores in
	// addition to DataDir.
	SearchDirs []string `yaml:"searchdirs" mapstructure:"searchdirs"`

	// TargetPath is the unified database file. Empty means
	// <datadir>/inkwell.db.
	TargetPath string `yaml:"targetpath" mapstructure:"targetpath"`

	BackupDir   string `yaml:"backupdir" mapstructure:"backupdir"`
	RecoveryDir string `yaml:"recoverydir" mapstructure:"recoverydir"`
	ReportDir   string `yaml:"reportdir" mapstructure:"reportdir"`
}

// BackupSettings controls pre-migration backups and their retention.
type BackupSettings struct {
	Verify        bool `yaml:"verify" mapstructure:"verify"`               // re-hash backups after copy
	RetentionDays int  `yaml:"retentiondays" mapstructure:"retentiondays"` // 0 disables retention cleanup
	KeepMinimum   int  `yaml:"keepminimum" mapstructure:"keepminimum"`     // retained per source even when expired
	Parallel      int  `yaml:"parallel" mapstructure:"parallel"`           // concurrent backup copies, 1 = sequential
}

// MigrationSettings tunes the data transfer itself.
type MigrationSettings struct {
	BatchSize      int     `yaml:"batchsize" mapstructure:"batchsize"`           // rows per transfer batch
	HeadroomFactor float64 `yaml:"headroomfactor" mapstructure:"headroomfactor"` // disk requirement multiplier over source size
	MaxRetries     int     `yaml:"maxretries" mapstructure:"maxretries"`         // per error kind and phase
}

// ValidationSettings selects which post-migration validators run.
type ValidationSettings struct {
	Skip             []string `yaml:"skip" mapstructure:"skip"`                         // validator names to skip
	RowCountStrict   bool     `yaml:"rowcountstrict" mapstructure:"rowcountstrict"`     // mismatches are critical instead of major
	SampleSize       int      `yaml:"samplesize" mapstructure:"samplesize"`             // rows sampled for content comparison
	QueryTimeLimitMS int      `yaml:"querytimelimitms" mapstructure:"querytimelimitms"` // performance rule budget
}

// LoggingSettings configures the rotating migration log file.
type LoggingSettings struct {
	File       string `yaml:"file" mapstructure:"file"` // empty means <datadir>/migration.log
	MaxSizeMB  int    `yaml:"maxsizemb" mapstructure:"maxsizemb"`
	MaxBackups int    `yaml:"maxbackups" mapstructure:"maxbackups"`
	MaxAgeDays int    `yaml:"maxagedays" mapstructure:"maxagedays"`
}

// TelemetrySettings controls opt-in crash and error reporting.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new
// Settings instance. An empty configPath falls back to the default search
// paths, creating a default config file on first run.
func Load(configPath string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configPath); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	applyPathDefaults(settings)

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper(configPath string) error {
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("INKWELL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configPath, err)
		}
		return nil
	}

	viper.SetConfigName("config")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create one with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first
// default config path and reads it back in.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded config file: %v", err)
	}
	return string(data)
}

// applyPathDefaults fills path settings whose defaults derive from other
// settings and therefore cannot live in setDefaultConfig.
func applyPathDefaults(settings *Settings) {
	if settings.Paths.DataDir == "" {
		settings.Paths.DataDir = DefaultDataDir()
	}
	dataDir := settings.Paths.DataDir
	if settings.Paths.TargetPath == "" {
		settings.Paths.TargetPath = filepath.Join(dataDir, "inkwell.db")
	}
	if settings.Paths.BackupDir == "" {
		settings.Paths.BackupDir = filepath.Join(dataDir, "migration_backups")
	}
	if settings.Paths.RecoveryDir == "" {
		settings.Paths.RecoveryDir = filepath.Join(dataDir, "recovery_points")
	}
	if settings.Paths.ReportDir == "" {
		settings.Paths.ReportDir = filepath.Join(dataDir, "migration_reports")
	}
	if settings.Logging.File == "" {
		settings.Logging.File = filepath.Join(dataDir, "migration.log")
	}
}

// RebasePaths points every profile-derived path at dataDir, discarding
// directory overrides read earlier. Flag handling uses it when --data-dir
// moves the profile after the config file was loaded.
func (s *Settings) RebasePaths(dataDir string) {
	s.Paths = PathsSettings{DataDir: dataDir, SearchDirs: s.Paths.SearchDirs}
	s.Logging.File = ""
	applyPathDefaults(s)
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(""); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}
