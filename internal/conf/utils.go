// conf/utils.go various util functions for the configuration package
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// OS name constants for runtime.GOOS comparisons.
const (
	osWindows = "windows"
	osDarwin  = "darwin"
)

// GetDefaultConfigPaths returns the default configuration paths for the
// current operating system. If a config.yaml is found in any of the paths,
// only that path is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			filepath.Join(homeDir, "AppData", "Roaming", "inkwell"),
		}
	case osDarwin:
		configPaths = []string{
			filepath.Join(homeDir, "Library", "Application Support", "inkwell"),
			filepath.Join(homeDir, ".config", "inkwell"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "inkwell"),
			"/etc/inkwell",
		}
	}

	// Config file found, return its path as the only default path
	for _, path := range configPaths {
		configFile := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFile); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// FindConfigFile locates the configuration file in the default paths.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", fmt.Errorf("config file not found in %v", configPaths)
}

// DefaultDataDir returns the platform default Inkwell profile directory,
// the place the desktop app keeps conversations.db and knowledge.db.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	switch runtime.GOOS {
	case osWindows:
		return filepath.Join(homeDir, "AppData", "Roaming", "Inkwell")
	case osDarwin:
		return filepath.Join(homeDir, "Library", "Application Support", "Inkwell")
	default:
		return filepath.Join(homeDir, ".local", "share", "inkwell")
	}
}

// GetBasePath expands environment variables in the given path and ensures
// the resulting directory exists.
func GetBasePath(path string) string {
	expandedPath := os.ExpandEnv(path)

	basePath := filepath.Clean(expandedPath)
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		fmt.Printf("error creating directory %s: %v\n", basePath, err)
	}

	return basePath
}
