package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the paths jt uses when nothing else is configured.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - JT_CONFIG_PATH: config file location (default: ~/.config/jt.toml)
//   - JT_HOME: base directory for jt data (default: ~/.local/share/jt)
func GetDefaults() (Defaults, error) {
	configPath, err := fromEnvOrHome("JT_CONFIG_PATH", ".config", "jt.toml")
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := fromEnvOrHome("JT_HOME", ".local", "share", "jt")
	if err != nil {
		return Defaults{}, err
	}
	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// fromEnvOrHome returns the env var when set, else the path under the
// user's home directory.
func fromEnvOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
