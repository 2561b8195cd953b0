package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	ConfigPathEnvKey = "HSAJ_CONFIG_PATH"
	HomeEnvKey       = "HSAJ_HOME"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - HSAJ_CONFIG_PATH: config file location (default: ~/.config/hsaj.toml)
//   - HSAJ_HOME: base directory for hsaj data (default: ~/.local/share/hsaj)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv(ConfigPathEnvKey); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "hsaj.toml"), nil
}

// getBaseDir falls back to the XDG data location.
func getBaseDir() (string, error) {
	if path := os.Getenv(HomeEnvKey); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "hsaj"), nil
}
