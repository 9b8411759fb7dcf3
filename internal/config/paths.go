package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// This file centralizes all path-related helpers for the config package.
// It standardizes where the launcher stores state (persisted app data
// markers, trusted-ref cache) so other packages can rely on a single
// source of truth.

const (
	launchdConfigName = "config"
	launchdConfigType = "yml"
	launchdConfigPath = "sandboxrt/launchd"

	LAUNCHD_STATE_DIR_ENV = "LAUNCHD_STATE_DIR"
)

// ConfigDir returns the base application config directory.
// If the LAUNCHD_STATE_DIR environment variable is set, its value is used as
// the base before appending sandboxrt/launchd. Otherwise, the defaults are:
// - macOS:   ~/Library/Application Support/sandboxrt/launchd
// - Linux:   ~/.config/sandboxrt/launchd
// - Windows: %AppData%\sandboxrt\launchd
func ConfigDir() (string, error) {
	dir := os.Getenv(LAUNCHD_STATE_DIR_ENV)
	if dir != "" {
		return filepath.Join(dir, launchdConfigPath), nil
	}

	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to retrieve user config directory: %w", err)
	}

	return filepath.Join(userConfigDir, launchdConfigPath), nil
}

// createConfigDir ensures the application config directory exists and returns its path.
func createConfigDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return dir, nil
}

// ConfigFilePath returns the absolute path to the main launcher config file (e.g., config.yml),
// without creating any directories.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("%s.%s", launchdConfigName, launchdConfigType)), nil
}

// CacheDir returns the base user cache directory for the launcher, used as
// the fallback location for the content-addressed ld.so.cache when an app
// has no per-app data directory of its own.
func CacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to retrieve user cache directory: %w", err)
	}
	return filepath.Join(userCacheDir, launchdConfigPath), nil
}
