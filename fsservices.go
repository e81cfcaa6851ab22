package main

import (
	"os"
	"path/filepath"
)

const appName = "deliverymap"

// fileExists reports whether the given path exists and is a file (not a directory).
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// xdgDir returns $<env> or falls back to $HOME/<fallback...>.
func xdgDir(env string, fallback ...string) string {
	if d := os.Getenv(env); d != "" {
		return d
	}
	home := os.Getenv("HOME")
	if home == "" {
		// Last resort: current working directory
		cwd, _ := os.Getwd()
		home = cwd
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

// xdgConfigDir returns $XDG_CONFIG_HOME or falls back to $HOME/.config.
func xdgConfigDir() string { return xdgDir("XDG_CONFIG_HOME", ".config") }

// xdgCacheDir returns $XDG_CACHE_HOME or falls back to $HOME/.cache.
func xdgCacheDir() string { return xdgDir("XDG_CACHE_HOME", ".cache") }

// xdgDataDir returns $XDG_DATA_HOME or falls back to $HOME/.local/share.
func xdgDataDir() string { return xdgDir("XDG_DATA_HOME", ".local", "share") }

// ensureDir creates the directory and any necessary parents if it doesn't exist.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// snapshotDBPath is the SQLite file holding the point and route snapshots.
func snapshotDBPath(cfg Config) string {
	return filepath.Join(cfg.DataDir, appName+".sqlite")
}

// geocodeCachePath is the SQLite file caching address lookups.
func geocodeCachePath(cfg Config) string {
	return filepath.Join(cfg.CacheDir, "geocode.sqlite")
}

// dotenvPath is the optional .env file read at startup.
func dotenvPath(configDir string) string {
	return filepath.Join(configDir, ".env")
}
