//go:build linux
// +build linux

package platform

import (
	"os"
	"path/filepath"
)

func getDataDir() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

func getCacheDir() string {
	return xdgDir("XDG_CACHE_HOME", ".cache")
}

// xdgDir resolves an XDG base directory for the launcher, falling back to
// the home-relative default when the variable is unset or relative.
func xdgDir(env string, fallback ...string) string {
	if base := os.Getenv(env); filepath.IsAbs(base) {
		return filepath.Join(base, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append(append([]string{home}, fallback...), AppName)...)
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode()|0o111)
}
