//go:build windows
// +build windows

package platform

import (
	"os"
	"path/filepath"
)

func getDataDir() string {
	if dir := os.Getenv("APPDATA"); dir != "" {
		return filepath.Join(dir, AppDisplayName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "."+AppName)
}

// Downloads and unpacked archives share the data directory on Windows.
func getCacheDir() string {
	return filepath.Join(getDataDir(), "cache")
}

// Executability follows the file extension.
func ensureExecutable(string) error {
	return nil
}
