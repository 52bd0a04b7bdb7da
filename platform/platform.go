// Package platform provides cross-platform utilities for directory paths,
// binary extensions, and OS-specific operations.
package platform

import (
	"os"
	"path/filepath"

	"github.com/pkg/browser"
)

// AppName is the application name used for directory naming
const AppName = "game-launcher"

// AppDisplayName is the display name used on Windows and macOS
const AppDisplayName = "Game Launcher"

// GetDataDir returns the application data directory.
// Windows: %APPDATA%\Game Launcher
// Linux: ~/.local/share/game-launcher
// Falls back to ~/.game-launcher if no home-relative location is available.
func GetDataDir() string {
	return getDataDir()
}

// GetCacheDir returns the cache directory for the remote listing cache.
// Windows: %APPDATA%\Game Launcher\cache
// Linux: ~/.cache/game-launcher
func GetCacheDir() string {
	return getCacheDir()
}

// LauncherDir is the scratch directory where archives are downloaded
// before extraction and where predownloaded updates are kept.
func LauncherDir() string {
	return filepath.Join(GetDataDir(), "launcher")
}

// RunnersDir holds one directory per installed runner.
func RunnersDir() string {
	return filepath.Join(GetDataDir(), "runners")
}

// DXVKsDir holds one dxvk-<version> directory per installed DXVK build.
func DXVKsDir() string {
	return filepath.Join(GetDataDir(), "dxvks")
}

// GameDir is the default game installation directory.
func GameDir() string {
	return filepath.Join(GetDataDir(), "game", "drive_c", "Program Files", "Game")
}

// PrefixDir is the default wine prefix.
func PrefixDir() string {
	return filepath.Join(GetDataDir(), "game")
}

// LogPath is the default launcher log file.
func LogPath() string {
	return filepath.Join(GetCacheDir(), "launcher.log")
}

// OpenPath opens a file or directory with the default application.
func OpenPath(path string) error {
	return browser.OpenFile(path)
}

// EnsureExecutable ensures a file has executable permissions.
// On Windows, this is a no-op.
// On Linux, this sets the executable bit.
func EnsureExecutable(path string) error {
	return ensureExecutable(path)
}

// EnsureDirs creates the given directories, or the default launcher,
// runners, dxvks and cache directories when none are given.
func EnsureDirs(dirs ...string) error {
	if len(dirs) == 0 {
		dirs = []string{LauncherDir(), RunnersDir(), DXVKsDir(), GetCacheDir()}
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
