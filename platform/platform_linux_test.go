//go:build linux

package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXDGDirs(t *testing.T) {
	data := t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)
	t.Setenv("XDG_CACHE_HOME", "relative/cache")
	t.Setenv("HOME", "/home/player")

	assert.Equal(t, filepath.Join(data, AppName), GetDataDir())
	assert.Equal(t, filepath.Join("/home/player", ".cache", AppName), GetCacheDir())
	assert.Equal(t, filepath.Join(data, AppName, "runners"), RunnersDir())
}

func TestEnsureExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wine")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))

	require.NoError(t, EnsureExecutable(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}
