package prefix

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevecastle/gamelauncher/process"
)

func TestExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Exists(dir))
	assert.False(t, Exists(filepath.Join(dir, "missing")))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "system.reg"), nil, 0644))
	assert.True(t, Exists(dir))
}

func TestCreateRunsWineboot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pfx")
	var got process.Command
	c := NewCreator("/r/bin/wine64", "/r/bin/wineserver")
	c.run = func(_ context.Context, cmd process.Command) (process.Result, error) {
		got = cmd
		return process.Result{}, os.WriteFile(filepath.Join(cmd.Env["WINEPREFIX"], "system.reg"), nil, 0644)
	}

	require.NoError(t, c.Create(context.Background(), dir))
	assert.Equal(t, "/r/bin/wine64", got.Path)
	assert.Equal(t, []string{"wineboot", "-i"}, got.Args)
	assert.Equal(t, dir, got.Env["WINEPREFIX"])
	assert.True(t, Exists(dir))

	// existing prefix: wineboot is not run again
	got = process.Command{}
	require.NoError(t, c.Create(context.Background(), dir))
	assert.Empty(t, got.Path)
}

func TestCreateFailures(t *testing.T) {
	c := NewCreator("/r/bin/wine64", "/r/bin/wineserver")
	c.run = func(context.Context, process.Command) (process.Result, error) {
		return process.Result{ExitCode: 1}, errors.New("exit status 1")
	}
	assert.Error(t, c.Create(context.Background(), t.TempDir()))

	c.run = func(context.Context, process.Command) (process.Result, error) {
		return process.Result{}, nil
	}
	assert.Error(t, c.Create(context.Background(), t.TempDir()), "prefix without system.reg")
}
