package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSettings map[string]string

func (m mapSettings) GetString(key string) string { return m[key] }

func (m mapSettings) SetValue(key string, value any) error {
	m[key] = value.(string)
	return nil
}

const testCatalogue = `
- title: Wine-GE
  runners:
    - name: ge-8
      title: GE 8
      uri: https://example.com/ge-8.tar.xz
      recommended: true
      files: {wine: bin/wine, wine64: bin/wine64, wineserver: bin/wineserver}
    - name: ge-7
      title: GE 7
      uri: https://example.com/ge-7.tar.xz
      recommended: false
- title: Lutris
  runners:
    - name: lutris-7
      title: Lutris 7
      uri: https://example.com/lutris-7.tar.xz
      recommended: true
`

func TestListMarksInstalledDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ge-7"), 0755))
	// a plain file does not count as an installed runner
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lutris-7"), []byte("x"), 0644))

	p := NewProvider(dir, mapSettings{}, []byte(testCatalogue))
	families, err := p.List(context.Background())
	require.NoError(t, err)
	require.Len(t, families, 2)

	installed := map[string]bool{}
	for _, f := range families {
		for _, r := range f.Runners {
			installed[r.Name] = r.Installed
		}
	}
	assert.Equal(t, map[string]bool{"ge-8": false, "ge-7": true, "lutris-7": false}, installed)
}

func TestCurrentAndSelect(t *testing.T) {
	settings := mapSettings{}
	p := NewProvider(t.TempDir(), settings, []byte(testCatalogue))
	ctx := context.Background()

	cur, err := p.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	require.NoError(t, p.Select(ctx, "ge-7"))
	assert.Equal(t, "ge-7", settings[ConfigKey])

	cur, err = p.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "GE 7", cur.Title)

	settings[ConfigKey] = "removed-runner"
	cur, err = p.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestRecommended(t *testing.T) {
	p := NewProvider(t.TempDir(), mapSettings{}, []byte(testCatalogue))
	r, err := p.Recommended(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ge-8", r.Name)

	p = NewProvider(t.TempDir(), mapSettings{}, []byte("- title: empty\n  runners: []\n"))
	_, err = p.Recommended(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBinaryPaths(t *testing.T) {
	p := NewProvider("/data/runners", mapSettings{}, []byte(testCatalogue))
	r, err := p.Get(context.Background(), "ge-8")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/runners", "ge-8", "bin", "wine64"), p.Binary(*r, r.Files.Wine64))

	_, err = p.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBundledCatalogueParses(t *testing.T) {
	p := NewProvider(t.TempDir(), mapSettings{}, nil)
	families, err := p.List(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, families)

	r, err := p.Recommended(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, r.URI)
	assert.NotEmpty(t, r.Files.Wine64)
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ge-8", "bin"), 0755))
	p := NewProvider(dir, mapSettings{}, []byte(testCatalogue))

	require.NoError(t, p.Delete(Runner{Name: "ge-8"}))
	_, err := os.Stat(filepath.Join(dir, "ge-8"))
	assert.True(t, os.IsNotExist(err))
}
