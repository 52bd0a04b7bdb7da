package downloads

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUnpackOpts = StreamOptions{Interval: 5 * time.Millisecond, StallTimeout: 5 * time.Second}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		want Format
	}{
		{"game_3.3.0.zip", FormatZip},
		{"GAME.ZIP", FormatZip},
		{"voice.7z", Format7z},
		{"dxvk-2.3.tar.gz", FormatTarGz},
		{"runner.tgz", FormatTarGz},
		{"wine-ge-8-26-x86_64.tar.xz", FormatTarXz},
		{"proton.tar.zst", FormatTarZst},
		{"plain.tar", FormatTar},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := DetectFormat("index.html")
	assert.ErrorIs(t, err, ErrUnsupportedArchive)
}

func TestExtractFormats(t *testing.T) {
	files := map[string]string{
		"dxvk-2.3/setup_dxvk.sh":  "#!/bin/sh\necho setup\n",
		"dxvk-2.3/x64/d3d11.dll":  "x64 dll",
		"dxvk-2.3/x32/dxgi.dll":   "x32 dll",
		"dxvk-2.3/deeper/a/b.txt": "b",
	}

	for _, format := range []Format{FormatZip, FormatTar, FormatTarGz, FormatTarXz, FormatTarZst} {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			archive := filepath.Join(dir, "archive."+string(format))
			if format == FormatZip {
				writeZip(t, archive, files)
			} else {
				writeTarball(t, archive, format, files)
			}
			dest := filepath.Join(dir, "out")

			s, err := NewExtractor(testUnpackOpts).Extract(context.Background(), archive, dest)
			require.NoError(t, err)
			require.NoError(t, s.Wait(context.Background()))

			for name, content := range files {
				assert.Equal(t, content, readFile(t, filepath.Join(dest, name)))
			}
			snap := s.Snapshot()
			assert.Equal(t, snap.Total, snap.Current)
			assert.Equal(t, "finished", snap.Phase)
		})
	}
}

func TestExtractOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "game")
	require.NoError(t, os.MkdirAll(dest, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "data.pak"), []byte("old old old"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "keep.pak"), []byte("keep"), 0644))

	archive := filepath.Join(dir, "diff.zip")
	writeZip(t, archive, map[string]string{"data.pak": "new"})

	s, err := NewExtractor(testUnpackOpts).Extract(context.Background(), archive, dest)
	require.NoError(t, err)
	require.NoError(t, s.Wait(context.Background()))

	assert.Equal(t, "new", readFile(t, filepath.Join(dest, "data.pak")))
	assert.Equal(t, "keep", readFile(t, filepath.Join(dest, "keep.pak")))
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	f, err := os.Create(archive)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("../../escape.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := filepath.Join(dir, "out")
	s, err := NewExtractor(testUnpackOpts).Extract(context.Background(), archive, dest)
	require.NoError(t, err)
	assert.Error(t, s.Wait(context.Background()))
	_, statErr := os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractTarSymlink(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "runner/bin/wine64", Mode: 0755, Size: 4, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("ELF!"))
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "runner/bin/wine", Linkname: "wine64", Typeflag: tar.TypeSymlink}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "runner/bin/evil", Linkname: "../../../etc/passwd", Typeflag: tar.TypeSymlink}))
	require.NoError(t, tw.Close())

	dir := t.TempDir()
	archive := filepath.Join(dir, "runner.tar")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0644))
	dest := filepath.Join(dir, "runners")

	s, err := NewExtractor(testUnpackOpts).Extract(context.Background(), archive, dest)
	require.NoError(t, err)
	err = s.Wait(context.Background())
	require.Error(t, err, "escaping symlink must fail extraction")

	link, err := os.Readlink(filepath.Join(dest, "runner", "bin", "wine"))
	require.NoError(t, err)
	assert.Equal(t, "wine64", link)
}

func TestExtractUnsupported(t *testing.T) {
	_, err := NewExtractor(testUnpackOpts).Extract(context.Background(), "/tmp/file.rar", t.TempDir())
	assert.ErrorIs(t, err, ErrUnsupportedArchive)
}

func TestEnsureWithinRoot(t *testing.T) {
	root := filepath.Join(string(os.PathSeparator), "data", "game")
	assert.NoError(t, ensureWithinRoot(root, root))
	assert.NoError(t, ensureWithinRoot(root, filepath.Join(root, "a", "b")))
	assert.Error(t, ensureWithinRoot(root, filepath.Join(root, "..", "other")))
	assert.Error(t, ensureWithinRoot(root, root+"-sibling"))
}
