package downloads

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/bodgit/sevenzip"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/stevecastle/gamelauncher/platform"
)

// Format is an archive container/compression pair.
type Format string

const (
	FormatZip    Format = "zip"
	Format7z     Format = "7z"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarXz  Format = "tar.xz"
	FormatTarZst Format = "tar.zst"
)

// DetectFormat picks the archive format from a file name.
func DetectFormat(name string) (Format, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(lower, ".7z"):
		return Format7z, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(name))
}

// Extractor unpacks archives in-process and reports progress through a Stream.
type Extractor struct {
	opts StreamOptions
}

func NewExtractor(opts StreamOptions) *Extractor {
	return &Extractor{opts: opts.withDefaults(DefaultUnpackInterval)}
}

// Extract starts unpacking archive into destDir. For zip and 7z archives
// progress counts uncompressed bytes written; for tarballs it counts
// compressed bytes consumed from the archive file.
func (e *Extractor) Extract(ctx context.Context, archive, destDir string) (*Stream, error) {
	format, err := DetectFormat(archive)
	if err != nil {
		return nil, err
	}
	total, err := archiveTotal(format, archive)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	log.Infof("extracting %s into %s", archive, destDir)

	var counter atomic.Int64
	x := &extraction{root: destDir, counter: &counter}
	work := func(ctx context.Context) error {
		return x.run(ctx, format, archive)
	}
	measure := func() (int64, error) {
		return counter.Load(), nil
	}
	return NewStream(ctx, archive, destDir, total, work, measure, e.opts), nil
}

// archiveTotal is the value progress reaches when extraction completes.
func archiveTotal(format Format, archive string) (int64, error) {
	switch format {
	case FormatZip:
		r, err := zip.OpenReader(archive)
		if err != nil {
			return 0, fmt.Errorf("failed to open zip archive: %w", err)
		}
		defer r.Close()
		var total int64
		for _, f := range r.File {
			total += int64(f.UncompressedSize64)
		}
		return total, nil
	case Format7z:
		r, err := sevenzip.OpenReader(archive)
		if err != nil {
			return 0, fmt.Errorf("failed to open 7z archive: %w", err)
		}
		defer r.Close()
		var total int64
		for _, f := range r.File {
			if !f.FileInfo().IsDir() {
				total += f.FileInfo().Size()
			}
		}
		return total, nil
	default:
		stat, err := os.Stat(archive)
		if err != nil {
			return 0, fmt.Errorf("failed to open archive: %w", err)
		}
		return stat.Size(), nil
	}
}

type extraction struct {
	root    string
	counter *atomic.Int64
}

func (x *extraction) run(ctx context.Context, format Format, archive string) error {
	switch format {
	case FormatZip:
		return x.zip(ctx, archive)
	case Format7z:
		return x.sevenZip(ctx, archive)
	default:
		return x.tarball(ctx, format, archive)
	}
}

func (x *extraction) zip(ctx context.Context, archive string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer r.Close()

	for _, file := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := x.zipEntry(file); err != nil {
			return err
		}
	}
	return nil
}

func (x *extraction) zipEntry(file *zip.File) error {
	target, err := x.target(file.Name)
	if err != nil || target == "" {
		return err
	}
	mode := file.Mode()
	if mode.IsDir() {
		return os.MkdirAll(target, 0755)
	}

	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s in archive: %w", file.Name, err)
	}
	defer rc.Close()

	if mode&os.ModeSymlink != 0 {
		link, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("failed to read link %s: %w", file.Name, err)
		}
		x.counter.Add(int64(len(link)))
		return x.symlink(string(link), target)
	}
	return x.writeFile(target, mode, rc, true)
}

func (x *extraction) sevenZip(ctx context.Context, archive string) error {
	r, err := sevenzip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open 7z archive: %w", err)
	}
	defer r.Close()

	for _, file := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := x.target(file.Name)
		if err != nil {
			return err
		}
		if target == "" {
			continue
		}
		info := file.FileInfo()
		if info.IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}
		if err := x.sevenZipEntry(file, target, info.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func (x *extraction) sevenZipEntry(file *sevenzip.File, target string, mode fs.FileMode) error {
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s in archive: %w", file.Name, err)
	}
	defer rc.Close()
	return x.writeFile(target, mode, rc, true)
}

func (x *extraction) tarball(ctx context.Context, format Format, archive string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	raw := &countingReader{r: f, counter: x.counter}
	var r io.Reader = raw
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(raw)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	case FormatTarXz:
		xzr, err := xz.NewReader(raw)
		if err != nil {
			return fmt.Errorf("failed to create xz reader: %w", err)
		}
		r = xzr
	case FormatTarZst:
		zr, err := zstd.NewReader(raw, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if err := x.tarEntry(tr, header); err != nil {
			return err
		}
	}

	// Trailing padding after the end-of-archive marker still counts as consumed.
	if _, err := io.Copy(io.Discard, raw); err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	return nil
}

func (x *extraction) tarEntry(tr *tar.Reader, header *tar.Header) error {
	target, err := x.target(header.Name)
	if err != nil || target == "" {
		return err
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	case tar.TypeReg:
		return x.writeFile(target, header.FileInfo().Mode(), tr, false)
	case tar.TypeSymlink:
		return x.symlink(header.Linkname, target)
	case tar.TypeLink:
		source, err := x.target(header.Linkname)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		os.Remove(target)
		if err := os.Link(source, target); err != nil {
			return fmt.Errorf("failed to link %s: %w", header.Name, err)
		}
	default:
		log.Debugf("skipping tar entry %s of type %c", header.Name, header.Typeflag)
	}
	return nil
}

// target maps an archive entry name to a path under the extraction root.
// An empty result means the entry is the root itself.
func (x *extraction) target(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	clean = strings.TrimPrefix(clean, "./")
	if clean == "." || clean == "" || clean == "/" {
		return "", nil
	}
	target := filepath.Join(x.root, filepath.FromSlash(clean))
	if err := ensureWithinRoot(x.root, target); err != nil {
		return "", err
	}
	return target, nil
}

// writeFile copies r to target. countWrites is false when progress is
// already counted on the compressed side.
func (x *extraction) writeFile(target string, mode fs.FileMode, r io.Reader, countWrites bool) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	// Replace links so writes never follow them out of the tree.
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		os.Remove(target)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	w := io.Writer(out)
	if countWrites {
		w = &countingWriter{w: out, counter: x.counter}
	}
	if _, err := io.Copy(w, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to extract %s: %w", target, err)
	}

	if mode&0111 != 0 {
		if err := platform.EnsureExecutable(target); err != nil {
			log.Debugf("could not mark %s executable: %v", target, err)
		}
	}
	return nil
}

func (x *extraction) symlink(link, target string) error {
	resolved := link
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(target), link)
	}
	if err := ensureWithinRoot(x.root, resolved); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	os.Remove(target)
	if err := os.Symlink(link, target); err != nil {
		return fmt.Errorf("failed to symlink %s: %w", target, err)
	}
	return nil
}

func ensureWithinRoot(root, target string) error {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if target == root {
		return nil
	}
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return fmt.Errorf("illegal path %s outside %s", target, root)
	}
	return nil
}

type countingReader struct {
	r       io.Reader
	counter *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.counter.Add(int64(n))
	return n, err
}

type countingWriter struct {
	w       io.Writer
	counter *atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.counter.Add(int64(n))
	return n, err
}
