package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultRetryAttempts is the number of times to retry a failed download.
	DefaultRetryAttempts = 3
	// DefaultBufferSize is the buffer size for file downloads.
	DefaultBufferSize = 32 * 1024 // 32KB
)

// Source fetches remote objects for one URI scheme.
type Source interface {
	// Size returns the object size in bytes, or 0 when unknown.
	Size(ctx context.Context, uri string) (int64, error)
	// Open reads the object starting at offset and returns the offset the
	// body really starts at.
	Open(ctx context.Context, uri string, offset int64) (io.ReadCloser, int64, error)
}

// Fetcher starts a download of uri into dest.
type Fetcher interface {
	Download(ctx context.Context, uri, dest string) (*Stream, error)
}

// DownloaderConfig configures a Downloader.
type DownloaderConfig struct {
	Stream        StreamOptions
	RetryAttempts int
	HTTP          *HTTPSource
	// S3 is optional; without it s3:// URIs are rejected.
	S3 *S3Source
	// SkipSpaceCheck disables the free-space check before downloading.
	SkipSpaceCheck bool
}

// Downloader turns URIs into Streams writing to local files. Interrupted
// downloads are retried with exponential backoff, resuming from the bytes
// already on disk.
type Downloader struct {
	sources    map[string]Source
	opts       StreamOptions
	retries    int
	checkSpace bool
}

func NewDownloader(cfg DownloaderConfig) *Downloader {
	httpSrc := cfg.HTTP
	if httpSrc == nil {
		httpSrc = &HTTPSource{}
	}
	d := &Downloader{
		sources: map[string]Source{
			"http":  httpSrc,
			"https": httpSrc,
		},
		opts:       cfg.Stream.withDefaults(DefaultDownloadInterval),
		retries:    cfg.RetryAttempts,
		checkSpace: !cfg.SkipSpaceCheck,
	}
	if d.retries <= 0 {
		d.retries = DefaultRetryAttempts
	}
	if cfg.S3 != nil {
		d.sources["s3"] = cfg.S3
	}
	return d
}

// Register adds or replaces the source used for scheme.
func (d *Downloader) Register(scheme string, src Source) {
	d.sources[strings.ToLower(scheme)] = src
}

func (d *Downloader) source(uri string) (Source, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid uri %q: %w", uri, err)
	}
	src, ok := d.sources[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return src, nil
}

// Download resolves the size of uri and starts writing it to dest. A partial
// file already at dest is resumed.
func (d *Downloader) Download(ctx context.Context, uri, dest string) (*Stream, error) {
	src, err := d.source(uri)
	if err != nil {
		return nil, err
	}
	total, err := src.Size(ctx, uri)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	var existing int64
	if stat, err := os.Stat(dest); err == nil {
		existing = stat.Size()
	}
	if d.checkSpace && total > existing {
		if err := ensureFreeSpace(ctx, filepath.Dir(dest), uint64(total-existing)); err != nil {
			return nil, err
		}
	}

	log.Infof("downloading %s to %s (%s)", uri, dest, humanize.IBytes(uint64(total)))

	work := func(ctx context.Context) error {
		return d.fetch(ctx, src, uri, dest, total)
	}
	measure := func() (int64, error) {
		stat, err := os.Stat(dest)
		if err != nil {
			return 0, err
		}
		return stat.Size(), nil
	}
	return NewStream(ctx, uri, dest, total, work, measure, d.opts), nil
}

func (d *Downloader) fetch(ctx context.Context, src Source, uri, dest string, total int64) error {
	attempt := 0
	op := func() error {
		attempt++
		err := copyFrom(ctx, src, uri, dest, total)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		log.Warnf("download attempt %d of %s failed: %v", attempt, uri, err)
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.retries-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		if attempt > 1 {
			return fmt.Errorf("download failed after %d attempts: %w", attempt, err)
		}
		return err
	}
	return nil
}

// copyFrom writes one attempt's worth of uri into dest, appending when the
// source honours the resume offset.
func copyFrom(ctx context.Context, src Source, uri, dest string, total int64) error {
	var existing int64
	if stat, err := os.Stat(dest); err == nil {
		existing = stat.Size()
	}
	if total > 0 && existing == total {
		return nil
	}
	if total > 0 && existing > total {
		existing = 0
	}

	body, offset, err := src.Open(ctx, uri, existing)
	if err != nil {
		return err
	}
	defer body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(dest, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}

	_, copyErr := io.CopyBuffer(out, body, make([]byte, DefaultBufferSize))
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to read response: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to write to file: %w", closeErr)
	}
	return nil
}

func isPermanent(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnsupportedScheme) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 400 && statusErr.Code < 500 &&
			statusErr.Code != http.StatusRequestTimeout &&
			statusErr.Code != http.StatusTooManyRequests
	}
	return false
}

func ensureFreeSpace(ctx context.Context, dir string, need uint64) error {
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		// Unknown free space should not block the download.
		log.Debugf("could not read free space of %s: %v", dir, err)
		return nil
	}
	if usage.Free < need {
		return fmt.Errorf("%w: need %s, %s free on %s", ErrInsufficientSpace,
			humanize.IBytes(need), humanize.IBytes(usage.Free), dir)
	}
	return nil
}

// FileFromURI returns the file name a URI downloads to: the last path
// segment with query and fragment removed, or index.html when there is none.
func FileFromURI(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" {
		uri = u.Path
	} else if i := strings.Index(uri, "://"); i >= 0 {
		uri = uri[i+3:]
		if j := strings.Index(uri, "/"); j >= 0 {
			uri = uri[j:]
		} else {
			uri = ""
		}
	}
	if uri == "" || strings.HasSuffix(uri, "/") {
		return "index.html"
	}
	name := path.Base(uri)
	if name == "." || name == "/" {
		return "index.html"
	}
	return name
}
