package downloads

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Unpacker starts extracting archive into destDir.
type Unpacker interface {
	Extract(ctx context.Context, archive, destDir string) (*Stream, error)
}

// PipelineConfig describes one install.
type PipelineConfig struct {
	// Source is a remote URI, or the local archive path when AlreadyDownloaded is set.
	Source            string
	DestDir           string
	AlreadyDownloaded bool
	// ScratchDir holds the downloaded archive until extraction finishes.
	ScratchDir string
	// MD5 is the expected hex digest of the archive. Empty skips the check.
	MD5 string
}

// InstallOption adjusts the config of a pipeline started by an Installer.
type InstallOption func(*PipelineConfig)

// WithMD5 verifies the archive against sum before extracting it.
func WithMD5(sum string) InstallOption {
	return func(cfg *PipelineConfig) {
		cfg.MD5 = sum
	}
}

// ArchivePath is where cfg's archive lives while the pipeline runs.
func (cfg PipelineConfig) ArchivePath() string {
	if cfg.AlreadyDownloaded {
		return cfg.Source
	}
	return filepath.Join(cfg.ScratchDir, FileFromURI(cfg.Source))
}

// Pipeline downloads an archive, extracts it and deletes it. Each phase has
// start, progress and finish hooks with the same replay rules as Stream.
// A failed phase fires OnError. An interrupted download keeps the partial
// archive so a retry can resume; an archive that fails verification or
// extraction is removed so a retry downloads it again.
type Pipeline struct {
	ID string

	cfg     PipelineConfig
	archive string

	fetcher  Fetcher
	unpacker Unpacker

	downloadStart  event
	downloadFinish event
	unpackStart    event
	unpackFinish   event
	failed         event

	mu               sync.Mutex
	downloadProgress []ProgressFunc
	unpackProgress   []ProgressFunc
	downloadDone     bool
	unpackDone       bool
	download         *Stream
	unpack           *Stream
	err              *StageError

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPipeline starts the pipeline in the background. With
// cfg.AlreadyDownloaded the fetcher is never used and extraction starts
// immediately from cfg.Source.
func NewPipeline(ctx context.Context, fetcher Fetcher, unpacker Unpacker, cfg PipelineConfig) *Pipeline {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		ID:       uuid.New().String(),
		cfg:      cfg,
		archive:  cfg.ArchivePath(),
		fetcher:  fetcher,
		unpacker: unpacker,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

func (p *Pipeline) Archive() string {
	return p.archive
}

func (p *Pipeline) DestDir() string {
	return p.cfg.DestDir
}

func (p *Pipeline) OnDownloadStart(fn func()) {
	p.downloadStart.register(fn)
}

func (p *Pipeline) OnDownloadProgress(fn ProgressFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.downloadDone {
		p.downloadProgress = append(p.downloadProgress, fn)
	}
}

func (p *Pipeline) OnDownloadFinish(fn func()) {
	p.downloadFinish.register(fn)
}

func (p *Pipeline) OnUnpackStart(fn func()) {
	p.unpackStart.register(fn)
}

func (p *Pipeline) OnUnpackProgress(fn ProgressFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.unpackDone {
		p.unpackProgress = append(p.unpackProgress, fn)
	}
}

// OnUnpackFinish fires after extraction completed and the archive was removed.
func (p *Pipeline) OnUnpackFinish(fn func()) {
	p.unpackFinish.register(fn)
}

// OnError registers fn for the phase failure, if one happens.
func (p *Pipeline) OnError(fn func(Stage, error)) {
	p.failed.register(func() {
		p.mu.Lock()
		stageErr := p.err
		p.mu.Unlock()
		fn(stageErr.Stage, stageErr.Err)
	})
}

func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the pipeline ends. Failures are *StageError.
func (p *Pipeline) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		return nil
	}
	return p.err
}

func (p *Pipeline) Cancel() {
	p.cancel()
}

// Streams returns the download and unpack streams started so far.
func (p *Pipeline) Streams() (download, unpack *Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.download, p.unpack
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.cancel()

	if !p.cfg.AlreadyDownloaded {
		if err := p.runDownload(ctx); err != nil {
			p.fail(StageDownload, err)
			return
		}
		p.downloadFinish.fire()
	}

	if err := verifyArchive(p.archive, p.cfg.MD5); err != nil {
		p.discardArchive()
		p.fail(StageVerify, err)
		return
	}

	if err := p.runUnpack(ctx); err != nil {
		if !interrupted(err) {
			p.discardArchive()
		}
		p.fail(StageUnpack, err)
		return
	}

	if err := os.Remove(p.archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("failed to remove archive %s: %v", p.archive, err)
	}
	p.unpackFinish.fire()
	close(p.done)
}

func (p *Pipeline) runDownload(ctx context.Context) error {
	s, err := p.fetcher.Download(ctx, p.cfg.Source, p.archive)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.download = s
	p.mu.Unlock()

	s.OnStart(func() { p.downloadStart.fire() })
	s.OnProgress(func(current, total, delta int64) {
		p.emit(&p.downloadProgress, current, total, delta)
	})
	err = s.Wait(context.Background())

	p.mu.Lock()
	p.downloadDone = true
	p.downloadProgress = nil
	p.mu.Unlock()
	return err
}

func (p *Pipeline) runUnpack(ctx context.Context) error {
	s, err := p.unpacker.Extract(ctx, p.archive, p.cfg.DestDir)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.unpack = s
	p.mu.Unlock()

	s.OnStart(func() { p.unpackStart.fire() })
	s.OnProgress(func(current, total, delta int64) {
		p.emit(&p.unpackProgress, current, total, delta)
	})
	err = s.Wait(context.Background())

	p.mu.Lock()
	p.unpackDone = true
	p.unpackProgress = nil
	p.mu.Unlock()
	return err
}

func (p *Pipeline) discardArchive() {
	if err := os.Remove(p.archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("failed to remove bad archive %s: %v", p.archive, err)
		return
	}
	log.Warnf("removed unusable archive %s", p.archive)
}

// interrupted reports whether err stopped a phase without saying anything
// about the archive contents.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrStalled) ||
		errors.Is(err, ErrTimedOut)
}

func verifyArchive(path, want string) error {
	if want == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive for verification: %w", err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: %s has md5 %s, want %s", ErrChecksumMismatch, filepath.Base(path), got, want)
	}
	return nil
}

func (p *Pipeline) emit(list *[]ProgressFunc, current, total, delta int64) {
	p.mu.Lock()
	fns := append([]ProgressFunc(nil), (*list)...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(current, total, delta)
	}
}

func (p *Pipeline) fail(stage Stage, err error) {
	p.mu.Lock()
	p.err = &StageError{Stage: stage, Err: err}
	p.downloadDone = true
	p.unpackDone = true
	p.downloadProgress = nil
	p.unpackProgress = nil
	p.mu.Unlock()

	log.Errorf("installation of %s into %s failed during %s: %v", p.cfg.Source, p.cfg.DestDir, stage, err)
	p.failed.fire()
	close(p.done)
}
