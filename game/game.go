// Package game reports the installed and remote game versions and prepares
// full, diff and predownloaded installs.
package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/stevecastle/gamelauncher/downloads"
)

const (
	versionFile = "globalgamemanagers"

	// PredownloadArchive is the predownloaded update inside the launcher dir.
	PredownloadArchive = "game-predownloaded.zip"

	// maxVersionScan bounds how much of globalgamemanagers is searched.
	maxVersionScan = 16 << 20
)

var (
	// ErrNoPredownload is returned when the remote has no predownload window
	// or no archive for the requested version.
	ErrNoPredownload = errors.New("no predownload available")

	versionPattern = regexp.MustCompile(`(\d+\.\d+\.\d+)_\d+_\d+`)
)

// SameVersion compares versions semantically, falling back to string
// equality when either does not parse.
func SameVersion(a, b string) bool {
	va, erra := version.NewVersion(a)
	vb, errb := version.NewVersion(b)
	if erra != nil || errb != nil {
		return a == b
	}
	return va.Equal(vb)
}

// VersionDiff moves an installation from From to To. DeletedFiles is filled
// once the deletion manifest has been applied.
type VersionDiff struct {
	From         string
	To           string
	ArchiveURI   string
	ArchiveName  string
	MD5          string
	VoicePacks   []VoicePack
	DeletedFiles []string
}

// Source is where an install or update comes from.
type Source struct {
	URI               string
	AlreadyDownloaded bool
	Version           string
	// MD5 is the archive digest from the metadata, empty when unknown.
	MD5 string
	// Diff is nil for full installs and predownloaded archives.
	Diff *VersionDiff
}

type Options struct {
	GameDir     string
	DataDir     string // relative to GameDir, e.g. "Game_Data"
	LauncherDir string
	Metadata    Metadata
}

type Provider struct {
	opts Options
}

func NewProvider(opts Options) *Provider {
	return &Provider{opts: opts}
}

func (p *Provider) GameDir() string {
	return p.opts.GameDir
}

// DataDir is the absolute game data directory.
func (p *Provider) DataDir() string {
	return filepath.Join(p.opts.GameDir, p.opts.DataDir)
}

// PredownloadPath is where a predownloaded update is kept.
func (p *Provider) PredownloadPath() string {
	return filepath.Join(p.opts.LauncherDir, PredownloadArchive)
}

// Current returns the installed version, or "" when the game is not
// installed or its version file is unreadable.
func (p *Provider) Current(ctx context.Context) (string, error) {
	path := filepath.Join(p.DataDir(), versionFile)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxVersionScan))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	m := versionPattern.FindSubmatch(data)
	if m == nil {
		log.Warnf("no version found in %s, treating game as not installed", path)
		return "", nil
	}
	return string(m[1]), nil
}

// Latest returns the remote metadata document.
func (p *Provider) Latest(ctx context.Context) (*Data, error) {
	return p.opts.Metadata.Latest(ctx)
}

// Diff returns the diff from version from to the latest version, or nil
// when the remote offers none.
func (p *Provider) Diff(ctx context.Context, from string) (*VersionDiff, error) {
	data, err := p.Latest(ctx)
	if err != nil {
		return nil, err
	}
	d, ok := data.Game.DiffFrom(from)
	if !ok {
		return nil, nil
	}
	return &VersionDiff{
		From:        from,
		To:          data.Game.Latest.Version,
		ArchiveURI:  d.Path,
		ArchiveName: downloads.FileFromURI(d.Path),
		MD5:         d.MD5,
		VoicePacks:  d.VoicePacks,
	}, nil
}

// UpdateSource picks how to move from version from (empty when not
// installed) to the latest: a predownloaded archive, then a diff, then the
// full archive.
func (p *Provider) UpdateSource(ctx context.Context, from string) (Source, error) {
	data, err := p.Latest(ctx)
	if err != nil {
		return Source{}, err
	}
	latest := data.Game.Latest.Version

	if ok, _ := p.IsUpdatePredownloaded(ctx); ok {
		log.Infof("using predownloaded update %s", p.PredownloadPath())
		return Source{URI: p.PredownloadPath(), AlreadyDownloaded: true, Version: latest}, nil
	}
	if from != "" {
		diff, err := p.Diff(ctx, from)
		if err != nil {
			return Source{}, err
		}
		if diff != nil {
			return Source{URI: diff.ArchiveURI, Version: latest, MD5: diff.MD5, Diff: diff}, nil
		}
		log.Infof("no diff from %s to %s, installing the full archive", from, latest)
	}
	return Source{URI: data.Game.Latest.Path, Version: latest, MD5: data.Game.Latest.MD5}, nil
}

// Install starts a pipeline unpacking src over the game directory.
func (p *Provider) Install(ctx context.Context, installer downloads.Installer, src Source) (*downloads.Pipeline, error) {
	if err := os.MkdirAll(p.opts.GameDir, 0755); err != nil {
		return nil, err
	}
	return installer.Install(ctx, "game "+src.Version, src.URI, p.opts.GameDir, src.AlreadyDownloaded, downloads.WithMD5(src.MD5))
}

// IsUpdatePredownloaded reports whether a predownloaded update archive exists.
func (p *Provider) IsUpdatePredownloaded(ctx context.Context) (bool, error) {
	return fileExists(p.PredownloadPath())
}

// Predownload fetches the upcoming version ahead of its release. from is
// the installed version; the matching predownload diff is preferred over
// the full archive.
func (p *Provider) Predownload(ctx context.Context, fetcher downloads.Fetcher, from string) (*downloads.Stream, error) {
	data, err := p.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if data.PreDownloadGame == nil {
		return nil, ErrNoPredownload
	}
	uri := data.PreDownloadGame.Latest.Path
	if d, ok := data.PreDownloadGame.DiffFrom(from); ok && from != "" {
		uri = d.Path
	}
	if uri == "" {
		return nil, ErrNoPredownload
	}
	return FetchPredownload(ctx, fetcher, uri, p.PredownloadPath())
}

// FetchPredownload fetches uri into dest+".part" and renames it once
// complete, so a partial file is never mistaken for a finished predownload.
func FetchPredownload(ctx context.Context, fetcher downloads.Fetcher, uri, dest string) (*downloads.Stream, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, err
	}
	part := dest + ".part"
	s, err := fetcher.Download(ctx, uri, part)
	if err != nil {
		return nil, err
	}
	s.OnFinish(func() {
		if err := os.Rename(part, dest); err != nil {
			log.Errorf("failed to finalise predownload %s: %v", dest, err)
		}
	})
	return s, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
