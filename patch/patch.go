// Package patch tracks the community compatibility patch for the installed
// game version.
package patch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/stevecastle/gamelauncher/downloads"
	"github.com/stevecastle/gamelauncher/game"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultIndexTTL = 5 * time.Minute

	indexKey = "index"
)

// Phase is the lifecycle stage the patch maintainers report.
type Phase string

const (
	PhasePreparation Phase = "preparation"
	PhaseTesting     Phase = "testing"
	PhaseStable      Phase = "stable"
)

var ErrNotReleased = errors.New("patch not released")

// Entry is one version in the remote index. Files maps game relative paths
// to the MD5 they have once the patch is applied.
type Entry struct {
	Version string            `yaml:"version"`
	State   Phase             `yaml:"state"`
	URI     string            `yaml:"uri"`
	Files   map[string]string `yaml:"files"`
}

type Index struct {
	Patches []Entry `yaml:"patches"`
}

// Find returns the entry for a game version.
func (i Index) Find(version string) (Entry, bool) {
	for _, e := range i.Patches {
		if game.SameVersion(e.Version, version) {
			return e, true
		}
	}
	return Entry{}, false
}

// Patch is the patch status for one game version.
type Patch struct {
	Entry
	Applied bool
}

type Options struct {
	GameDir  string
	IndexURL string
	Client   *http.Client
	Timeout  time.Duration
	TTL      time.Duration
}

type Provider struct {
	opts  Options
	memo  *gocache.Cache
	index func(ctx context.Context) (Index, error)
}

func NewProvider(opts Options) *Provider {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultIndexTTL
	}
	p := &Provider{opts: opts, memo: gocache.New(opts.TTL, 2*opts.TTL)}
	p.index = p.fetchIndex
	return p
}

// Latest returns the patch for gameVersion. A version missing from the index
// is reported as still in preparation.
func (p *Provider) Latest(ctx context.Context, gameVersion string) (*Patch, error) {
	idx, err := p.Index(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := idx.Find(gameVersion)
	if !ok {
		return &Patch{Entry: Entry{Version: gameVersion, State: PhasePreparation}}, nil
	}
	if e.State == "" {
		e.State = PhasePreparation
	}
	if e.State != PhasePreparation && len(e.Files) == 0 {
		log.WithFields(log.Fields{"version": e.Version, "state": e.State}).
			Warn("patch entry lists no files and can never be reported as applied")
	}
	applied, err := p.applied(ctx, e)
	if err != nil {
		return nil, err
	}
	return &Patch{Entry: e, Applied: applied}, nil
}

// Index returns the remote index, memoised for the configured TTL.
func (p *Provider) Index(ctx context.Context) (Index, error) {
	if v, ok := p.memo.Get(indexKey); ok {
		return v.(Index), nil
	}
	idx, err := p.index(ctx)
	if err != nil {
		return Index{}, err
	}
	p.memo.SetDefault(indexKey, idx)
	return idx, nil
}

func (p *Provider) fetchIndex(ctx context.Context) (Index, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.IndexURL, nil)
	if err != nil {
		return Index{}, err
	}
	resp, err := p.opts.Client.Do(req)
	if err != nil {
		return Index{}, fmt.Errorf("%w: patch index: %v", game.ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Index{}, fmt.Errorf("%w: patch index: status %d", game.ErrRemoteUnreachable, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Index{}, fmt.Errorf("%w: patch index: %v", game.ErrRemoteUnreachable, err)
	}

	var idx Index
	if err := yaml.Unmarshal(raw, &idx); err != nil {
		return Index{}, fmt.Errorf("failed to parse patch index: %w", err)
	}
	return idx, nil
}

// applied reports whether every patched file matches its listed hash. An
// entry without files has nothing to verify and is never applied.
func (p *Provider) applied(ctx context.Context, e Entry) (bool, error) {
	if len(e.Files) == 0 {
		return false, nil
	}
	matches := make(chan bool, len(e.Files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for rel, want := range e.Files {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sum, err := fileMD5(filepath.Join(p.opts.GameDir, filepath.FromSlash(rel)))
			if errors.Is(err, fs.ErrNotExist) {
				matches <- false
				return nil
			}
			if err != nil {
				return err
			}
			matches <- strings.EqualFold(sum, want)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	close(matches)
	for ok := range matches {
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Apply unpacks the patch archive over the game directory.
func (p *Provider) Apply(ctx context.Context, installer downloads.Installer, patch *Patch) (*downloads.Pipeline, error) {
	if patch == nil || patch.State == PhasePreparation || patch.URI == "" {
		return nil, ErrNotReleased
	}
	if patch.State == PhaseTesting {
		log.Warnf("applying patch %s that is still in testing", patch.Version)
	}
	return installer.Install(ctx, "patch "+patch.Version, patch.URI, p.opts.GameDir, false)
}

// Forget drops the memoised index.
func (p *Provider) Forget() {
	p.memo.Flush()
}
