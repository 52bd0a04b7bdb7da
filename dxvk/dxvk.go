// Package dxvk lists DXVK builds, tracks the selected one and applies it to a
// wine prefix.
package dxvk

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/stevecastle/gamelauncher/cache"
	"github.com/stevecastle/gamelauncher/downloads"
	"github.com/stevecastle/gamelauncher/process"
)

//go:embed dxvks.yaml
var bundled []byte

const (
	// ConfigKey is the configuration key holding the selected DXVK version.
	ConfigKey = "dxvk"

	// CacheKey is the cache entry holding the last fetched remote listing.
	CacheKey = "dxvk.list.remote"

	DefaultCacheTTL     = 24 * time.Hour
	DefaultFetchTimeout = 1500 * time.Millisecond
)

var ErrNotFound = errors.New("dxvk not found")

// Settings is the key-path configuration the provider persists its selection in.
type Settings interface {
	GetString(key string) string
	SetValue(key string, value any) error
}

// DXVK is one installable build. Installed is computed on every listing.
type DXVK struct {
	Version     string `yaml:"version"`
	URI         string `yaml:"uri"`
	Recommended bool   `yaml:"recommended"`

	Installed bool `yaml:"-"`
}

// DirName is the directory the build unpacks into.
func (d DXVK) DirName() string {
	return "dxvk-" + d.Version
}

// Options configure a Provider.
type Options struct {
	Dir      string
	Settings Settings
	// Cache holds the remote listing between runs. Nil disables caching.
	Cache *cache.Store
	// RemoteURL is the YAML listing. Empty uses the bundled list only.
	RemoteURL    string
	Client       *http.Client
	FetchTimeout time.Duration
	CacheTTL     time.Duration
	// Bundled overrides the embedded fallback listing.
	Bundled []byte
}

// Provider answers DXVK status questions for one dxvks directory. It owns
// its remote-list cache; there is no shared state between providers.
type Provider struct {
	opts Options
	run  func(context.Context, process.Command) (process.Result, error)

	mu     sync.Mutex
	parsed *parsedList
}

// parsedList memoises the parse of the cached listing.
type parsedList struct {
	length int64
	list   []DXVK
}

func NewProvider(opts Options) *Provider {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Bundled == nil {
		opts.Bundled = bundled
	}
	return &Provider{opts: opts, run: process.Run}
}

// Dir is the dxvks root.
func (p *Provider) Dir() string {
	return p.opts.Dir
}

// Path is the install directory of d.
func (p *Provider) Path(d DXVK) string {
	return filepath.Join(p.opts.Dir, d.DirName())
}

// List returns every known build, newest first, with Installed set when
// <dir>/dxvk-<version> exists.
func (p *Provider) List(ctx context.Context) ([]DXVK, error) {
	list, err := p.listing(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DXVK, len(list))
	copy(out, list)
	for i := range out {
		_, err := os.Stat(p.Path(out[i]))
		out[i].Installed = err == nil
	}
	sortNewestFirst(out)
	return out, nil
}

// listing resolves the remote list cache-first: a fresh cache entry wins,
// then the network, then the bundled list.
func (p *Provider) listing(ctx context.Context) ([]DXVK, error) {
	var (
		rec    cache.Record
		cached bool
	)
	if p.opts.Cache != nil {
		var err error
		rec, cached, err = p.opts.Cache.Get(ctx, CacheKey)
		if err != nil {
			log.Warnf("dxvk list cache unavailable: %v", err)
			cached = false
		}
		if cached && !rec.Expired(time.Now()) {
			if list, err := p.parseCached(rec); err == nil {
				return list, nil
			}
		}
	}

	if p.opts.RemoteURL == "" {
		return parse(p.opts.Bundled)
	}

	list, err := p.fetch(ctx, rec, cached)
	if err != nil {
		log.Warnf("failed to fetch dxvk list, using bundled list: %v", err)
		return parse(p.opts.Bundled)
	}
	return list, nil
}

func (p *Provider) fetch(ctx context.Context, rec cache.Record, cached bool) ([]DXVK, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.RemoteURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	// Same reported length as the cached listing: assume the same content.
	if cached && resp.ContentLength >= 0 && resp.ContentLength == rec.Length {
		list, err := p.parseCached(rec)
		if err == nil {
			if err := p.opts.Cache.Touch(ctx, CacheKey, p.opts.CacheTTL); err != nil {
				log.Warnf("failed to refresh dxvk list cache: %v", err)
			}
			log.Debug("remote dxvk list unchanged, reusing cached parse")
			return list, nil
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	list, err := parse(body)
	if err != nil {
		return nil, err
	}
	length := resp.ContentLength
	if length < 0 {
		length = int64(len(body))
	}
	if p.opts.Cache != nil {
		if err := p.opts.Cache.Set(ctx, CacheKey, body, length, p.opts.CacheTTL); err != nil {
			log.Warnf("failed to cache dxvk list: %v", err)
		}
		p.mu.Lock()
		p.parsed = &parsedList{length: length, list: list}
		p.mu.Unlock()
	}
	return list, nil
}

func (p *Provider) parseCached(rec cache.Record) ([]DXVK, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parsed != nil && p.parsed.length == rec.Length {
		return p.parsed.list, nil
	}
	list, err := parse(rec.Value)
	if err != nil {
		return nil, err
	}
	p.parsed = &parsedList{length: rec.Length, list: list}
	return list, nil
}

func parse(data []byte) ([]DXVK, error) {
	var list []DXVK
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse dxvk list: %w", err)
	}
	return list, nil
}

// sortNewestFirst orders by semantic version; unparsable versions go last.
func sortNewestFirst(list []DXVK) {
	sort.SliceStable(list, func(i, j int) bool {
		vi, erri := version.NewVersion(list[i].Version)
		vj, errj := version.NewVersion(list[j].Version)
		switch {
		case erri != nil:
			return false
		case errj != nil:
			return true
		}
		return vi.GreaterThan(vj)
	})
}

// Get returns the build with the given version.
func (p *Provider) Get(ctx context.Context, v string) (*DXVK, error) {
	list, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range list {
		if d.Version == v {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, v)
}

// Current returns the selected build, or nil when none is selected or the
// selection is not in the listing.
func (p *Provider) Current(ctx context.Context) (*DXVK, error) {
	v := p.opts.Settings.GetString(ConfigKey)
	if v == "" {
		return nil, nil
	}
	d, err := p.Get(ctx, v)
	if errors.Is(err, ErrNotFound) {
		log.Warnf("selected dxvk %s is not listed", v)
		return nil, nil
	}
	return d, err
}

// Select persists v as the selected build.
func (p *Provider) Select(ctx context.Context, v string) error {
	if err := p.opts.Settings.SetValue(ConfigKey, v); err != nil {
		return fmt.Errorf("failed to select dxvk %s: %w", v, err)
	}
	log.Infof("selected dxvk %s", v)
	return nil
}

// Recommended returns the newest recommended build.
func (p *Provider) Recommended(ctx context.Context) (*DXVK, error) {
	list, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range list {
		if d.Recommended {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%w: no recommended build", ErrNotFound)
}

// Install downloads d and unpacks it into the dxvks directory. The archive
// carries a top-level dxvk-<version> directory.
func (p *Provider) Install(ctx context.Context, installer downloads.Installer, d DXVK) (*downloads.Pipeline, error) {
	if err := os.MkdirAll(p.opts.Dir, 0755); err != nil {
		return nil, err
	}
	return installer.Install(ctx, "DXVK "+d.Version, d.URI, p.opts.Dir, false)
}

// Delete removes an installed build.
func (p *Provider) Delete(v string) error {
	if err := os.RemoveAll(p.Path(DXVK{Version: v})); err != nil {
		return fmt.Errorf("failed to delete dxvk %s: %w", v, err)
	}
	return nil
}
