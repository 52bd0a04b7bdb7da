// Package runner lists the wine builds the launcher can install and tracks
// which one is selected.
package runner

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/stevecastle/gamelauncher/downloads"
)

//go:embed runners.yaml
var bundled []byte

// ConfigKey is the configuration key holding the selected runner name.
const ConfigKey = "runner"

// ErrNotFound is returned for runner names missing from the catalogue.
var ErrNotFound = errors.New("runner not found")

// Settings is the key-path configuration the provider persists its selection in.
type Settings interface {
	GetString(key string) string
	SetValue(key string, value any) error
}

// Files are runner-relative paths of the binaries the launcher invokes.
type Files struct {
	Wine       string `yaml:"wine"`
	Wine64     string `yaml:"wine64"`
	Wineserver string `yaml:"wineserver"`
	Winecfg    string `yaml:"winecfg"`
	Wineboot   string `yaml:"wineboot"`
}

// Runner is one installable wine build. Installed is computed on every
// listing and never persisted.
type Runner struct {
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	URI         string `yaml:"uri"`
	Recommended bool   `yaml:"recommended"`
	Files       Files  `yaml:"files"`

	Installed bool `yaml:"-"`
}

// Family groups runners from the same vendor.
type Family struct {
	Title   string   `yaml:"title"`
	Runners []Runner `yaml:"runners"`
}

// Provider answers runner status questions for one runners directory.
type Provider struct {
	dir       string
	settings  Settings
	catalogue []byte
}

// NewProvider creates a Provider. A nil catalogue uses the bundled list.
func NewProvider(dir string, settings Settings, catalogue []byte) *Provider {
	if catalogue == nil {
		catalogue = bundled
	}
	return &Provider{dir: dir, settings: settings, catalogue: catalogue}
}

// Dir is the runners root.
func (p *Provider) Dir() string {
	return p.dir
}

// List returns every known runner, grouped by family, with Installed set
// when <dir>/<name> is a directory.
func (p *Provider) List(ctx context.Context) ([]Family, error) {
	var families []Family
	if err := yaml.Unmarshal(p.catalogue, &families); err != nil {
		return nil, fmt.Errorf("failed to parse runner catalogue: %w", err)
	}
	for fi := range families {
		for ri := range families[fi].Runners {
			r := &families[fi].Runners[ri]
			info, err := os.Stat(p.Path(*r))
			r.Installed = err == nil && info.IsDir()
		}
	}
	return families, nil
}

// Get returns the runner named name.
func (p *Provider) Get(ctx context.Context, name string) (*Runner, error) {
	families, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range families {
		for _, r := range f.Runners {
			if r.Name == name {
				return &r, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Current returns the selected runner, or nil when none is selected or the
// selection is no longer in the catalogue.
func (p *Provider) Current(ctx context.Context) (*Runner, error) {
	name := p.settings.GetString(ConfigKey)
	if name == "" {
		return nil, nil
	}
	r, err := p.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		log.Warnf("selected runner %s is not in the catalogue", name)
		return nil, nil
	}
	return r, err
}

// Select persists name as the selected runner.
func (p *Provider) Select(ctx context.Context, name string) error {
	if err := p.settings.SetValue(ConfigKey, name); err != nil {
		return fmt.Errorf("failed to select runner %s: %w", name, err)
	}
	log.Infof("selected runner %s", name)
	return nil
}

// Recommended returns the first recommended runner in catalogue order.
func (p *Provider) Recommended(ctx context.Context) (*Runner, error) {
	families, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range families {
		for _, r := range f.Runners {
			if r.Recommended {
				return &r, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no recommended runner", ErrNotFound)
}

// Path is the install directory of r.
func (p *Provider) Path(r Runner) string {
	return filepath.Join(p.dir, r.Name)
}

// Binary resolves a runner-relative file such as Files.Wine64.
func (p *Provider) Binary(r Runner, rel string) string {
	return filepath.Join(p.Path(r), filepath.FromSlash(rel))
}

// Install downloads r and unpacks it into the runners directory. Runner
// archives carry a top-level directory named after the runner.
func (p *Provider) Install(ctx context.Context, installer downloads.Installer, r Runner) (*downloads.Pipeline, error) {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return nil, err
	}
	return installer.Install(ctx, r.Title, r.URI, p.dir, false)
}

// Delete removes an installed runner.
func (p *Provider) Delete(r Runner) error {
	if err := os.RemoveAll(p.Path(r)); err != nil {
		return fmt.Errorf("failed to delete runner %s: %w", r.Name, err)
	}
	return nil
}
