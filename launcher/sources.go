package launcher

import (
	"context"

	"github.com/stevecastle/gamelauncher/downloads"
	"github.com/stevecastle/gamelauncher/dxvk"
	"github.com/stevecastle/gamelauncher/game"
	"github.com/stevecastle/gamelauncher/patch"
	"github.com/stevecastle/gamelauncher/runner"
	"github.com/stevecastle/gamelauncher/voice"
)

// RunnerSource is satisfied by *runner.Provider.
type RunnerSource interface {
	List(ctx context.Context) ([]runner.Family, error)
	Current(ctx context.Context) (*runner.Runner, error)
	Select(ctx context.Context, name string) error
	Recommended(ctx context.Context) (*runner.Runner, error)
	Install(ctx context.Context, installer downloads.Installer, r runner.Runner) (*downloads.Pipeline, error)
	Binary(r runner.Runner, rel string) string
}

// DXVKSource is satisfied by *dxvk.Provider.
type DXVKSource interface {
	List(ctx context.Context) ([]dxvk.DXVK, error)
	Current(ctx context.Context) (*dxvk.DXVK, error)
	Select(ctx context.Context, version string) error
	Recommended(ctx context.Context) (*dxvk.DXVK, error)
	Install(ctx context.Context, installer downloads.Installer, d dxvk.DXVK) (*downloads.Pipeline, error)
	Apply(ctx context.Context, prefix, version string, w dxvk.Wine) error
}

// GameSource is satisfied by *game.Provider.
type GameSource interface {
	GameDir() string
	Current(ctx context.Context) (string, error)
	Latest(ctx context.Context) (*game.Data, error)
	UpdateSource(ctx context.Context, from string) (game.Source, error)
	Install(ctx context.Context, installer downloads.Installer, src game.Source) (*downloads.Pipeline, error)
	IsUpdatePredownloaded(ctx context.Context) (bool, error)
	Predownload(ctx context.Context, fetcher downloads.Fetcher, from string) (*downloads.Stream, error)
}

// VoiceSource is satisfied by *voice.Provider.
type VoiceSource interface {
	Installed(ctx context.Context) ([]voice.Installed, error)
	Selected(ctx context.Context) string
	UpdateSource(ctx context.Context, lang, from string) (game.Source, error)
	Install(ctx context.Context, installer downloads.Installer, lang string, src game.Source) (*downloads.Pipeline, error)
	IsUpdatePredownloaded(ctx context.Context, lang string) (bool, error)
	Predownload(ctx context.Context, fetcher downloads.Fetcher, lang, from string) (*downloads.Stream, error)
}

// PatchSource is satisfied by *patch.Provider.
type PatchSource interface {
	Latest(ctx context.Context, gameVersion string) (*patch.Patch, error)
	Apply(ctx context.Context, installer downloads.Installer, p *patch.Patch) (*downloads.Pipeline, error)
}

var (
	_ RunnerSource = (*runner.Provider)(nil)
	_ DXVKSource   = (*dxvk.Provider)(nil)
	_ GameSource   = (*game.Provider)(nil)
	_ VoiceSource  = (*voice.Provider)(nil)
	_ PatchSource  = (*patch.Provider)(nil)
)
