package launcher

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/stevecastle/gamelauncher/downloads"
	"github.com/stevecastle/gamelauncher/dxvk"
	"github.com/stevecastle/gamelauncher/game"
	"github.com/stevecastle/gamelauncher/logging"
	"github.com/stevecastle/gamelauncher/prefix"
	"github.com/stevecastle/gamelauncher/process"
	"github.com/stevecastle/gamelauncher/runner"
)

var ErrNoRunner = errors.New("no runner selected")

// PrefixCreator initialises a wine prefix.
type PrefixCreator interface {
	Create(ctx context.Context, dir string) error
}

// Options wire a Launcher. Patcher may be nil, in which case hdiff patches
// shipped with an update are left in place.
type Options struct {
	Runners   RunnerSource
	DXVKs     DXVKSource
	Game      GameSource
	Voice     VoiceSource
	Patch     PatchSource
	Installer downloads.Installer
	Fetcher   downloads.Fetcher
	Patcher   *game.Patcher
	Sink      StateSink

	Prefix     string
	Executable string
	HUD        string
	Env        map[string]string
}

// Launcher resolves the current state and runs the action it maps to.
type Launcher struct {
	opts     Options
	sink     StateSink
	resolver *Resolver

	newPrefix func(wine64, wineserver string) PrefixCreator
	start     func(ctx context.Context, c process.Command) (*process.Process, error)
}

func New(opts Options) *Launcher {
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Launcher{
		opts:      opts,
		sink:      sink,
		resolver:  NewResolver(opts.Runners, opts.DXVKs, opts.Game, opts.Voice, opts.Patch, sink),
		newPrefix: newPrefixCreator,
		start:     process.Start,
	}
}

func newPrefixCreator(wine64, wineserver string) PrefixCreator {
	return prefix.NewCreator(wine64, wineserver)
}

// Resolve computes the current state.
func (l *Launcher) Resolve(ctx context.Context) Resolution {
	return l.resolver.Resolve(ctx)
}

// Run resolves the state, runs its action and resolves again. With
// predownload set the secondary action of the state is run instead.
func (l *Launcher) Run(ctx context.Context, predownload bool) (Resolution, error) {
	res := l.resolver.Resolve(ctx)
	action, err := ActionFor(res.State, predownload)
	if err != nil {
		return res, err
	}

	ctx = logging.WithComponent(ctx, "launcher")
	log.WithContext(ctx).Infof("running action for %s", res.State)
	actionErr := action(ctx, l)
	if actionErr != nil {
		log.WithContext(ctx).WithError(actionErr).Errorf("action for %s failed", res.State)
	}
	return l.resolver.Resolve(ctx), actionErr
}

// follow reports p's progress to the sink and waits for it to finish.
func (l *Launcher) follow(ctx context.Context, title string, p *downloads.Pipeline) error {
	p.OnDownloadStart(func() { l.sink.InitProgress("Downloading " + title) })
	p.OnDownloadProgress(l.sink.Progress)
	p.OnUnpackStart(func() { l.sink.InitProgress("Unpacking " + title) })
	p.OnUnpackProgress(l.sink.Progress)

	err := p.Wait(ctx)
	l.sink.HideProgress()
	if err != nil {
		return fmt.Errorf("failed to install %s: %w", title, err)
	}
	return nil
}

// followStream reports a bare download to the sink and waits for it.
func (l *Launcher) followStream(ctx context.Context, title string, s *downloads.Stream) error {
	s.OnStart(func() { l.sink.InitProgress("Downloading " + title) })
	s.OnProgress(l.sink.Progress)

	err := s.Wait(ctx)
	l.sink.HideProgress()
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", title, err)
	}
	return nil
}

// wine returns the selected runner and its binaries.
func (l *Launcher) wine(ctx context.Context) (*runner.Runner, dxvk.Wine, error) {
	r, err := l.opts.Runners.Current(ctx)
	if err != nil {
		return nil, dxvk.Wine{}, err
	}
	if r == nil {
		return nil, dxvk.Wine{}, ErrNoRunner
	}
	bin := func(rel string) string { return l.opts.Runners.Binary(*r, rel) }
	return r, dxvk.Wine{
		Wine:       bin(r.Files.Wine),
		Wine64:     bin(r.Files.Wine64),
		Wineserver: bin(r.Files.Wineserver),
		Winecfg:    bin(r.Files.Winecfg),
		Wineboot:   bin(r.Files.Wineboot),
	}, nil
}

// ensurePrefix creates the prefix with the selected runner if it is missing.
func (l *Launcher) ensurePrefix(ctx context.Context) error {
	if prefix.Exists(l.opts.Prefix) {
		return nil
	}
	_, w, err := l.wine(ctx)
	if err != nil {
		return fmt.Errorf("failed to create prefix: %w", err)
	}
	l.sink.InitProgress("Creating prefix")
	defer l.sink.HideProgress()
	return l.newPrefix(w.Wine64, w.Wineserver).Create(ctx, l.opts.Prefix)
}

// applyUpdateFiles removes the files a diff archive lists for deletion and
// applies the hdiff patches it shipped. It returns the removed paths.
func (l *Launcher) applyUpdateFiles(ctx context.Context) ([]string, error) {
	dir := l.opts.Game.GameDir()
	deleted, err := game.ApplyDeletions(dir)
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		log.WithField("files", deleted).Infof("removed %d files dropped by the update", len(deleted))
	}
	if l.opts.Patcher == nil {
		return deleted, nil
	}
	l.sink.InitProgress("Applying hdiff patches")
	defer l.sink.HideProgress()
	patched, err := l.opts.Patcher.ApplyHDiffs(ctx, dir)
	if len(patched) > 0 {
		log.Infof("patched %d files in place", len(patched))
	}
	return deleted, err
}
