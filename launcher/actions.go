package launcher

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/stevecastle/gamelauncher/voice"
)

var (
	ErrNoAction = errors.New("no action for state")
	// ErrPredownloadIncomplete is returned when a predownload finished
	// without leaving its archive in place.
	ErrPredownloadIncomplete = errors.New("predownloaded archive is missing")
)

// Action carries out what a state offers.
type Action func(ctx context.Context, l *Launcher) error

var actions = map[State]Action{
	StateRunnerInstallationRequired:        installRunner,
	StateDXVKInstallationRequired:          installDXVK,
	StateGameInstallationAvailable:         installGame,
	StateGameUpdateAvailable:               installGame,
	StateGameVoiceUpdateRequired:           installVoice,
	StateTestPatchAvailable:                applyPatch,
	StatePatchAvailable:                    applyPatch,
	StateGameLaunchAvailable:               launch,
	StateGamePreInstallationAvailable:      launch,
	StateGameVoicePreInstallationAvailable: launch,
}

var predownloadActions = map[State]Action{
	StateGamePreInstallationAvailable:      predownloadGame,
	StateGameVoicePreInstallationAvailable: predownloadVoice,
}

// ActionFor returns the primary action of s, or its predownload action.
func ActionFor(s State, predownload bool) (Action, error) {
	table := actions
	if predownload {
		table = predownloadActions
	}
	a, ok := table[s]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAction, s)
	}
	return a, nil
}

// installRunner installs and selects the recommended runner, creates the
// prefix and installs DXVK when none is selected yet.
func installRunner(ctx context.Context, l *Launcher) error {
	r, err := l.opts.Runners.Recommended(ctx)
	if err != nil {
		return err
	}
	p, err := l.opts.Runners.Install(ctx, l.opts.Installer, *r)
	if err != nil {
		return err
	}
	if err := l.follow(ctx, r.Title, p); err != nil {
		return err
	}
	if err := l.opts.Runners.Select(ctx, r.Name); err != nil {
		return err
	}
	if err := l.ensurePrefix(ctx); err != nil {
		return err
	}

	cur, err := l.opts.DXVKs.Current(ctx)
	if err != nil {
		return err
	}
	if cur == nil {
		return installDXVK(ctx, l)
	}
	return nil
}

// installDXVK installs and selects the recommended build and applies it to
// the prefix.
func installDXVK(ctx context.Context, l *Launcher) error {
	d, err := l.opts.DXVKs.Recommended(ctx)
	if err != nil {
		return err
	}
	p, err := l.opts.DXVKs.Install(ctx, l.opts.Installer, *d)
	if err != nil {
		return err
	}
	if err := l.follow(ctx, "DXVK "+d.Version, p); err != nil {
		return err
	}
	if err := l.opts.DXVKs.Select(ctx, d.Version); err != nil {
		return err
	}
	if err := l.ensurePrefix(ctx); err != nil {
		return err
	}

	_, w, err := l.wine(ctx)
	if err != nil {
		return err
	}
	l.sink.InitProgress("Applying DXVK " + d.Version)
	defer l.sink.HideProgress()
	return l.opts.DXVKs.Apply(ctx, l.opts.Prefix, d.Version, w)
}

// installGame installs or updates the game, then its voice pack.
func installGame(ctx context.Context, l *Launcher) error {
	if err := l.ensurePrefix(ctx); err != nil {
		return err
	}
	current, err := l.opts.Game.Current(ctx)
	if err != nil {
		return err
	}
	src, err := l.opts.Game.UpdateSource(ctx, current)
	if err != nil {
		return err
	}
	p, err := l.opts.Game.Install(ctx, l.opts.Installer, src)
	if err != nil {
		return err
	}
	if err := l.follow(ctx, "game "+src.Version, p); err != nil {
		return err
	}
	deleted, err := l.applyUpdateFiles(ctx)
	if src.Diff != nil {
		src.Diff.DeletedFiles = deleted
	}
	if err != nil {
		return err
	}
	return installVoice(ctx, l)
}

// installVoice installs the selected voice pack, updating from the installed
// pack when there is one.
func installVoice(ctx context.Context, l *Launcher) error {
	lang := l.opts.Voice.Selected(ctx)
	if _, ok := voice.FolderForLang(lang); !ok {
		return fmt.Errorf("%w: %q", voice.ErrUnknownLanguage, lang)
	}
	installed, err := l.opts.Voice.Installed(ctx)
	if err != nil {
		return err
	}
	var from string
	for _, v := range installed {
		if v.Lang == lang {
			from = v.Version
		}
	}

	src, err := l.opts.Voice.UpdateSource(ctx, lang, from)
	if err != nil {
		return err
	}
	p, err := l.opts.Voice.Install(ctx, l.opts.Installer, lang, src)
	if err != nil {
		return err
	}
	if err := l.follow(ctx, lang+" voice pack", p); err != nil {
		return err
	}
	_, err = l.applyUpdateFiles(ctx)
	return err
}

func applyPatch(ctx context.Context, l *Launcher) error {
	current, err := l.opts.Game.Current(ctx)
	if err != nil {
		return err
	}
	pt, err := l.opts.Patch.Latest(ctx, current)
	if err != nil {
		return err
	}
	p, err := l.opts.Patch.Apply(ctx, l.opts.Installer, pt)
	if err != nil {
		return err
	}
	return l.follow(ctx, "patch "+pt.Version, p)
}

func predownloadGame(ctx context.Context, l *Launcher) error {
	current, err := l.opts.Game.Current(ctx)
	if err != nil {
		return err
	}
	s, err := l.opts.Game.Predownload(ctx, l.opts.Fetcher, current)
	if err != nil {
		return err
	}
	if err := l.followStream(ctx, "game update", s); err != nil {
		return err
	}
	if ok, err := l.opts.Game.IsUpdatePredownloaded(ctx); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: game update", ErrPredownloadIncomplete)
	}
	log.Info("game update predownloaded")
	return nil
}

func predownloadVoice(ctx context.Context, l *Launcher) error {
	current, err := l.opts.Game.Current(ctx)
	if err != nil {
		return err
	}
	lang := l.opts.Voice.Selected(ctx)
	s, err := l.opts.Voice.Predownload(ctx, l.opts.Fetcher, lang, current)
	if err != nil {
		return err
	}
	if err := l.followStream(ctx, lang+" voice update", s); err != nil {
		return err
	}
	if ok, err := l.opts.Voice.IsUpdatePredownloaded(ctx, lang); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s voice update", ErrPredownloadIncomplete, lang)
	}
	log.Infof("%s voice update predownloaded", lang)
	return nil
}
