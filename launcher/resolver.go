package launcher

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/stevecastle/gamelauncher/game"
	"github.com/stevecastle/gamelauncher/patch"
	"github.com/stevecastle/gamelauncher/voice"
)

var ErrSelectionNotApplied = errors.New("selection did not take effect")

// Versions are the component versions seen while resolving.
type Versions struct {
	Runner string `json:"runner,omitempty"`
	DXVK   string `json:"dxvk,omitempty"`
	Game   string `json:"game,omitempty"`
	Latest string `json:"latest,omitempty"`
	Voice  string `json:"voice,omitempty"`
}

// Resolution is the outcome of one Resolve call. Err holds the provider
// failure a conservative state was derived from, if any. Passes counts the
// evaluation passes it took.
type Resolution struct {
	State                State
	PredownloadAvailable bool
	Versions             Versions
	Err                  error
	Passes               int
}

// selectable is a component the resolver may select on its own when the
// user has not chosen one. current returns the selected id and candidate an
// installed and recommended one; both are empty when there is none.
type selectable struct {
	name      string
	missing   State
	current   func(ctx context.Context) (string, error)
	candidate func(ctx context.Context) (string, error)
	choose    func(ctx context.Context, id string) error
}

type Resolver struct {
	game  GameSource
	voice VoiceSource
	patch PatchSource
	sink  StateSink

	selectables []selectable
}

func NewResolver(runners RunnerSource, dxvks DXVKSource, g GameSource, v VoiceSource, p PatchSource, sink StateSink) *Resolver {
	if sink == nil {
		sink = nopSink{}
	}
	r := &Resolver{game: g, voice: v, patch: p, sink: sink}
	r.selectables = []selectable{
		{
			name:    "runner",
			missing: StateRunnerInstallationRequired,
			current: func(ctx context.Context) (string, error) {
				cur, err := runners.Current(ctx)
				if err != nil || cur == nil {
					return "", err
				}
				return cur.Name, nil
			},
			candidate: func(ctx context.Context) (string, error) {
				families, err := runners.List(ctx)
				if err != nil {
					return "", err
				}
				for _, f := range families {
					for _, c := range f.Runners {
						if c.Installed && c.Recommended {
							return c.Name, nil
						}
					}
				}
				return "", nil
			},
			choose: runners.Select,
		},
		{
			name:    "dxvk",
			missing: StateDXVKInstallationRequired,
			current: func(ctx context.Context) (string, error) {
				cur, err := dxvks.Current(ctx)
				if err != nil || cur == nil {
					return "", err
				}
				return cur.Version, nil
			},
			candidate: func(ctx context.Context) (string, error) {
				list, err := dxvks.List(ctx)
				if err != nil {
					return "", err
				}
				for _, d := range list {
					if d.Installed && d.Recommended {
						return d.Version, nil
					}
				}
				return "", nil
			},
			choose: dxvks.Select,
		},
	}
	return r
}

// Resolve computes the recommended state and hands it to the sink before
// returning. Provider failures are folded into conservative states and
// reported in Resolution.Err.
func (r *Resolver) Resolve(ctx context.Context) Resolution {
	res := r.resolve(ctx)
	res.PredownloadAvailable = res.State.Predownloadable()
	if res.Err != nil {
		log.WithError(res.Err).Warnf("resolved %s after a provider failure", res.State)
	} else {
		log.Debugf("resolved %s in %d passes", res.State, res.Passes)
	}
	r.sink.SetState(res)
	return res
}

func (r *Resolver) resolve(ctx context.Context) Resolution {
	var res Resolution
	// Every pass either selects one more component or settles, so one pass
	// per selectable plus a final evaluation is enough.
	limit := len(r.selectables) + 1

passes:
	for res.Passes < limit {
		res.Passes++
		for _, s := range r.selectables {
			id, err := s.current(ctx)
			if err != nil {
				res.State, res.Err = s.missing, fmt.Errorf("%s: %w", s.name, err)
				return res
			}
			if id != "" {
				r.setVersion(&res.Versions, s.name, id)
				continue
			}
			id, err = s.candidate(ctx)
			if err != nil {
				res.State, res.Err = s.missing, fmt.Errorf("%s: %w", s.name, err)
				return res
			}
			if id == "" {
				res.State = s.missing
				return res
			}
			log.Infof("selecting installed %s %s", s.name, id)
			if err := s.choose(ctx, id); err != nil {
				res.State, res.Err = s.missing, fmt.Errorf("%s: %w", s.name, err)
				return res
			}
			continue passes
		}
		return r.evaluate(ctx, res)
	}

	// A selection that never shows up as current would loop forever.
	for _, s := range r.selectables {
		if id, _ := s.current(ctx); id == "" {
			res.State, res.Err = s.missing, fmt.Errorf("%s: %w", s.name, ErrSelectionNotApplied)
			return res
		}
	}
	return r.evaluate(ctx, res)
}

func (r *Resolver) setVersion(v *Versions, name, id string) {
	switch name {
	case "runner":
		v.Runner = id
	case "dxvk":
		v.DXVK = id
	}
}

// evaluate applies the game, voice, patch and predownload rules in order.
func (r *Resolver) evaluate(ctx context.Context, res Resolution) Resolution {
	var (
		current             string
		data                *game.Data
		installed           []voice.Installed
		currentErr, dataErr error
		installedErr        error
	)
	var g errgroup.Group
	g.Go(func() error {
		current, currentErr = r.game.Current(ctx)
		return nil
	})
	g.Go(func() error {
		data, dataErr = r.game.Latest(ctx)
		return nil
	})
	g.Go(func() error {
		installed, installedErr = r.voice.Installed(ctx)
		return nil
	})
	g.Wait()

	res.Versions.Game = current
	if data != nil {
		res.Versions.Latest = data.Game.Latest.Version
	}

	switch {
	case currentErr != nil:
		res.State, res.Err = StateGameInstallationAvailable, fmt.Errorf("game: %w", currentErr)
		return res
	case current == "":
		res.State = StateGameInstallationAvailable
		return res
	case dataErr != nil:
		res.State, res.Err = StateGameUpdateAvailable, fmt.Errorf("game metadata: %w", dataErr)
		return res
	case !game.SameVersion(current, data.Game.Latest.Version):
		res.State = StateGameUpdateAvailable
		return res
	case installedErr != nil:
		res.State, res.Err = StateGameVoiceUpdateRequired, fmt.Errorf("voice: %w", installedErr)
		return res
	case len(installed) == 0:
		res.State = StateGameVoiceUpdateRequired
		return res
	}

	lang := r.voice.Selected(ctx)
	for _, v := range installed {
		if v.Lang == lang {
			res.Versions.Voice = v.Version
		}
	}

	p, err := r.patch.Latest(ctx, current)
	if err != nil {
		res.State, res.Err = StatePatchUnavailable, fmt.Errorf("patch: %w", err)
		return res
	}
	if !p.Applied {
		switch p.State {
		case patch.PhaseTesting:
			res.State = StateTestPatchAvailable
		case patch.PhaseStable:
			res.State = StatePatchAvailable
		default:
			res.State = StatePatchUnavailable
		}
		return res
	}

	if data.PreDownloadGame != nil {
		if ok, err := r.game.IsUpdatePredownloaded(ctx); err != nil {
			log.WithError(err).Warn("failed to check game predownload")
		} else if !ok {
			res.State = StateGamePreInstallationAvailable
			return res
		}
		if ok, err := r.voice.IsUpdatePredownloaded(ctx, lang); err != nil {
			log.WithError(err).Warn("failed to check voice predownload")
		} else if !ok {
			res.State = StateGameVoicePreInstallationAvailable
			return res
		}
	}

	res.State = StateGameLaunchAvailable
	return res
}
