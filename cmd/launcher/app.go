package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/stevecastle/gamelauncher/appconfig"
	"github.com/stevecastle/gamelauncher/cache"
	"github.com/stevecastle/gamelauncher/downloads"
	"github.com/stevecastle/gamelauncher/dxvk"
	"github.com/stevecastle/gamelauncher/game"
	"github.com/stevecastle/gamelauncher/launcher"
	"github.com/stevecastle/gamelauncher/patch"
	"github.com/stevecastle/gamelauncher/platform"
	"github.com/stevecastle/gamelauncher/runner"
	"github.com/stevecastle/gamelauncher/stream"
	"github.com/stevecastle/gamelauncher/voice"
)

// app holds every component wired from one configuration.
type app struct {
	cfg        appconfig.Config
	cache      *cache.Store
	hub        *stream.Hub
	downloader *downloads.Downloader
	manager    *downloads.Manager
	runners    *runner.Provider
	dxvks      *dxvk.Provider
	game       *game.Provider
	voice      *voice.Provider
	patch      *patch.Provider
}

func newApp(ctx context.Context, store *appconfig.Store) (*app, error) {
	cfg := store.Get()
	if err := platform.EnsureDirs(cfg.Paths.Launcher, cfg.Paths.Runners, cfg.Paths.DXVKs, filepath.Dir(cfg.Paths.Cache)); err != nil {
		return nil, fmt.Errorf("create launcher directories: %w", err)
	}
	a := &app{cfg: cfg, hub: stream.NewHub()}

	c, err := cache.Open(cfg.Paths.Cache)
	if err != nil {
		log.WithError(err).Warn("remote listing cache unavailable, continuing without it")
	} else {
		a.cache = c
	}

	streamOpts := downloads.StreamOptions{
		Interval:     cfg.Transfer.DownloadInterval(),
		StallTimeout: cfg.Transfer.StallTimeout(),
		Timeout:      cfg.Transfer.Timeout(),
	}
	dlCfg := downloads.DownloaderConfig{
		Stream:        streamOpts,
		RetryAttempts: cfg.Transfer.RetryAttempts,
	}
	if cfg.S3.Region != "" || cfg.S3.Endpoint != "" {
		src, err := downloads.NewS3Source(ctx, downloads.S3Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		dlCfg.S3 = src
	}
	a.downloader = downloads.NewDownloader(dlCfg)

	unpackOpts := streamOpts
	unpackOpts.Interval = cfg.Transfer.UnpackInterval()
	a.manager = downloads.NewManager(a.downloader, downloads.NewExtractor(unpackOpts), cfg.Paths.Launcher, a.hub)

	metadata := game.NewClient(cfg.Remote.GameAPI, cfg.Transfer.MetadataTimeout())
	a.runners = runner.NewProvider(cfg.Paths.Runners, store, nil)
	a.dxvks = dxvk.NewProvider(dxvk.Options{
		Dir:          cfg.Paths.DXVKs,
		Settings:     store,
		Cache:        a.cache,
		RemoteURL:    cfg.Remote.DXVKList,
		Client:       http.DefaultClient,
		FetchTimeout: cfg.Transfer.DXVKListTimeout(),
	})
	a.game = game.NewProvider(game.Options{
		GameDir:     cfg.Paths.Game,
		DataDir:     cfg.Game.DataDir,
		LauncherDir: cfg.Paths.Launcher,
		Metadata:    metadata,
	})
	a.voice = voice.NewProvider(voice.Options{
		GameDir:     cfg.Paths.Game,
		DataDir:     cfg.Game.DataDir,
		LauncherDir: cfg.Paths.Launcher,
		Metadata:    metadata,
		Settings:    store,
	})
	a.patch = patch.NewProvider(patch.Options{
		GameDir:  cfg.Paths.Game,
		IndexURL: cfg.Remote.PatchIndex,
		Timeout:  cfg.Transfer.MetadataTimeout(),
	})
	return a, nil
}

// launcher builds a Launcher reporting to the app hub and to sink, if any.
func (a *app) launcher(sink launcher.StateSink) *launcher.Launcher {
	var out launcher.StateSink = launcher.NewHubSink(a.hub)
	if sink != nil {
		out = launcher.Tee(sink, out)
	}
	var patcher *game.Patcher
	if a.cfg.Game.HPatchz != "" {
		patcher = game.NewPatcher(a.cfg.Game.HPatchz)
	}
	return launcher.New(launcher.Options{
		Runners:    a.runners,
		DXVKs:      a.dxvks,
		Game:       a.game,
		Voice:      a.voice,
		Patch:      a.patch,
		Installer:  a.manager,
		Fetcher:    a.downloader,
		Patcher:    patcher,
		Sink:       out,
		Prefix:     a.cfg.Prefix,
		Executable: a.cfg.Game.Executable,
		HUD:        a.cfg.HUD,
		Env:        a.cfg.Env,
	})
}

func (a *app) Close() {
	if a.manager != nil {
		a.manager.CancelAll()
	}
	a.hub.Shutdown()
	log.WithField("stats", a.hub.Stats()).Debug("event hub closed")
	if a.cache != nil {
		if _, err := a.cache.Prune(context.Background()); err != nil {
			log.WithError(err).Debug("failed to prune cache")
		}
		if err := a.cache.Close(); err != nil {
			log.WithError(err).Warn("failed to close cache")
		}
	}
}

func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()
	a, err := newApp(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to start launcher: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}
