package launcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stevecastle/gamelauncher/downloads"
	"github.com/stevecastle/gamelauncher/dxvk"
	"github.com/stevecastle/gamelauncher/game"
	"github.com/stevecastle/gamelauncher/patch"
	"github.com/stevecastle/gamelauncher/runner"
	"github.com/stevecastle/gamelauncher/voice"
)

// noopUnpacker "extracts" nothing and finishes right away.
type noopUnpacker struct{}

func (noopUnpacker) Extract(ctx context.Context, archive, destDir string) (*downloads.Stream, error) {
	work := func(context.Context) error { return nil }
	measure := func() (int64, error) { return 0, nil }
	return downloads.NewStream(ctx, archive, destDir, 0, work, measure,
		downloads.StreamOptions{Interval: 5 * time.Millisecond, StallTimeout: 5 * time.Second}), nil
}

// recordingInstaller records every install and returns a pipeline that
// completes without touching the network.
type recordingInstaller struct {
	mu    sync.Mutex
	names []string
	md5s  map[string]string
}

func (r *recordingInstaller) Install(ctx context.Context, name, source, destDir string, alreadyDownloaded bool, opts ...downloads.InstallOption) (*downloads.Pipeline, error) {
	var cfg downloads.PipelineConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	r.mu.Lock()
	r.names = append(r.names, name)
	if cfg.MD5 != "" {
		if r.md5s == nil {
			r.md5s = make(map[string]string)
		}
		r.md5s[name] = cfg.MD5
	}
	r.mu.Unlock()
	return downloads.NewPipeline(ctx, nil, noopUnpacker{}, downloads.PipelineConfig{
		Source:            filepath.Join(os.TempDir(), "launcher-test-missing-archive"),
		DestDir:           destDir,
		AlreadyDownloaded: true,
	}), nil
}

func (r *recordingInstaller) installed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

type fakeRunners struct {
	mu           sync.Mutex
	families     []runner.Family
	selected     string
	err          error
	ignoreSelect bool
	selects      int
}

func newFakeRunners(installed bool) *fakeRunners {
	return &fakeRunners{families: []runner.Family{{
		Title: "Wine-GE",
		Runners: []runner.Runner{
			{Name: "wine-ge-8-26", Title: "Wine-GE 8-26", Recommended: true, Installed: installed,
				Files: runner.Files{Wine: "bin/wine", Wine64: "bin/wine64", Wineserver: "bin/wineserver"}},
			{Name: "wine-ge-7-0", Title: "Wine-GE 7-0", Installed: true},
		},
	}}}
}

func (f *fakeRunners) List(context.Context) ([]runner.Family, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.families, nil
}

func (f *fakeRunners) find(name string) *runner.Runner {
	for fi := range f.families {
		for ri := range f.families[fi].Runners {
			if f.families[fi].Runners[ri].Name == name {
				return &f.families[fi].Runners[ri]
			}
		}
	}
	return nil
}

func (f *fakeRunners) Current(context.Context) (*runner.Runner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.selected == "" {
		return nil, nil
	}
	r := *f.find(f.selected)
	return &r, nil
}

func (f *fakeRunners) Select(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects++
	if !f.ignoreSelect {
		f.selected = name
	}
	return nil
}

func (f *fakeRunners) Recommended(context.Context) (*runner.Runner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.families[0].Runners[0]
	return &r, nil
}

func (f *fakeRunners) Install(ctx context.Context, installer downloads.Installer, r runner.Runner) (*downloads.Pipeline, error) {
	f.mu.Lock()
	f.find(r.Name).Installed = true
	f.mu.Unlock()
	return installer.Install(ctx, r.Title, r.URI, "/runners", false)
}

func (f *fakeRunners) Binary(r runner.Runner, rel string) string {
	return filepath.Join("/runners", r.Name, rel)
}

type fakeDXVKs struct {
	mu       sync.Mutex
	list     []dxvk.DXVK
	selected string
	err      error
	applied  []string
}

func newFakeDXVKs(installed bool) *fakeDXVKs {
	return &fakeDXVKs{list: []dxvk.DXVK{
		{Version: "2.3", Recommended: true, Installed: installed},
		{Version: "1.10.3", Installed: true},
	}}
}

func (f *fakeDXVKs) List(context.Context) ([]dxvk.DXVK, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.list, nil
}

func (f *fakeDXVKs) Current(context.Context) (*dxvk.DXVK, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, d := range f.list {
		if d.Version == f.selected {
			return &d, nil
		}
	}
	return nil, nil
}

func (f *fakeDXVKs) Select(_ context.Context, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = v
	return nil
}

func (f *fakeDXVKs) Recommended(context.Context) (*dxvk.DXVK, error) {
	d := f.list[0]
	return &d, nil
}

func (f *fakeDXVKs) Install(ctx context.Context, installer downloads.Installer, d dxvk.DXVK) (*downloads.Pipeline, error) {
	f.mu.Lock()
	for i := range f.list {
		if f.list[i].Version == d.Version {
			f.list[i].Installed = true
		}
	}
	f.mu.Unlock()
	return installer.Install(ctx, "DXVK "+d.Version, d.URI, "/dxvks", false)
}

func (f *fakeDXVKs) Apply(_ context.Context, prefix, v string, w dxvk.Wine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, v+" "+prefix+" "+w.Wine64)
	return nil
}

type fakeGame struct {
	mu            sync.Mutex
	dir           string
	current       string
	currentErr    error
	data          *game.Data
	dataErr       error
	predownloaded bool
	predownErr    error
	finalizeFails bool
	sources       []string
	diffs         []*game.VersionDiff
}

func (f *fakeGame) GameDir() string {
	return f.dir
}

func (f *fakeGame) Current(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.currentErr
}

func (f *fakeGame) Latest(context.Context) (*game.Data, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data, f.dataErr
}

func (f *fakeGame) UpdateSource(_ context.Context, from string) (game.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := f.data.Game.Latest.Version
	if from == "" {
		return game.Source{URI: "full.zip", Version: latest, MD5: "f7a1"}, nil
	}
	uri := "diff-" + from + ".zip"
	d := &game.VersionDiff{From: from, To: latest, ArchiveURI: uri, MD5: "d1ff"}
	f.diffs = append(f.diffs, d)
	return game.Source{URI: uri, Version: latest, MD5: d.MD5, Diff: d}, nil
}

func (f *fakeGame) Install(ctx context.Context, installer downloads.Installer, src game.Source) (*downloads.Pipeline, error) {
	f.mu.Lock()
	f.sources = append(f.sources, src.URI)
	f.current = src.Version
	f.mu.Unlock()
	return installer.Install(ctx, "game "+src.Version, src.URI, f.dir, src.AlreadyDownloaded, downloads.WithMD5(src.MD5))
}

func (f *fakeGame) IsUpdatePredownloaded(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.predownloaded, f.predownErr
}

// Predownload marks the update as present once the stream finishes, the way
// the real provider renames its partial file.
func (f *fakeGame) Predownload(ctx context.Context, fetcher downloads.Fetcher, from string) (*downloads.Stream, error) {
	s, err := fetcher.Download(ctx, "game-predownload-from-"+from, filepath.Join(f.dir, game.PredownloadArchive))
	if err != nil {
		return nil, err
	}
	s.OnFinish(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.predownloaded = !f.finalizeFails
	})
	return s, nil
}

type fakeVoice struct {
	mu            sync.Mutex
	installed     []voice.Installed
	err           error
	selected      string
	predownloaded bool
	finalizeFails bool
	sources       []string
}

func (f *fakeVoice) Installed(context.Context) ([]voice.Installed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed, f.err
}

func (f *fakeVoice) Selected(context.Context) string {
	return f.selected
}

func (f *fakeVoice) UpdateSource(_ context.Context, lang, from string) (game.Source, error) {
	return game.Source{URI: lang + "-from-" + from + ".zip", Version: "3.3.0"}, nil
}

func (f *fakeVoice) Install(ctx context.Context, installer downloads.Installer, lang string, src game.Source) (*downloads.Pipeline, error) {
	f.mu.Lock()
	f.sources = append(f.sources, src.URI)
	f.installed = []voice.Installed{{Lang: lang, Version: src.Version}}
	f.mu.Unlock()
	return installer.Install(ctx, "voice "+lang, src.URI, "/game", false)
}

func (f *fakeVoice) IsUpdatePredownloaded(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.predownloaded, nil
}

func (f *fakeVoice) Predownload(ctx context.Context, fetcher downloads.Fetcher, lang, from string) (*downloads.Stream, error) {
	s, err := fetcher.Download(ctx, "voice-"+lang+"-from-"+from, filepath.Join(os.TempDir(), "unused"))
	if err != nil {
		return nil, err
	}
	s.OnFinish(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.predownloaded = !f.finalizeFails
	})
	return s, nil
}

type fakePatch struct {
	patch   *patch.Patch
	err     error
	applied int
}

func (f *fakePatch) Latest(_ context.Context, v string) (*patch.Patch, error) {
	return f.patch, f.err
}

func (f *fakePatch) Apply(ctx context.Context, installer downloads.Installer, p *patch.Patch) (*downloads.Pipeline, error) {
	f.applied++
	return installer.Install(ctx, "patch "+p.Version, p.URI, "/game", false)
}

// instantFetcher records the requested uri and completes immediately.
type instantFetcher struct {
	mu   sync.Mutex
	uris []string
}

func (f *instantFetcher) Download(ctx context.Context, uri, dest string) (*downloads.Stream, error) {
	f.mu.Lock()
	f.uris = append(f.uris, uri)
	f.mu.Unlock()
	work := func(context.Context) error { return nil }
	measure := func() (int64, error) { return 0, nil }
	return downloads.NewStream(ctx, uri, dest, 0, work, measure,
		downloads.StreamOptions{Interval: 5 * time.Millisecond, StallTimeout: 5 * time.Second}), nil
}

// recordingSink keeps every resolution and progress title.
type recordingSink struct {
	mu     sync.Mutex
	states []State
	titles []string
}

func (s *recordingSink) SetState(r Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, r.State)
}

func (s *recordingSink) InitProgress(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
}

func (s *recordingSink) Progress(int64, int64, int64) {}

func (s *recordingSink) HideProgress() {}

func latestData(version string, predownload bool) *game.Data {
	data := &game.Data{Game: game.Resource{Latest: game.Package{Version: version}}}
	if predownload {
		data.PreDownloadGame = &game.Resource{Latest: game.Package{Version: "3.4.0"}}
	}
	return data
}

// world is a fully installed setup that resolves to game-launch-available.
type world struct {
	runners *fakeRunners
	dxvks   *fakeDXVKs
	game    *fakeGame
	voice   *fakeVoice
	patch   *fakePatch
	sink    *recordingSink
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		runners: newFakeRunners(true),
		dxvks:   newFakeDXVKs(true),
		game:    &fakeGame{dir: t.TempDir(), current: "3.3.0", data: latestData("3.3.0", false)},
		voice:   &fakeVoice{installed: []voice.Installed{{Lang: "en-us", Version: "3.3.0"}}, selected: "en-us"},
		patch:   &fakePatch{patch: &patch.Patch{Entry: patch.Entry{Version: "3.3.0", State: patch.PhaseStable}, Applied: true}},
		sink:    &recordingSink{},
	}
	w.runners.selected = "wine-ge-8-26"
	w.dxvks.selected = "2.3"
	return w
}

func (w *world) resolver() *Resolver {
	return NewResolver(w.runners, w.dxvks, w.game, w.voice, w.patch, w.sink)
}
