// Package voice reports installed voice packs and prepares their installs.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/stevecastle/gamelauncher/downloads"
	"github.com/stevecastle/gamelauncher/game"
)

// ConfigKey holds the voice language the user selected.
const ConfigKey = "lang.voice"

var (
	ErrUnknownLanguage = errors.New("unknown voice language")

	// packVersion matches the major.minor part of a bank file name.
	packVersion = regexp.MustCompile(`_(\d+\.\d+)_`)
)

// folders maps the on-disk bank folder of each language to its code, in
// listing order.
var folders = []struct {
	Folder string
	Lang   string
}{
	{"English(US)", "en-us"},
	{"Japanese", "ja-jp"},
	{"Korean", "ko-kr"},
	{"Chinese", "zh-cn"},
}

// LangForFolder returns the language code of a bank folder.
func LangForFolder(folder string) (string, bool) {
	for _, f := range folders {
		if f.Folder == folder {
			return f.Lang, true
		}
	}
	return "", false
}

// FolderForLang returns the bank folder of a language code.
func FolderForLang(lang string) (string, bool) {
	for _, f := range folders {
		if f.Lang == lang {
			return f.Folder, true
		}
	}
	return "", false
}

type Settings interface {
	GetString(key string) string
}

// Installed is a locally installed pack. Version is empty when no bank
// file name carries one.
type Installed struct {
	Lang    string
	Version string
}

type Options struct {
	GameDir     string
	DataDir     string // relative to GameDir
	LauncherDir string
	Metadata    game.Metadata
	Settings    Settings
}

type Provider struct {
	opts Options
}

func NewProvider(opts Options) *Provider {
	return &Provider{opts: opts}
}

// BanksDir holds one folder per installed language.
func (p *Provider) BanksDir() string {
	return filepath.Join(p.opts.GameDir, p.opts.DataDir, "StreamingAssets", "Audio", "GeneratedSoundBanks", "Windows")
}

// PredownloadPath is where a predownloaded pack for lang is kept.
func (p *Provider) PredownloadPath(lang string) string {
	return filepath.Join(p.opts.LauncherDir, fmt.Sprintf("voice-%s-predownloaded.zip", lang))
}

// Installed lists installed packs in a fixed language order. A missing
// banks directory means none are installed.
func (p *Provider) Installed(ctx context.Context) ([]Installed, error) {
	entries, err := os.ReadDir(p.BanksDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read voice banks: %w", err)
	}
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			present[e.Name()] = true
		}
	}

	var out []Installed
	for _, f := range folders {
		if present[f.Folder] {
			out = append(out, Installed{Lang: f.Lang, Version: p.folderVersion(f.Folder)})
		}
	}
	return out, nil
}

// folderVersion derives a pack version from the last bank file name.
func (p *Provider) folderVersion(folder string) string {
	entries, err := os.ReadDir(filepath.Join(p.BanksDir(), folder))
	if err != nil || len(entries) == 0 {
		return ""
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	m := packVersion.FindStringSubmatch(names[len(names)-1])
	if m == nil {
		return ""
	}
	return m[1] + ".0"
}

// Active returns the pack the game is currently set to play, or nil when
// the game has not recorded one.
func (p *Provider) Active(ctx context.Context) (*Installed, error) {
	raw, err := os.ReadFile(filepath.Join(p.opts.GameDir, p.opts.DataDir, "Persistent", "audio_lang_14"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active voice language: %w", err)
	}
	folder := strings.TrimSpace(string(raw))
	lang, ok := LangForFolder(folder)
	if !ok {
		log.Warnf("unknown active voice folder %q", folder)
		return nil, nil
	}
	return &Installed{Lang: lang, Version: p.folderVersion(folder)}, nil
}

// Selected is the configured voice language.
func (p *Provider) Selected(ctx context.Context) string {
	return p.opts.Settings.GetString(ConfigKey)
}

// Latest returns the latest remote pack for lang.
func (p *Provider) Latest(ctx context.Context, lang string) (game.VoicePack, error) {
	data, err := p.opts.Metadata.Latest(ctx)
	if err != nil {
		return game.VoicePack{}, err
	}
	vp, ok := data.Game.Latest.Voice(lang)
	if !ok {
		return game.VoicePack{}, fmt.Errorf("%w: %s", ErrUnknownLanguage, lang)
	}
	return vp, nil
}

// UpdateSource picks how to bring lang to the latest version from the
// installed pack version from (empty when not installed): predownloaded
// archive, then diff, then the full pack.
func (p *Provider) UpdateSource(ctx context.Context, lang, from string) (game.Source, error) {
	data, err := p.opts.Metadata.Latest(ctx)
	if err != nil {
		return game.Source{}, err
	}
	latest := data.Game.Latest.Version

	if ok, _ := p.IsUpdatePredownloaded(ctx, lang); ok {
		return game.Source{URI: p.PredownloadPath(lang), AlreadyDownloaded: true, Version: latest}, nil
	}
	if from != "" {
		if d, ok := data.Game.DiffFrom(from); ok {
			if vp, ok := d.Voice(lang); ok {
				return game.Source{URI: vp.Path, Version: latest, MD5: vp.MD5}, nil
			}
		}
	}
	vp, ok := data.Game.Latest.Voice(lang)
	if !ok {
		return game.Source{}, fmt.Errorf("%w: %s", ErrUnknownLanguage, lang)
	}
	return game.Source{URI: vp.Path, Version: latest, MD5: vp.MD5}, nil
}

// Install unpacks src over the game directory.
func (p *Provider) Install(ctx context.Context, installer downloads.Installer, lang string, src game.Source) (*downloads.Pipeline, error) {
	if err := os.MkdirAll(p.opts.GameDir, 0755); err != nil {
		return nil, err
	}
	return installer.Install(ctx, fmt.Sprintf("voice %s %s", lang, src.Version), src.URI, p.opts.GameDir, src.AlreadyDownloaded, downloads.WithMD5(src.MD5))
}

// IsUpdatePredownloaded reports whether a predownloaded pack for lang exists.
func (p *Provider) IsUpdatePredownloaded(ctx context.Context, lang string) (bool, error) {
	_, err := os.Stat(p.PredownloadPath(lang))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Predownload fetches the upcoming pack for lang. from is the installed
// game version; its predownload diff is preferred over the full pack.
func (p *Provider) Predownload(ctx context.Context, fetcher downloads.Fetcher, lang, from string) (*downloads.Stream, error) {
	data, err := p.opts.Metadata.Latest(ctx)
	if err != nil {
		return nil, err
	}
	pre := data.PreDownloadGame
	if pre == nil {
		return nil, game.ErrNoPredownload
	}
	vp, ok := pre.Latest.Voice(lang)
	if from != "" {
		if d, found := pre.DiffFrom(from); found {
			vp, ok = d.Voice(lang)
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: no %s pack", game.ErrNoPredownload, lang)
	}
	return game.FetchPredownload(ctx, fetcher, vp.Path, p.PredownloadPath(lang))
}
