package voice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevecastle/gamelauncher/downloads"
	"github.com/stevecastle/gamelauncher/game"
)

type staticMetadata struct {
	data *game.Data
}

func (m staticMetadata) Latest(context.Context) (*game.Data, error) {
	return m.data, nil
}

type mapSettings map[string]string

func (m mapSettings) GetString(key string) string {
	return m[key]
}

type fileFetcher struct {
	uri string
}

func (f *fileFetcher) Download(ctx context.Context, uri, dest string) (*downloads.Stream, error) {
	f.uri = uri
	content := []byte("voice")
	work := func(context.Context) error {
		return os.WriteFile(dest, content, 0644)
	}
	measure := func() (int64, error) {
		st, err := os.Stat(dest)
		if err != nil {
			return 0, err
		}
		return st.Size(), nil
	}
	return downloads.NewStream(ctx, uri, dest, int64(len(content)), work, measure,
		downloads.StreamOptions{Interval: 5 * time.Millisecond, StallTimeout: 5 * time.Second}), nil
}

func testData() *game.Data {
	return &game.Data{
		Game: game.Resource{
			Latest: game.Package{Version: "3.3.0", VoicePacks: []game.VoicePack{
				{Language: "en-us", Path: "https://cdn.example.com/en-us_3.3.0.zip", MD5: "e3a0"},
				{Language: "ja-jp", Path: "https://cdn.example.com/ja-jp_3.3.0.zip"},
			}},
			Diffs: []game.Package{{Version: "3.2.0", VoicePacks: []game.VoicePack{
				{Language: "en-us", Path: "https://cdn.example.com/en-us_3.2.0_3.3.0.zip", MD5: "e32d"},
			}}},
		},
		PreDownloadGame: &game.Resource{
			Latest: game.Package{Version: "3.4.0", VoicePacks: []game.VoicePack{
				{Language: "en-us", Path: "https://cdn.example.com/en-us_3.4.0.zip"},
			}},
			Diffs: []game.Package{{Version: "3.3.0", VoicePacks: []game.VoicePack{
				{Language: "en-us", Path: "https://cdn.example.com/en-us_3.3.0_3.4.0.zip"},
			}}},
		},
	}
}

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	dir := t.TempDir()
	return NewProvider(Options{
		GameDir:     filepath.Join(dir, "game"),
		DataDir:     "Game_Data",
		LauncherDir: filepath.Join(dir, "launcher"),
		Metadata:    staticMetadata{data: testData()},
		Settings:    mapSettings{ConfigKey: "en-us"},
	})
}

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestInstalled(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	got, err := p.Installed(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	touch(t, filepath.Join(p.BanksDir(), "Japanese", "Vo_3.1_01.pck"), "")
	touch(t, filepath.Join(p.BanksDir(), "English(US)", "Vo_3.2_01.pck"), "")
	touch(t, filepath.Join(p.BanksDir(), "English(US)", "Vo_3.3_02.pck"), "")
	touch(t, filepath.Join(p.BanksDir(), "English(US)", "Banks.pck"), "")
	require.NoError(t, os.MkdirAll(filepath.Join(p.BanksDir(), "Korean"), 0755))
	touch(t, filepath.Join(p.BanksDir(), "Unknown", "Vo_3.3_01.pck"), "")

	got, err = p.Installed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Installed{
		{Lang: "en-us", Version: "3.3.0"},
		{Lang: "ja-jp", Version: "3.1.0"},
		{Lang: "ko-kr", Version: ""},
	}, got)
}

func TestActiveAndSelected(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	active, err := p.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	touch(t, filepath.Join(p.BanksDir(), "Japanese", "Vo_3.3_01.pck"), "")
	touch(t, filepath.Join(p.opts.GameDir, "Game_Data", "Persistent", "audio_lang_14"), "Japanese\n")
	active, err = p.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, Installed{Lang: "ja-jp", Version: "3.3.0"}, *active)

	assert.Equal(t, "en-us", p.Selected(ctx))
}

func TestUpdateSource(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	src, err := p.UpdateSource(ctx, "en-us", "")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/en-us_3.3.0.zip", src.URI)
	assert.Equal(t, "3.3.0", src.Version)
	assert.Equal(t, "e3a0", src.MD5)

	src, err = p.UpdateSource(ctx, "en-us", "3.2.0")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/en-us_3.2.0_3.3.0.zip", src.URI)
	assert.Equal(t, "e32d", src.MD5)

	src, err = p.UpdateSource(ctx, "ja-jp", "3.2.0")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/ja-jp_3.3.0.zip", src.URI, "no diff pack falls back to the full pack")

	_, err = p.UpdateSource(ctx, "ko-kr", "")
	assert.ErrorIs(t, err, ErrUnknownLanguage)

	touch(t, p.PredownloadPath("en-us"), "zip")
	src, err = p.UpdateSource(ctx, "en-us", "3.2.0")
	require.NoError(t, err)
	assert.True(t, src.AlreadyDownloaded)
	assert.Equal(t, p.PredownloadPath("en-us"), src.URI)
}

func TestPredownload(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	fetcher := &fileFetcher{}

	s, err := p.Predownload(ctx, fetcher, "en-us", "3.3.0")
	require.NoError(t, err)
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, "https://cdn.example.com/en-us_3.3.0_3.4.0.zip", fetcher.uri)

	ok, err := p.IsUpdatePredownloaded(ctx, "en-us")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.IsUpdatePredownloaded(ctx, "ja-jp")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Predownload(ctx, fetcher, "ja-jp", "")
	assert.ErrorIs(t, err, game.ErrNoPredownload)
}

func TestFolderMapping(t *testing.T) {
	lang, ok := LangForFolder("Chinese")
	assert.True(t, ok)
	assert.Equal(t, "zh-cn", lang)

	folder, ok := FolderForLang("en-us")
	assert.True(t, ok)
	assert.Equal(t, "English(US)", folder)

	_, ok = FolderForLang("fr-fr")
	assert.False(t, ok)
}
