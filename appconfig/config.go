package appconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/stevecastle/gamelauncher/platform"
)

// EnvPrefix is prepended to every environment override, e.g. LAUNCHER_LOG_LEVEL.
const EnvPrefix = "LAUNCHER_"

// ErrUnknownKey is returned by key-path accessors for paths that do not exist.
var ErrUnknownKey = errors.New("unknown config key")

// Config holds the launcher configuration: selected components, paths,
// remote endpoints and transfer policy.
type Config struct {
	Lang struct {
		Launcher string `json:"launcher"`
		Voice    string `json:"voice" env:"VOICE"`
	} `json:"lang"`

	// Runner is the selected runner name, empty when none is selected.
	Runner string `json:"runner"`
	// DXVK is the selected DXVK version, empty when none is selected.
	DXVK string `json:"dxvk"`

	Prefix string            `json:"prefix" env:"PREFIX"`
	Env    map[string]string `json:"env"`
	// HUD is "none", "dxvk" or "mangohud".
	HUD string `json:"hud"`

	Game     Game     `json:"game" envPrefix:"GAME_"`
	Paths    Paths    `json:"paths" envPrefix:"PATH_"`
	Remote   Remote   `json:"remote" envPrefix:"REMOTE_"`
	S3       S3       `json:"s3" envPrefix:"S3_"`
	Transfer Transfer `json:"transfer" envPrefix:"TRANSFER_"`
	Log      Log      `json:"log" envPrefix:"LOG_"`
}

// Game describes the layout of the game installation.
type Game struct {
	DataDir    string `json:"dataDir" env:"DATA_DIR"`
	Executable string `json:"executable" env:"EXECUTABLE"`
	// HPatchz is the hdiff patch tool applied after updates.
	HPatchz string `json:"hpatchz" env:"HPATCHZ"`
}

// Paths are the directories the launcher installs into.
type Paths struct {
	Launcher string `json:"launcher" env:"LAUNCHER"`
	Runners  string `json:"runners" env:"RUNNERS"`
	DXVKs    string `json:"dxvks" env:"DXVKS"`
	Game     string `json:"game" env:"GAME"`
	Cache    string `json:"cache" env:"CACHE"`
}

// Remote endpoints.
type Remote struct {
	GameAPI    string `json:"gameApi" env:"GAME_API"`
	DXVKList   string `json:"dxvkList" env:"DXVK_LIST"`
	PatchIndex string `json:"patchIndex" env:"PATCH_INDEX"`
}

// S3 holds optional credentials for s3:// mirror URIs. Empty credentials
// fall back to the default AWS credential chain.
type S3 struct {
	Region          string `json:"region" env:"REGION"`
	Endpoint        string `json:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `json:"accessKeyId" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secretAccessKey" env:"SECRET_ACCESS_KEY"`
}

// Transfer is the uniform timeout and polling policy for downloads and extraction.
type Transfer struct {
	DownloadIntervalMs int `json:"downloadIntervalMs" env:"DOWNLOAD_INTERVAL_MS"`
	UnpackIntervalMs   int `json:"unpackIntervalMs" env:"UNPACK_INTERVAL_MS"`
	// StallTimeoutSec fails a transfer whose progress has not advanced.
	StallTimeoutSec int `json:"stallTimeoutSec" env:"STALL_TIMEOUT_SEC"`
	// TimeoutSec bounds a whole transfer; 0 disables the bound.
	TimeoutSec         int `json:"timeoutSec" env:"TIMEOUT_SEC"`
	RetryAttempts      int `json:"retryAttempts" env:"RETRY_ATTEMPTS"`
	MetadataTimeoutSec int `json:"metadataTimeoutSec" env:"METADATA_TIMEOUT_SEC"`
	DXVKListTimeoutMs  int `json:"dxvkListTimeoutMs" env:"DXVK_LIST_TIMEOUT_MS"`
}

func (t Transfer) DownloadInterval() time.Duration {
	return time.Duration(t.DownloadIntervalMs) * time.Millisecond
}

func (t Transfer) UnpackInterval() time.Duration {
	return time.Duration(t.UnpackIntervalMs) * time.Millisecond
}

func (t Transfer) StallTimeout() time.Duration {
	return time.Duration(t.StallTimeoutSec) * time.Second
}

func (t Transfer) Timeout() time.Duration {
	return time.Duration(t.TimeoutSec) * time.Second
}

func (t Transfer) MetadataTimeout() time.Duration {
	return time.Duration(t.MetadataTimeoutSec) * time.Second
}

func (t Transfer) DXVKListTimeout() time.Duration {
	return time.Duration(t.DXVKListTimeoutMs) * time.Millisecond
}

// Log settings. File "console" logs to stderr.
type Log struct {
	Level string `json:"level" env:"LEVEL"`
	File  string `json:"file" env:"FILE"`
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(platform.GetDataDir(), "config.json")
}

// defaultConfig returns a Config populated with sensible defaults.
func defaultConfig() Config {
	var c Config
	c.Lang.Launcher = "en-us"
	c.Lang.Voice = "en-us"
	c.Prefix = platform.PrefixDir()
	c.HUD = "none"
	c.Game = Game{
		DataDir:    "Game_Data",
		Executable: "Game.exe",
		HPatchz:    "hpatchz",
	}
	c.Paths = Paths{
		Launcher: platform.LauncherDir(),
		Runners:  platform.RunnersDir(),
		DXVKs:    platform.DXVKsDir(),
		Game:     platform.GameDir(),
		Cache:    filepath.Join(platform.GetCacheDir(), "cache.db"),
	}
	c.Remote = Remote{
		GameAPI:    "https://sdk-os-static.hoyoverse.com/hk4e_global/mdk/launcher/api/resource?key=gcStgarh&launcher_id=10",
		DXVKList:   "https://gitlab.com/KRypt0n_/an-anime-game-launcher/-/raw/main/public/dxvks.yaml",
		PatchIndex: "https://notabug.org/Krock/dawn/raw/master/patches.yaml",
	}
	c.Transfer = Transfer{
		DownloadIntervalMs: 200,
		UnpackIntervalMs:   500,
		StallTimeoutSec:    120,
		RetryAttempts:      3,
		MetadataTimeoutSec: 10,
		DXVKListTimeoutMs:  1500,
	}
	c.Log = Log{
		Level: "info",
		File:  platform.LogPath(),
	}
	return c
}

// fillDefaults copies defaults into empty fields and reports whether a
// field that must be persisted was missing.
func fillDefaults(c *Config) bool {
	def := defaultConfig()
	needsSave := false

	if c.Lang.Launcher == "" {
		c.Lang.Launcher = def.Lang.Launcher
	}
	if c.Lang.Voice == "" {
		c.Lang.Voice = def.Lang.Voice
		needsSave = true
	}
	if c.Prefix == "" {
		c.Prefix = def.Prefix
		needsSave = true
	}
	if c.HUD == "" {
		c.HUD = def.HUD
	}
	if c.Game.DataDir == "" {
		c.Game.DataDir = def.Game.DataDir
	}
	if c.Game.Executable == "" {
		c.Game.Executable = def.Game.Executable
	}
	if c.Game.HPatchz == "" {
		c.Game.HPatchz = def.Game.HPatchz
	}
	if c.Paths.Launcher == "" {
		c.Paths.Launcher = def.Paths.Launcher
	}
	if c.Paths.Runners == "" {
		c.Paths.Runners = def.Paths.Runners
	}
	if c.Paths.DXVKs == "" {
		c.Paths.DXVKs = def.Paths.DXVKs
	}
	if c.Paths.Game == "" {
		c.Paths.Game = def.Paths.Game
		needsSave = true
	}
	if c.Paths.Cache == "" {
		c.Paths.Cache = def.Paths.Cache
	}
	if c.Remote.GameAPI == "" {
		c.Remote.GameAPI = def.Remote.GameAPI
	}
	if c.Remote.DXVKList == "" {
		c.Remote.DXVKList = def.Remote.DXVKList
	}
	if c.Remote.PatchIndex == "" {
		c.Remote.PatchIndex = def.Remote.PatchIndex
	}
	if c.Transfer.DownloadIntervalMs <= 0 {
		c.Transfer.DownloadIntervalMs = def.Transfer.DownloadIntervalMs
	}
	if c.Transfer.UnpackIntervalMs <= 0 {
		c.Transfer.UnpackIntervalMs = def.Transfer.UnpackIntervalMs
	}
	if c.Transfer.StallTimeoutSec <= 0 {
		c.Transfer.StallTimeoutSec = def.Transfer.StallTimeoutSec
	}
	if c.Transfer.RetryAttempts <= 0 {
		c.Transfer.RetryAttempts = def.Transfer.RetryAttempts
	}
	if c.Transfer.MetadataTimeoutSec <= 0 {
		c.Transfer.MetadataTimeoutSec = def.Transfer.MetadataTimeoutSec
	}
	if c.Transfer.DXVKListTimeoutMs <= 0 {
		c.Transfer.DXVKListTimeoutMs = def.Transfer.DXVKListTimeoutMs
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.File == "" {
		c.Log.File = def.Log.File
	}
	return needsSave
}

// Store is a persisted Config with key-path access. It is safe for
// concurrent use.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

// NewStore returns a Store backed by path holding default values until Load is called.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultConfigPath()
	}
	return &Store{path: path, cfg: defaultConfig()}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current in-memory config.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the in-memory config without persisting it.
func (s *Store) Set(c Config) {
	s.mu.Lock()
	s.cfg = c
	s.mu.Unlock()
}

// Load reads the config from disk, merges defaults and applies environment
// overrides. A missing file is created with default values.
func (s *Store) Load() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return Config{}, fmt.Errorf("failed to create config directory %s: %w", filepath.Dir(s.path), err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config file at %s: %w", s.path, err)
		}
		def := defaultConfig()
		if err := s.save(def); err != nil {
			return Config{}, fmt.Errorf("failed to create default config file: %w", err)
		}
		if err := applyEnv(&def); err != nil {
			return Config{}, err
		}
		s.cfg = def
		return def, nil
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if fillDefaults(&c) {
		// Continue with the in-memory config if the write fails.
		if err := s.save(c); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save updated config: %v\n", err)
		}
	}

	if err := applyEnv(&c); err != nil {
		return Config{}, err
	}

	s.cfg = c
	return c, nil
}

func applyEnv(c *Config) error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	return nil
}

// Save writes c to disk and makes it the in-memory config.
func (s *Store) Save(c Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(c); err != nil {
		return err
	}
	s.cfg = c
	return nil
}

// Update applies fn to a copy of the config and persists the result.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cfg
	fn(&c)
	if err := s.save(c); err != nil {
		return err
	}
	s.cfg = c
	return nil
}

// save merges c into the existing file so unknown keys survive. Caller holds mu.
func (s *Store) save(c Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	base := map[string]json.RawMessage{}
	if existing, readErr := os.ReadFile(s.path); readErr == nil {
		var tmp map[string]json.RawMessage
		if err := json.Unmarshal(existing, &tmp); err == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return fmt.Errorf("failed to map config JSON: %w", err)
	}

	deepMergeJSON(base, incoming)

	mergedData, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal merged config: %w", err)
	}
	if err := os.WriteFile(s.path, mergedData, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Value returns the value at a dotted key path such as "lang.voice".
func (s *Store) Value(key string) (any, error) {
	tree, err := toTree(s.Get())
	if err != nil {
		return nil, err
	}
	var node any = tree
	for _, part := range strings.Split(key, ".") {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		if node, ok = obj[part]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
	}
	return node, nil
}

// GetString returns the string at key, or "" when the key is unset or not a string.
func (s *Store) GetString(key string) string {
	v, err := s.Value(key)
	if err != nil {
		return ""
	}
	str, _ := v.(string)
	return str
}

// SetValue sets the value at a dotted key path and persists the config.
// The value must be assignable to the field's JSON type.
func (s *Store) SetValue(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := toTree(s.cfg)
	if err != nil {
		return err
	}
	parts := strings.Split(key, ".")
	obj := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := obj[part].(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		obj = next
	}
	last := parts[len(parts)-1]
	if _, ok := obj[last]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	obj[last] = value

	raw, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := s.save(c); err != nil {
		return err
	}
	s.cfg = c
	return nil
}

func toTree(c Config) (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	tree := map[string]any{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to map config JSON: %w", err)
	}
	return tree, nil
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && isJSONObject(existing) && isJSONObject(v) {
			var dstObj map[string]json.RawMessage
			var srcObj map[string]json.RawMessage
			if err := json.Unmarshal(existing, &dstObj); err != nil {
				dst[k] = v
				continue
			}
			if err := json.Unmarshal(v, &srcObj); err != nil {
				dst[k] = v
				continue
			}
			deepMergeJSON(dstObj, srcObj)
			merged, err := json.Marshal(dstObj)
			if err != nil {
				dst[k] = v
				continue
			}
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}
