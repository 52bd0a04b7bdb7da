package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMetadataTimeout = 10 * time.Second
	DefaultMetadataTTL     = 5 * time.Minute

	latestKey = "latest"
)

// ErrRemoteUnreachable wraps every failure to obtain remote metadata, so it
// can be told apart from a valid but empty answer.
var ErrRemoteUnreachable = errors.New("remote metadata unreachable")

// APIError is a well-formed response carrying a non-zero retcode.
type APIError struct {
	Retcode int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("metadata api returned retcode %d: %s", e.Retcode, e.Message)
}

// VoicePack is a remotely available voice archive.
type VoicePack struct {
	Language string `json:"language"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     string `json:"size"`
	MD5      string `json:"md5"`
}

// Bytes parses Size, which the API encodes as a decimal string.
func (v VoicePack) Bytes() int64 {
	n, _ := strconv.ParseInt(v.Size, 10, 64)
	return n
}

// Package is a full or diff game archive. For diffs Version is the version
// the diff applies to.
type Package struct {
	Name       string      `json:"name"`
	Version    string      `json:"version"`
	Path       string      `json:"path"`
	Size       string      `json:"size"`
	MD5        string      `json:"md5"`
	VoicePacks []VoicePack `json:"voice_packs"`
}

func (p Package) Bytes() int64 {
	n, _ := strconv.ParseInt(p.Size, 10, 64)
	return n
}

// Voice returns the pack for lang.
func (p Package) Voice(lang string) (VoicePack, bool) {
	for _, v := range p.VoicePacks {
		if v.Language == lang {
			return v, true
		}
	}
	return VoicePack{}, false
}

// Resource is the latest package plus diffs from older versions.
type Resource struct {
	Latest Package   `json:"latest"`
	Diffs  []Package `json:"diffs"`
}

// DiffFrom returns the diff applying to version from.
func (r Resource) DiffFrom(from string) (Package, bool) {
	for _, d := range r.Diffs {
		if SameVersion(d.Version, from) {
			return d, true
		}
	}
	return Package{}, false
}

// Data is the metadata document. PreDownloadGame is nil outside a
// predownload window.
type Data struct {
	Game            Resource  `json:"game"`
	PreDownloadGame *Resource `json:"pre_download_game"`
}

type response struct {
	Retcode int    `json:"retcode"`
	Message string `json:"message"`
	Data    *Data  `json:"data"`
}

// Metadata is the remote metadata collaborator.
type Metadata interface {
	Latest(ctx context.Context) (*Data, error)
}

// Client fetches the metadata document over HTTP. Results are memoised for
// a short TTL and concurrent fetches are coalesced.
type Client struct {
	url     string
	http    *http.Client
	timeout time.Duration
	memo    *gocache.Cache
	group   singleflight.Group
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultMetadataTimeout
	}
	return &Client{
		url:     url,
		http:    &http.Client{},
		timeout: timeout,
		memo:    gocache.New(DefaultMetadataTTL, 2*DefaultMetadataTTL),
	}
}

// Latest returns the current metadata document.
func (c *Client) Latest(ctx context.Context) (*Data, error) {
	if v, ok := c.memo.Get(latestKey); ok {
		return v.(*Data), nil
	}
	v, err, shared := c.group.Do(latestKey, func() (any, error) {
		data, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.memo.SetDefault(latestKey, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug("metadata fetch shared with a concurrent caller")
	}
	return v.(*Data), nil
}

// Forget drops the memoised document.
func (c *Client) Forget() {
	c.memo.Delete(latestKey)
}

func (c *Client) fetch(ctx context.Context) (*Data, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrRemoteUnreachable, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if r.Retcode != 0 {
		return nil, &APIError{Retcode: r.Retcode, Message: r.Message}
	}
	if r.Data == nil {
		return nil, errors.New("metadata response has no data")
	}
	log.Debugf("remote game version %s", r.Data.Game.Latest.Version)
	return r.Data, nil
}
