package downloads

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// DefaultUserAgent is sent with every HTTP request.
const DefaultUserAgent = "game-launcher/1.0"

// HTTPSource fetches http and https URIs, resuming with Range requests.
type HTTPSource struct {
	Client    *http.Client
	UserAgent string
}

func (h *HTTPSource) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	// No timeout for large downloads; the stream enforces its own policy.
	return &http.Client{Timeout: 0}
}

func (h *HTTPSource) newRequest(ctx context.Context, method, uri string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	ua := h.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	return req, nil
}

// Size returns the Content-Length reported for uri, or 0 when unknown.
func (h *HTTPSource) Size(ctx context.Context, uri string) (int64, error) {
	req, err := h.newRequest(ctx, http.MethodHead, uri)
	if err != nil {
		return 0, err
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if resp.ContentLength < 0 {
			return 0, nil
		}
		return resp.ContentLength, nil
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return h.sizeFromRange(ctx, uri)
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("%w: %s", ErrNotFound, uri)
	default:
		return 0, &HTTPStatusError{Code: resp.StatusCode, Status: resp.Status, URL: uri}
	}
}

// sizeFromRange asks for the first byte and reads the total from Content-Range.
func (h *HTTPSource) sizeFromRange(ctx context.Context, uri string) (int64, error) {
	req, err := h.newRequest(ctx, http.MethodGet, uri)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := h.client().Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		if resp.StatusCode == http.StatusOK && resp.ContentLength >= 0 {
			return resp.ContentLength, nil
		}
		return 0, &HTTPStatusError{Code: resp.StatusCode, Status: resp.Status, URL: uri}
	}
	cr := resp.Header.Get("Content-Range")
	if i := strings.LastIndex(cr, "/"); i >= 0 && cr[i+1:] != "*" {
		return strconv.ParseInt(cr[i+1:], 10, 64)
	}
	return 0, nil
}

// Open starts reading uri from offset. The returned offset is where the body
// actually begins: 0 when the server ignored the Range header.
func (h *HTTPSource) Open(ctx context.Context, uri string, offset int64) (io.ReadCloser, int64, error) {
	req, err := h.newRequest(ctx, http.MethodGet, uri)
	if err != nil {
		return nil, 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, 0, nil
	case http.StatusPartialContent:
		return resp.Body, offset, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, uri)
	default:
		resp.Body.Close()
		return nil, 0, &HTTPStatusError{Code: resp.StatusCode, Status: resp.Status, URL: uri}
	}
}
