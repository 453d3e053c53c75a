// Package remote probes and fetches files over HTTP.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxBytes  = 50 << 20
	defaultUserAgent = "simple-variant/1.0"
)

// Config options for the HTTP client
type Config struct {
	Timeout   time.Duration // Per-request timeout (default: 30s)
	MaxBytes  int64         // Largest body Fetch will read (default: 50 MiB)
	UserAgent string
}

// Client issues HEAD requests to check existence and GET requests to fetch bytes.
type Client struct {
	http      *http.Client
	maxBytes  int64
	userAgent string
}

// New creates a client. A zero Config uses the defaults.
func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = defaultMaxBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	return &Client{
		http:      &http.Client{Timeout: config.Timeout},
		maxBytes:  config.MaxBytes,
		userAgent: config.UserAgent,
	}
}

// Probe reports whether url answers a HEAD request with a 2xx status. Any
// other status is reported as missing; transport failures return an error.
func (c *Client) Probe(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build probe request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// Fetch downloads url. Non-2xx responses and bodies over MaxBytes are errors.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, errors.New("fetched body exceeds size limit")
	}
	return data, nil
}
