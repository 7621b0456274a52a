// Package sensu is a minimal client for the monitoring API used by the
// suppression filters.
package sensu

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

type Client struct {
	base     string
	user     string
	password string
	HTTP     *http.Client
}

// New returns nil when no host is configured; filters treat a nil client as
// "API unavailable" and skip.
func New(cfg Config) *Client {
	if cfg.Host == "" {
		return nil
	}
	base := cfg.Host
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if cfg.Port != 0 {
		base = fmt.Sprintf("%s:%d", base, cfg.Port)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:     strings.TrimRight(base, "/"),
		user:     cfg.User,
		password: cfg.Password,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// NewWithBaseURL points the client at a full URL, e.g. an httptest server.
func NewWithBaseURL(base string) *Client {
	return &Client{base: strings.TrimRight(base, "/"), HTTP: &http.Client{Timeout: 5 * time.Second}}
}

// exists issues a GET and maps 2xx to true and 404 to false.
func (c *Client) exists(ctx context.Context, path string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return false, err
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("sensu api: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode/100 == 2:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("sensu api: GET %s: status %d", path, resp.StatusCode)
	}
}

func escapePath(parts ...string) string {
	esc := make([]string, len(parts))
	for i, p := range parts {
		esc[i] = url.PathEscape(p)
	}
	return strings.Join(esc, "/")
}

// StashExists reports whether a stash is stored at path, e.g. "silence/web1".
func (c *Client) StashExists(ctx context.Context, path string) (bool, error) {
	return c.exists(ctx, "/stashes/"+escapePath(strings.Split(path, "/")...))
}

// EventExists reports whether client/check currently has an open event.
func (c *Client) EventExists(ctx context.Context, client, check string) (bool, error) {
	return c.exists(ctx, "/events/"+escapePath(client, check))
}
