// Package client triggers tiering cycles on a running tierctl server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lazypower/tierctl/internal/engine"
)

const (
	defaultServerURL = "http://127.0.0.1:37780"
	httpTimeout      = 15 * time.Minute
)

// ErrConflict is returned when the server is already running a cycle.
var ErrConflict = errors.New("server is already running a cycle")

// Client talks to the tierctl server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for url. An empty url falls back to TIERCTL_URL and
// then to the default local address.
func New(url string) *Client {
	if url == "" {
		url = os.Getenv("TIERCTL_URL")
	}
	if url == "" {
		url = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: strings.TrimRight(url, "/"),
	}
}

// URL returns the server base URL.
func (c *Client) URL() string { return c.serverURL }

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, rd)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response %s: %w", path, err)
	}
	return data, resp.StatusCode, nil
}

// Run asks the server to run one cycle and returns its report.
func (c *Client) Run(ctx context.Context, opts engine.RunOptions) (*engine.Report, error) {
	body, _ := json.Marshal(map[string]bool{"dry_run": opts.DryRun, "show_scores": opts.ShowScores})
	data, code, err := c.do(ctx, http.MethodPost, "/api/run", body)
	if err != nil {
		return nil, err
	}
	switch {
	case code == http.StatusConflict:
		return nil, ErrConflict
	case code >= 400:
		return nil, fmt.Errorf("POST /api/run: status %d: %s", code, bytes.TrimSpace(data))
	}

	var rep engine.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &rep, nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	_, code, err := c.do(ctx, http.MethodGet, "/api/health", nil)
	return err == nil && code == http.StatusOK
}
