package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultPort is the dashboard's default listen port.
const DefaultPort = 11391

const (
	healthTimeout   = 2 * time.Second
	requestTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Info is the dashboard's self-description
type Info struct {
	Version       string  `json:"version"`
	PID           int     `json:"pid"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	ProjectCount  int     `json:"project_count"`
}

// ProjectEntry is one project the dashboard is serving
type ProjectEntry struct {
	Root      string `json:"root"`
	DBPath    string `json:"db_path"`
	TaskCount int    `json:"task_count"`
}

// Client talks to a running dashboard over loopback HTTP.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for the dashboard on the given port; port 0
// means the default.
func NewClient(port int) *Client {
	if port <= 0 {
		port = DefaultPort
	}
	return &Client{
		base: fmt.Sprintf("http://127.0.0.1:%d", port),
		http: &http.Client{Timeout: requestTimeout},
	}
}

// Health reports whether a dashboard answers on the port. It uses a short
// timeout so status commands stay snappy when nothing is running.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Info fetches the dashboard's version and uptime.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.getJSON(ctx, "/api/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Projects lists the projects the dashboard currently serves.
func (c *Client) Projects(ctx context.Context) ([]ProjectEntry, error) {
	var projects []ProjectEntry
	if err := c.getJSON(ctx, "/api/projects", &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Shutdown asks the dashboard to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/shutdown", nil)
	if err != nil {
		return fmt.Errorf("failed to build shutdown request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach dashboard: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dashboard refused shutdown: %s", resp.Status)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach dashboard: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dashboard returned %s for %s", resp.Status, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
