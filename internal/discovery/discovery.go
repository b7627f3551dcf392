// ABOUTME: Client-side discovery of a running bridge daemon on the loopback port range
// ABOUTME: Matches /health workspace folders against WORKSPACE_FOLDER_PATHS

package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/2389/cursor-discord-bridge/internal/rpc"
)

// EnvWorkspaceFolders names the adapter's workspace environment
// variable: a comma-separated list of absolute folder paths.
const EnvWorkspaceFolders = "WORKSPACE_FOLDER_PATHS"

// ErrNoDaemon means no healthy daemon answered on any port.
var ErrNoDaemon = errors.New("no bridge daemon found on loopback port range")

// probeBudget caps how long a single port probe may take; a closed port
// rejects instantly, so this only bounds a hung listener.
const probeBudget = 750 * time.Millisecond

// Health is the daemon's /health response.
type Health struct {
	Status           string   `json:"status"`
	WorkspaceFolders []string `json:"workspaceFolders"`
	WorkspaceName    string   `json:"workspaceName"`
	DiscordConnected bool     `json:"discordConnected"`
}

// Client finds and remembers the daemon serving a given workspace.
type Client struct {
	httpClient *http.Client
	basePort   int
	portRange  int

	mu      sync.Mutex
	baseURL string // cached after the first successful discovery
}

// NewClient builds a discovery client over the default port range.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 2 * time.Second},
		basePort:   rpc.BasePort,
		portRange:  rpc.PortRange,
	}
}

// BaseURL returns the cached daemon URL, discovering it on first use.
// workspaceFolders may be empty; then $WORKSPACE_FOLDER_PATHS applies,
// and if that is unset too, the first healthy daemon wins.
func (c *Client) BaseURL(ctx context.Context, workspaceFolders []string) (string, error) {
	c.mu.Lock()
	if c.baseURL != "" {
		url := c.baseURL
		c.mu.Unlock()
		return url, nil
	}
	c.mu.Unlock()

	url, err := c.discover(ctx, workspaceFolders)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.baseURL = url
	c.mu.Unlock()
	return url, nil
}

// Invalidate drops the cached URL so the next call re-probes.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.baseURL = ""
	c.mu.Unlock()
}

func (c *Client) discover(ctx context.Context, workspaceFolders []string) (string, error) {
	wanted := workspaceFolders
	if len(wanted) == 0 {
		wanted = FoldersFromEnv()
	}

	var firstHealthy string
	for port := c.basePort; port < c.basePort+c.portRange; port++ {
		url := fmt.Sprintf("http://127.0.0.1:%d", port)
		probeCtx, cancel := context.WithTimeout(ctx, probeBudget)
		h, err := c.Probe(probeCtx, url)
		cancel()
		if err != nil {
			continue
		}
		if len(wanted) == 0 {
			// Legacy fallback: no workspace hint, first healthy wins.
			return url, nil
		}
		if firstHealthy == "" {
			firstHealthy = url
		}
		if foldersIntersect(h.WorkspaceFolders, wanted) {
			return url, nil
		}
	}

	if firstHealthy != "" {
		return "", fmt.Errorf("no daemon serves workspace %s (daemons are running for other workspaces)",
			strings.Join(wanted, ", "))
	}
	return "", ErrNoDaemon
}

// Probe fetches and validates one candidate's /health.
func (c *Client) Probe(ctx context.Context, baseURL string) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health returned %d", resp.StatusCode)
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, err
	}
	if h.Status != "ok" {
		return nil, fmt.Errorf("unexpected health status %q", h.Status)
	}
	return &h, nil
}

// FoldersFromEnv parses $WORKSPACE_FOLDER_PATHS.
func FoldersFromEnv() []string {
	raw := os.Getenv(EnvWorkspaceFolders)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// foldersIntersect compares folder sets after path cleaning so trailing
// separators never break a match.
func foldersIntersect(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, p := range a {
		set[filepath.Clean(p)] = true
	}
	for _, p := range b {
		if set[filepath.Clean(p)] {
			return true
		}
	}
	return false
}
