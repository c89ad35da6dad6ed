package syncthing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imroc/req/v3"

	"github.com/RedRiverCN/SyncTrayzor/internal/version"
)

const (
	headerAPIKey = "X-API-Key"

	epPing    = "/rest/system/ping"
	epFolders = "/rest/config/folders"
	epEvents  = "/rest/events"

	// eventPollTimeout is the long-poll window requested from Syncthing.
	// The HTTP client timeout must stay comfortably above it.
	eventPollTimeout  = 60 * time.Second
	httpTimeout       = 90 * time.Second
	defaultRetryDelay = 5 * time.Second
)

// Folder is one synchronized folder as configured in Syncthing.
type Folder struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Client talks to a Syncthing instance over its REST API. It tracks a
// derived run state: Syncthing counts as running while its event endpoint
// answers, and as stopped while it does not.
type Client struct {
	http       *req.Client
	retryDelay time.Duration

	mu        sync.Mutex
	running   bool
	lastEvent int64
	primed    bool

	cbMu      sync.RWMutex
	onState   []func(running bool)
	onFolders []func()
}

// NewClient creates a client for the Syncthing API at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	httpc := req.C().
		SetBaseURL(baseURL).
		SetCommonHeader(headerAPIKey, apiKey).
		SetUserAgent("SyncTrayzor/" + version.Version).
		SetTimeout(httpTimeout)

	return &Client{
		http:       httpc,
		retryDelay: defaultRetryDelay,
	}
}

// OnStateChanged registers a callback fired whenever the derived run state
// flips. The callback runs on the event-loop goroutine.
func (c *Client) OnStateChanged(fn func(running bool)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onState = append(c.onState, fn)
}

// OnFoldersChanged registers a callback fired when Syncthing reports a
// configuration change, which covers folders being added or removed.
func (c *Client) OnFoldersChanged(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onFolders = append(c.onFolders, fn)
}

// IsRunning reports the derived run state.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Ping checks that the Syncthing API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.http.R().
		SetContext(ctx).
		Get(epPing)
	if err != nil {
		return fmt.Errorf("syncthing ping: %w", err)
	}
	if !res.IsSuccessState() {
		return fmt.Errorf("syncthing ping: unexpected status %s", res.Status)
	}
	return nil
}

// Folders fetches the current folder configuration.
func (c *Client) Folders(ctx context.Context) ([]Folder, error) {
	var folders []Folder
	res, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&folders).
		Get(epFolders)
	if err != nil {
		return nil, fmt.Errorf("syncthing folders: %w", err)
	}
	if !res.IsSuccessState() {
		return nil, fmt.Errorf("syncthing folders: unexpected status %s", res.Status)
	}
	return folders, nil
}
