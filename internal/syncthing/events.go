package syncthing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// EventType names the Syncthing event classes the client subscribes to.
const (
	EventConfigSaved   = "ConfigSaved"
	EventFolderPaused  = "FolderPaused"
	EventFolderResumed = "FolderResumed"
)

// Event is one entry from Syncthing's event log.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// Run long-polls the event endpoint until ctx is cancelled. A successful
// poll marks Syncthing as running; a failed one marks it as stopped and
// retries after a delay. Run-state flips and configuration changes fan out
// to the registered callbacks.
func (c *Client) Run(ctx context.Context) error {
	slog.Info("syncthing event loop start")
	defer slog.Info("syncthing event loop stopped")

	for {
		events, err := c.pollEvents(ctx)
		if ctx.Err() != nil {
			c.setRunning(false)
			return ctx.Err()
		}
		if err != nil {
			if c.setRunning(false) {
				slog.Warn("syncthing unreachable", "error", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
			continue
		}

		c.setRunning(true)
		c.processEvents(events)
	}
}

func (c *Client) pollEvents(ctx context.Context) ([]Event, error) {
	c.mu.Lock()
	since := c.lastEvent
	c.mu.Unlock()

	var events []Event
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("since", strconv.FormatInt(since, 10)).
		SetQueryParam("timeout", strconv.Itoa(int(eventPollTimeout/time.Second))).
		SetSuccessResult(&events).
		Get(epEvents)
	if err != nil {
		return nil, fmt.Errorf("syncthing events: %w", err)
	}
	if !res.IsSuccessState() {
		return nil, fmt.Errorf("syncthing events: unexpected status %s", res.Status)
	}
	return events, nil
}

// processEvents advances the event cursor and dispatches callbacks. The
// backlog returned by the very first poll only primes the cursor; replaying
// stale configuration changes would trigger pointless resets. Any successful
// poll primes, including an idle long-poll timeout with no events, so that
// everything after it counts as live.
func (c *Client) processEvents(events []Event) {
	c.mu.Lock()
	primed := c.primed
	c.primed = true
	for _, ev := range events {
		if ev.ID > c.lastEvent {
			c.lastEvent = ev.ID
		}
	}
	c.mu.Unlock()

	if !primed || len(events) == 0 {
		return
	}

	foldersChanged := false
	for _, ev := range events {
		switch ev.Type {
		case EventConfigSaved, EventFolderPaused, EventFolderResumed:
			foldersChanged = true
		}
	}

	if foldersChanged {
		slog.Debug("syncthing configuration changed")
		c.cbMu.RLock()
		callbacks := make([]func(), len(c.onFolders))
		copy(callbacks, c.onFolders)
		c.cbMu.RUnlock()
		for _, fn := range callbacks {
			fn()
		}
	}
}

// setRunning updates the derived run state, reporting and broadcasting the
// flip when the state actually changed.
func (c *Client) setRunning(running bool) bool {
	c.mu.Lock()
	changed := c.running != running
	c.running = running
	c.mu.Unlock()
	if !changed {
		return false
	}

	if running {
		slog.Info("syncthing reachable")
	}

	c.cbMu.RLock()
	callbacks := make([]func(bool), len(c.onState))
	copy(callbacks, c.onState)
	c.cbMu.RUnlock()
	for _, fn := range callbacks {
		fn(running)
	}
	return true
}
