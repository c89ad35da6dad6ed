package syncthing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFolders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, epFolders, r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get(headerAPIKey))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Folder{
			{ID: "abcd-1234", Label: "Documents", Path: "/sync/docs"},
			{ID: "efgh-5678", Label: "Photos", Path: "/sync/photos"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	folders, err := c.Folders(context.Background())
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "abcd-1234", folders[0].ID)
	assert.Equal(t, "/sync/docs", folders[0].Path)
}

func TestClientFoldersUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Authorized", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "wrong-key")
	_, err := c.Folders(context.Background())
	assert.ErrorContains(t, err, "unexpected status")
}

func TestClientPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, epPing, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ping":"pong"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	assert.NoError(t, c.Ping(context.Background()))
}

func TestClientProcessEvents(t *testing.T) {
	t.Run("first batch only primes the cursor", func(t *testing.T) {
		c := NewClient("http://localhost:8384", "k")
		changed := 0
		c.OnFoldersChanged(func() { changed++ })

		c.processEvents([]Event{
			{ID: 1, Type: EventConfigSaved},
			{ID: 2, Type: "LocalIndexUpdated"},
		})
		assert.Equal(t, 0, changed, "stale backlog must not trigger resets")
		assert.Equal(t, int64(2), c.lastEvent)
	})

	t.Run("empty poll primes the cursor", func(t *testing.T) {
		// An idle long-poll timeout returns no events. Everything after
		// it is live and must still fan out.
		c := NewClient("http://localhost:8384", "k")
		changed := 0
		c.OnFoldersChanged(func() { changed++ })

		c.processEvents([]Event{})
		c.processEvents([]Event{{ID: 1, Type: EventConfigSaved}})
		assert.Equal(t, 1, changed)
		assert.Equal(t, int64(1), c.lastEvent)
	})

	t.Run("config saved fans out after priming", func(t *testing.T) {
		c := NewClient("http://localhost:8384", "k")
		changed := 0
		c.OnFoldersChanged(func() { changed++ })

		c.processEvents([]Event{{ID: 1, Type: "LocalIndexUpdated"}})
		c.processEvents([]Event{{ID: 2, Type: EventConfigSaved}})
		assert.Equal(t, 1, changed)
		assert.Equal(t, int64(2), c.lastEvent)
	})

	t.Run("unrelated events do not fan out", func(t *testing.T) {
		c := NewClient("http://localhost:8384", "k")
		changed := 0
		c.OnFoldersChanged(func() { changed++ })

		c.processEvents([]Event{{ID: 1, Type: "Starting"}})
		c.processEvents([]Event{{ID: 2, Type: "LocalIndexUpdated"}})
		assert.Equal(t, 0, changed)
	})
}

func TestClientRunStateTransitions(t *testing.T) {
	c := NewClient("http://localhost:8384", "k")

	var states []bool
	c.OnStateChanged(func(running bool) { states = append(states, running) })

	assert.True(t, c.setRunning(true))
	assert.False(t, c.setRunning(true), "no flip, no callback")
	assert.True(t, c.setRunning(false))
	assert.Equal(t, []bool{true, false}, states)
	assert.False(t, c.IsRunning())
}

func TestClientRunAgainstServer(t *testing.T) {
	events := []Event{{ID: 1, Type: "Starting", Time: time.Now()}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, epEvents, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	c.retryDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return c.IsRunning() }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("event loop did not stop")
	}
	assert.False(t, c.IsRunning())
}
