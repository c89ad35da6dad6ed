package conflicts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestScanPopulatesRegistry(t *testing.T) {
	root := t.TempDir()
	marker := filepath.Join(root, "docs", "plan.sync-conflict-20240101-120000-AAAAAAA.md")
	writeFile(t, marker)
	writeFile(t, filepath.Join(root, "docs", "plan.md"))
	writeFile(t, filepath.Join(root, ".stversions", "old.sync-conflict-20230101.md"))
	writeFile(t, filepath.Join(root, ".syncthing.tmp.sync-conflict-20240101.md"))

	r := NewRegistry(nil)
	var reconciled atomic.Int32
	s := NewScanner(r, func() { reconciled.Add(1) })

	require.NoError(t, s.Scan(context.Background(), []Folder{{ID: "A", Path: root}}))
	assert.Equal(t, 1, r.MarkerCount(), "versions archive and temp files are noise")
	assert.Equal(t, int32(1), reconciled.Load())

	t.Run("identical rescan does not reconcile", func(t *testing.T) {
		require.NoError(t, s.Scan(context.Background(), []Folder{{ID: "A", Path: root}}))
		assert.Equal(t, int32(1), reconciled.Load())
	})

	t.Run("rescan after deletion reconciles", func(t *testing.T) {
		require.NoError(t, os.Remove(marker))
		require.NoError(t, s.Scan(context.Background(), []Folder{{ID: "A", Path: root}}))
		assert.Equal(t, 0, r.MarkerCount())
		assert.Equal(t, int32(2), reconciled.Load())
	})
}

func TestScanMissingFolder(t *testing.T) {
	r := NewRegistry(nil)
	s := NewScanner(r, func() {})

	err := s.Scan(context.Background(), []Folder{{ID: "gone", Path: filepath.Join(t.TempDir(), "nope")}})
	assert.NoError(t, err, "a missing root is transient, not a scan failure")
}

func TestScanSupersede(t *testing.T) {
	r := NewRegistry(nil)
	s := NewScanner(r, func() {})

	slowStarted := make(chan struct{})
	slowDone := make(chan error, 1)

	s.enumerate = func(ctx context.Context, root string, yield func(string)) error {
		close(slowStarted)
		<-ctx.Done()
		return ctx.Err()
	}

	go func() {
		slowDone <- s.Scan(context.Background(), []Folder{{ID: "A", Path: "/sync/A"}})
	}()
	<-slowStarted

	// A second scan cancels the first, waits for the gate, then runs.
	s.enumerate = func(ctx context.Context, root string, yield func(string)) error {
		yield("/sync/A/won.sync-conflict-20240101.txt")
		return nil
	}
	require.NoError(t, s.Scan(context.Background(), []Folder{{ID: "A", Path: "/sync/A"}}))

	select {
	case err := <-slowDone:
		assert.NoError(t, err, "a superseded scan is a silent outcome")
	case <-time.After(2 * time.Second):
		t.Fatal("superseded scan did not exit")
	}

	// Only the second scan's result is visible.
	r.Recompute()
	assert.Equal(t, []string{"/sync/A/won.txt"}, r.Conflicts())
}

func TestScanCancelledMakesNoMutations(t *testing.T) {
	r := NewRegistry(nil)
	r.ApplyEvent("/sync/A/existing.sync-conflict-20240101.txt", true)

	var reconciled atomic.Int32
	s := NewScanner(r, func() { reconciled.Add(1) })
	s.enumerate = func(ctx context.Context, root string, yield func(string)) error {
		yield("/sync/A/partial.sync-conflict-20240101.txt")
		return context.Canceled
	}

	require.NoError(t, s.Scan(context.Background(), []Folder{{ID: "A", Path: "/sync/A"}}))
	assert.Equal(t, 1, r.MarkerCount(), "cancelled scans leave the previous set intact")
	assert.Equal(t, int32(0), reconciled.Load())
}

func TestScanEnumerationError(t *testing.T) {
	r := NewRegistry(nil)
	r.ApplyEvent("/sync/A/existing.sync-conflict-20240101.txt", true)

	s := NewScanner(r, func() { t.Fatal("failed scans must not reconcile") })
	boom := errors.New("permission denied")
	s.enumerate = func(ctx context.Context, root string, yield func(string)) error {
		return boom
	}

	err := s.Scan(context.Background(), []Folder{{ID: "A", Path: "/sync/A"}})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, r.MarkerCount(), "failed scans leave the registry unchanged")
}

func TestScanWrappedCancellationSwallowed(t *testing.T) {
	r := NewRegistry(nil)
	s := NewScanner(r, func() {})
	s.enumerate = func(ctx context.Context, root string, yield func(string)) error {
		return errors.Join(errors.New("walk aborted"), context.Canceled)
	}

	assert.NoError(t, s.Scan(context.Background(), []Folder{{ID: "A", Path: "/sync/A"}}))
}

func TestScannerStopWaitsForScanExit(t *testing.T) {
	r := NewRegistry(nil)
	var reconciled atomic.Int32
	s := NewScanner(r, func() { reconciled.Add(1) })

	started := make(chan struct{})
	s.enumerate = func(ctx context.Context, root string, yield func(string)) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Scan(context.Background(), []Folder{{ID: "A", Path: "/sync/A"}})
	}()
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scan did not exit after Stop")
	}
	assert.Equal(t, int32(0), reconciled.Load())
	assert.Equal(t, 0, r.MarkerCount())

	// Idempotent with nothing in flight.
	s.Stop()
}

func TestEnumerateConflictsStreams(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.sync-conflict-20240101.txt"))
	writeFile(t, filepath.Join(root, "deep", "nested", "b.sync-conflict-20240202-101010-BBBBBBB.go"))
	writeFile(t, filepath.Join(root, "plain.txt"))

	var got []string
	require.NoError(t, EnumerateConflicts(context.Background(), root, func(p string) {
		got = append(got, p)
	}))
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "a.sync-conflict-20240101.txt"),
		filepath.Join(root, "deep", "nested", "b.sync-conflict-20240202-101010-BBBBBBB.go"),
	}, got)
}

func TestEnumerateConflictsCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.sync-conflict-20240101.txt"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := EnumerateConflicts(ctx, root, func(string) {})
	assert.ErrorIs(t, err, context.Canceled)
}
