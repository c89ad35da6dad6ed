package conflicts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/semaphore"
)

// EnumerateFunc streams the conflict-marker paths found under one folder
// root, yielding each absolute path as it is discovered. It returns the
// context error when enumeration is cancelled mid-walk.
type EnumerateFunc func(ctx context.Context, root string, yield func(markerPath string)) error

// Scanner performs full reconciliation scans of the conflict-marker set
// across all folders. At most one scan body executes at a time: a new scan
// request cancels any in-flight scan and then waits on a single-slot gate
// until the old scan observes cancellation and exits.
type Scanner struct {
	registry     *Registry
	onReconciled func()
	enumerate    EnumerateFunc

	gate *semaphore.Weighted

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewScanner creates a scanner writing into registry. onReconciled is invoked
// when a completed scan actually changed the marker set.
func NewScanner(registry *Registry, onReconciled func()) *Scanner {
	return &Scanner{
		registry:     registry,
		onReconciled: onReconciled,
		enumerate:    EnumerateConflicts,
		gate:         semaphore.NewWeighted(1),
	}
}

// Scan enumerates conflict markers across all folders and reconciles the
// registry with the result. A scan superseded by a newer one returns nil and
// leaves the registry untouched; any other enumeration failure is returned.
func (s *Scanner) Scan(ctx context.Context, folders []Folder) error {
	// Request cancellation of any in-flight scan. This is a request, not a
	// join: the running scan observes it at its next yield point and
	// releases the gate.
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if err := s.gate.Acquire(ctx, 1); err != nil {
		// The caller itself went away while waiting for the gate.
		return nil
	}
	defer s.gate.Release(1)

	scanCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		// Runs before the gate is released, so no superseding scan can have
		// installed its own handle yet.
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	start := time.Now()
	found := mapset.NewThreadUnsafeSet[string]()
	for _, folder := range folders {
		err := s.enumerate(scanCtx, folder.Path, func(markerPath string) {
			found.Add(markerPath)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				// Superseded. The previous marker set remains valid until a
				// later scan or the debounce cycle reconciles again.
				return nil
			}
			return fmt.Errorf("enumerate conflicts in %q: %w", folder.Path, err)
		}
	}
	if scanCtx.Err() != nil {
		return nil
	}

	slog.Debug("conflict scan complete", "folders", len(folders), "markers", found.Cardinality(), "took", time.Since(start))

	if s.registry.ReplaceMarkers(found) {
		s.onReconciled()
	}
	return nil
}

// Stop cancels any in-flight scan and waits until its body has exited, so no
// reconciliation callback can fire after Stop returns.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if err := s.gate.Acquire(context.Background(), 1); err == nil {
		s.gate.Release(1)
	}
}

// EnumerateConflicts walks one folder root and yields every conflict-marker
// file, skipping the versions archive and Syncthing temporary files. A
// missing root yields nothing; the folder watcher's existence check owns
// that condition.
func EnumerateConflicts(ctx context.Context, root string, yield func(markerPath string)) error {
	if !dirExists(root) {
		return nil
	}

	pattern := "**/*" + conflictMarker + "*"
	return doublestar.GlobWalk(os.DirFS(root), pattern, func(rel string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		path := filepath.Join(root, filepath.FromSlash(rel))
		base := filepath.Base(path)
		if strings.HasPrefix(base, tempPrefixDot) || strings.HasPrefix(base, tempPrefixTilde) {
			return nil
		}
		if underVersionsDir(root, path) {
			return nil
		}
		yield(path)
		return nil
	})
}
