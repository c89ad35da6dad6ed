package conflicts

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	watchBufferSize = 64

	// DefaultFolderCheckInterval is how often a folder watcher re-validates
	// that its root still exists.
	DefaultFolderCheckInterval = 10 * time.Second

	// Artifacts produced by Syncthing itself, never real conflicts.
	versionsDirName = ".stversions"
	tempPrefixDot   = ".syncthing."
	tempPrefixTilde = "~syncthing~"
)

// ErrNoWatchers is returned by Start when not a single folder watcher could
// be constructed.
var ErrNoWatchers = errors.New("conflicts: unable to watch any folder")

// EventFunc receives one filesystem observation: the absolute path of a
// conflict-marker file and whether it currently exists.
type EventFunc func(path string, exists bool)

// WatchSet owns one filesystem watcher per synchronized folder root. Each
// watcher reports create/delete events for conflict-marker files and
// periodically re-validates that its root still exists, going dormant while
// the root is missing and resuming when it reappears.
type WatchSet struct {
	checkInterval time.Duration
	onEvent       EventFunc

	mu      sync.Mutex
	watches []*folderWatch
	wg      sync.WaitGroup
}

// NewWatchSet creates a watch set delivering marker events to onEvent. A
// non-positive checkInterval falls back to DefaultFolderCheckInterval.
func NewWatchSet(checkInterval time.Duration, onEvent EventFunc) *WatchSet {
	if checkInterval <= 0 {
		checkInterval = DefaultFolderCheckInterval
	}
	return &WatchSet{
		checkInterval: checkInterval,
		onEvent:       onEvent,
	}
}

// Start creates a watcher for every folder. A folder whose root is currently
// missing still gets a watcher; it stays dormant until the periodic existence
// check sees the root reappear. Start fails only when no watcher at all could
// be constructed.
func (ws *WatchSet) Start(folders []Folder) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if len(folders) == 0 {
		return nil
	}

	started := 0
	for _, folder := range folders {
		fw := &folderWatch{
			folder:  folder,
			done:    make(chan struct{}),
			onEvent: ws.onEvent,
		}
		if err := fw.subscribe(); err != nil {
			if dirExists(folder.Path) {
				slog.Error("conflict watcher setup failed", "folder", folder.ID, "path", folder.Path, "error", err)
				continue
			}
			// Missing root is transient, the existence check will pick it up.
			slog.Warn("conflict watcher dormant, folder root missing", "folder", folder.ID, "path", folder.Path)
		}

		ws.watches = append(ws.watches, fw)
		ws.wg.Add(1)
		go func() {
			defer ws.wg.Done()
			fw.run(ws.checkInterval)
		}()
		started++
	}

	if started == 0 {
		return ErrNoWatchers
	}
	return nil
}

// Stop disposes all watchers and clears the set. It is idempotent and safe
// to call when no watchers exist.
func (ws *WatchSet) Stop() {
	ws.mu.Lock()
	watches := ws.watches
	ws.watches = nil
	ws.mu.Unlock()

	if len(watches) == 0 {
		return
	}

	for _, fw := range watches {
		close(fw.done)
	}
	ws.wg.Wait()
}

// folderWatch is a single live subscription to one folder root. It is owned
// exclusively by its WatchSet and never shared.
type folderWatch struct {
	folder  Folder
	onEvent EventFunc
	done    chan struct{}

	events chan notify.EventInfo
}

func (fw *folderWatch) subscribe() error {
	ch := make(chan notify.EventInfo, watchBufferSize)
	recursive := filepath.Join(fw.folder.Path, "...")
	if err := notify.Watch(recursive, ch, notify.Create, notify.Remove, notify.Rename); err != nil {
		return err
	}
	fw.events = ch
	return nil
}

func (fw *folderWatch) unsubscribe() {
	if fw.events != nil {
		notify.Stop(fw.events)
		fw.events = nil
	}
}

func (fw *folderWatch) run(checkInterval time.Duration) {
	defer fw.unsubscribe()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		// A dormant watcher has no event channel; a nil channel select case
		// simply never fires.
		var events <-chan notify.EventInfo
		if fw.events != nil {
			events = fw.events
		}

		select {
		case <-fw.done:
			return
		case ev := <-events:
			fw.handle(ev)
		case <-ticker.C:
			fw.checkRoot()
		}
	}
}

func (fw *folderWatch) handle(ev notify.EventInfo) {
	path := ev.Path()
	if fw.ignored(path) {
		return
	}
	exists := fileExists(path)
	slog.Debug("conflict marker event", "folder", fw.folder.ID, "path", path, "exists", exists)
	fw.onEvent(path, exists)
}

// checkRoot re-validates the folder root, dropping the subscription while the
// root is missing and re-establishing it once the root reappears.
func (fw *folderWatch) checkRoot() {
	exists := dirExists(fw.folder.Path)
	switch {
	case !exists && fw.events != nil:
		slog.Warn("folder root disappeared, suspending watch", "folder", fw.folder.ID, "path", fw.folder.Path)
		fw.unsubscribe()
	case exists && fw.events == nil:
		if err := fw.subscribe(); err != nil {
			slog.Error("folder watch resume failed", "folder", fw.folder.ID, "path", fw.folder.Path, "error", err)
			return
		}
		slog.Info("folder root back, watch resumed", "folder", fw.folder.ID, "path", fw.folder.Path)
	}
}

// ignored filters noise: anything outside the conflict naming convention,
// Syncthing's own temporary files, and the versions archive.
func (fw *folderWatch) ignored(path string) bool {
	base := filepath.Base(path)
	if !strings.Contains(base, conflictMarker) {
		return true
	}
	if strings.HasPrefix(base, tempPrefixDot) || strings.HasPrefix(base, tempPrefixTilde) {
		return true
	}
	return underVersionsDir(fw.folder.Path, path)
}

// underVersionsDir reports whether path sits inside the folder's versions
// archive subdirectory.
func underVersionsDir(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == versionsDirName {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
