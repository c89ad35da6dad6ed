package conflicts

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// ResolveFunc maps a conflict-marker path to the original file path.
// ok is false when the path is not a recognized conflict marker.
type ResolveFunc func(path string) (original string, ok bool)

// Registry holds the authoritative set of known conflict-marker paths and the
// derived, deduplicated set of original file paths that currently have at
// least one marker. Both sets are guarded by a single mutex so they are always
// observed as a consistent pair. Callers never touch the raw sets: mutation
// goes through ApplyEvent/ReplaceMarkers/Clear and reads go through Conflicts.
type Registry struct {
	mu       sync.Mutex
	markers  mapset.Set[string]
	resolved mapset.Set[string]

	resolve ResolveFunc

	obsMu     sync.RWMutex
	observers []func()
}

// NewRegistry creates an empty registry. A nil resolve falls back to the
// Syncthing conflict naming convention (OriginalPath).
func NewRegistry(resolve ResolveFunc) *Registry {
	if resolve == nil {
		resolve = OriginalPath
	}
	return &Registry{
		markers:  mapset.NewThreadUnsafeSet[string](),
		resolved: mapset.NewThreadUnsafeSet[string](),
		resolve:  resolve,
	}
}

// OnChanged registers an observer invoked after every recomputation of the
// resolved set. Observers receive no payload; they re-read Conflicts.
func (r *Registry) OnChanged(fn func()) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, fn)
}

// ApplyEvent records a single live filesystem observation: exists adds the
// marker path, otherwise removes it. It reports whether set membership
// actually changed, so no-op events do not reset the debounce window.
func (r *Registry) ApplyEvent(path string, exists bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exists {
		return r.markers.Add(path)
	}
	if !r.markers.Contains(path) {
		return false
	}
	r.markers.Remove(path)
	return true
}

// ReplaceMarkers reconciles the marker set against the result of a completed
// full scan. If the scanned set equals the current one nothing happens and
// false is returned; otherwise the contents are fully replaced.
func (r *Registry) ReplaceMarkers(scanned mapset.Set[string]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markers.Equal(scanned) {
		return false
	}
	r.markers = mapset.NewThreadUnsafeSet(scanned.ToSlice()...)
	return true
}

// Clear empties the marker set without recomputing the resolved set.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers.Clear()
}

// Recompute rebuilds the resolved set from the current markers and notifies
// observers. Markers the resolver does not recognize are skipped. The
// notification fires unconditionally: recomputation is the trigger, not a
// diff against the previous resolved set.
func (r *Registry) Recompute() {
	r.mu.Lock()
	fresh := mapset.NewThreadUnsafeSet[string]()
	r.markers.Each(func(marker string) bool {
		if original, ok := r.resolve(marker); ok {
			fresh.Add(original)
		}
		return false
	})
	r.resolved = fresh
	r.mu.Unlock()

	r.obsMu.RLock()
	observers := make([]func(), len(r.observers))
	copy(observers, r.observers)
	r.obsMu.RUnlock()
	for _, fn := range observers {
		fn()
	}
}

// Conflicts returns a sorted snapshot copy of the resolved conflict paths,
// safe to hand to callers without further synchronization.
func (r *Registry) Conflicts() []string {
	r.mu.Lock()
	snapshot := r.resolved.ToSlice()
	r.mu.Unlock()
	sort.Strings(snapshot)
	return snapshot
}

// MarkerCount reports the number of known conflict-marker files.
func (r *Registry) MarkerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markers.Cardinality()
}
