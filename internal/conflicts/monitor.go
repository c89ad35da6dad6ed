package conflicts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounceInterval is the quiet period after the last marker-set
// change before the resolved conflict list is recomputed.
const DefaultDebounceInterval = 10 * time.Second

// Folder identifies one synchronized folder root, as reported by the engine.
type Folder struct {
	ID   string
	Path string
}

// Engine is the view of the synchronization engine the monitor needs: its
// current run state and the folders it synchronizes.
type Engine interface {
	IsRunning() bool
	Folders(ctx context.Context) ([]Folder, error)
}

// Options configures a Monitor. Zero values fall back to defaults.
type Options struct {
	// DebounceInterval is the quiet period before recomputation.
	DebounceInterval time.Duration
	// FolderCheckInterval is how often folder watchers re-validate their
	// root's existence.
	FolderCheckInterval time.Duration
}

// Monitor watches the engine's synchronized folders for conflict-marker
// files and maintains the resolved conflict list. Live filesystem events and
// full reconciliation scans both feed the registry; every effective change
// restarts the debounce timer, and the timer's elapse recomputes the list
// and notifies observers.
type Monitor struct {
	engine   Engine
	registry *Registry
	watchers *WatchSet
	scanner  *Scanner
	debounce *Debouncer

	mu      sync.Mutex
	enabled bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMonitor wires the registry, watch set, scanner and debounce timer
// together around the given engine handle.
func NewMonitor(engine Engine, opts Options) *Monitor {
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = DefaultDebounceInterval
	}

	registry := NewRegistry(nil)
	debounce := NewDebouncer(opts.DebounceInterval, registry.Recompute)
	scanner := NewScanner(registry, debounce.Trigger)
	watchers := NewWatchSet(opts.FolderCheckInterval, func(path string, exists bool) {
		if registry.ApplyEvent(path, exists) {
			debounce.Trigger()
		}
	})

	return &Monitor{
		engine:   engine,
		registry: registry,
		watchers: watchers,
		scanner:  scanner,
		debounce: debounce,
	}
}

// Start installs the monitor's run context and performs the initial reset.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()
	return m.Reset()
}

// Stop tears down all watchers, cancels any in-flight scan and waits for it
// to exit, then cancels any pending recomputation. Nothing recomputes or
// notifies after Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	m.watchers.Stop()
	m.scanner.Stop()
	m.debounce.Stop()
}

// SetEnabled toggles conflict watching. Toggling triggers a full reset.
func (m *Monitor) SetEnabled(enabled bool) error {
	m.mu.Lock()
	if m.enabled == enabled {
		m.mu.Unlock()
		return nil
	}
	m.enabled = enabled
	m.mu.Unlock()
	return m.Reset()
}

// Enabled reports whether conflict watching is switched on.
func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Conflicts returns a snapshot of the current resolved conflict list.
func (m *Monitor) Conflicts() []string {
	return m.registry.Conflicts()
}

// OnConflictsChanged registers an observer for resolved-list recomputations.
func (m *Monitor) OnConflictsChanged(fn func()) {
	m.registry.OnChanged(fn)
}

// Reset rebuilds the whole subsystem. It is the single funnel for enablement
// toggles, engine run-state changes and folder-collection changes: stop all
// watchers, then either start fresh ones and kick off a scan (enabled and
// engine running) or clear the registry and recompute so the visible list
// goes empty instead of staying stale. The scan is fire-and-forget; Reset
// never blocks on a previous scan's cancellation taking effect.
func (m *Monitor) Reset() error {
	m.watchers.Stop()

	m.mu.Lock()
	enabled := m.enabled
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if !enabled || !m.engine.IsRunning() {
		m.registry.Clear()
		m.registry.Recompute()
		return nil
	}

	folders, err := m.engine.Folders(ctx)
	if err != nil {
		return fmt.Errorf("fetch folder list: %w", err)
	}

	if err := m.watchers.Start(folders); err != nil {
		return err
	}

	go func() {
		if err := m.scanner.Scan(ctx, folders); err != nil {
			slog.Error("conflict scan failed", "error", err)
		}
	}()

	return nil
}
