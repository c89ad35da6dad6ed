package conflicts

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into a single callback invocation.
// It is single-shot and restartable: every Trigger resets the full window,
// and the callback fires once after the window elapses with no further
// triggers. The callback runs on the timer's goroutine and never
// concurrently with itself for a single firing cycle.
type Debouncer struct {
	window   time.Duration
	callback func()

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given window duration.
func NewDebouncer(window time.Duration, callback func()) *Debouncer {
	return &Debouncer{
		window:   window,
		callback: callback,
	}
}

// Trigger restarts the debounce timer with the full window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.callback)
}

// Stop cancels any pending callback. Safe to call when nothing is pending.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
