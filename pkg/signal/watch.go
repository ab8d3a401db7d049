package signal

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval coalesces bursts of filesystem events into one reconcile
// pass, avoiding a thundering herd when many signals land at once.
const debounceInterval = 100 * time.Millisecond

// Watch invokes reconcile whenever the signal directory changes, and always
// at least once per fallback interval. The fsnotify fast path and the
// fallback ticker feed the same callback, so push-based delivery losing
// events under load only delays a pass, never skips one. If the watcher
// cannot be created, Watch degrades to pure polling at the fallback
// interval. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, root string, fallback time.Duration, reconcile func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		pollLoop(ctx, fallback, reconcile)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(root); err != nil {
		pollLoop(ctx, fallback, reconcile)
		return
	}

	fallbackTicker := time.NewTicker(fallback)
	defer fallbackTicker.Stop()

	debounce := newStoppedTimer()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watcher.Events:
			if !ok {
				pollLoop(ctx, fallback, reconcile)
				return
			}
			resetTimer(debounce, debounceInterval)
		case <-debounce.C:
			reconcile()
		case _, ok := <-watcher.Errors:
			if !ok {
				pollLoop(ctx, fallback, reconcile)
				return
			}
			// Watcher errors are non-fatal; the fallback ticker still
			// guarantees reconciliation.
		case <-fallbackTicker.C:
			reconcile()
		}
	}
}

// pollLoop is the push-free fallback: reconcile on a fixed interval.
func pollLoop(ctx context.Context, interval time.Duration, reconcile func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconcile()
		}
	}
}

// newStoppedTimer returns a timer that will not fire until reset.
func newStoppedTimer() *time.Timer {
	t := time.NewTimer(0)
	if !t.Stop() {
		<-t.C
	}
	return t
}

// resetTimer restarts a (possibly fired) timer for d.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
