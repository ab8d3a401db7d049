package main

import (
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// fsChangeMsg is sent when a file changes under the project root.
type fsChangeMsg struct{}

// watchDebounce coalesces bursts of signal writes into one refresh.
const watchDebounce = 100 * time.Millisecond

// watchRoot returns a command that blocks until the project root changes,
// then emits fsChangeMsg. Returns nil when the root cannot be watched; the
// periodic tick keeps the dashboard converging either way.
func watchRoot(root string) tea.Cmd {
	if _, err := os.Stat(root); err != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := watcher.Add(root); err != nil {
		_ = watcher.Close()
		return nil
	}

	return func() tea.Msg {
		defer func() { _ = watcher.Close() }()

		if _, ok := <-watcher.Events; !ok {
			return nil
		}
		// Swallow the burst that typically follows an atomic rename.
		debounce := time.After(watchDebounce)
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return fsChangeMsg{}
				}
			case <-debounce:
				return fsChangeMsg{}
			}
		}
	}
}
