package main

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// refreshInterval is the polling cadence backing the fsnotify fast path.
const refreshInterval = 2 * time.Second

// tickMsg triggers a periodic snapshot refresh.
type tickMsg time.Time

// snapshotMsg carries a freshly fetched snapshot, or the fetch error.
type snapshotMsg struct {
	snap Snapshot
	err  error
}

// tickCmd schedules the next periodic refresh.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd fetches a snapshot off the event loop.
func fetchCmd() tea.Cmd {
	return func() tea.Msg {
		snap, err := fetchSnapshot()
		return snapshotMsg{snap: snap, err: err}
	}
}

// Model is the Bubble Tea model for the tide dashboard.
type Model struct {
	snap      Snapshot
	err       error
	refreshed time.Time
	loading   bool

	spin   spinner.Model
	width  int
	height int
}

// newModel creates the initial dashboard model.
func newModel() Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	return Model{spin: sp, loading: true}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(), tickCmd(), m.spin.Tick, watchRoot(projectRoot()))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, fetchCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(fetchCmd(), tickCmd())

	case fsChangeMsg:
		// A signal file changed; refresh now and re-arm the watcher.
		return m, tea.Batch(fetchCmd(), watchRoot(projectRoot()))

	case snapshotMsg:
		m.loading = false
		m.refreshed = time.Now()
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.snap = msg.snap
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}
