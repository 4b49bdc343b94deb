// Package monitor is the live terminal view for `evstream stream --monitor`:
// one row per peer connection plus ingest totals, refreshed on a tick.
package monitor

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	evsync "github.com/marcus/evstream/internal/sync"
)

// Header describes the run being monitored. It does not change.
type Header struct {
	Direction string
	DataDir   string
	RunID     string
}

// Model is the Bubble Tea model for the stream monitor
type Model struct {
	Header Header
	Source Source

	// Window dimensions
	Width  int
	Height int

	Status  Status
	Spinner spinner.Model

	// UI state
	ScrollOffset int
	ShowHelp     bool
	LastRefresh  time.Time
	StartedAt    time.Time

	// Set once the engine has returned.
	Finished bool
	Err      error

	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for the table view
const MinWidth = 60

// MinHeight is the minimum terminal height for the table view
const MinHeight = 10

// TickMsg triggers a data refresh
type TickMsg time.Time

// StatusMsg carries a refreshed status
type StatusMsg struct {
	Status    Status
	Timestamp time.Time
}

// DoneMsg reports that the engine exited. The monitor shows the final state
// and quits.
type DoneMsg struct {
	Err error
}

// NewModel creates a monitor polling src every interval
func NewModel(h Header, src Source, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = connectingStyle
	return Model{
		Header:          h,
		Source:          src,
		Spinner:         sp,
		RefreshInterval: interval,
		StartedAt:       time.Now(),
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStatus(),
		m.scheduleTick(),
		m.Spinner.Tick,
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		if m.Finished {
			return m, nil
		}
		return m, tea.Batch(m.fetchStatus(), m.scheduleTick())

	case StatusMsg:
		m.Status = msg.Status
		m.LastRefresh = msg.Timestamp
		m.clampScroll()
		return m, nil

	case DoneMsg:
		m.Finished = true
		m.Err = msg.Err
		return m, tea.Sequence(m.fetchStatus(), tea.Quit)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "j", "down":
		m.ScrollOffset++
		m.clampScroll()
		return m, nil

	case "k", "up":
		if m.ScrollOffset > 0 {
			m.ScrollOffset--
		}
		return m, nil

	case "r":
		return m, m.fetchStatus()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

func (m *Model) clampScroll() {
	last := len(m.Status.Peers) - 1
	if m.ScrollOffset > last {
		m.ScrollOffset = max(last, 0)
	}
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) fetchStatus() tea.Cmd {
	src := m.Source
	return func() tea.Msg {
		return StatusMsg{Status: src.Status(), Timestamp: time.Now()}
	}
}

// peerRows is the view of each connection sorted for display.
func (m Model) peerRows() []evsync.PeerSnapshot {
	return sortPeers(m.Status.Peers)
}
