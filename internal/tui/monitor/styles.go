package monitor

import (
	"github.com/charmbracelet/lipgloss"

	evsync "github.com/marcus/evstream/internal/sync"
)

var (
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	subtleStyle     = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle       = lipgloss.NewStyle().Foreground(mutedColor)
	errorStyle      = lipgloss.NewStyle().Foreground(errorColor)
	headerCellStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))

	liveStyle       = lipgloss.NewStyle().Foreground(successColor)
	connectingStyle = lipgloss.NewStyle().Foreground(warningColor)
	downStyle       = lipgloss.NewStyle().Foreground(mutedColor)
	deadStyle       = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
)

// phaseBadge renders a connection's state. Connections still replaying
// history show the spinner frame.
func phaseBadge(p evsync.PeerSnapshot, spin string) string {
	switch {
	case p.Done:
		return deadStyle.Render("✗ stopped")
	case p.Phase == evsync.PhaseLive:
		return liveStyle.Render("● live")
	case p.Phase == evsync.PhaseConnected:
		return connectingStyle.Render(spin + " syncing")
	default:
		return downStyle.Render("○ down")
	}
}
