package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/evstream/internal/output"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}
	if m.ShowHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()
	footer := m.renderFooter()
	tableHeight := m.Height - lipgloss.Height(header) - lipgloss.Height(footer)
	table := m.renderPeerPanel(tableHeight)

	return lipgloss.JoinVertical(lipgloss.Left, header, table, footer)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	t := m.Status.Sum()
	var s strings.Builder
	s.WriteString("evstream (resize for full view)\n\n")
	fmt.Fprintf(&s, "peers: %d live, %d syncing, %d down, %d stopped\n", t.Live, t.Connected, t.Down, t.Finished)
	fmt.Fprintf(&s, "recv %d  sent %d  cursor %d\n", t.Received, t.Sent, m.Status.Cursor)
	s.WriteString("\nq:quit ?:help")
	return s.String()
}

func (m Model) renderHeader() string {
	t := m.Status.Sum()
	in := m.Status.Ingest

	title := titleStyle.Render("evstream") + " " + output.FormatDirection(m.Header.Direction)
	if m.Header.RunID != "" {
		title += subtleStyle.Render("  run " + truncate(m.Header.RunID, 8))
	}
	lines := []string{
		title,
		subtleStyle.Render(truncate(m.Header.DataDir, m.Width-4)),
		fmt.Sprintf("cursor %s   stored %s   duplicates %s   rejected %s   failed %s",
			output.FormatCount(m.Status.Cursor),
			output.FormatCount(in.Accepted),
			output.FormatCount(in.Duplicates),
			output.FormatCount(in.Rejected),
			output.FormatCount(in.Failed)),
		fmt.Sprintf("peers %s live  %s syncing  %s down  %s stopped",
			liveStyle.Render(fmt.Sprint(t.Live)),
			connectingStyle.Render(fmt.Sprint(t.Connected)),
			downStyle.Render(fmt.Sprint(t.Down)),
			deadStyle.Render(fmt.Sprint(t.Finished))),
	}
	return panelStyle.Width(m.Width - 2).Render(strings.Join(lines, "\n"))
}

// column widths for the peer table, excluding the flexible name column
const (
	stateWidth   = 11
	counterWidth = 8
	sinceWidth   = 9
)

func (m Model) renderPeerPanel(height int) string {
	rows := m.peerRows()
	contentWidth := m.Width - 4
	nameWidth := max(contentWidth-stateWidth-4*counterWidth-sinceWidth-6, 10)

	var content strings.Builder
	content.WriteString(headerCellStyle.Render(fmt.Sprintf("%-*s %-*s %*s %*s %*s %*s %*s",
		nameWidth, "PEER", stateWidth, "STATE",
		counterWidth, "RECV", counterWidth, "SENT", counterWidth, "SKIP", counterWidth, "REJ",
		sinceWidth, "SINCE")))
	content.WriteString("\n")

	if len(rows) == 0 {
		content.WriteString(subtleStyle.Render("No connections"))
		return m.wrapPanel("PEERS", content.String(), height)
	}

	// each peer takes one line, plus one when it carries an error
	maxLines := height - 4
	lines := 0
	for i := m.ScrollOffset; i < len(rows) && lines < maxLines; i++ {
		p := rows[i]
		state := phaseBadge(p, m.Spinner.View())
		fmt.Fprintf(&content, "%-*s %s %*d %*d %*d %*d %*s\n",
			nameWidth, truncate(p.Name, nameWidth),
			padRight(state, stateWidth),
			counterWidth, p.Received,
			counterWidth, p.Sent,
			counterWidth, p.Suppressed,
			counterWidth, p.Rejected,
			sinceWidth, output.FormatTimeAgo(p.Since))
		lines++
		if p.LastError != "" && lines < maxLines {
			content.WriteString(errorStyle.Render(truncate("  "+p.LastError, contentWidth)))
			content.WriteString("\n")
			lines++
		}
	}

	title := fmt.Sprintf("PEERS (%d)", len(rows))
	return m.wrapPanel(title, content.String(), height)
}

func (m Model) renderFooter() string {
	if m.Finished {
		if m.Err != nil {
			return errorStyle.Render(truncate("stream stopped: "+m.Err.Error(), m.Width))
		}
		return subtleStyle.Render("stream stopped")
	}
	refreshed := ""
	if !m.LastRefresh.IsZero() {
		refreshed = " | updated " + m.LastRefresh.Format("15:04:05")
	}
	return helpStyle.Render("q:quit r:refresh j/k:scroll ?:help" + refreshed)
}

func (m Model) renderHelp() string {
	help := `
STREAM MONITOR

  q, ctrl+c   Stop streaming and quit
  r           Refresh now
  j, down     Scroll peers down
  k, up       Scroll peers up
  ?           Toggle this help

STATES
  ● live      History replayed, following new events
  ⠋ syncing   Connected, waiting for end of stored events
  ○ down      Reconnecting
  ✗ stopped   Closed after a protocol error

COUNTERS
  RECV  events downloaded from the peer
  SENT  local events uploaded to the peer
  SKIP  uploads suppressed because the peer sent them
  REJ   uploads the peer answered OK=false
`
	return panelStyle.Width(m.Width - 2).Render(help)
}

// wrapPanel wraps content in a bordered panel with a title, padded or cut to
// height lines.
func (m Model) wrapPanel(title, content string, height int) string {
	contentWidth := m.Width - 4
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	contentHeight := max(height-3, 1)

	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	if len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}
	for i, line := range lines {
		if lipgloss.Width(line) > contentWidth {
			lines[i] = ansi.Truncate(line, contentWidth, "…")
		}
	}

	inner := lipgloss.JoinVertical(lipgloss.Left, panelTitleStyle.Render(title), strings.Join(lines, "\n"))
	return panelStyle.Width(m.Width - 2).Render(inner)
}

// truncate cuts s to width cells, styled or not.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if ansi.StringWidth(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "…")
}

// padRight pads a possibly styled string to width cells.
func padRight(s string, width int) string {
	if w := ansi.StringWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
