// Package output provides styled terminal output helpers (success, error,
// warning, stream status formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	phaseStyles  = map[string]lipgloss.Style{
		"disconnected": lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		"connected":    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"live":         lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
	directionArrows = map[string]string{
		"down": lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Render("←"),
		"up":   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("→"),
		"both": lipgloss.NewStyle().Foreground(lipgloss.Color("141")).Render("⇄"),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message to stderr
func Error(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("ERROR: "+fmt.Sprintf(format, args...)))
}

// Warning prints a warning message to stderr
func Warning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, warningStyle.Render("Warning: "+fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as indented JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// FormatPhase colors a connection phase name.
func FormatPhase(phase string) string {
	style, ok := phaseStyles[phase]
	if !ok {
		return phase
	}
	return style.Render(phase)
}

// FormatDirection renders a stream direction with its arrow, e.g. "⇄ both".
func FormatDirection(dir string) string {
	arrow, ok := directionArrows[dir]
	if !ok {
		return dir
	}
	return arrow + " " + dir
}

// FormatCount inserts thousands separators: 1234567 -> "1,234,567".
func FormatCount(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var sb strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		sb.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + sb.String()
	}
	return sb.String()
}

// KeyValue renders an aligned "label: value" line for summaries.
func KeyValue(label string, value any) string {
	return fmt.Sprintf("%s %v", subtleStyle.Render(fmt.Sprintf("%-14s", label+":")), value)
}

// Title renders a bold heading.
func Title(s string) string {
	return titleStyle.Render(s)
}

// Subtle renders dimmed text.
func Subtle(s string) string {
	return subtleStyle.Render(s)
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// Truncate shortens s to max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
