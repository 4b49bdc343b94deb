package output

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const (
	defaultMarkdownWidth = 80
	minMarkdownWidth     = 20
)

// EventView is what `show` prints for one stored event.
type EventView struct {
	Seq       int64
	ID        string
	PubKey    string
	Kind      int
	CreatedAt time.Time
	Tags      [][]string
	Content   string
	Source    string
	SourceID  string
}

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultMarkdownWidth
	}
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// EventMarkdown builds the markdown document for an event: a metadata list,
// a tag table and the content body.
func EventMarkdown(v EventView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Event %s\n\n", v.ID)
	fmt.Fprintf(&sb, "- **seq**: %d\n", v.Seq)
	fmt.Fprintf(&sb, "- **kind**: %d\n", v.Kind)
	fmt.Fprintf(&sb, "- **pubkey**: `%s`\n", v.PubKey)
	fmt.Fprintf(&sb, "- **created**: %s\n", v.CreatedAt.UTC().Format(time.RFC3339))
	if v.Source != "" {
		src := v.Source
		if v.SourceID != "" {
			src += " (" + v.SourceID + ")"
		}
		fmt.Fprintf(&sb, "- **source**: %s\n", src)
	}

	if len(v.Tags) > 0 {
		sb.WriteString("\n## Tags\n\n| name | values |\n| --- | --- |\n")
		for _, tag := range v.Tags {
			if len(tag) == 0 {
				continue
			}
			fmt.Fprintf(&sb, "| %s | %s |\n", escapeCell(tag[0]), escapeCell(strings.Join(tag[1:], ", ")))
		}
	}

	if strings.TrimSpace(v.Content) != "" {
		sb.WriteString("\n## Content\n\n")
		sb.WriteString(v.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

// RenderMarkdown renders markdown using Glamour with terminal-aware wrapping.
func RenderMarkdown(text string) (string, error) {
	return RenderMarkdownWithWidth(text, TerminalWidth(defaultMarkdownWidth))
}

// RenderMarkdownWithWidth renders markdown using Glamour with explicit wrapping.
func RenderMarkdownWithWidth(text string, width int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	width = max(width, minMarkdownWidth)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(rendered, "\n"), nil
}
