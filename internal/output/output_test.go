package output

import (
	"strings"
	"testing"
	"time"
)

func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago      time.Duration
		expected string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{2 * time.Minute, "2m ago"},
		{59 * time.Minute, "59m ago"},
		{3 * time.Hour, "3h ago"},
		{48 * time.Hour, "2d ago"},
	}
	for _, tc := range tests {
		got := FormatTimeAgo(time.Now().Add(-tc.ago))
		if got != tc.expected {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.ago, got, tc.expected)
		}
	}

	old := time.Date(2020, 3, 4, 0, 0, 0, 0, time.Local)
	if got := FormatTimeAgo(old); got != "2020-03-04" {
		t.Errorf("FormatTimeAgo(old) = %q", got)
	}
	if got := FormatTimeAgo(time.Time{}); got != "never" {
		t.Errorf("FormatTimeAgo(zero) = %q, want never", got)
	}
}

func TestFormatCount(t *testing.T) {
	tests := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		123456:   "123,456",
		1234567:  "1,234,567",
		-1234:    "-1,234",
		-12:      "-12",
		10000000: "10,000,000",
	}
	for n, want := range tests {
		if got := FormatCount(n); got != want {
			t.Errorf("FormatCount(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("hello world", 8); got != "hello..." {
		t.Errorf("got %q", got)
	}
	if got := Truncate("héllo wörld", 8); got != "héllo..." {
		t.Errorf("multibyte: got %q", got)
	}
	if got := Truncate("hello", 2); got != "he" {
		t.Errorf("tiny max: got %q", got)
	}
}

func TestFormatDirection(t *testing.T) {
	for _, dir := range []string{"down", "up", "both"} {
		got := FormatDirection(dir)
		if !strings.HasSuffix(got, " "+dir) {
			t.Errorf("FormatDirection(%q) = %q", dir, got)
		}
	}
	if got := FormatDirection("other"); got != "other" {
		t.Errorf("unknown direction should pass through, got %q", got)
	}
}

func TestFormatPhase_Unknown(t *testing.T) {
	if got := FormatPhase("weird"); got != "weird" {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(FormatPhase("live"), "live") {
		t.Error("styled phase lost its text")
	}
}

func TestEventMarkdown(t *testing.T) {
	md := EventMarkdown(EventView{
		Seq:       7,
		ID:        strings.Repeat("a", 64),
		PubKey:    strings.Repeat("b", 64),
		Kind:      1,
		CreatedAt: time.Unix(1700000000, 0),
		Tags:      [][]string{{"e", "x|y"}, {}, {"p", "1", "2"}},
		Content:   "hello **world**",
		Source:    "Stream",
		SourceID:  "wss://relay.example.com",
	})

	for _, want := range []string{
		"# Event " + strings.Repeat("a", 64),
		"- **seq**: 7",
		"- **created**: 2023-11-14T22:13:20Z",
		"- **source**: Stream (wss://relay.example.com)",
		`| e | x\|y |`,
		"| p | 1, 2 |",
		"## Content\n\nhello **world**",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestEventMarkdown_NoTagsNoContent(t *testing.T) {
	md := EventMarkdown(EventView{ID: "x", CreatedAt: time.Unix(0, 0)})
	if strings.Contains(md, "## Tags") || strings.Contains(md, "## Content") {
		t.Errorf("unexpected sections:\n%s", md)
	}
}

func TestRenderMarkdownWithWidth(t *testing.T) {
	out, err := RenderMarkdownWithWidth("   ", 80)
	if err != nil || out != "" {
		t.Fatalf("blank input: got %q, %v", out, err)
	}

	out, err = RenderMarkdownWithWidth("# Title\n\nbody text", 5)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "Title") || !strings.Contains(out, "body") {
		t.Errorf("rendered output missing text: %q", out)
	}
}
