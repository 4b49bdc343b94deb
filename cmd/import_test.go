package cmd

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/marcus/evstream/internal/event"
	"github.com/marcus/evstream/internal/store"
)

const testPubKey = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func eventLine(t *testing.T, n int) string {
	t.Helper()
	ev := event.New(testPubKey, 1700000000+int64(n), 1, [][]string{{"t", "test"}}, fmt.Sprintf("event %d", n))
	raw, err := ev.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func TestImportEvents(t *testing.T) {
	st := openStore(t)
	input := strings.Join([]string{
		eventLine(t, 1),
		"",
		eventLine(t, 2),
		eventLine(t, 1),
		`{"id":"nope"}`,
		"   ",
	}, "\n")

	stats, err := importEvents(st, strings.NewReader(input), "fixture.jsonl", 8, 2)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Submitted != 4 {
		t.Errorf("Submitted = %d, want 4", stats.Submitted)
	}
	if stats.Accepted != 2 || stats.Duplicates != 1 || stats.Rejected != 1 {
		t.Errorf("stats = %+v", stats)
	}

	ev, _ := event.Parse([]byte(eventLine(t, 2)))
	rec, err := st.Get(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Source != "Import" || rec.SourceID != "fixture.jsonl" {
		t.Errorf("provenance = %s/%s", rec.Source, rec.SourceID)
	}
}

func TestExportEvents(t *testing.T) {
	st := openStore(t)
	lines := []string{eventLine(t, 1), eventLine(t, 2), eventLine(t, 3)}
	if _, err := importEvents(st, strings.NewReader(strings.Join(lines, "\n")), "x", 8, 8); err != nil {
		t.Fatalf("import: %v", err)
	}

	tests := []struct {
		name     string
		after    int64
		limit    int
		want     []string
		wantLast int64
	}{
		{"all", 0, 0, lines, 3},
		{"after", 1, 0, lines[1:], 3},
		{"limit", 0, 2, lines[:2], 2},
		{"past end", 3, 0, nil, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			last, err := exportEvents(context.Background(), st, &buf, tt.after, tt.limit)
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			if last != tt.wantLast {
				t.Errorf("last = %d, want %d", last, tt.wantLast)
			}
			want := ""
			if len(tt.want) > 0 {
				want = strings.Join(tt.want, "\n") + "\n"
			}
			if buf.String() != want {
				t.Errorf("output:\n%s\nwant:\n%s", buf.String(), want)
			}
		})
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := openStore(t)
	var in []string
	for n := 1; n <= 20; n++ {
		in = append(in, eventLine(t, n))
	}
	if _, err := importEvents(src, strings.NewReader(strings.Join(in, "\n")), "a", 4, 3); err != nil {
		t.Fatalf("import: %v", err)
	}

	var buf bytes.Buffer
	if _, err := exportEvents(context.Background(), src, &buf, 0, 0); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := openStore(t)
	stats, err := importEvents(dst, &buf, "b", 4, 3)
	if err != nil {
		t.Fatalf("reimport: %v", err)
	}
	if stats.Accepted != 20 {
		t.Errorf("Accepted = %d, want 20", stats.Accepted)
	}
}

func TestFormatInfo(t *testing.T) {
	lines := formatInfo("/data/events.db", store.Stats{
		Count:         1234,
		MostRecentSeq: 1240,
		Sources:       map[string]int64{"Stream": 1000, "Import": 234},
	})
	text := strings.Join(lines, "\n")
	for _, want := range []string{"/data/events.db", "1,234", "1240", "Import", "Stream"} {
		if !strings.Contains(text, want) {
			t.Errorf("info missing %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "Import") > strings.Index(text, "Stream") {
		t.Error("sources should be sorted")
	}
}

func TestEventView(t *testing.T) {
	line := eventLine(t, 5)
	view, err := eventView(&store.Record{Seq: 9, Payload: []byte(line), Source: "Stream", SourceID: "wss://r"})
	if err != nil {
		t.Fatalf("eventView: %v", err)
	}
	if view.Seq != 9 || view.Content != "event 5" || view.Kind != 1 {
		t.Errorf("view = %+v", view)
	}
	if !view.CreatedAt.Equal(time.Unix(1700000005, 0)) {
		t.Errorf("CreatedAt = %v", view.CreatedAt)
	}
	if len(view.Tags) != 1 || view.Tags[0][0] != "t" {
		t.Errorf("Tags = %v", view.Tags)
	}

	if _, err := eventView(&store.Record{Payload: []byte("not json")}); err == nil {
		t.Error("expected parse error")
	}
}
