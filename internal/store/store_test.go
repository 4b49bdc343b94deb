package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// openCgoStore opens the log through the mattn driver, as the sync harness does.
func openCgoStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open sqlite3: %v", err)
	}
	s, err := New(conn, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeRow(n int) Row {
	id := fmt.Sprintf("%064x", n)
	return Row{
		ID:        id,
		PubKey:    fmt.Sprintf("%064x", 1),
		Kind:      1,
		CreatedAt: int64(1700000000 + n),
		Payload:   json.RawMessage(fmt.Sprintf(`{"id":"%s","content":"n%d"}`, id, n)),
		Source:    "Import",
	}
}

func insertN(t *testing.T, s *Store, from, to int) {
	t.Helper()
	var rows []Row
	for i := from; i <= to; i++ {
		rows = append(rows, makeRow(i))
	}
	if _, err := s.Insert(context.Background(), rows); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(s.Path()); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
	if s.WatchPath() != filepath.Join(dir, dbFile) {
		t.Errorf("WatchPath = %q", s.WatchPath())
	}
}

func TestMostRecentSeq_Empty(t *testing.T) {
	s := openTestStore(t)
	seq, err := s.MostRecentSeq(context.Background())
	if err != nil {
		t.Fatalf("MostRecentSeq: %v", err)
	}
	if seq != 0 {
		t.Errorf("seq = %d, want 0", seq)
	}
}

func TestInsert_AssignsIncreasingSeqs(t *testing.T) {
	for name, open := range map[string]func(*testing.T) *Store{
		"modernc": openTestStore,
		"mattn":   openCgoStore,
	} {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			res, err := s.Insert(context.Background(), []Row{makeRow(1), makeRow(2), makeRow(3)})
			if err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if res.Accepted != 3 || res.Duplicates != 0 {
				t.Fatalf("result = %+v, want 3 accepted", res)
			}
			for i := 1; i < len(res.Seqs); i++ {
				if res.Seqs[i] <= res.Seqs[i-1] {
					t.Errorf("seq[%d]=%d not greater than seq[%d]=%d", i, res.Seqs[i], i-1, res.Seqs[i-1])
				}
			}
		})
	}
}

func TestInsert_Dedup(t *testing.T) {
	s := openTestStore(t)
	insertN(t, s, 1, 2)

	res, err := s.Insert(context.Background(), []Row{makeRow(2), makeRow(3)})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if res.Accepted != 1 || res.Duplicates != 1 {
		t.Errorf("result = %+v, want 1 accepted 1 duplicate", res)
	}
}

func TestForEachAfter_OrderAndBound(t *testing.T) {
	s := openTestStore(t)
	insertN(t, s, 1, 5)

	txn, err := s.BeginRead(context.Background())
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer txn.Close()

	var seqs []int64
	err = txn.ForEachAfter(2, func(r Record) bool {
		seqs = append(seqs, r.Seq)
		return true
	})
	if err != nil {
		t.Fatalf("ForEachAfter: %v", err)
	}
	want := []int64{3, 4, 5}
	if fmt.Sprint(seqs) != fmt.Sprint(want) {
		t.Errorf("seqs = %v, want %v", seqs, want)
	}
}

func TestForEachAfter_StopsEarly(t *testing.T) {
	s := openTestStore(t)
	insertN(t, s, 1, 5)

	txn, err := s.BeginRead(context.Background())
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer txn.Close()

	visited := 0
	txn.ForEachAfter(0, func(r Record) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Errorf("visited = %d, want 2", visited)
	}
}

func TestForEachAfter_PayloadAndID(t *testing.T) {
	s := openTestStore(t)
	insertN(t, s, 7, 7)

	txn, _ := s.BeginRead(context.Background())
	defer txn.Close()

	var got Record
	txn.ForEachAfter(0, func(r Record) bool {
		got = r
		return false
	})
	want := makeRow(7)
	if got.ID != want.ID {
		t.Errorf("ID = %q, want %q", got.ID, want.ID)
	}
	if string(got.Payload) != string(want.Payload) {
		t.Errorf("Payload = %s, want %s", got.Payload, want.Payload)
	}
}

func TestGet(t *testing.T) {
	s := openTestStore(t)
	insertN(t, s, 1, 1)

	rec, err := s.Get(context.Background(), makeRow(1).ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Seq != 1 {
		t.Errorf("Seq = %d, want 1", rec.Seq)
	}
	want := makeRow(1)
	if rec.Source != want.Source || rec.SourceID != want.SourceID {
		t.Errorf("provenance = %q/%q, want %q/%q", rec.Source, rec.SourceID, want.Source, want.SourceID)
	}

	if _, err := s.Get(context.Background(), makeRow(9).ID); err != ErrNotFound {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestGetStats(t *testing.T) {
	s := openTestStore(t)
	insertN(t, s, 1, 3)
	r := makeRow(4)
	r.Source = "Stream"
	r.SourceID = "ws://relay.example"
	if _, err := s.Insert(context.Background(), []Row{r}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	st, err := s.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if st.Count != 4 || st.MostRecentSeq != 4 {
		t.Errorf("stats = %+v", st)
	}
	if st.Sources["Import"] != 3 || st.Sources["Stream"] != 1 {
		t.Errorf("sources = %v", st.Sources)
	}
}

func TestMostRecentSeq_AdvancesAfterInsert(t *testing.T) {
	s := openTestStore(t)
	insertN(t, s, 1, 2)

	txn, err := s.BeginRead(context.Background())
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	before, err := txn.MostRecentSeq()
	if err != nil {
		t.Fatalf("MostRecentSeq: %v", err)
	}
	txn.Close()

	insertN(t, s, 3, 3)
	after, _ := s.MostRecentSeq(context.Background())
	if before != 2 || after != 3 {
		t.Errorf("before=%d after=%d, want 2 and 3", before, after)
	}
}

func TestWriteLock_Timeout(t *testing.T) {
	s := openTestStore(t)
	s.LockTimeout = 30 * time.Millisecond

	held := newWriteLocker(s.lockPath)
	if err := held.acquire(time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.release()

	_, err := s.Insert(context.Background(), []Row{makeRow(1)})
	if err == nil {
		t.Fatal("expected lock timeout while another holder owns the lock")
	}
}
