// Package store is the local SQLite event log: an append-only table of
// content-addressed events keyed by a monotonically increasing sequence id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	dbFile      = "events.db"
	lockFile    = "write.lock"
	lockTimeout = 2 * time.Second
)

// ErrNotFound is returned when an event id is not in the store.
var ErrNotFound = errors.New("event not found")

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	pubkey       TEXT NOT NULL,
	kind         INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	payload      JSON NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	source_id    TEXT NOT NULL DEFAULT '',
	received_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_pubkey ON events(pubkey, created_at);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, created_at);
`

// Record is one stored event as seen by readers. Source and SourceID are
// only filled by Get.
type Record struct {
	Seq      int64
	ID       string
	Payload  json.RawMessage
	Source   string
	SourceID string
}

// Store wraps the event log database.
type Store struct {
	conn        *sql.DB
	path        string
	lockPath    string
	LockTimeout time.Duration
}

// Open opens (creating if needed) the event log under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, dbFile)

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	s, err := New(conn, path)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened connection whose database file lives at path.
// The schema is created if missing.
func New(conn *sql.DB, path string) (*Store, error) {
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{
		conn:        conn,
		path:        path,
		lockPath:    filepath.Join(filepath.Dir(path), lockFile),
		LockTimeout: lockTimeout,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// WatchPath returns the file whose modification signals new events.
func (s *Store) WatchPath() string {
	return s.path
}

// Conn exposes the underlying connection for tests and maintenance commands.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// ReadTxn is a read transaction over a consistent snapshot of the log.
type ReadTxn struct {
	tx *sql.Tx
}

// BeginRead opens a read transaction. Callers must Close it.
func (s *Store) BeginRead(ctx context.Context) (*ReadTxn, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	return &ReadTxn{tx: tx}, nil
}

// Close ends the transaction.
func (r *ReadTxn) Close() error {
	return r.tx.Rollback()
}

// MostRecentSeq returns the highest sequence id, or 0 for an empty log.
func (r *ReadTxn) MostRecentSeq() (int64, error) {
	var seq int64
	if err := r.tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("most recent seq: %w", err)
	}
	return seq, nil
}

// ForEachAfter visits events with seq > after in increasing seq order.
// Iteration stops early when visit returns false.
func (r *ReadTxn) ForEachAfter(after int64, visit func(Record) bool) error {
	rows, err := r.tx.Query(`SELECT seq, id, payload FROM events WHERE seq > ? ORDER BY seq ASC`, after)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec Record
		var payload string
		if err := rows.Scan(&rec.Seq, &rec.ID, &payload); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		if !visit(rec) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration: %w", err)
	}
	return nil
}

// MostRecentSeq is a convenience wrapper that opens its own transaction.
func (s *Store) MostRecentSeq(ctx context.Context) (int64, error) {
	txn, err := s.BeginRead(ctx)
	if err != nil {
		return 0, err
	}
	defer txn.Close()
	return txn.MostRecentSeq()
}

// Get returns the stored event with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	var payload string
	err := s.conn.QueryRowContext(ctx, `SELECT seq, id, payload, source, source_id FROM events WHERE id = ?`, id).
		Scan(&rec.Seq, &rec.ID, &payload, &rec.Source, &rec.SourceID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

// Stats summarises the log for the info command.
type Stats struct {
	Count         int64
	MostRecentSeq int64
	Sources       map[string]int64
}

// GetStats returns event counts overall and per ingestion source.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	st := Stats{Sources: make(map[string]int64)}
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM events`).
		Scan(&st.Count, &st.MostRecentSeq)
	if err != nil {
		return st, fmt.Errorf("count events: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT source, COUNT(*) FROM events GROUP BY source`)
	if err != nil {
		return st, fmt.Errorf("count sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int64
		if err := rows.Scan(&src, &n); err != nil {
			return st, err
		}
		st.Sources[src] = n
	}
	return st, rows.Err()
}
