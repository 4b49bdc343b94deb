package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Row is an event ready to be written, with its provenance.
type Row struct {
	ID        string
	PubKey    string
	Kind      int
	CreatedAt int64
	Payload   json.RawMessage
	Source    string
	SourceID  string
}

// InsertResult summarises a batch write.
type InsertResult struct {
	Accepted   int
	Duplicates int
	Seqs       []int64
}

// Insert writes rows in a single transaction while holding the cross-process
// write lock. Rows whose id is already stored are counted as duplicates.
func (s *Store) Insert(ctx context.Context, rows []Row) (InsertResult, error) {
	var result InsertResult
	if len(rows) == 0 {
		return result, nil
	}

	err := s.withWriteLock(func() error {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		for _, r := range rows {
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO events (id, pubkey, kind, created_at, payload, source, source_id)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.ID, r.PubKey, r.Kind, r.CreatedAt, string(r.Payload), r.Source, r.SourceID,
			)
			if err != nil {
				return fmt.Errorf("insert event %s: %w", r.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if n == 0 {
				result.Duplicates++
				continue
			}
			seq, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("last insert id: %w", err)
			}
			slog.Debug("event inserted", "seq", seq, "id", r.ID, "source", r.Source)
			result.Accepted++
			result.Seqs = append(result.Seqs, seq)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
	if err != nil {
		return InsertResult{}, err
	}
	return result, nil
}

// withWriteLock executes fn while holding an exclusive write lock so that
// concurrent evstream processes sharing a data dir serialize their writes.
func (s *Store) withWriteLock(fn func() error) error {
	locker := newWriteLocker(s.lockPath)
	if err := locker.acquire(s.LockTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}
