package sync

import (
	"context"
	"fmt"

	"github.com/marcus/evstream/internal/store"
)

// EventSource opens read transactions on the local event log.
type EventSource interface {
	BeginRead(ctx context.Context) (*store.ReadTxn, error)
}

// ScanResult summarises one catch-up pass.
type ScanResult struct {
	Visited    int
	Sent       int
	Suppressed int
	Cursor     int64 // this scanner's cursor after the pass
}

// Scanner is one connection's view of the log. Its cursor starts at the
// engine's snapshot and only moves forward, so the connection never sees an
// event twice. It is owned by the connection goroutine.
type Scanner struct {
	Peer   string // URL used as the dedup key
	Cursor int64
}

// CatchUp sends every event after the scanner's cursor, inside one read
// transaction. For each event the cursors advance before the dedup check, so
// a suppressed event is not rescanned either. Only uploading roles can call
// it.
func (s *Scanner) CatchUp(ctx context.Context, up Uploader, src EventSource, shared *SharedState, send func([]byte) error) (ScanResult, error) {
	var res ScanResult

	txn, err := src.BeginRead(ctx)
	if err != nil {
		return res, fmt.Errorf("catch-up: %w", err)
	}
	defer txn.Close()

	var sendErr error
	err = txn.ForEachAfter(s.Cursor, func(rec store.Record) bool {
		if ctx.Err() != nil {
			return false
		}
		res.Visited++
		s.Cursor = rec.Seq
		shared.Advance(rec.Seq)

		if shared.Dedup.ShouldSuppress(rec.ID, s.Peer) {
			res.Suppressed++
			return true
		}
		if err := send(up.EventFrame(rec.Payload)); err != nil {
			sendErr = fmt.Errorf("send event seq=%d: %w", rec.Seq, err)
			return false
		}
		res.Sent++
		return true
	})
	res.Cursor = s.Cursor
	if err != nil {
		return res, fmt.Errorf("catch-up: %w", err)
	}
	if sendErr != nil {
		return res, sendErr
	}
	return res, ctx.Err()
}
