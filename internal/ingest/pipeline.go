// Package ingest validates inbound events and writes them to the local store
// from a single writer goroutine. Submission is fire-and-forget: failures are
// logged and counted here, never reported back to the submitter.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/marcus/evstream/internal/event"
	"github.com/marcus/evstream/internal/store"
)

// SourceKind records how an event reached this store.
type SourceKind string

const (
	SourceStream SourceKind = "Stream"
	SourceImport SourceKind = "Import"
)

// Item is one event submitted for ingestion along with its provenance.
type Item struct {
	Payload  json.RawMessage
	Source   SourceKind
	SourceID string
}

// Writer persists validated rows.
type Writer interface {
	Insert(ctx context.Context, rows []store.Row) (store.InsertResult, error)
}

// Stats counts pipeline outcomes since start.
type Stats struct {
	Submitted  int64
	Accepted   int64
	Duplicates int64
	Rejected   int64
	Failed     int64
}

// Pipeline batches submitted events into store transactions.
type Pipeline struct {
	w         Writer
	inbox     chan Item
	batchSize int
	done      chan struct{}

	mu     sync.RWMutex
	closed bool

	submitted  atomic.Int64
	accepted   atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
	failed     atomic.Int64
}

// New starts a pipeline writing to w.
func New(w Writer, queueSize, batchSize int) *Pipeline {
	if queueSize <= 0 {
		queueSize = 1
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	p := &Pipeline{
		w:         w,
		inbox:     make(chan Item, queueSize),
		batchSize: batchSize,
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// Submit queues an item. It blocks only while the queue is full. Items
// submitted after Close are dropped.
func (p *Pipeline) Submit(item Item) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		slog.Warn("ingest: submit after close", "source_id", item.SourceID)
		return
	}
	p.submitted.Add(1)
	p.inbox <- item
}

// Close stops accepting items and waits until queued items are written.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted:  p.submitted.Load(),
		Accepted:   p.accepted.Load(),
		Duplicates: p.duplicates.Load(),
		Rejected:   p.rejected.Load(),
		Failed:     p.failed.Load(),
	}
}

func (p *Pipeline) run() {
	defer close(p.done)

	batch := make([]Item, 0, p.batchSize)
	for item := range p.inbox {
		batch = append(batch[:0], item)
	drain:
		for len(batch) < p.batchSize {
			select {
			case next, ok := <-p.inbox:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		p.write(batch)
	}
}

func (p *Pipeline) write(batch []Item) {
	rows := make([]store.Row, 0, len(batch))
	for _, item := range batch {
		row, err := toRow(item)
		if err != nil {
			p.rejected.Add(1)
			slog.Warn("ingest: rejected event", "source", item.Source, "source_id", item.SourceID, "err", err)
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return
	}

	res, err := p.w.Insert(context.Background(), rows)
	if err != nil {
		p.failed.Add(int64(len(rows)))
		slog.Error("ingest: write batch", "events", len(rows), "err", err)
		return
	}
	p.accepted.Add(int64(res.Accepted))
	p.duplicates.Add(int64(res.Duplicates))
	slog.Debug("ingest: wrote batch", "accepted", res.Accepted, "duplicates", res.Duplicates)
}

func toRow(item Item) (store.Row, error) {
	ev, err := event.Parse(item.Payload)
	if err != nil {
		return store.Row{}, err
	}
	if err := ev.Check(); err != nil {
		return store.Row{}, err
	}
	// The payload is kept as received, minus insignificant whitespace.
	var payload bytes.Buffer
	if err := json.Compact(&payload, item.Payload); err != nil {
		return store.Row{}, err
	}
	return store.Row{
		ID:        ev.ID,
		PubKey:    ev.PubKey,
		Kind:      ev.Kind,
		CreatedAt: ev.CreatedAt,
		Payload:   payload.Bytes(),
		Source:    string(item.Source),
		SourceID:  item.SourceID,
	}, nil
}
