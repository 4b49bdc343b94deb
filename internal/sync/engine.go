// Package sync mirrors the local event log with remote peers over websocket
// streams. The Engine owns one PeerConn per peer plus the state they share:
// the catch-up cursor and the set of ids recently downloaded, which keeps
// uploads from echoing events back to where they came from.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ChangeSource signals that the local store was modified.
type ChangeSource interface {
	Run(ctx context.Context, fn func()) error
}

// Options configures an Engine.
type Options struct {
	Peers             []Peer
	Direction         Direction
	SubscriptionID    string
	ReconnectInterval time.Duration
	DedupTTL          time.Duration

	// NewChangeSource builds the store watcher. It is only called when the
	// direction uploads; nil means scans run on manual Trigger calls only.
	NewChangeSource func() (ChangeSource, error)
}

// Engine runs every peer connection until they all exit.
type Engine struct {
	opts   Options
	role   Role
	src    EventSource
	ingest Ingestor
	dial   DialFunc
	log    *slog.Logger
	runID  string

	conns     []*PeerConn
	ready     chan struct{}
	readyOnce sync.Once

	mu    sync.Mutex
	state *SharedState
}

// New validates opts and prepares an engine. Nothing is dialed until Run.
func New(opts Options, src EventSource, in Ingestor, dial DialFunc) (*Engine, error) {
	role, err := RoleFor(opts.Direction)
	if err != nil {
		return nil, err
	}
	if len(opts.Peers) == 0 {
		return nil, &ConfigError{Field: "url", Reason: "no peer URLs given"}
	}
	if opts.SubscriptionID == "" {
		opts.SubscriptionID = "sub"
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}

	runID := uuid.NewString()
	return &Engine{
		opts:   opts,
		role:   role,
		src:    src,
		ingest: in,
		dial:   dial,
		log:    slog.Default().With("run", runID[:8]),
		runID:  runID,
		ready:  make(chan struct{}),
	}, nil
}

// Role returns the connection role derived from the direction.
func (e *Engine) Role() Role { return e.role }

// RunID identifies this engine instance in logs.
func (e *Engine) RunID() string { return e.runID }

// Ready is closed once the cursor is snapshotted and connections started,
// or when Run fails before getting that far.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

func (e *Engine) markReady() { e.readyOnce.Do(func() { close(e.ready) }) }

// State returns the shared state, or nil before Run has started.
func (e *Engine) State() *SharedState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// TriggerAll requests a catch-up scan on every connection.
func (e *Engine) TriggerAll() {
	e.mu.Lock()
	conns := e.conns
	e.mu.Unlock()
	for _, c := range conns {
		c.Trigger()
	}
}

// Snapshot returns per-connection counters.
func (e *Engine) Snapshot() []PeerSnapshot {
	e.mu.Lock()
	conns := e.conns
	e.mu.Unlock()
	out := make([]PeerSnapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Snapshot())
	}
	return out
}

// Run snapshots the cursor, starts the store watcher when uploading and one
// goroutine per peer, and blocks until every connection has exited. A
// connection ends on a protocol error or when ctx is done; its siblings keep
// running. The returned error joins the per-connection protocol errors.
func (e *Engine) Run(ctx context.Context) error {
	defer e.markReady()

	cursor, err := e.snapshotCursor(ctx)
	if err != nil {
		return err
	}
	state := NewSharedState(cursor, NewDedupSet(e.opts.DedupTTL))

	conns := make([]*PeerConn, 0, len(e.opts.Peers))
	for _, peer := range e.opts.Peers {
		conns = append(conns, newPeerConn(peer, e.role, peerDeps{
			dial:    e.dial,
			src:     e.src,
			ingest:  e.ingest,
			state:   state,
			limiter: rate.NewLimiter(rate.Every(e.opts.ReconnectInterval), 1),
			log:     e.log,
			subID:   e.opts.SubscriptionID,
			cursor:  cursor,
		}))
	}

	e.mu.Lock()
	e.state = state
	e.conns = conns
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var bg sync.WaitGroup
	if _, uploads := e.role.(Uploader); uploads && e.opts.NewChangeSource != nil {
		src, err := e.opts.NewChangeSource()
		if err != nil {
			return fmt.Errorf("start store watcher: %w", err)
		}
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := src.Run(runCtx, e.TriggerAll); err != nil {
				e.log.Error("store watcher stopped", "err", err)
			}
		}()
	}
	if e.opts.DedupTTL > 0 {
		bg.Add(1)
		go func() {
			defer bg.Done()
			state.Dedup.runSweeper(runCtx, e.opts.DedupTTL/2)
		}()
	}

	e.log.Info("stream starting", "dir", e.role.Direction(), "peers", len(conns), "cursor", cursor)

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, c := range conns {
		wg.Add(1)
		go func(c *PeerConn) {
			defer wg.Done()
			pprof.Do(runCtx, pprof.Labels("conn", "WS:"+c.peer.Name), func(ctx context.Context) {
				if err := c.Run(ctx); err != nil {
					e.log.Error("connection terminated", "peer", c.peer.Name, "err", err)
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
				}
			})
		}(c)
	}
	e.markReady()

	wg.Wait()
	cancel()
	bg.Wait()

	e.log.Info("stream stopped", "cursor", state.Cursor())
	return errors.Join(errs...)
}

func (e *Engine) snapshotCursor(ctx context.Context) (int64, error) {
	txn, err := e.src.BeginRead(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot cursor: %w", err)
	}
	defer txn.Close()
	seq, err := txn.MostRecentSeq()
	if err != nil {
		return 0, fmt.Errorf("snapshot cursor: %w", err)
	}
	return seq, nil
}
