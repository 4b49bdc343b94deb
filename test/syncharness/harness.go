// Package syncharness runs stream engines against an in-process relay, with
// each node on its own on-disk store, to test replication end to end.
package syncharness

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/evstream/internal/event"
	"github.com/marcus/evstream/internal/ingest"
	"github.com/marcus/evstream/internal/store"
	evsync "github.com/marcus/evstream/internal/sync"
	"github.com/marcus/evstream/internal/transport"
	"github.com/marcus/evstream/internal/watch"
)

const (
	testPubKey   = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	waitTimeout  = 5 * time.Second
	pollInterval = 10 * time.Millisecond
)

// Node is one local store plus, while started, the engine streaming it.
type Node struct {
	ID    string
	Store *store.Store
	Pipe  *ingest.Pipeline

	eng    *evsync.Engine
	cancel context.CancelFunc
	done   chan error
}

// Harness orchestrates nodes replicating through relays.
type Harness struct {
	t        *testing.T
	Nodes    map[string]*Node
	nodeKeys []string
	Debounce time.Duration
	seq      int
}

// NewHarness creates numNodes nodes named node-A, node-B, ...
func NewHarness(t *testing.T, numNodes int) *Harness {
	t.Helper()
	h := &Harness{
		t:        t,
		Nodes:    make(map[string]*Node),
		Debounce: 20 * time.Millisecond,
	}
	for i := 0; i < numNodes; i++ {
		id := "node-" + string(rune('A'+i))
		h.Nodes[id] = h.openNode(id)
		h.nodeKeys = append(h.nodeKeys, id)
	}
	return h
}

// openNode opens a store through the cgo sqlite driver so the harness
// exercises the same schema under both drivers.
func (h *Harness) openNode(id string) *Node {
	h.t.Helper()
	path := filepath.Join(h.t.TempDir(), "events.db")
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		h.t.Fatalf("open %s db: %v", id, err)
	}
	st, err := store.New(conn, path)
	if err != nil {
		h.t.Fatalf("init %s store: %v", id, err)
	}
	n := &Node{ID: id, Store: st, Pipe: ingest.New(st, 64, 16)}
	h.t.Cleanup(func() {
		n.Pipe.Close()
		st.Close()
	})
	return n
}

func (h *Harness) node(id string) *Node {
	h.t.Helper()
	n, ok := h.Nodes[id]
	if !ok {
		h.t.Fatalf("unknown node: %s", id)
	}
	return n
}

// NewEvent builds a signed-shape event unique to this harness run.
func (h *Harness) NewEvent(label string) (string, json.RawMessage) {
	h.t.Helper()
	h.seq++
	ev := event.New(testPubKey, 1700000000+int64(h.seq), 1, nil, fmt.Sprintf("%s #%d", label, h.seq))
	raw, err := ev.Marshal()
	if err != nil {
		h.t.Fatalf("marshal event: %v", err)
	}
	return ev.ID, raw
}

// Publish writes a new event straight into a node's store, as a local
// writer would, and returns its id.
func (h *Harness) Publish(nodeID string) string {
	h.t.Helper()
	id, raw := h.NewEvent(nodeID)
	h.Insert(nodeID, raw)
	return id
}

// Insert writes an already built event into a node's store.
func (h *Harness) Insert(nodeID string, raw json.RawMessage) {
	h.t.Helper()
	n := h.node(nodeID)
	ev, err := event.Parse(raw)
	if err != nil {
		h.t.Fatalf("insert on %s: %v", nodeID, err)
	}
	_, err = n.Store.Insert(context.Background(), []store.Row{{
		ID:        ev.ID,
		PubKey:    ev.PubKey,
		Kind:      ev.Kind,
		CreatedAt: ev.CreatedAt,
		Payload:   raw,
		Source:    string(ingest.SourceImport),
		SourceID:  "harness",
	}})
	if err != nil {
		h.t.Fatalf("insert on %s: %v", nodeID, err)
	}
}

// Start runs a stream engine for the node against the given relay URLs.
func (h *Harness) Start(nodeID string, dir evsync.Direction, urls ...string) *evsync.Engine {
	h.t.Helper()
	n := h.node(nodeID)
	if n.eng != nil {
		h.t.Fatalf("%s already started", nodeID)
	}
	peers, err := evsync.ParsePeers(strings.Join(urls, ","))
	if err != nil {
		h.t.Fatalf("peers: %v", err)
	}

	dialer := &transport.Dialer{HandshakeTimeout: 2 * time.Second}
	eng, err := evsync.New(evsync.Options{
		Peers:             peers,
		Direction:         dir,
		ReconnectInterval: 50 * time.Millisecond,
		DedupTTL:          time.Minute,
		NewChangeSource: func() (evsync.ChangeSource, error) {
			w, err := watch.New(n.Store.WatchPath(), h.Debounce)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
	}, n.Store, n.Pipe, func(ctx context.Context, url string) (evsync.Conn, error) {
		c, err := dialer.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		h.t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.eng, n.cancel, n.done = eng, cancel, make(chan error, 1)
	go func() { n.done <- eng.Run(ctx) }()

	select {
	case <-eng.Ready():
	case err := <-n.done:
		h.t.Fatalf("%s engine exited at start: %v", nodeID, err)
	case <-time.After(waitTimeout):
		h.t.Fatalf("%s engine not ready", nodeID)
	}
	h.t.Cleanup(func() { h.Stop(nodeID) })
	return eng
}

// Stop cancels the node's engine and returns what Run returned.
func (h *Harness) Stop(nodeID string) error {
	n := h.node(nodeID)
	if n.eng == nil {
		return nil
	}
	n.cancel()
	var err error
	select {
	case err = <-n.done:
	case <-time.After(waitTimeout):
		h.t.Errorf("%s engine did not stop", nodeID)
	}
	n.eng = nil
	return err
}

// Engine returns the running engine for a node, or nil.
func (h *Harness) Engine(nodeID string) *evsync.Engine {
	return h.node(nodeID).eng
}

// WaitFor polls cond until it holds or the harness timeout passes.
func (h *Harness) WaitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(pollInterval)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

// Has reports whether the node's store holds id.
func (h *Harness) Has(nodeID, id string) bool {
	_, err := h.node(nodeID).Store.Get(context.Background(), id)
	return err == nil
}

// CountEvents returns the number of events in a node's store.
func (h *Harness) CountEvents(nodeID string) int64 {
	h.t.Helper()
	stats, err := h.node(nodeID).Store.GetStats(context.Background())
	if err != nil {
		h.t.Fatalf("stats %s: %v", nodeID, err)
	}
	return stats.Count
}

// AssertConverged verifies all nodes hold the same set of event ids.
func (h *Harness) AssertConverged() {
	h.t.Helper()
	if len(h.nodeKeys) < 2 {
		return
	}
	ref := h.nodeKeys[0]
	refIDs := h.dumpIDs(ref)
	for _, id := range h.nodeKeys[1:] {
		if ids := h.dumpIDs(id); ids != refIDs {
			h.t.Fatalf("DIVERGENCE between %s and %s:\n%s", ref, id, h.Diff(ref, id))
		}
	}
}

// Diff returns the ids held by one node but not the other.
func (h *Harness) Diff(nodeA, nodeB string) string {
	a := h.idSet(nodeA)
	b := h.idSet(nodeB)
	var sb strings.Builder
	for id := range a {
		if !b[id] {
			fmt.Fprintf(&sb, "only on %s: %s\n", nodeA, id)
		}
	}
	for id := range b {
		if !a[id] {
			fmt.Fprintf(&sb, "only on %s: %s\n", nodeB, id)
		}
	}
	if sb.Len() == 0 {
		return "(identical)"
	}
	return sb.String()
}

func (h *Harness) idSet(nodeID string) map[string]bool {
	h.t.Helper()
	ids := make(map[string]bool)
	txn, err := h.node(nodeID).Store.BeginRead(context.Background())
	if err != nil {
		h.t.Fatalf("read %s: %v", nodeID, err)
	}
	defer txn.Close()
	err = txn.ForEachAfter(0, func(rec store.Record) bool {
		ids[rec.ID] = true
		return true
	})
	if err != nil {
		h.t.Fatalf("scan %s: %v", nodeID, err)
	}
	return ids
}

// dumpIDs returns a deterministic listing of a node's event ids.
func (h *Harness) dumpIDs(nodeID string) string {
	set := h.idSet(nodeID)
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, "\n")
}
