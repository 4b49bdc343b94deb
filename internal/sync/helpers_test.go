package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marcus/evstream/internal/event"
	"github.com/marcus/evstream/internal/ingest"
	"github.com/marcus/evstream/internal/store"
)

const testPubKey = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

func testEvent(t *testing.T, n int) (string, json.RawMessage) {
	t.Helper()
	ev := event.New(testPubKey, 1700000000+int64(n), 1, nil, fmt.Sprintf("note %d", n))
	raw, err := ev.Marshal()
	require.NoError(t, err)
	return ev.ID, raw
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// insertEvents stores events from..to inclusive and returns their ids and
// payloads keyed by n.
func insertEvents(t *testing.T, st *store.Store, from, to int) map[int]json.RawMessage {
	t.Helper()
	out := make(map[int]json.RawMessage)
	var rows []store.Row
	for n := from; n <= to; n++ {
		id, raw := testEvent(t, n)
		out[n] = raw
		rows = append(rows, store.Row{
			ID:        id,
			PubKey:    testPubKey,
			Kind:      1,
			CreatedAt: 1700000000 + int64(n),
			Payload:   raw,
			Source:    string(ingest.SourceImport),
		})
	}
	_, err := st.Insert(context.Background(), rows)
	require.NoError(t, err)
	return out
}

var errFakeClosed = errors.New("fake conn closed")

// fakeConn is an in-memory Conn. The test pushes frames into in and reads
// what the engine wrote from out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   gosync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errFakeClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(frame string) { c.in <- []byte(frame) }

func (c *fakeConn) expectFrame(t *testing.T) string {
	t.Helper()
	select {
	case d := <-c.out:
		return string(d)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return ""
	}
}

func (c *fakeConn) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case d := <-c.out:
		t.Fatalf("unexpected outbound frame: %s", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func (c *fakeConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
}

// fakeNet hands out a fresh fakeConn per dial and publishes it per URL.
type fakeNet struct {
	mu    gosync.Mutex
	conns map[string]chan *fakeConn
}

func newFakeNet() *fakeNet {
	return &fakeNet{conns: make(map[string]chan *fakeConn)}
}

func (n *fakeNet) queue(url string) chan *fakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.conns[url]
	if !ok {
		ch = make(chan *fakeConn, 16)
		n.conns[url] = ch
	}
	return ch
}

func (n *fakeNet) Dial(ctx context.Context, url string) (Conn, error) {
	c := newFakeConn()
	n.queue(url) <- c
	return c, nil
}

func (n *fakeNet) accept(t *testing.T, url string) *fakeConn {
	t.Helper()
	select {
	case c := <-n.queue(url):
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no dial to %s", url)
		return nil
	}
}

func (n *fakeNet) expectNoDial(t *testing.T, url string) {
	t.Helper()
	select {
	case <-n.queue(url):
		t.Fatalf("unexpected dial to %s", url)
	case <-time.After(100 * time.Millisecond):
	}
}

// recordingIngest captures submissions. It can check the dedup mark at the
// moment Submit is called.
type recordingIngest struct {
	mu    gosync.Mutex
	items []ingest.Item
	got   chan ingest.Item
}

func newRecordingIngest() *recordingIngest {
	return &recordingIngest{got: make(chan ingest.Item, 64)}
}

func (r *recordingIngest) Submit(item ingest.Item) {
	r.mu.Lock()
	r.items = append(r.items, item)
	r.mu.Unlock()
	r.got <- item
}

func (r *recordingIngest) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *recordingIngest) next(t *testing.T) ingest.Item {
	t.Helper()
	select {
	case it := <-r.got:
		return it
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingest")
		return ingest.Item{}
	}
}

func mustPeers(t *testing.T, urls string) []Peer {
	t.Helper()
	peers, err := ParsePeers(urls)
	require.NoError(t, err)
	return peers
}

// startEngine runs the engine in the background until the returned stop
// func is called; stop returns Run's error.
func startEngine(t *testing.T, eng *Engine) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	select {
	case <-eng.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("engine exited before ready: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("engine not ready")
	}

	var once gosync.Once
	var result error
	stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-errCh:
			case <-time.After(5 * time.Second):
				t.Fatal("engine did not stop")
			}
		})
		return result
	}
	t.Cleanup(func() { stop() })
	return stop
}
