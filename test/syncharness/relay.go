package syncharness

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/marcus/evstream/internal/transport"
)

// Relay is a minimal in-process relay: it keeps every event it accepts in
// arrival order, replays them to each new subscription followed by EOSE,
// and forwards new events to all live subscriptions.
type Relay struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	events   []json.RawMessage
	ids      map[string]bool
	received map[string]int // EVENT frames per id, duplicates included
	subs     map[*transport.Conn]string
	conns    map[*transport.Conn]bool
	reject   map[string]string

	// Hostile makes the relay answer every REQ with a malformed frame after
	// EOSE.
	Hostile bool
}

// NewRelay starts a relay on a local port. It is closed at test cleanup.
func NewRelay(t *testing.T) *Relay {
	t.Helper()
	r := &Relay{
		t:        t,
		ids:      make(map[string]bool),
		received: make(map[string]int),
		subs:     make(map[*transport.Conn]string),
		conns:    make(map[*transport.Conn]bool),
		reject:   make(map[string]string),
	}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Close)
	return r
}

// URL is the relay's ws:// address.
func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

// Close drops every client and stops the listener.
func (r *Relay) Close() {
	r.mu.Lock()
	for c := range r.conns {
		c.Close()
	}
	r.mu.Unlock()
	r.srv.Close()
}

// Seed stores events as if a client had published them.
func (r *Relay) Seed(payloads ...json.RawMessage) {
	for _, p := range payloads {
		r.accept(p)
	}
}

// Reject makes the relay answer OK=false for id.
func (r *Relay) Reject(id, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reject[id] = reason
}

// Count returns how many distinct events the relay holds.
func (r *Relay) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Has reports whether the relay holds id.
func (r *Relay) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids[id]
}

// Received returns how many EVENT frames carried id, duplicates included.
func (r *Relay) Received(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received[id]
}

// Subscribers returns the number of open subscriptions.
func (r *Relay) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Relay) serve(w http.ResponseWriter, req *http.Request) {
	conn, err := transport.Accept(w, req)
	if err != nil {
		r.t.Logf("relay: accept: %v", err)
		return
	}
	r.mu.Lock()
	r.conns[conn] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.conns, conn)
		delete(r.subs, conn)
		r.mu.Unlock()
		conn.Close()
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil || len(elems) < 2 {
			send(conn, "NOTICE", "could not parse message")
			continue
		}
		var tag string
		json.Unmarshal(elems[0], &tag)

		switch tag {
		case "REQ":
			var subID string
			json.Unmarshal(elems[1], &subID)
			r.subscribe(conn, subID)
		case "EVENT":
			r.publish(conn, elems[1])
		case "CLOSE":
			r.mu.Lock()
			delete(r.subs, conn)
			r.mu.Unlock()
		default:
			send(conn, "NOTICE", "unknown message type "+tag)
		}
	}
}

func (r *Relay) subscribe(conn *transport.Conn, subID string) {
	r.mu.Lock()
	stored := make([]json.RawMessage, len(r.events))
	copy(stored, r.events)
	r.subs[conn] = subID
	hostile := r.Hostile
	r.mu.Unlock()

	for _, ev := range stored {
		sendEvent(conn, subID, ev)
	}
	send(conn, "EOSE", subID)
	if hostile {
		conn.WriteMessage([]byte(`["BADTAG",1]`))
	}
}

func (r *Relay) publish(from *transport.Conn, payload json.RawMessage) {
	var head struct {
		ID string `json:"id"`
	}
	json.Unmarshal(payload, &head)

	r.mu.Lock()
	r.received[head.ID]++
	reason, rejected := r.reject[head.ID]
	r.mu.Unlock()

	if rejected {
		sendOK(from, head.ID, false, reason)
		return
	}
	if r.accept(payload) {
		r.broadcast(payload)
	}
	sendOK(from, head.ID, true, "")
}

// accept stores payload and reports whether it was new.
func (r *Relay) accept(payload json.RawMessage) bool {
	var head struct {
		ID string `json:"id"`
	}
	json.Unmarshal(payload, &head)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids[head.ID] {
		return false
	}
	r.ids[head.ID] = true
	r.events = append(r.events, payload)
	return true
}

func (r *Relay) broadcast(payload json.RawMessage) {
	r.mu.Lock()
	targets := make(map[*transport.Conn]string, len(r.subs))
	for c, sub := range r.subs {
		targets[c] = sub
	}
	r.mu.Unlock()

	for c, sub := range targets {
		sendEvent(c, sub, payload)
	}
}

func send(conn *transport.Conn, tag, arg string) {
	b, _ := json.Marshal([]string{tag, arg})
	conn.WriteMessage(b)
}

func sendEvent(conn *transport.Conn, subID string, payload json.RawMessage) {
	b, _ := json.Marshal([]any{"EVENT", subID, payload})
	conn.WriteMessage(b)
}

func sendOK(conn *transport.Conn, id string, ok bool, msg string) {
	b, _ := json.Marshal([]any{"OK", id, ok, msg})
	conn.WriteMessage(b)
}
