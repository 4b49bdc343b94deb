package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/marcus/evstream/internal/event"
	"github.com/marcus/evstream/internal/ingest"
)

// Conn is one established duplex text-message stream.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// DialFunc opens a connection to a peer URL.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Ingestor accepts downloaded events for validation and storage.
type Ingestor interface {
	Submit(item ingest.Item)
}

// PeerConn drives one peer: dial, run the protocol until the stream drops,
// reconnect. All frame handling and catch-up scans for the peer happen on
// the goroutine running Run, so they never interleave.
type PeerConn struct {
	peer    Peer
	role    Role
	machine Machine

	dial    DialFunc
	src     EventSource
	ingest  Ingestor
	state   *SharedState
	limiter *rate.Limiter
	metrics *PeerMetrics
	log     *slog.Logger

	scanner Scanner
	trigger chan struct{}
}

type peerDeps struct {
	dial    DialFunc
	src     EventSource
	ingest  Ingestor
	state   *SharedState
	limiter *rate.Limiter
	log     *slog.Logger
	subID   string
	cursor  int64
}

func newPeerConn(peer Peer, role Role, deps peerDeps) *PeerConn {
	return &PeerConn{
		peer:    peer,
		role:    role,
		machine: NewMachine(role, peer, deps.subID),
		dial:    deps.dial,
		src:     deps.src,
		ingest:  deps.ingest,
		state:   deps.state,
		limiter: deps.limiter,
		metrics: &PeerMetrics{},
		log:     deps.log.With("conn", "WS:"+peer.Name),
		scanner: Scanner{Peer: peer.URL, Cursor: deps.cursor},
		trigger: make(chan struct{}, 1),
	}
}

// Peer returns the endpoint this connection serves.
func (p *PeerConn) Peer() Peer { return p.peer }

// Trigger asks for a catch-up scan at the connection's next opportunity.
// Repeated triggers before the scan runs collapse into one. Download-only
// connections never scan.
func (p *PeerConn) Trigger() {
	if _, ok := p.role.(Uploader); !ok {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Snapshot returns the connection's counters.
func (p *PeerConn) Snapshot() PeerSnapshot {
	return p.metrics.snapshot(p.peer)
}

// Run connects and reconnects until ctx is done or the peer sends a
// malformed frame, in which case the *ProtocolError is returned.
func (p *PeerConn) Run(ctx context.Context) error {
	defer p.metrics.finish()

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil
		}

		p.log.Info("connecting", "url", p.peer.URL)
		conn, err := p.dial(ctx, p.peer.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.metrics.setError(err)
			p.log.Warn("connect failed", "url", p.peer.URL, "err", err)
			continue
		}

		err = p.session(ctx, conn)
		p.machine = p.machine.Disconnected()
		p.metrics.setPhase(PhaseDisconnected)

		var perr *ProtocolError
		switch {
		case errors.As(err, &perr):
			p.metrics.setError(err)
			return err
		case ctx.Err() != nil:
			return nil
		case err != nil:
			p.metrics.setError(err)
			p.log.Warn("connection lost", "err", err)
		}
	}
}

// session runs the protocol over one established connection.
func (p *PeerConn) session(ctx context.Context, conn Conn) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-sessCtx.Done():
				return
			}
		}
	}()

	var eff Effects
	p.machine, eff = p.machine.Connected()
	p.metrics.connects.Add(1)
	p.metrics.setPhase(p.machine.Phase)
	p.metrics.setError(nil)
	p.log.Info("connected", "dir", p.role.Direction())
	if err := p.apply(conn, eff); err != nil {
		return err
	}

	var trigger <-chan struct{}
	up, uploads := p.role.(Uploader)
	if uploads {
		trigger = p.trigger
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("read: %w", err)

		case data := <-frames:
			var err error
			p.machine, eff, err = p.machine.Handle(data)
			if err != nil {
				p.log.Error("protocol error, closing connection", "err", err)
				return err
			}
			if err := p.apply(conn, eff); err != nil {
				return err
			}

		case <-trigger:
			res, err := p.scanner.CatchUp(ctx, up, p.src, p.state, conn.WriteMessage)
			p.metrics.recordScan(res)
			if res.Sent > 0 || res.Suppressed > 0 {
				p.log.Debug("catch-up", "sent", res.Sent, "suppressed", res.Suppressed, "cursor", res.Cursor)
			}
			if err != nil {
				return err
			}
		}
	}
}

// apply carries out a transition's effects.
func (p *PeerConn) apply(conn Conn, eff Effects) error {
	for _, frame := range eff.Send {
		if err := conn.WriteMessage(frame); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}

	switch {
	case eff.Ingest != nil:
		p.metrics.received.Add(1)
		p.state.Dedup.Mark(eff.Ingest.ID, p.peer.URL)
		p.ingest.Submit(ingest.Item{
			Payload:  eff.Ingest.Payload,
			Source:   ingest.SourceStream,
			SourceID: p.peer.URL,
		})
		p.metrics.submitted.Add(1)
		p.log.Info("got event", "id", event.ShortID(eff.Ingest.ID))

	case eff.Rejected != nil:
		p.metrics.rejected.Add(1)
		p.log.Warn("event not written", "id", eff.Rejected.ID, "msg", eff.Rejected.Message)

	case eff.Notice != "":
		p.metrics.notices.Add(1)
		p.log.Warn("NOTICE message", "msg", eff.Notice)

	case eff.Unexpected:
		p.log.Warn("unexpected EVENT on upload-only connection")

	case eff.Live:
		p.metrics.setPhase(PhaseLive)
		p.log.Debug("end of stored events")
	}
	return nil
}
