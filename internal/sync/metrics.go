package sync

import (
	"sync"
	"sync/atomic"
	"time"
)

// PeerMetrics collects per-connection counters using atomics.
type PeerMetrics struct {
	received   atomic.Int64
	submitted  atomic.Int64
	sent       atomic.Int64
	suppressed atomic.Int64
	rejected   atomic.Int64
	notices    atomic.Int64
	scans      atomic.Int64
	connects   atomic.Int64

	mu        sync.Mutex
	phase     Phase
	lastErr   string
	changedAt time.Time
	done      bool
}

// PeerSnapshot is a point-in-time view of one connection.
type PeerSnapshot struct {
	Name       string
	URL        string
	Phase      Phase
	Done       bool
	LastError  string
	Since      time.Time
	Received   int64
	Submitted  int64
	Sent       int64
	Suppressed int64
	Rejected   int64
	Notices    int64
	Scans      int64
	Connects   int64
}

func (m *PeerMetrics) setPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != p {
		m.phase = p
		m.changedAt = time.Now()
	}
}

func (m *PeerMetrics) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.lastErr = ""
		return
	}
	m.lastErr = err.Error()
}

func (m *PeerMetrics) finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = true
	m.phase = PhaseDisconnected
	m.changedAt = time.Now()
}

func (m *PeerMetrics) recordScan(res ScanResult) {
	m.scans.Add(1)
	m.sent.Add(int64(res.Sent))
	m.suppressed.Add(int64(res.Suppressed))
}

func (m *PeerMetrics) snapshot(peer Peer) PeerSnapshot {
	m.mu.Lock()
	phase, lastErr, since, done := m.phase, m.lastErr, m.changedAt, m.done
	m.mu.Unlock()

	return PeerSnapshot{
		Name:       peer.Name,
		URL:        peer.URL,
		Phase:      phase,
		Done:       done,
		LastError:  lastErr,
		Since:      since,
		Received:   m.received.Load(),
		Submitted:  m.submitted.Load(),
		Sent:       m.sent.Load(),
		Suppressed: m.suppressed.Load(),
		Rejected:   m.rejected.Load(),
		Notices:    m.notices.Load(),
		Scans:      m.scans.Load(),
		Connects:   m.connects.Load(),
	}
}
