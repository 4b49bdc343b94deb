package monitor

import (
	"sort"

	"github.com/marcus/evstream/internal/ingest"
	evsync "github.com/marcus/evstream/internal/sync"
)

// Status is everything the monitor displays, gathered in one call.
type Status struct {
	Peers  []evsync.PeerSnapshot
	Cursor int64
	Ingest ingest.Stats
}

// Source supplies the current status.
type Source interface {
	Status() Status
}

// SourceFunc adapts a function to Source.
type SourceFunc func() Status

func (f SourceFunc) Status() Status { return f() }

// Totals sums counters across peers.
type Totals struct {
	Live, Connected, Down, Finished int
	Received, Sent, Suppressed      int64
	Rejected, Notices               int64
}

// Sum aggregates the per-peer counters.
func (s Status) Sum() Totals {
	var t Totals
	for _, p := range s.Peers {
		switch {
		case p.Done:
			t.Finished++
		case p.Phase == evsync.PhaseLive:
			t.Live++
		case p.Phase == evsync.PhaseConnected:
			t.Connected++
		default:
			t.Down++
		}
		t.Received += p.Received
		t.Sent += p.Sent
		t.Suppressed += p.Suppressed
		t.Rejected += p.Rejected
		t.Notices += p.Notices
	}
	return t
}

// sortPeers orders failing connections first so they are visible without
// scrolling, then by name.
func sortPeers(peers []evsync.PeerSnapshot) []evsync.PeerSnapshot {
	out := make([]evsync.PeerSnapshot, len(peers))
	copy(out, peers)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := peerRank(out[i]), peerRank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func peerRank(p evsync.PeerSnapshot) int {
	switch {
	case p.Done:
		return 0
	case p.LastError != "":
		return 1
	case p.Phase != evsync.PhaseLive:
		return 2
	default:
		return 3
	}
}
