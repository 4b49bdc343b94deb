package sync

import (
	"context"
	"sync"
	"time"
)

// DedupSet holds ids recently received via download, keyed by the peer
// that sent them, so the catch-up scan towards that peer does not echo them
// back. A mark is removed by its first check. A TTL sweep drops marks that
// are never observed (the store rejected the event, or it was already
// stored and so never reappears in a scan).
type DedupSet struct {
	mu  sync.Mutex
	ids map[string]map[string]time.Time // id -> peer URL -> marked at
	ttl time.Duration
	now func() time.Time
}

// NewDedupSet creates an empty set. ttl <= 0 disables expiry.
func NewDedupSet(ttl time.Duration) *DedupSet {
	return &DedupSet{
		ids: make(map[string]map[string]time.Time),
		ttl: ttl,
		now: time.Now,
	}
}

// Mark records that id was received from peer.
func (d *DedupSet) Mark(id, peer string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	peers := d.ids[id]
	if peers == nil {
		peers = make(map[string]time.Time, 1)
		d.ids[id] = peers
	}
	peers[peer] = d.now()
}

// ShouldSuppress reports whether id was received from peer, removing the
// mark if so. Marks left by other peers are untouched.
func (d *DedupSet) ShouldSuppress(id, peer string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	peers, ok := d.ids[id]
	if !ok {
		return false
	}
	if _, ok := peers[peer]; !ok {
		return false
	}
	delete(peers, peer)
	if len(peers) == 0 {
		delete(d.ids, id)
	}
	return true
}

// Contains reports whether id is marked for peer, without evicting.
func (d *DedupSet) Contains(id, peer string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ids[id][peer]
	return ok
}

// Len returns the number of ids with at least one pending mark.
func (d *DedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

// Sweep drops marks older than the TTL and returns how many were removed.
func (d *DedupSet) Sweep() int {
	if d.ttl <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-d.ttl)
	removed := 0
	for id, peers := range d.ids {
		for peer, at := range peers {
			if at.Before(cutoff) {
				delete(peers, peer)
				removed++
			}
		}
		if len(peers) == 0 {
			delete(d.ids, id)
		}
	}
	return removed
}

// runSweeper calls Sweep every interval until ctx is done.
func (d *DedupSet) runSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}
