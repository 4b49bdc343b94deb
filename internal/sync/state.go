package sync

import "sync"

// SharedState is the mutable state every connection of one engine shares:
// the dedup set and the high-water cursor.
type SharedState struct {
	Dedup *DedupSet

	mu     sync.Mutex
	cursor int64
}

// NewSharedState starts the cursor at the given sequence id.
func NewSharedState(cursor int64, dedup *DedupSet) *SharedState {
	return &SharedState{Dedup: dedup, cursor: cursor}
}

// Cursor returns the highest sequence id any scan has advanced past.
func (s *SharedState) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Advance moves the cursor forward to seq. It never moves backwards and
// reports whether the cursor changed.
func (s *SharedState) Advance(seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.cursor {
		return false
	}
	s.cursor = seq
	return true
}
