package pipeline

import (
	"sync"

	"github.com/voicelane/voicelane/pkg/core/types"
)

// DefaultContextDepth is how many committed turns a session carries into
// generation.
const DefaultContextDepth = 6

// ContextStore holds a session's committed turn history and its current
// product grounding. Turns are committed in completion order by the session
// event loop; Snapshot is safe to call from anywhere.
type ContextStore struct {
	mu        sync.Mutex
	depth     int
	turns     []types.Turn
	grounding types.Grounding
}

// NewContextStore creates a store keeping at most depth turns. A depth of
// zero or less falls back to DefaultContextDepth.
func NewContextStore(depth int) *ContextStore {
	if depth <= 0 {
		depth = DefaultContextDepth
	}
	return &ContextStore{depth: depth}
}

// Commit appends a finished turn, evicting the oldest once the store is
// full.
func (s *ContextStore) Commit(t types.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	if len(s.turns) > s.depth {
		s.turns = s.turns[len(s.turns)-s.depth:]
	}
}

// SetGrounding replaces the store/product grounding. In-flight turns keep
// the snapshot they were started with; the new grounding applies from the
// next Snapshot on.
func (s *ContextStore) SetGrounding(g types.Grounding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grounding = g
}

// Grounding returns the current grounding.
func (s *ContextStore) Grounding() types.Grounding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grounding
}

// Len returns the number of committed turns.
func (s *ContextStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Snapshot returns an immutable copy of the history plus the grounding in
// effect right now. Generation works from the snapshot, so later commits
// and grounding changes never leak into a turn already underway.
func (s *ContextStore) Snapshot() types.ContextSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]types.Turn, len(s.turns))
	copy(turns, s.turns)
	return types.ContextSnapshot{Turns: turns, Grounding: s.grounding}
}
