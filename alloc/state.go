package alloc

import "sync"

// Overhead approximates the per-block bookkeeping cost charged by the
// underlying heap, in bytes. It matches the block header size, so the
// accounted figure tracks what the heap actually consumes.
const Overhead = 8

// State carries the live-allocation accounting for one runtime. It is
// created by the bootstrap, handed to the Bounded allocator, and read
// back for memory usage reports.
//
// All three counters move together under one mutex: a lost update would
// desynchronize accounting from reality and let the ceiling be bypassed.
type State struct {
	mu    sync.Mutex
	limit uint64 // 0 = unlimited
	bytes uint64 // usable bytes of live blocks, plus Overhead each
	count int64  // live block count
}

// NewState creates accounting state with the given ceiling in bytes.
// A zero limit means unlimited.
func NewState(limit uint64) *State {
	return &State{limit: limit}
}

// SetLimit replaces the ceiling. It applies to subsequent allocations
// only; blocks already live are never reclaimed by lowering the limit.
func (s *State) SetLimit(limit uint64) {
	s.mu.Lock()
	s.limit = limit
	s.mu.Unlock()
}

// Limit returns the current ceiling, 0 if unlimited.
func (s *State) Limit() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

// LiveBytes returns the accounted size of all live blocks.
func (s *State) LiveBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// LiveBlocks returns the number of live blocks.
func (s *State) LiveBlocks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Snapshot returns all three counters under one lock acquisition.
func (s *State) Snapshot() (blocks int64, bytes, limit uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, s.bytes, s.limit
}
