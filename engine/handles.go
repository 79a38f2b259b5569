package engine

import (
	"sync"
)

// handleTable tracks guest value handles outstanding for one realm. The
// guest owns the values; the table only mirrors which handles the host
// has been given and not yet released, so realm teardown can free
// stragglers instead of leaking them inside the guest.
type handleTable struct {
	live    map[uint32]struct{}
	mu      sync.RWMutex
	closed  bool
	closeMu sync.RWMutex
}

func newHandleTable() *handleTable {
	return &handleTable{live: make(map[uint32]struct{})}
}

// insert records a handle as outstanding. Zero handles are ignored.
func (t *handleTable) insert(h uint32) {
	if h == 0 {
		return
	}
	t.closeMu.RLock()
	if t.closed {
		t.closeMu.RUnlock()
		return
	}
	t.closeMu.RUnlock()

	t.mu.Lock()
	t.live[h] = struct{}{}
	t.mu.Unlock()
}

// remove forgets a handle, reporting whether it was outstanding. Freeing
// a handle twice must not reach the guest, so callers free only when
// remove returns true.
func (t *handleTable) remove(h uint32) bool {
	if h == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[h]; !ok {
		return false
	}
	delete(t.live, h)
	return true
}

// len returns the number of outstanding handles.
func (t *handleTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.live)
}

// drain returns all outstanding handles and empties the table.
func (t *handleTable) drain() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint32, 0, len(t.live))
	for h := range t.live {
		out = append(out, h)
	}
	t.live = make(map[uint32]struct{})
	return out
}

// close stops accepting inserts.
func (t *handleTable) close() {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()
}
