package alloc

import (
	scriptruntime "github.com/wippyai/script-runtime"
)

// Bounded wraps a base allocator with ceiling enforcement, live-block
// accounting, and optional tracing. It is the allocation backend handed
// to the script engine in place of its default allocator.
//
// A request that would push accounted bytes above a nonzero limit is
// rejected before touching the base allocator: state is not mutated,
// no trace line is emitted, and any existing block stays valid. The
// rejection is shaped exactly like out-of-memory from the base
// allocator, so the engine treats both uniformly.
type Bounded struct {
	base  scriptruntime.Allocator
	state *State
	trace *TraceWriter // nil disables tracing
}

var _ scriptruntime.Allocator = (*Bounded)(nil)

// CapacityReporter is implemented by base allocators that can predict
// the capacity a request will round to before allocating. When the base
// reports capacities, ceiling checks charge the exact accounted cost;
// otherwise the raw requested size approximates it. A zero report means
// no allocation can satisfy the request.
type CapacityReporter interface {
	CapacityFor(size uint32) uint32
}

// NewBounded creates a bounded allocator over base, accounting into state.
// trace may be nil.
func NewBounded(base scriptruntime.Allocator, state *State, trace *TraceWriter) *Bounded {
	return &Bounded{base: base, state: state, trace: trace}
}

// Alloc reserves size bytes. size must be nonzero; zero-size allocation
// behavior is platform dependent, so callers must never issue it.
func (b *Bounded) Alloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	s := b.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit != 0 && s.bytes+b.charge(size) > s.limit {
		return 0
	}
	ptr := b.base.Alloc(size)
	if b.trace != nil {
		b.trace.Alloc(size, ptr, b.base.UsableSize(ptr))
	}
	if ptr == 0 {
		return 0
	}
	s.count++
	s.bytes += uint64(b.base.UsableSize(ptr)) + Overhead
	return ptr
}

// Realloc changes the size of the block at ptr. A nil ptr degenerates to
// Alloc, a zero size degenerates to Free. On rejection or base failure
// the original block remains valid and accounting is unchanged.
func (b *Bounded) Realloc(ptr, size uint32) uint32 {
	if ptr == 0 {
		if size == 0 {
			return 0
		}
		return b.Alloc(size)
	}
	s := b.state
	s.mu.Lock()
	defer s.mu.Unlock()

	old := b.base.UsableSize(ptr)
	if size == 0 {
		if b.trace != nil {
			b.trace.Resize(0, ptr, old, 0, 0)
		}
		s.count--
		s.bytes -= uint64(old) + Overhead
		b.base.Free(ptr)
		return 0
	}
	if s.limit != 0 && s.bytes+b.charge(size)-b.chargeOld(old) > s.limit {
		return 0
	}
	np := b.base.Realloc(ptr, size)
	if b.trace != nil {
		var nu uint32
		if np != 0 {
			nu = b.base.UsableSize(np)
		}
		b.trace.Resize(size, ptr, old, np, nu)
	}
	if np != 0 {
		s.bytes = s.bytes - uint64(old) + uint64(b.base.UsableSize(np))
	}
	return np
}

// Free releases the block at ptr. A nil ptr is a no-op.
func (b *Bounded) Free(ptr uint32) {
	if ptr == 0 {
		return
	}
	s := b.state
	s.mu.Lock()
	defer s.mu.Unlock()

	u := b.base.UsableSize(ptr)
	if b.trace != nil {
		b.trace.Free(ptr, u)
	}
	s.count--
	s.bytes -= uint64(u) + Overhead
	b.base.Free(ptr)
}

// UsableSize reports the base allocator's true block size for ptr.
func (b *Bounded) UsableSize(ptr uint32) uint32 {
	return b.base.UsableSize(ptr)
}

// charge returns the accounted cost a fresh allocation of size would
// add. An unsatisfiable request (zero capacity report) is charged at the
// raw requested size.
func (b *Bounded) charge(size uint32) uint64 {
	if cr, ok := b.base.(CapacityReporter); ok {
		if c := cr.CapacityFor(size); c != 0 {
			return uint64(c) + Overhead
		}
	}
	return uint64(size)
}

// chargeOld returns the accounted cost released by the existing block of
// usable size old, in the same units charge uses.
func (b *Bounded) chargeOld(old uint32) uint64 {
	if _, ok := b.base.(CapacityReporter); ok {
		return uint64(old) + Overhead
	}
	return uint64(old)
}
