package alloc

import (
	"encoding/binary"

	scriptruntime "github.com/wippyai/script-runtime"
)

const (
	headerSize = 8
	minBlock   = 16
	maxPooled  = 64 * 1024
	numClasses = 13 // 16 B through 64 KiB, powers of two

	// maxRequest is the largest size whose page rounding still fits in
	// uint32; anything above it cannot be satisfied.
	maxRequest = 1<<32 - PageSize
)

// Heap is a size-class allocator over a linear memory. Blocks carry an
// 8-byte header recording their capacity, so UsableSize is an exact
// query rather than a platform guess. Requests up to 64 KiB round to the
// next power-of-two class and recycle through per-class free lists;
// larger requests round to a page multiple and recycle through a single
// exact-fit list.
//
// The heap manages [start, end-of-memory) and grows the memory when the
// bump pointer runs out. It never shrinks the backing memory; freed
// blocks are only reused.
//
// Not safe for concurrent use.
type Heap struct {
	mem     scriptruntime.Memory
	next    uint32             // bump pointer, next unused byte
	classes [numClasses]uint32 // free list heads, payload addresses
	large   uint32             // free list head for blocks over maxPooled
}

var (
	_ scriptruntime.Allocator = (*Heap)(nil)
	_ CapacityReporter        = (*Heap)(nil)
)

// NewHeap creates a heap carving blocks from mem starting at start.
// Bytes below start are left untouched.
func NewHeap(mem scriptruntime.Memory, start uint32) *Heap {
	return &Heap{mem: mem, next: start}
}

// Alloc reserves size bytes, growing the memory if needed. Returns 0 on
// zero size, address overflow, or when the memory refuses to grow.
func (h *Heap) Alloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	if c := classIndex(size); c >= 0 {
		if ptr := h.pop(c); ptr != 0 {
			return ptr
		}
		return h.carve(minBlock << c)
	}
	if size > maxRequest {
		return 0
	}
	need := roundLarge(size)
	if ptr := h.takeLarge(need); ptr != 0 {
		return ptr
	}
	return h.carve(need)
}

// Realloc resizes the block at ptr. When the target capacity class is
// unchanged the same block is returned; otherwise the block moves, even
// on shrink, so that capacity always equals what a fresh allocation of
// that size would get.
func (h *Heap) Realloc(ptr, size uint32) uint32 {
	if ptr == 0 {
		return h.Alloc(size)
	}
	if size == 0 {
		h.Free(ptr)
		return 0
	}
	capacity := h.UsableSize(ptr)
	if capacityFor(size) == capacity {
		return ptr
	}
	np := h.Alloc(size)
	if np == 0 {
		return 0
	}
	n := capacity
	if size < n {
		n = size
	}
	if data, ok := h.mem.Read(ptr, n); ok {
		h.mem.Write(np, data)
	}
	h.Free(ptr)
	return np
}

// Free returns the block at ptr to its free list. A nil ptr is a no-op.
func (h *Heap) Free(ptr uint32) {
	if ptr == 0 {
		return
	}
	capacity := h.UsableSize(ptr)
	if capacity == 0 {
		return
	}
	if c := classIndex(capacity); c >= 0 && minBlock<<c == capacity {
		h.writeU32(ptr, h.classes[c])
		h.classes[c] = ptr
		return
	}
	h.writeU32(ptr, h.large)
	h.large = ptr
}

// CapacityFor reports the capacity an allocation of size would round to,
// without allocating. A zero report means no allocation can satisfy size.
func (h *Heap) CapacityFor(size uint32) uint32 {
	return capacityFor(size)
}

// UsableSize reports the capacity recorded in the block header, or 0
// when ptr is nil or out of bounds.
func (h *Heap) UsableSize(ptr uint32) uint32 {
	if ptr < headerSize {
		return 0
	}
	capacity, ok := h.readU32(ptr - headerSize)
	if !ok {
		return 0
	}
	return capacity
}

// classIndex returns the smallest class whose capacity holds size, or -1
// when size exceeds the largest pooled class.
func classIndex(size uint32) int {
	c, capacity := 0, uint32(minBlock)
	for capacity < size {
		c++
		if c >= numClasses {
			return -1
		}
		capacity <<= 1
	}
	return c
}

// roundLarge rounds size up to a whole page multiple. size must not
// exceed maxRequest or the sum wraps.
func roundLarge(size uint32) uint32 {
	return (size + PageSize - 1) &^ uint32(PageSize-1)
}

// capacityFor returns the capacity a fresh allocation of size would get,
// or 0 for sizes no allocation can satisfy.
func capacityFor(size uint32) uint32 {
	if c := classIndex(size); c >= 0 {
		return minBlock << c
	}
	if size > maxRequest {
		return 0
	}
	return roundLarge(size)
}

// pop unlinks the head of class c, or returns 0 when the list is empty.
func (h *Heap) pop(c int) uint32 {
	ptr := h.classes[c]
	if ptr == 0 {
		return 0
	}
	next, ok := h.readU32(ptr)
	if !ok {
		return 0
	}
	h.classes[c] = next
	return ptr
}

// takeLarge unlinks the first free large block of exactly need bytes.
// Exact match keeps usable sizes independent of allocation history.
func (h *Heap) takeLarge(need uint32) uint32 {
	var prev uint32
	cur := h.large
	for cur != 0 {
		next, ok := h.readU32(cur)
		if !ok {
			return 0
		}
		if h.UsableSize(cur) == need {
			if prev == 0 {
				h.large = next
			} else {
				h.writeU32(prev, next)
			}
			return cur
		}
		prev = cur
		cur = next
	}
	return 0
}

// carve bump-allocates a fresh block of exactly capacity payload bytes.
func (h *Heap) carve(capacity uint32) uint32 {
	start := (h.next + 7) &^ 7
	payload := start + headerSize
	end := payload + capacity
	if start < h.next || payload < start || end < payload {
		return 0
	}
	if !h.ensure(end) {
		return 0
	}
	if !h.writeU32(start, capacity) {
		return 0
	}
	h.next = end
	return payload
}

// ensure grows the memory until at least end bytes are addressable.
func (h *Heap) ensure(end uint32) bool {
	size := h.mem.Size()
	if end <= size {
		return true
	}
	delta := uint32((uint64(end) - uint64(size) + PageSize - 1) / PageSize)
	_, ok := h.mem.Grow(delta)
	return ok
}

func (h *Heap) readU32(off uint32) (uint32, bool) {
	b, ok := h.mem.Read(off, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (h *Heap) writeU32(off, v uint32) bool {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return h.mem.Write(off, b[:])
}
