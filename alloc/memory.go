package alloc

import (
	scriptruntime "github.com/wippyai/script-runtime"
)

// PageSize is the linear memory page granularity, 64 KiB.
const PageSize = 65536

// SliceMemory is a page-granular in-process memory backed by a byte
// slice. It mirrors the growth and bounds behavior of a real linear
// memory so the heap and its tests run without an engine.
type SliceMemory struct {
	data []byte
	max  uint32 // max pages, 0 = unlimited
}

var _ scriptruntime.Memory = (*SliceMemory)(nil)

// NewSliceMemory creates a memory of the given initial page count.
func NewSliceMemory(pages uint32) *SliceMemory {
	return &SliceMemory{data: make([]byte, int(pages)*PageSize)}
}

// NewSliceMemoryMax creates a memory that refuses to grow past max pages.
func NewSliceMemoryMax(pages, max uint32) *SliceMemory {
	return &SliceMemory{data: make([]byte, int(pages)*PageSize), max: max}
}

// Read returns a view of byteCount bytes at offset. The view aliases the
// backing store and is invalidated by Grow.
func (m *SliceMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[offset:end:end], true
}

// Write copies data into the memory at offset.
func (m *SliceMemory) Write(offset uint32, data []byte) bool {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(m.data)) {
		return false
	}
	copy(m.data[offset:], data)
	return true
}

// Size returns the current memory size in bytes.
func (m *SliceMemory) Size() uint32 {
	return uint32(len(m.data))
}

// Grow extends the memory by deltaPages, returning the previous page
// count. Fails when a max page count is set and would be exceeded.
func (m *SliceMemory) Grow(deltaPages uint32) (previousPages uint32, ok bool) {
	prev := uint32(len(m.data) / PageSize)
	if m.max != 0 && prev+deltaPages > m.max {
		return 0, false
	}
	m.data = append(m.data, make([]byte, int(deltaPages)*PageSize)...)
	return prev, true
}
