// Package alloc provides the memory-bounded, optionally traced allocator
// that backs the script engine's heap.
//
// The stack is assembled from small pieces:
//
//   - Heap: a size-class allocator over a linear memory, the base that
//     actually carves blocks and answers UsableSize exactly.
//   - State: live byte/block accounting plus the configured ceiling,
//     owned by the bootstrap for the lifetime of one runtime.
//   - Bounded: wraps any base allocator with ceiling enforcement and
//     accounting, rejecting requests that would breach the limit before
//     any allocation happens.
//   - TraceWriter: emits one line per allocator event in a fixed,
//     diffable grammar; purely observational.
//
// Typical wiring, as done by the engine during construction:
//
//	heap := alloc.NewHeap(mem, heapStart)
//	tw := alloc.NewTraceWriter(os.Stdout)
//	tw.CaptureBase(heap)
//	a := alloc.NewBounded(heap, state, tw)
//
// Accounting charges usable size plus a fixed Overhead per block, so the
// figure reported in memory usage dumps tracks what the heap really
// consumes, not just what was requested. A nonzero limit is a hard
// ceiling: any allocate or grow that would push the accounted total over
// it fails exactly like out-of-memory.
package alloc
