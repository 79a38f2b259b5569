package alloc

import (
	"fmt"
	"io"

	scriptruntime "github.com/wippyai/script-runtime"
)

// TraceWriter emits one line per allocator event in a stable grammar:
//
//	A <size> -> <ptrtag>
//	F <ptrtag>
//	R <newsize> <ptrtag> -> <ptrtag>
//
// where <ptrtag> is either the literal NULL or H<signed offset>.<usable>,
// the offset taken relative to a base pointer captured once at startup.
// Relative offsets keep traces from independent runs diffable.
//
// The writer only observes; it never influences accept/reject decisions.
type TraceWriter struct {
	w    io.Writer
	base int64
}

// NewTraceWriter creates a trace writer emitting to w.
func NewTraceWriter(w io.Writer) *TraceWriter {
	return &TraceWriter{w: w}
}

// CaptureBase performs a throwaway probe allocation against a and records
// its address as the origin for pointer tags. The probe goes through the
// raw heap, before any accounting wrapper, so it never shows up as a live
// block.
func (t *TraceWriter) CaptureBase(a scriptruntime.Allocator) {
	p := a.Alloc(8)
	t.base = int64(p)
	a.Free(p)
}

// Alloc records an allocate event. A zero ptr tags as NULL.
func (t *TraceWriter) Alloc(size, ptr, usable uint32) {
	fmt.Fprintf(t.w, "A %d -> %s\n", size, t.tag(ptr, usable))
}

// Free records a release event.
func (t *TraceWriter) Free(ptr, usable uint32) {
	fmt.Fprintf(t.w, "F %s\n", t.tag(ptr, usable))
}

// Resize records a resize event. The old tag must be computed from the
// pre-resize pointer and usable size; the callee may have moved or
// released the block by the time the line is written.
func (t *TraceWriter) Resize(newSize, oldPtr, oldUsable, newPtr, newUsable uint32) {
	fmt.Fprintf(t.w, "R %d %s -> %s\n", newSize, t.tag(oldPtr, oldUsable), t.tag(newPtr, newUsable))
}

func (t *TraceWriter) tag(ptr, usable uint32) string {
	if ptr == 0 {
		return "NULL"
	}
	return fmt.Sprintf("H%+06d.%d", int64(ptr)-t.base, usable)
}
