package alloc

import (
	"bytes"
	"strings"
	"testing"
)

func traceLines(buf *bytes.Buffer) []string {
	out := strings.TrimRight(buf.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestTraceWriter_TagFormat(t *testing.T) {
	tests := []struct {
		name string
		base int64
		emit func(tw *TraceWriter)
		want string
	}{
		{
			name: "positive offset zero padded",
			base: 16,
			emit: func(tw *TraceWriter) { tw.Alloc(24, 40, 32) },
			want: "A 24 -> H+00024.32",
		},
		{
			name: "negative offset",
			base: 200,
			emit: func(tw *TraceWriter) { tw.Free(100, 16) },
			want: "F H-00100.16",
		},
		{
			name: "zero offset",
			base: 40,
			emit: func(tw *TraceWriter) { tw.Free(40, 64) },
			want: "F H+00000.64",
		},
		{
			name: "null pointer",
			base: 16,
			emit: func(tw *TraceWriter) { tw.Alloc(512, 0, 0) },
			want: "A 512 -> NULL",
		},
		{
			name: "resize full form",
			base: 16,
			emit: func(tw *TraceWriter) { tw.Resize(100, 40, 32, 80, 128) },
			want: "R 100 H+00024.32 -> H+00064.128",
		},
		{
			name: "resize to zero releases",
			base: 16,
			emit: func(tw *TraceWriter) { tw.Resize(0, 40, 32, 0, 0) },
			want: "R 0 H+00024.32 -> NULL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tw := &TraceWriter{w: &buf, base: tt.base}
			tt.emit(tw)
			got := strings.TrimRight(buf.String(), "\n")
			if got != tt.want {
				t.Errorf("line = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrace_AllocatorEventSequence(t *testing.T) {
	mem := NewSliceMemory(1)
	h := NewHeap(mem, 8)
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)
	tw.CaptureBase(h)
	s := NewState(0)
	b := NewBounded(h, s, tw)

	p := b.Alloc(24)
	q := b.Realloc(p, 100)
	b.Free(q)

	want := []string{
		"A 24 -> H+00024.32",
		"R 100 H+00024.32 -> H+00064.128",
		"F H+00064.128",
	}
	got := traceLines(&buf)
	if len(got) != len(want) {
		t.Fatalf("got %d lines %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTrace_CaptureBaseLeavesNoLiveBlock(t *testing.T) {
	mem := NewSliceMemory(1)
	h := NewHeap(mem, 8)
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)
	tw.CaptureBase(h)
	s := NewState(0)
	NewBounded(h, s, tw)

	if got := s.LiveBlocks(); got != 0 {
		t.Errorf("LiveBlocks after probe = %d, want 0", got)
	}
	if got := traceLines(&buf); got != nil {
		t.Errorf("probe emitted trace lines: %v", got)
	}
}

func TestTrace_UnderlyingFailureTagsNull(t *testing.T) {
	mem := NewSliceMemoryMax(1, 1)
	h := NewHeap(mem, 8)
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)
	tw.CaptureBase(h)
	b := NewBounded(h, NewState(0), tw)

	if p := b.Alloc(100000); p != 0 {
		t.Fatalf("Alloc = %d, want failure", p)
	}
	got := traceLines(&buf)
	if len(got) != 1 || got[0] != "A 100000 -> NULL" {
		t.Errorf("lines = %v, want [A 100000 -> NULL]", got)
	}
}

func TestTrace_ResizeToZero(t *testing.T) {
	mem := NewSliceMemory(1)
	h := NewHeap(mem, 8)
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)
	tw.CaptureBase(h)
	s := NewState(0)
	b := NewBounded(h, s, tw)

	p := b.Alloc(20)
	if r := b.Realloc(p, 0); r != 0 {
		t.Fatalf("Realloc(p, 0) = %d, want 0", r)
	}
	want := []string{
		"A 20 -> H+00024.32",
		"R 0 H+00024.32 -> NULL",
	}
	got := traceLines(&buf)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("lines = %v, want %v", got, want)
	}
	if got := s.LiveBlocks(); got != 0 {
		t.Errorf("LiveBlocks = %d, want 0", got)
	}
}

func TestTrace_CeilingRejectionIsSilent(t *testing.T) {
	mem := NewSliceMemory(1)
	h := NewHeap(mem, 8)
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)
	tw.CaptureBase(h)
	s := NewState(100)
	b := NewBounded(h, s, tw)

	if p := b.Alloc(200); p != 0 {
		t.Fatalf("Alloc over limit = %d, want 0", p)
	}
	if got := traceLines(&buf); got != nil {
		t.Errorf("rejection emitted trace lines: %v", got)
	}

	// A rejected resize is silent too; only the accepted alloc traces.
	p := b.Alloc(20)
	if p == 0 {
		t.Fatal("small Alloc should fit")
	}
	if q := b.Realloc(p, 2000); q != 0 {
		t.Fatalf("Realloc over limit = %d, want 0", q)
	}
	got := traceLines(&buf)
	if len(got) != 1 || !strings.HasPrefix(got[0], "A 20 -> H") {
		t.Errorf("lines = %v, want a single accepted alloc", got)
	}
}
