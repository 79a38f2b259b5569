package alloc

import (
	"bytes"
	"testing"
)

func newTestAlloc(limit uint64) (*Bounded, *State, *SliceMemory) {
	mem := NewSliceMemory(1)
	h := NewHeap(mem, 8)
	s := NewState(limit)
	return NewBounded(h, s, nil), s, mem
}

func TestBounded_AllocFreeRoundTrip(t *testing.T) {
	b, s, _ := newTestAlloc(0)

	if got := s.LiveBytes(); got != 0 {
		t.Fatalf("initial LiveBytes = %d, want 0", got)
	}

	p := b.Alloc(100)
	if p == 0 {
		t.Fatal("Alloc(100) failed")
	}
	if got := b.UsableSize(p); got != 128 {
		t.Errorf("UsableSize = %d, want 128", got)
	}
	if got := s.LiveBytes(); got != 128+Overhead {
		t.Errorf("LiveBytes = %d, want %d", got, 128+Overhead)
	}
	if got := s.LiveBlocks(); got != 1 {
		t.Errorf("LiveBlocks = %d, want 1", got)
	}

	b.Free(p)
	if got := s.LiveBytes(); got != 0 {
		t.Errorf("LiveBytes after free = %d, want 0", got)
	}
	if got := s.LiveBlocks(); got != 0 {
		t.Errorf("LiveBlocks after free = %d, want 0", got)
	}
}

func TestBounded_CeilingRejectsWithoutMutation(t *testing.T) {
	b, s, mem := newTestAlloc(200)

	p := b.Alloc(100) // accounts 128 + Overhead = 136
	if p == 0 {
		t.Fatal("first Alloc should fit under the limit")
	}
	pattern := []byte{0xde, 0xad, 0xbe, 0xef}
	if !mem.Write(p, pattern) {
		t.Fatal("writing block payload")
	}
	blocks, liveBytes, _ := s.Snapshot()

	// 136 live + 136 prospective > 200: rejected before allocating.
	if q := b.Alloc(100); q != 0 {
		t.Fatalf("Alloc over limit = %d, want 0", q)
	}

	gotBlocks, gotBytes, _ := s.Snapshot()
	if gotBlocks != blocks || gotBytes != liveBytes {
		t.Errorf("state changed on rejection: blocks %d->%d bytes %d->%d",
			blocks, gotBlocks, liveBytes, gotBytes)
	}
	got, ok := mem.Read(p, 4)
	if !ok || !bytes.Equal(got, pattern) {
		t.Errorf("existing block mutated on rejection: %v", got)
	}
}

func TestBounded_OversizedRequestRejected(t *testing.T) {
	mem := NewSliceMemory(1)
	h := NewHeap(mem, 8)
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)
	tw.CaptureBase(h)
	s := NewState(1024)
	b := NewBounded(h, s, tw)

	// Charged at the raw size, a near-4 GiB request cannot pass a 1 KiB
	// ceiling: rejected before the base, no trace line, no accounting.
	if p := b.Alloc(0xFFFF0001); p != 0 {
		t.Fatalf("Alloc(0xFFFF0001) = %#x, want 0", p)
	}
	if lines := traceLines(&buf); lines != nil {
		t.Errorf("trace after ceiling rejection = %v, want none", lines)
	}
	if got := s.LiveBlocks(); got != 0 {
		t.Errorf("LiveBlocks = %d, want 0", got)
	}
	if got := s.LiveBytes(); got != 0 {
		t.Errorf("LiveBytes = %d, want 0", got)
	}

	// Unlimited, the request reaches the base, which refuses it; the
	// failure is traced like any other out-of-memory.
	s.SetLimit(0)
	if p := b.Alloc(0xFFFF0001); p != 0 {
		t.Fatalf("unlimited Alloc(0xFFFF0001) = %#x, want 0", p)
	}
	want := "A 4294901761 -> NULL"
	if got := traceLines(&buf); len(got) != 1 || got[0] != want {
		t.Errorf("trace = %v, want [%s]", got, want)
	}
	if got := s.LiveBlocks(); got != 0 {
		t.Errorf("LiveBlocks after base failure = %d, want 0", got)
	}
}

func TestBounded_LimitHoldsAcrossSequence(t *testing.T) {
	const limit = 4096
	b, s, _ := newTestAlloc(limit)

	check := func(op string) {
		t.Helper()
		if got := s.LiveBytes(); got > limit {
			t.Fatalf("after %s: LiveBytes = %d exceeds limit %d", op, got, limit)
		}
	}

	var live []uint32
	for _, size := range []uint32{64, 200, 1000, 3000, 16, 512, 2048} {
		if p := b.Alloc(size); p != 0 {
			live = append(live, p)
		}
		check("alloc")
	}
	for i := 0; i < len(live); i += 2 {
		b.Free(live[i])
		check("free")
	}
	for i := 1; i < len(live); i += 2 {
		if p := b.Realloc(live[i], 900); p != 0 {
			live[i] = p
		}
		check("realloc")
	}
	for i := 1; i < len(live); i += 2 {
		b.Free(live[i])
		check("free")
	}
	if got := s.LiveBlocks(); got != 0 {
		t.Errorf("LiveBlocks at end = %d, want 0", got)
	}
}

func TestBounded_ResizeAccountingRoundTrip(t *testing.T) {
	b, s, _ := newTestAlloc(0)

	p := b.Alloc(100)
	if p == 0 {
		t.Fatal("Alloc failed")
	}
	before := s.LiveBytes()

	q := b.Realloc(p, 1000)
	if q == 0 {
		t.Fatal("grow failed")
	}
	if got := s.LiveBytes(); got != 1024+Overhead {
		t.Errorf("LiveBytes after grow = %d, want %d", got, 1024+Overhead)
	}

	r := b.Realloc(q, 100)
	if r == 0 {
		t.Fatal("shrink failed")
	}
	if got := s.LiveBytes(); got != before {
		t.Errorf("LiveBytes after round trip = %d, want %d", got, before)
	}
	b.Free(r)
}

func TestBounded_ReallocRejectionKeepsBlock(t *testing.T) {
	b, s, mem := newTestAlloc(200)

	p := b.Alloc(100)
	if p == 0 {
		t.Fatal("Alloc failed")
	}
	pattern := []byte("intact")
	mem.Write(p, pattern)
	blocks, liveBytes, _ := s.Snapshot()

	// 136 live + 1024 new capacity - 128 old > 200: rejected, and no
	// destructive resize on rejection.
	if q := b.Realloc(p, 1000); q != 0 {
		t.Fatalf("Realloc over limit = %d, want 0", q)
	}

	gotBlocks, gotBytes, _ := s.Snapshot()
	if gotBlocks != blocks || gotBytes != liveBytes {
		t.Errorf("state changed on rejection")
	}
	got, ok := mem.Read(p, uint32(len(pattern)))
	if !ok || !bytes.Equal(got, pattern) {
		t.Errorf("block mutated on rejected resize: %q", got)
	}
	if got := b.UsableSize(p); got != 128 {
		t.Errorf("UsableSize after rejection = %d, want 128", got)
	}
}

func TestBounded_ReallocToZeroFrees(t *testing.T) {
	b, s, _ := newTestAlloc(0)

	p := b.Alloc(100)
	if p == 0 {
		t.Fatal("Alloc failed")
	}
	if got := b.Realloc(p, 0); got != 0 {
		t.Errorf("Realloc(p, 0) = %d, want 0", got)
	}
	if got := s.LiveBlocks(); got != 0 {
		t.Errorf("LiveBlocks = %d, want 0", got)
	}
	if got := s.LiveBytes(); got != 0 {
		t.Errorf("LiveBytes = %d, want 0", got)
	}
}

func TestBounded_DegenerateInputs(t *testing.T) {
	b, s, _ := newTestAlloc(0)

	if got := b.Alloc(0); got != 0 {
		t.Errorf("Alloc(0) = %d, want 0", got)
	}
	b.Free(0) // no-op
	if got := b.Realloc(0, 0); got != 0 {
		t.Errorf("Realloc(0, 0) = %d, want 0", got)
	}
	p := b.Realloc(0, 64)
	if p == 0 {
		t.Error("Realloc(0, n) should degenerate to Alloc")
	}
	if got := s.LiveBlocks(); got != 1 {
		t.Errorf("LiveBlocks = %d, want 1", got)
	}
	b.Free(p)
}

func TestState_SetLimitAppliesToLaterAllocations(t *testing.T) {
	b, s, _ := newTestAlloc(0)

	p := b.Alloc(1000) // unlimited at this point
	if p == 0 {
		t.Fatal("Alloc failed")
	}
	s.SetLimit(s.LiveBytes() + 50)

	if q := b.Alloc(100); q != 0 {
		t.Error("Alloc should fail after the limit drops below headroom")
	}
	// The live block is unaffected by the new limit.
	if got := s.LiveBlocks(); got != 1 {
		t.Errorf("LiveBlocks = %d, want 1", got)
	}
	b.Free(p)
}
