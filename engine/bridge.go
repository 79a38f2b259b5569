package engine

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/wippyai/script-runtime/errors"
)

// call invokes a guest export through the engine's preallocated call
// stack. Traps and runtime faults come back wrapped with the failing
// operation name; guest-level outcomes travel in the return slot.
func (e *WazeroEngine) call(ctx context.Context, op string, args ...uint64) (uint64, error) {
	if e.closed {
		return 0, errors.Closed(op)
	}
	fn := e.funcs[op]
	if fn == nil {
		return 0, errors.MissingExport(op)
	}
	copy(e.stackBuf, args)
	n := len(args)
	if n == 0 {
		n = 1 // room for the result slot
	}
	if err := fn.CallWithStack(ctx, e.stackBuf[:n]); err != nil {
		return 0, errors.Trap(op, err)
	}
	return e.stackBuf[0], nil
}

// pushBytes copies data into a scratch block on the raw host heap and
// returns its guest address. The block is one byte longer than data and
// zero terminated because the guest consumes these buffers as C
// strings. The caller releases it with e.heap.Free after the guest call
// returns; scratch blocks never count against the allocation ceiling.
func (e *WazeroEngine) pushBytes(data []byte) (uint32, error) {
	n := uint32(len(data)) + 1
	ptr := e.heap.Alloc(n)
	if ptr == 0 {
		_, live, limit := e.state.Snapshot()
		return 0, errors.LimitExceeded(errors.PhaseExecute, uint64(n), live, limit)
	}
	if !e.writeTerminated(ptr, data) {
		e.heap.Free(ptr)
		return 0, errors.Wrap(errors.PhaseExecute, errors.KindABI, nil,
			fmt.Sprintf("write %d bytes at 0x%x: out of bounds", len(data)+1, ptr))
	}
	return ptr, nil
}

// pushCounted copies data into a zero-terminated block from the counted
// allocator, for results the guest releases through its own free path.
// Returns 0 when the block cannot be allocated or written.
func (e *WazeroEngine) pushCounted(data []byte) uint32 {
	ptr := e.bounded.Alloc(uint32(len(data)) + 1)
	if ptr == 0 {
		return 0
	}
	if !e.writeTerminated(ptr, data) {
		e.bounded.Free(ptr)
		return 0
	}
	return ptr
}

func (e *WazeroEngine) writeTerminated(ptr uint32, data []byte) bool {
	if len(data) > 0 && !e.mem.Write(ptr, data) {
		return false
	}
	return e.mem.Write(ptr+uint32(len(data)), []byte{0})
}

// readBytes copies length bytes out of guest memory. The copy detaches
// the result from the linear memory, which may move on the next grow.
func (e *WazeroEngine) readBytes(ptr, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	view, ok := e.mem.Read(ptr, length)
	if !ok {
		return nil, errors.Wrap(errors.PhaseExecute, errors.KindABI, nil,
			fmt.Sprintf("read %d bytes at 0x%x: out of bounds", length, ptr))
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

func (e *WazeroEngine) readU32(addr uint32) (uint32, error) {
	raw, ok := e.mem.Read(addr, 4)
	if !ok {
		return 0, errors.Wrap(errors.PhaseExecute, errors.KindABI, nil,
			fmt.Sprintf("read u32 at 0x%x: out of bounds", addr))
	}
	return le32(raw), nil
}

// readPair reads a {ptr,len} result struct the guest wrote at addr.
func (e *WazeroEngine) readPair(addr uint32) (ptr, length uint32, err error) {
	raw, ok := e.mem.Read(addr, 8)
	if !ok {
		return 0, 0, errors.Wrap(errors.PhaseExecute, errors.KindABI, nil,
			fmt.Sprintf("read result pair at 0x%x: out of bounds", addr))
	}
	return le32(raw[0:4]), le32(raw[4:8]), nil
}

// writePair writes a {ptr,len} result struct at addr.
func (e *WazeroEngine) writePair(addr, ptr, length uint32) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], ptr)
	binary.LittleEndian.PutUint32(buf[4:8], length)
	return e.mem.Write(addr, buf[:])
}
