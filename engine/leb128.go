package engine

import (
	"errors"
	"io"
)

// errLEBOverflow is returned when a LEB128 value exceeds the maximum bit width.
var errLEBOverflow = errors.New("leb128: overflow")

// readLEB128u reads an unsigned LEB128 value.
func readLEB128u(r io.ByteReader) (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, errLEBOverflow
		}
	}
}
