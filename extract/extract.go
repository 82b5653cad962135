// Package extract reads individual fields of foreign structs into bounded local buffers using
// externally supplied offsets.
package extract

import (
	"fmt"

	"github.com/cirruscomms/autoprobe/foreign"
)

// String reads the Go string stored at base+offset into dst, truncating to len(dst), and
// returns the number of bytes copied. An empty string is a successful read of 0 bytes. A nil
// base, an unreadable header or unreadable bytes return an error and leave dst untouched.
func String(mem foreign.Memory, base, offset uint64, dst []byte) (n int, fault error) {
	if base == 0 {
		return 0, foreign.ErrNilPointer
	}

	hdr, err := foreign.Read[foreign.StringHeader](mem, base+offset)
	if err != nil {
		return 0, fmt.Errorf("could not read string header at %#x: %w", base+offset, err)
	}

	switch {
	case hdr.Len < 0:
		return 0, fmt.Errorf("%w: string at %#x has length %d", foreign.ErrFault, base+offset, hdr.Len)
	case hdr.Len == 0 || len(dst) == 0:
		return 0, nil
	case hdr.Ptr == 0:
		return 0, fmt.Errorf("string data at %#x: %w", base+offset, foreign.ErrNilPointer)
	}

	buf := make([]byte, min(int(hdr.Len), len(dst)))
	if err := mem.ReadAt(buf, hdr.Ptr); err != nil {
		return 0, fmt.Errorf("could not read string data at %#x: %w", hdr.Ptr, err)
	}

	return copy(dst, buf), nil
}

// Pointer reads the pointer stored at base+offset. A nil base or unreadable word yields 0, false.
func Pointer(mem foreign.Memory, base, offset uint64) (pointer uint64, ok bool) {
	if base == 0 {
		return 0, false
	}

	p, err := foreign.ReadPointer(mem, base+offset)
	if err != nil {
		return 0, false
	}

	return p, true
}

// Uint64 reads the 8-byte integer stored at base+offset.
func Uint64(mem foreign.Memory, base, offset uint64) (value uint64, ok bool) {
	if base == 0 {
		return 0, false
	}

	v, err := foreign.Read[uint64](mem, base+offset)
	if err != nil {
		return 0, false
	}

	return v, true
}
