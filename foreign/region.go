package foreign

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrRegionExhausted is returned when a Region has no room left for an allocation.
var ErrRegionExhausted = errors.New("foreign allocation region exhausted")

// Allocator hands out target memory that the monitored process does not otherwise use.
type Allocator interface {
	// Alloc copies data into newly reserved target memory and returns its address.
	Alloc(data []byte) (addr uint64, fault error)
}

// Region is a lock-free bump allocator over a range reserved in the target ahead of time
// (for example an anonymous mapping created when the probe attached). Memory is never freed.
type Region struct {
	mem   Memory
	start uint64
	size  uint64
	used  atomic.Uint64
}

// NewRegion returns an allocator over [start, start+size) of mem.
func NewRegion(mem Memory, start, size uint64) *Region {
	return &Region{mem: mem, start: start, size: size}
}

// Alloc implements Allocator. Allocations are 8-byte aligned.
func (r *Region) Alloc(data []byte) (addr uint64, fault error) {
	n := uint64(len(data)+7) &^ 7
	if n == 0 {
		n = 8
	}

	end := r.used.Add(n)
	if end > r.size {
		return 0, fmt.Errorf("could not reserve %d bytes: %w", n, ErrRegionExhausted)
	}

	addr = r.start + end - n
	if err := r.mem.WriteAt(data, addr); err != nil {
		return 0, fmt.Errorf("could not write allocation at %#x: %w", addr, err)
	}

	return addr, nil
}

// Remaining reports how many bytes are still available.
func (r *Region) Remaining() uint64 {
	used := r.used.Load()
	if used >= r.size {
		return 0
	}

	return r.size - used
}
